package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fritzwatch/fritzwatch/internal/api"
	"github.com/fritzwatch/fritzwatch/internal/callmonitor"
	"github.com/fritzwatch/fritzwatch/internal/config"
	"github.com/fritzwatch/fritzwatch/internal/metrics"
	"github.com/fritzwatch/fritzwatch/internal/phonebook"
	"github.com/fritzwatch/fritzwatch/internal/store"
	"github.com/fritzwatch/fritzwatch/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting fritzwatch",
		"host", cfg.Host,
		"callmonitor_port", cfg.CallmonitorPort,
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	callLog := store.NewCallLog(db)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Phone number directory with the configured dialing prefixes.
	prefixes, err := phonebook.ParsePrefixes(cfg.Prefixes)
	if err != nil {
		slog.Error("invalid prefixes", "error", err)
		os.Exit(1)
	}
	dir := phonebook.NewDirectory(prefixes)

	// Phonebook refresher. Without TR-064 credentials the directory stays
	// empty and calls are tracked with raw numbers only.
	var fetcher phonebook.Fetcher
	if cfg.PhonebookEnabled() {
		fetcher = phonebook.NewClient(cfg.Host, cfg.TR064Port, cfg.Username, cfg.Password, cfg.PhonebookID, logger)
	} else {
		slog.Info("phonebook disabled, no tr-064 username configured")
		fetcher = disabledFetcher{}
	}
	refresher := phonebook.NewRefresher(fetcher, dir, cfg.RefreshInterval, logger)
	if cfg.PhonebookEnabled() {
		go refresher.Run(appCtx)
	}

	// Call tracker. Completed calls go to the call log off the event path.
	tr := tracker.New(dir, logger,
		tracker.WithRetention(cfg.LastCallRetention),
		tracker.WithCompletedFunc(func(c tracker.CompletedCall) {
			go persistCall(callLog, c)
		}),
	)

	// Prometheus metrics with a dedicated registry.
	registry := prometheus.NewRegistry()
	malformedLines := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fritzwatch_malformed_lines_total",
		Help: "Number of callmonitor lines discarded as malformed",
	})
	registry.MustRegister(malformedLines)

	// Callmonitor stream client feeding the tracker.
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.CallmonitorPort))
	monitor := callmonitor.New(addr, logger, callmonitor.Hooks{
		OnLine: func(line string) {
			ev, err := callmonitor.ParseLine(line)
			if err != nil {
				malformedLines.Inc()
				slog.Warn("discarding malformed callmonitor line", "line", line, "error", err)
				return
			}
			tr.Apply(ev)
		},
		OnConnect:    func() { tr.SetConnected(true) },
		OnDisconnect: func(err error) { tr.SetConnected(false) },
	})
	if err := monitor.Start(); err != nil {
		slog.Error("failed to start callmonitor client", "error", err)
		os.Exit(1)
	}

	// Periodic call log pruning.
	if cfg.CallLogDays > 0 {
		go pruneCallLog(appCtx, callLog, cfg.CallLogDays)
	}

	registry.MustRegister(metrics.NewCollector(tr, monitor, refresher, callLog, time.Now()))
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// HTTP server using the api package.
	handler := api.NewServer(tr, callLog, dir, refresher, metricsHandler)
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	monitor.Stop()
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("fritzwatch stopped")
}

// persistCall writes one completed call to the call log. Runs outside the
// tracker's event path so a slow disk never delays event processing.
func persistCall(callLog *store.CallLog, c tracker.CompletedCall) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := callLog.Insert(ctx, &store.Call{
		CallID:    c.CallID,
		Direction: string(c.Direction),
		From:      c.From,
		To:        c.To,
		FromName:  c.FromName,
		ToName:    c.ToName,
		Device:    c.Device,
		Duration:  c.Duration,
		Initiated: c.Initiated,
		Accepted:  c.Accepted,
		Closed:    c.Closed,
	})
	if err != nil {
		slog.Error("failed to persist completed call", "call_id", c.CallID, "error", err)
	}
}

// pruneCallLog removes calls older than the configured retention, once at
// startup and then daily.
func pruneCallLog(ctx context.Context, callLog *store.CallLog, days int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		n, err := callLog.DeleteOlderThan(ctx, days)
		if err != nil {
			slog.Error("failed to prune call log", "error", err)
		} else if n > 0 {
			slog.Info("pruned call log", "removed", n, "days", days)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// disabledFetcher stands in when no TR-064 credentials are configured.
type disabledFetcher struct{}

func (disabledFetcher) FetchPhonebook(context.Context) ([]phonebook.Contact, error) {
	return nil, errors.New("phonebook disabled, no tr-064 username configured")
}
