package phonebook

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// RefreshStatus is the outcome of the most recent phonebook refresh.
type RefreshStatus string

const (
	StatusNotLoaded   RefreshStatus = "not_loaded"
	StatusOK          RefreshStatus = "ok"
	StatusAuthFailed  RefreshStatus = "auth_failed"
	StatusUnreachable RefreshStatus = "unreachable"
	StatusParseError  RefreshStatus = "parse_error"
)

// Diagnostics describes the refresher's observable state.
type Diagnostics struct {
	Status      RefreshStatus
	LastRefresh time.Time // zero until the first attempt completes
	Entries     int
	LastError   string
}

// Fetcher retrieves the current phonebook contents.
type Fetcher interface {
	FetchPhonebook(ctx context.Context) ([]Contact, error)
}

// Refresher keeps a Directory current: once eagerly at startup and then on
// a fixed period. A failed refresh keeps the previous index in place
// (stale-but-available beats empty) and is surfaced via Diagnostics; the
// next attempt happens at the normal period, without extra backoff.
type Refresher struct {
	fetcher  Fetcher
	dir      *Directory
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	diag Diagnostics
}

// NewRefresher creates a refresher driving dir from fetcher every interval.
func NewRefresher(fetcher Fetcher, dir *Directory, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		fetcher:  fetcher,
		dir:      dir,
		interval: interval,
		logger:   logger.With("subsystem", "phonebook"),
		diag:     Diagnostics{Status: StatusNotLoaded},
	}
}

// Run refreshes once immediately, then on every tick until ctx is canceled.
func (r *Refresher) Run(ctx context.Context) {
	r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

// Refresh fetches, parses and atomically swaps in a new index. On failure
// the existing index is untouched.
func (r *Refresher) Refresh(ctx context.Context) error {
	contacts, err := r.fetcher.FetchPhonebook(ctx)
	now := time.Now()

	if err != nil {
		status := classifyRefreshError(err)
		r.mu.Lock()
		r.diag.Status = status
		r.diag.LastRefresh = now
		r.diag.LastError = err.Error()
		r.mu.Unlock()

		r.logger.Warn("phonebook refresh failed", "status", string(status), "error", err)
		return err
	}

	r.dir.Replace(NewIndex(contacts))

	r.mu.Lock()
	r.diag.Status = StatusOK
	r.diag.LastRefresh = now
	r.diag.Entries = r.dir.Entries()
	r.diag.LastError = ""
	r.mu.Unlock()

	r.logger.Info("phonebook refreshed", "contacts", len(contacts), "numbers", r.dir.Entries())
	return nil
}

// Diagnostics returns a snapshot of the refresher state.
func (r *Refresher) Diagnostics() Diagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diag
}

// classifyRefreshError maps fetch failures onto the diagnostic statuses.
func classifyRefreshError(err error) RefreshStatus {
	if errors.Is(err, ErrAuthFailed) {
		return StatusAuthFailed
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return StatusParseError
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return StatusUnreachable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return StatusUnreachable
	}
	return StatusUnreachable
}
