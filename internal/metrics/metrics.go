package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fritzwatch/fritzwatch/internal/phonebook"
	"github.com/fritzwatch/fritzwatch/internal/tracker"
)

// CallStateProvider exposes the tracker's current view.
type CallStateProvider interface {
	Snapshot() tracker.Snapshot
}

// StreamProvider exposes callmonitor stream health.
type StreamProvider interface {
	Connected() bool
	Reconnects() uint64
}

// PhonebookProvider exposes phonebook refresh diagnostics.
type PhonebookProvider interface {
	Diagnostics() phonebook.Diagnostics
}

// CallLogCounter returns completed call counts grouped by direction.
type CallLogCounter interface {
	CountByDirection(ctx context.Context) (map[string]int64, error)
}

// callStates are all label values emitted for the call state gauge, so the
// active one flips to 1 and the rest stay visible at 0.
var callStates = []tracker.State{
	tracker.StateIdle,
	tracker.StateRinging,
	tracker.StateDialing,
	tracker.StateTalking,
}

var refreshStatuses = []phonebook.RefreshStatus{
	phonebook.StatusNotLoaded,
	phonebook.StatusOK,
	phonebook.StatusAuthFailed,
	phonebook.StatusUnreachable,
	phonebook.StatusParseError,
}

// Collector is a prometheus.Collector that gathers fritzwatch metrics at scrape time.
type Collector struct {
	state     CallStateProvider
	stream    StreamProvider
	phonebook PhonebookProvider
	calls     CallLogCounter
	startTime time.Time

	// Metric descriptors.
	callStateDesc        *prometheus.Desc
	activeSessionsDesc   *prometheus.Desc
	streamConnectedDesc  *prometheus.Desc
	streamReconnectsDesc *prometheus.Desc
	phonebookEntriesDesc *prometheus.Desc
	phonebookStatusDesc  *prometheus.Desc
	phonebookRefreshDesc *prometheus.Desc
	callsTotalDesc       *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	state CallStateProvider,
	stream StreamProvider,
	pb PhonebookProvider,
	calls CallLogCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		state:     state,
		stream:    stream,
		phonebook: pb,
		calls:     calls,
		startTime: startTime,

		callStateDesc: prometheus.NewDesc(
			"fritzwatch_call_state",
			"Aggregate call state (1 for the current state, 0 otherwise)",
			[]string{"state"}, nil,
		),
		activeSessionsDesc: prometheus.NewDesc(
			"fritzwatch_active_sessions",
			"Number of currently open call sessions",
			nil, nil,
		),
		streamConnectedDesc: prometheus.NewDesc(
			"fritzwatch_monitor_connected",
			"Whether the callmonitor TCP stream is connected (1/0)",
			nil, nil,
		),
		streamReconnectsDesc: prometheus.NewDesc(
			"fritzwatch_monitor_reconnects_total",
			"Number of times an established callmonitor connection was lost",
			nil, nil,
		),
		phonebookEntriesDesc: prometheus.NewDesc(
			"fritzwatch_phonebook_entries",
			"Number of phone numbers in the current phonebook index",
			nil, nil,
		),
		phonebookStatusDesc: prometheus.NewDesc(
			"fritzwatch_phonebook_status",
			"Outcome of the most recent phonebook refresh (1 for the current status, 0 otherwise)",
			[]string{"status"}, nil,
		),
		phonebookRefreshDesc: prometheus.NewDesc(
			"fritzwatch_phonebook_last_refresh_timestamp_seconds",
			"Unix time of the last phonebook refresh attempt",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"fritzwatch_calls_total",
			"Total number of completed calls in the call log",
			[]string{"direction"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"fritzwatch_uptime_seconds",
			"Seconds since the fritzwatch process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.callStateDesc
	ch <- c.activeSessionsDesc
	ch <- c.streamConnectedDesc
	ch <- c.streamReconnectsDesc
	ch <- c.phonebookEntriesDesc
	ch <- c.phonebookStatusDesc
	ch <- c.phonebookRefreshDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Call state gauges (one metric per state).
	if c.state != nil {
		snap := c.state.Snapshot()
		for _, st := range callStates {
			val := 0.0
			if st == snap.State {
				val = 1.0
			}
			ch <- prometheus.MustNewConstMetric(
				c.callStateDesc, prometheus.GaugeValue, val, string(st),
			)
		}
		ch <- prometheus.MustNewConstMetric(
			c.activeSessionsDesc, prometheus.GaugeValue,
			float64(snap.ActiveSessions),
		)
	}

	// Stream health.
	if c.stream != nil {
		connected := 0.0
		if c.stream.Connected() {
			connected = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.streamConnectedDesc, prometheus.GaugeValue, connected,
		)
		ch <- prometheus.MustNewConstMetric(
			c.streamReconnectsDesc, prometheus.CounterValue,
			float64(c.stream.Reconnects()),
		)
	}

	// Phonebook refresh diagnostics.
	if c.phonebook != nil {
		diag := c.phonebook.Diagnostics()
		ch <- prometheus.MustNewConstMetric(
			c.phonebookEntriesDesc, prometheus.GaugeValue,
			float64(diag.Entries),
		)
		for _, st := range refreshStatuses {
			val := 0.0
			if st == diag.Status {
				val = 1.0
			}
			ch <- prometheus.MustNewConstMetric(
				c.phonebookStatusDesc, prometheus.GaugeValue, val, string(st),
			)
		}
		if !diag.LastRefresh.IsZero() {
			ch <- prometheus.MustNewConstMetric(
				c.phonebookRefreshDesc, prometheus.GaugeValue,
				float64(diag.LastRefresh.Unix()),
			)
		}
	}

	// Call volume counters by direction.
	if c.calls != nil {
		counts, err := c.calls.CountByDirection(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by direction", "error", err)
		} else {
			for _, dir := range []string{"incoming", "outgoing"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[dir]), dir,
				)
			}
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
