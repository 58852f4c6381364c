package api

import (
	"net/http"
	"time"

	"github.com/fritzwatch/fritzwatch/internal/phonebook"
	"github.com/fritzwatch/fritzwatch/internal/store"
	"github.com/fritzwatch/fritzwatch/internal/tracker"
)

// callResponse is the JSON shape of call attributes.
type callResponse struct {
	Type      string     `json:"type"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	With      string     `json:"with"`
	Device    string     `json:"device,omitempty"`
	FromName  string     `json:"from_name,omitempty"`
	ToName    string     `json:"to_name,omitempty"`
	WithName  string     `json:"with_name,omitempty"`
	Duration  int        `json:"duration"`
	Initiated time.Time  `json:"initiated"`
	Accepted  *time.Time `json:"accepted,omitempty"`
	Closed    *time.Time `json:"closed,omitempty"`
	Raw       string     `json:"raw,omitempty"`
}

// stateResponse is the JSON shape of the aggregate call state.
type stateResponse struct {
	State          tracker.State `json:"state"`
	Connected      bool          `json:"connected"`
	ActiveSessions int           `json:"active_sessions"`
	Call           *callResponse `json:"call,omitempty"`
}

func toCallResponse(c *tracker.CallAttributes) *callResponse {
	if c == nil {
		return nil
	}
	return &callResponse{
		Type:      c.Type,
		From:      c.From,
		To:        c.To,
		With:      c.With,
		Device:    c.Device,
		FromName:  c.FromName,
		ToName:    c.ToName,
		WithName:  c.WithName,
		Duration:  c.Duration,
		Initiated: c.Initiated,
		Accepted:  c.Accepted,
		Closed:    c.Closed,
		Raw:       c.Raw,
	}
}

// handleState returns the current aggregate call state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, stateResponse{
		State:          snap.State,
		Connected:      snap.Connected,
		ActiveSessions: snap.ActiveSessions,
		Call:           toCallResponse(snap.Call),
	})
}

// loggedCall is the JSON shape of one call log row.
type loggedCall struct {
	ID        int64      `json:"id"`
	CallID    int        `json:"call_id"`
	Direction string     `json:"direction"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	FromName  string     `json:"from_name,omitempty"`
	ToName    string     `json:"to_name,omitempty"`
	Device    string     `json:"device,omitempty"`
	Duration  int        `json:"duration"`
	Initiated time.Time  `json:"initiated"`
	Accepted  *time.Time `json:"accepted,omitempty"`
	Closed    time.Time  `json:"closed"`
}

func toLoggedCall(c store.Call) loggedCall {
	return loggedCall{
		ID:        c.ID,
		CallID:    c.CallID,
		Direction: c.Direction,
		From:      c.From,
		To:        c.To,
		FromName:  c.FromName,
		ToName:    c.ToName,
		Device:    c.Device,
		Duration:  c.Duration,
		Initiated: c.Initiated,
		Accepted:  c.Accepted,
		Closed:    c.Closed,
	}
}

// handleCalls lists the most recent completed calls.
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		writeError(w, http.StatusServiceUnavailable, "call log disabled")
		return
	}

	limit, errMsg := parseLimit(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	calls, err := s.calls.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}

	out := make([]loggedCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, toLoggedCall(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// phonebookContact is the JSON shape of one directory contact.
type phonebookContact struct {
	Name    string   `json:"name"`
	Numbers []string `json:"numbers"`
	VIP     bool     `json:"vip,omitempty"`
}

// phonebookResponse combines refresh diagnostics with the current index.
type phonebookResponse struct {
	Status      phonebook.RefreshStatus `json:"status"`
	LastRefresh *time.Time              `json:"last_refresh,omitempty"`
	LastError   string                  `json:"last_error,omitempty"`
	Entries     int                     `json:"entries"`
	Prefixes    []phonebook.PrefixSet   `json:"prefixes,omitempty"`
	Contacts    []phonebookContact      `json:"contacts"`
}

func (s *Server) phonebookStatus() phonebookResponse {
	diag := s.refresher.Diagnostics()

	resp := phonebookResponse{
		Status:    diag.Status,
		LastError: diag.LastError,
		Entries:   s.dir.Entries(),
		Prefixes:  s.dir.Prefixes(),
		Contacts:  []phonebookContact{},
	}
	if !diag.LastRefresh.IsZero() {
		t := diag.LastRefresh
		resp.LastRefresh = &t
	}
	for _, c := range s.dir.Contacts() {
		resp.Contacts = append(resp.Contacts, phonebookContact{
			Name:    c.Name,
			Numbers: c.Numbers,
			VIP:     c.VIP,
		})
	}
	return resp
}

// handlePhonebook returns the current directory contents and refresh state.
func (s *Server) handlePhonebook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.phonebookStatus())
}

// handlePhonebookRefresh triggers an immediate refresh and reports the result.
func (s *Server) handlePhonebookRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.refresher.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.phonebookStatus())
}

// handleHealth returns basic health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"monitor_connected": s.tracker.Connected(),
		"phonebook_status":  s.refresher.Diagnostics().Status,
	})
}
