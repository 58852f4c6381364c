package tracker

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fritzwatch/fritzwatch/internal/callmonitor"
)

type mapResolver map[string]string

func (m mapResolver) Resolve(number string) (string, bool) {
	name, ok := m[number]
	return name, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func at(sec int) time.Time {
	return time.Date(2024, 10, 16, 8, 12, sec, 0, time.Local)
}

func ring(id int, sec int) callmonitor.Event {
	return callmonitor.Event{
		Timestamp: at(sec), Kind: callmonitor.KindRing, CallID: id,
		Caller: "015123456", Callee: "0891234", Device: "SIP0",
	}
}

func call(id int, sec int) callmonitor.Event {
	return callmonitor.Event{
		Timestamp: at(sec), Kind: callmonitor.KindCall, CallID: id,
		Extension: "4", Caller: "0891234", Callee: "015123456", Device: "SIP1",
	}
}

func connect(id int, sec int) callmonitor.Event {
	return callmonitor.Event{
		Timestamp: at(sec), Kind: callmonitor.KindConnect, CallID: id,
		Extension: "4", Peer: "015123456",
	}
}

func disconnect(id int, sec, duration int) callmonitor.Event {
	return callmonitor.Event{
		Timestamp: at(sec), Kind: callmonitor.KindDisconnect, CallID: id,
		Duration: duration,
	}
}

func TestIncomingCallLifecycle(t *testing.T) {
	tr := New(nil, testLogger())

	tr.Apply(ring(0, 3))
	if got := tr.Aggregate(); got != StateRinging {
		t.Fatalf("after RING: state = %q, want ringing", got)
	}

	snap := tr.Snapshot()
	if snap.Call == nil {
		t.Fatal("no call attributes after RING")
	}
	if snap.Call.Type != "incoming" {
		t.Errorf("Type = %q, want incoming", snap.Call.Type)
	}
	if snap.Call.From != "015123456" || snap.Call.To != "0891234" {
		t.Errorf("From/To = %q/%q", snap.Call.From, snap.Call.To)
	}
	if snap.Call.Device != "SIP0" {
		t.Errorf("Device = %q, want SIP0", snap.Call.Device)
	}

	tr.Apply(connect(0, 5))
	if got := tr.Aggregate(); got != StateTalking {
		t.Fatalf("after CONNECT: state = %q, want talking", got)
	}
	snap = tr.Snapshot()
	if snap.Call.Accepted == nil || !snap.Call.Accepted.Equal(at(5)) {
		t.Errorf("Accepted = %v, want %v", snap.Call.Accepted, at(5))
	}

	tr.Apply(disconnect(0, 9, 4))
	if got := tr.Aggregate(); got != StateIdle {
		t.Fatalf("after DISCONNECT: state = %q, want idle", got)
	}
	if tr.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d, want 0", tr.ActiveSessions())
	}
}

func TestOutgoingCallDialing(t *testing.T) {
	tr := New(nil, testLogger())
	tr.Apply(call(1, 0))

	if got := tr.Aggregate(); got != StateDialing {
		t.Fatalf("state = %q, want dialing", got)
	}
	snap := tr.Snapshot()
	if snap.Call.Type != "outgoing" {
		t.Errorf("Type = %q, want outgoing", snap.Call.Type)
	}
	if snap.Call.With != "015123456" {
		t.Errorf("With = %q, want remote callee", snap.Call.With)
	}
}

func TestMissedCallRetainsAttributes(t *testing.T) {
	// Spec scenario: RING then DISCONNECT with no CONNECT — a missed call.
	tr := New(nil, testLogger())
	tr.Apply(ring(0, 3))
	tr.Apply(disconnect(0, 9, 6))

	snap := tr.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("State = %q, want idle", snap.State)
	}
	if snap.Call == nil {
		t.Fatal("last-call attributes gone after disconnect")
	}
	if snap.Call.From != "015123456" || snap.Call.To != "0891234" {
		t.Errorf("last call From/To = %q/%q, want RING numbers", snap.Call.From, snap.Call.To)
	}
	if snap.Call.Duration != 6 {
		t.Errorf("Duration = %d, want 6", snap.Call.Duration)
	}
	if snap.Call.Accepted != nil {
		t.Error("Accepted set on a never-connected call")
	}
	if snap.Call.Closed == nil || !snap.Call.Closed.Equal(at(9)) {
		t.Errorf("Closed = %v, want %v", snap.Call.Closed, at(9))
	}
}

func TestAggregatePriorityRingingBeatsTalking(t *testing.T) {
	tr := New(nil, testLogger())

	tr.Apply(ring(0, 0))
	tr.Apply(connect(0, 2))
	if got := tr.Aggregate(); got != StateTalking {
		t.Fatalf("state = %q, want talking", got)
	}

	// A new RING on a different id must win immediately.
	tr.Apply(ring(1, 5))
	if got := tr.Aggregate(); got != StateRinging {
		t.Fatalf("state = %q, want ringing while another call talks", got)
	}

	snap := tr.Snapshot()
	if snap.ActiveSessions != 2 {
		t.Errorf("ActiveSessions = %d, want 2", snap.ActiveSessions)
	}

	// Once the ringing call is gone the talking one drives the state again.
	tr.Apply(disconnect(1, 7, 0))
	if got := tr.Aggregate(); got != StateTalking {
		t.Fatalf("state = %q, want talking after ringing call ended", got)
	}
}

func TestDialingBeatsTalking(t *testing.T) {
	tr := New(nil, testLogger())
	tr.Apply(ring(0, 0))
	tr.Apply(connect(0, 1))
	tr.Apply(call(1, 2))

	if got := tr.Aggregate(); got != StateDialing {
		t.Errorf("state = %q, want dialing", got)
	}
}

func TestInterleavedSessionsKeepSeparateState(t *testing.T) {
	tr := New(nil, testLogger())
	tr.Apply(ring(0, 0))
	tr.Apply(call(1, 1))
	tr.Apply(connect(1, 2))
	tr.Apply(disconnect(0, 3, 0))

	// Session 1 is still talking.
	if got := tr.Aggregate(); got != StateTalking {
		t.Errorf("state = %q, want talking", got)
	}
	tr.Apply(disconnect(1, 9, 7))
	if got := tr.Aggregate(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
}

func TestOrphanConnectAndDisconnectTolerated(t *testing.T) {
	var got []CompletedCall
	tr := New(nil, testLogger(), WithCompletedFunc(func(c CompletedCall) {
		got = append(got, c)
	}))

	tr.Apply(connect(5, 0))
	if got := tr.Aggregate(); got != StateTalking {
		t.Errorf("state after orphan CONNECT = %q, want talking", got)
	}

	tr.Apply(disconnect(5, 2, 2))
	if got := tr.Aggregate(); got != StateIdle {
		t.Errorf("state after DISCONNECT = %q, want idle", got)
	}

	// A DISCONNECT with no session at all must not panic either.
	tr.Apply(disconnect(9, 3, 0))
	if got := tr.Aggregate(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}

	// Sessions synthesized from orphan events carry an explicit direction so
	// the call log and its per-direction counts never see an empty label.
	if len(got) != 2 {
		t.Fatalf("callback fired %d times, want 2", len(got))
	}
	for _, c := range got {
		if c.Direction != DirectionUnknown {
			t.Errorf("call %d: Direction = %q, want unknown", c.CallID, c.Direction)
		}
	}
}

func TestRawLineCarriedIntoAttributes(t *testing.T) {
	tr := New(nil, testLogger())

	ringLine := "16.10.24 08:12:03;RING;0;015123456;0891234;SIP0;"
	ev, err := callmonitor.ParseLine(ringLine)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tr.Apply(ev)

	if raw := tr.Snapshot().Call.Raw; raw != ringLine {
		t.Errorf("Raw = %q, want the RING line", raw)
	}

	// Each applied event replaces it; the last line survives disconnect.
	discLine := "16.10.24 08:12:09;DISCONNECT;0;0;"
	ev, err = callmonitor.ParseLine(discLine)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tr.Apply(ev)

	if raw := tr.Snapshot().Call.Raw; raw != discLine {
		t.Errorf("Raw = %q, want the DISCONNECT line", raw)
	}
}

func TestNameResolution(t *testing.T) {
	resolver := mapResolver{
		"015123456": "Mario Rossi",
		"0891234":   "Home Office",
	}
	tr := New(resolver, testLogger())

	tr.Apply(ring(0, 0))
	snap := tr.Snapshot()
	if snap.Call.FromName != "Mario Rossi" {
		t.Errorf("FromName = %q, want Mario Rossi", snap.Call.FromName)
	}
	if snap.Call.ToName != "Home Office" {
		t.Errorf("ToName = %q, want Home Office", snap.Call.ToName)
	}
	// Incoming: the remote party is the caller.
	if snap.Call.WithName != "Mario Rossi" {
		t.Errorf("WithName = %q, want Mario Rossi", snap.Call.WithName)
	}
}

func TestCompletedCallback(t *testing.T) {
	var got []CompletedCall
	tr := New(nil, testLogger(), WithCompletedFunc(func(c CompletedCall) {
		got = append(got, c)
	}))

	tr.Apply(ring(0, 3))
	tr.Apply(connect(0, 5))
	tr.Apply(disconnect(0, 9, 4))

	if len(got) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(got))
	}
	c := got[0]
	if c.CallID != 0 || c.Direction != DirectionIncoming {
		t.Errorf("CallID/Direction = %d/%q", c.CallID, c.Direction)
	}
	if c.Duration != 4 {
		t.Errorf("Duration = %d, want 4", c.Duration)
	}
	if c.Accepted == nil {
		t.Error("Accepted nil for a connected call")
	}
	if !c.Closed.Equal(at(9)) {
		t.Errorf("Closed = %v, want %v", c.Closed, at(9))
	}
}

func TestRetentionExpiresLastCall(t *testing.T) {
	tr := New(nil, testLogger(), WithRetention(10*time.Millisecond))

	tr.Apply(ring(0, 0))
	tr.Apply(disconnect(0, 1, 0))

	if snap := tr.Snapshot(); snap.Call == nil {
		t.Fatal("last call cleared immediately, want it retained within the window")
	}

	time.Sleep(25 * time.Millisecond)

	if snap := tr.Snapshot(); snap.Call != nil {
		t.Error("last call still reported after retention expired")
	}
}

func TestLastCallSupersededByNewSession(t *testing.T) {
	tr := New(nil, testLogger())
	tr.Apply(ring(0, 0))
	tr.Apply(disconnect(0, 1, 0))
	tr.Apply(call(2, 5))

	snap := tr.Snapshot()
	if snap.Call == nil || snap.Call.Type != "outgoing" {
		t.Errorf("Call = %+v, want the new outgoing call", snap.Call)
	}
}

func TestConnectedFlag(t *testing.T) {
	tr := New(nil, testLogger())
	if tr.Connected() {
		t.Error("Connected true before stream is up")
	}
	tr.SetConnected(true)
	if !tr.Snapshot().Connected {
		t.Error("snapshot not marked connected")
	}
	tr.SetConnected(false)
	if tr.Snapshot().Connected {
		t.Error("snapshot still connected after disconnect")
	}
}
