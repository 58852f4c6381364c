// Package callmonitor implements the client side of the FRITZ!Box
// callmonitor protocol: a plain-text TCP stream on port 1012 that emits one
// semicolon-delimited line per telephony event.
package callmonitor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the type of a callmonitor event.
type Kind string

const (
	KindRing       Kind = "RING"
	KindCall       Kind = "CALL"
	KindConnect    Kind = "CONNECT"
	KindDisconnect Kind = "DISCONNECT"
)

// timeLayout is the timestamp format the gateway puts in field 0,
// e.g. "16.10.24 08:12:03".
const timeLayout = "02.01.06 15:04:05"

// Event is one parsed callmonitor line. Kind determines which of the
// optional fields are populated:
//
//	RING:       Caller (remote), Callee (local), Device
//	CALL:       Extension, Caller (local), Callee (remote), Device
//	CONNECT:    Extension, Peer (remote party)
//	DISCONNECT: Duration (seconds, 0 if the call was never connected)
//
// CallID scopes all events of one physical call. It is only unique among
// concurrently active calls and may be reused once a call has closed.
type Event struct {
	Timestamp time.Time
	Kind      Kind
	CallID    int

	Extension string
	Caller    string
	Callee    string
	Peer      string
	Device    string
	Duration  int

	// Raw is the wire line the event was parsed from, without the line
	// terminator. Empty for synthesized events.
	Raw string
}

// MalformedLineError reports a callmonitor line that could not be parsed.
// Such lines are logged and discarded; they never affect existing sessions.
type MalformedLineError struct {
	Line   string
	Reason string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed callmonitor line %q: %s", e.Line, e.Reason)
}

// ParseLine parses one raw callmonitor line into an Event. The gateway
// terminates lines with a trailing semicolon, which is tolerated; beyond
// that the field count must match the arity of the declared kind exactly.
func ParseLine(line string) (Event, error) {
	raw := strings.TrimRight(line, "\r\n")
	fields := strings.Split(strings.TrimSuffix(raw, ";"), ";")
	if len(fields) < 4 {
		return Event{}, &MalformedLineError{Line: line, Reason: "fewer than 4 fields"}
	}

	ts, err := time.ParseInLocation(timeLayout, fields[0], time.Local)
	if err != nil {
		return Event{}, &MalformedLineError{Line: line, Reason: "unparsable timestamp"}
	}

	callID, err := strconv.Atoi(fields[2])
	if err != nil {
		return Event{}, &MalformedLineError{Line: line, Reason: "unparsable call id"}
	}

	ev := Event{Timestamp: ts, CallID: callID, Raw: raw}

	switch Kind(fields[1]) {
	case KindRing:
		if len(fields) != 6 {
			return Event{}, &MalformedLineError{Line: line, Reason: "RING expects 6 fields"}
		}
		ev.Kind = KindRing
		ev.Caller = fields[3]
		ev.Callee = fields[4]
		ev.Device = fields[5]

	case KindCall:
		if len(fields) != 7 {
			return Event{}, &MalformedLineError{Line: line, Reason: "CALL expects 7 fields"}
		}
		ev.Kind = KindCall
		ev.Extension = fields[3]
		ev.Caller = fields[4]
		ev.Callee = fields[5]
		ev.Device = fields[6]

	case KindConnect:
		if len(fields) != 5 {
			return Event{}, &MalformedLineError{Line: line, Reason: "CONNECT expects 5 fields"}
		}
		ev.Kind = KindConnect
		ev.Extension = fields[3]
		ev.Peer = fields[4]

	case KindDisconnect:
		if len(fields) != 4 {
			return Event{}, &MalformedLineError{Line: line, Reason: "DISCONNECT expects 4 fields"}
		}
		dur, err := strconv.Atoi(fields[3])
		if err != nil {
			return Event{}, &MalformedLineError{Line: line, Reason: "unparsable duration"}
		}
		ev.Kind = KindDisconnect
		ev.Duration = dur

	default:
		return Event{}, &MalformedLineError{Line: line, Reason: "unknown kind " + fields[1]}
	}

	return ev, nil
}

// Line renders the event back into its wire form. It is the inverse of
// ParseLine for well-formed events and is used for diagnostics and tests.
func (ev Event) Line() string {
	ts := ev.Timestamp.Format(timeLayout)
	switch ev.Kind {
	case KindRing:
		return fmt.Sprintf("%s;RING;%d;%s;%s;%s", ts, ev.CallID, ev.Caller, ev.Callee, ev.Device)
	case KindCall:
		return fmt.Sprintf("%s;CALL;%d;%s;%s;%s;%s", ts, ev.CallID, ev.Extension, ev.Caller, ev.Callee, ev.Device)
	case KindConnect:
		return fmt.Sprintf("%s;CONNECT;%d;%s;%s", ts, ev.CallID, ev.Extension, ev.Peer)
	case KindDisconnect:
		return fmt.Sprintf("%s;DISCONNECT;%d;%d", ts, ev.CallID, ev.Duration)
	default:
		return ""
	}
}
