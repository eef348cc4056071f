package fiber

import "strings"

// IOEvents is a readiness interest or result mask.
type IOEvents uint32

const (
	// EventRead indicates the descriptor is readable.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the descriptor is writable.
	EventWrite
	// EventError indicates an error condition on the descriptor. It is
	// always reported, whether or not it was requested.
	EventError
	// EventHangup indicates the peer closed its end. It is always
	// reported, whether or not it was requested.
	EventHangup
)

const alwaysReported = EventError | EventHangup

func (e IOEvents) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e&EventRead != 0 {
		parts = append(parts, "read")
	}
	if e&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if e&EventError != 0 {
		parts = append(parts, "error")
	}
	if e&EventHangup != 0 {
		parts = append(parts, "hangup")
	}
	return strings.Join(parts, "|")
}
