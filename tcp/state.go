// Package tcp provides the TCP connection-state constants and string
// conversions used to filter rows out of the OS connection-table
// enumeration (spec §4.D step 2-3).
package tcp

import "fmt"

// State is the enumeration of TCP states as reported by the Windows IP
// Helper API's MIB_TCP_STATE (see iprtrmib.h). The numbering matches the OS
// enum directly so State values can be compared to raw table rows without
// translation.
type State int32

// All of these constants' names mirror the external C enum we read values
// from, so we keep the names even though the linter would prefer Go casing.
const (
	CLOSED     State = 1
	LISTEN     State = 2
	SYN_SENT   State = 3
	SYN_RCVD   State = 4
	ESTAB      State = 5
	FIN_WAIT1  State = 6
	FIN_WAIT2  State = 7
	CLOSE_WAIT State = 8
	CLOSING    State = 9
	LAST_ACK   State = 10
	TIME_WAIT  State = 11
	DELETE_TCB State = 12
)

var stateName = map[State]string{
	CLOSED:     "CLOSED",
	LISTEN:     "LISTEN",
	SYN_SENT:   "SYN_SENT",
	SYN_RCVD:   "SYN_RCVD",
	ESTAB:      "ESTAB",
	FIN_WAIT1:  "FIN_WAIT1",
	FIN_WAIT2:  "FIN_WAIT2",
	CLOSE_WAIT: "CLOSE_WAIT",
	CLOSING:    "CLOSING",
	LAST_ACK:   "LAST_ACK",
	TIME_WAIT:  "TIME_WAIT",
	DELETE_TCB: "DELETE_TCB",
}

func (s State) String() string {
	if name, ok := stateName[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_STATE_%d", s)
}

// Skip reports whether the Polling Engine should ignore a row in this state,
// per spec §4.D step 2: LISTEN, TIME_WAIT and DELETE_TCB rows are not
// tracked connections.
func Skip(s State) bool {
	return s == LISTEN || s == TIME_WAIT || s == DELETE_TCB
}
