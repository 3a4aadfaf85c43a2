// Package classify implements the Fatal/Transient error classification
// spec §4.H/§7 applies to failures surfaced from the OS statistics surface:
// "access denied" stops the polling loop, everything else is logged and
// dropped.
package classify

import (
	"log"

	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/winapi"
)

// Kind is the outcome of classifying an error from the OS surface.
type Kind int

const (
	// None means err was nil: no classification needed.
	None Kind = iota
	// Transient is any non-success status other than access denied: the
	// reading is dropped, the tick continues.
	Transient
	// Fatal is "access denied": the polling loop must not reschedule.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Of classifies err per spec §4.H: ErrAccessDenied is Fatal, any other
// non-nil error is Transient, nil is None.
func Of(err error) Kind {
	switch {
	case err == nil:
		return None
	case err == winapi.ErrAccessDenied:
		return Fatal
	default:
		return Transient
	}
}

// LogTransient logs one line for a per-entry failure (spec §7: "Log one
// line with the endpoint pair and the failed metric family").
func LogTransient(id endpoint.Identity, familyName string, err error) {
	log.Printf("estats: transient failure on %s family %s: %v", id, familyName, err)
}

// LogFatal logs the single line spec §4.H calls for when access is denied.
func LogFatal(id endpoint.Identity, familyName string, err error) {
	log.Printf("estats: fatal failure on %s family %s: %v", id, familyName, err)
}
