// Package connrecord implements the Connection Record: the per-family,
// per-connection state the Connection Index stores, namely an identity,
// that family's tracker, and the tick it was last seen in.
package connrecord

import (
	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/family"
)

// Record holds one family's tracking state for one connection. The identity
// is immutable after construction; Tracker is interior-mutable (the
// containing Index treats records as immutable-keyed but mutable-valued);
// LastSeenTick is stamped by the caller on every successful Update.
// StartedTick is stamped once, by the caller, on the tick this family was
// first started for this connection; it exists purely as a diagnostic,
// surfaced only in the optional terminal render, and plays no part in any
// CSV schema.
type Record struct {
	Identity     endpoint.Identity
	Tracker      *family.Tracker
	LastSeenTick uint64
	StartedTick  uint64
}

// New constructs a fresh Record for identity, with a new Tracker for
// familyName.
func New(identity endpoint.Identity, familyName string) *Record {
	return &Record{Identity: identity, Tracker: family.New(familyName)}
}

// Less orders Records by identity (local endpoint first, then remote),
// matching spec §4.B's "orderable by (local, remote)".
func (r *Record) Less(other *Record) bool {
	return r.Identity.Less(other.Identity)
}
