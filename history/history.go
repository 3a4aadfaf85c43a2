// Package history implements the bounded, per-metric rolling sample history
// described in spec §3: an ordered sequence of uint64 samples capped at a
// configured length, with FIFO eviction of the oldest sample once the cap is
// reached.
package history

import "container/ring"

// History is a bounded FIFO sequence of samples for one metric on one
// connection. It is not safe for concurrent use; the collector's
// single-threaded polling model (spec §5) means it never needs to be.
type History struct {
	cap     int
	buf     *ring.Ring // nil until the first Push
	len     int
	evicted uint64 // running sum of evicted cumulative deltas, for property tests
}

// New creates a History with the given capacity. A capacity of zero or less
// behaves as a capacity of one.
func New(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{cap: capacity}
}

// Push appends a sample, evicting the oldest sample if the History is
// already at capacity.
func (h *History) Push(v uint64) {
	if h.buf == nil {
		h.buf = ring.New(h.cap)
	}
	if h.len == h.cap {
		// The ring is full, so the current slot holds the oldest sample;
		// track it as evicted before it's overwritten.
		h.evicted += h.buf.Value.(uint64)
	} else {
		h.len++
	}
	h.buf.Value = v
	h.buf = h.buf.Move(1)
}

// Len returns the number of samples currently stored.
func (h *History) Len() int { return h.len }

// Cap returns the configured capacity.
func (h *History) Cap() int { return h.cap }

// Empty reports whether the history has never had a sample pushed.
func (h *History) Empty() bool { return h.len == 0 }

// Last returns the most recently pushed sample, and whether one exists.
func (h *History) Last() (uint64, bool) {
	if h.len == 0 {
		return 0, false
	}
	return h.buf.Move(-1).Value.(uint64), true
}

// Values returns the stored samples in insertion order, oldest first.
func (h *History) Values() []uint64 {
	out := make([]uint64, 0, h.len)
	if h.len == 0 {
		return out
	}
	// ring.Ring.Do walks every node in the ring (its configured capacity),
	// not just the h.len that have actually been written; the unwritten
	// slots hold a nil Value until the ring first wraps. Walk exactly h.len
	// nodes with Next() instead.
	node := h.buf.Move(-h.len)
	for i := 0; i < h.len; i++ {
		out = append(out, node.Value.(uint64))
		node = node.Next()
	}
	return out
}

// Sum returns the sum of all stored samples.
func (h *History) Sum() uint64 {
	var sum uint64
	for _, v := range h.Values() {
		sum += v
	}
	return sum
}

// EvictedSum returns the running sum of samples evicted from the front of
// the ring since the History was created. Used by property tests to verify
// spec §8's cumulative-counter invariant:
// sum(history) + evicted_sum == latest_raw - initial_raw.
func (h *History) EvictedSum() uint64 { return h.evicted }
