package history

import (
	"reflect"
	"testing"
)

func TestPushAndEviction(t *testing.T) {
	h := New(3)
	for _, v := range []uint64{10, 20, 30, 40, 50} {
		h.Push(v)
	}
	if got, want := h.Values(), []uint64{30, 40, 50}; !reflect.DeepEqual(got, want) {
		t.Errorf("Values() = %v, want %v", got, want)
	}
	if h.Len() != 3 {
		t.Errorf("Len() = %d, want 3", h.Len())
	}
}

func TestMaxHistoryLengthOne(t *testing.T) {
	h := New(1)
	for _, v := range []uint64{1, 2, 3} {
		h.Push(v)
		if h.Len() != 1 {
			t.Fatalf("Len() = %d, want 1", h.Len())
		}
	}
	last, ok := h.Last()
	if !ok || last != 3 {
		t.Errorf("Last() = %d, %v, want 3, true", last, ok)
	}
}

func TestCumulativeInvariant(t *testing.T) {
	h := New(2)
	for _, v := range []uint64{1, 2, 3, 4, 5} {
		h.Push(v)
	}
	if h.Sum()+h.EvictedSum() != 1+2+3+4+5 {
		t.Errorf("sum(history)+evicted_sum = %d, want %d", h.Sum()+h.EvictedSum(), 15)
	}
}

func TestEmpty(t *testing.T) {
	h := New(5)
	if !h.Empty() {
		t.Error("new history should be empty")
	}
	if _, ok := h.Last(); ok {
		t.Error("Last() on empty history should report false")
	}
	if len(h.Values()) != 0 {
		t.Error("Values() on empty history should be empty")
	}
}
