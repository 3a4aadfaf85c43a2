package winapi

import (
	"math"

	"github.com/m-lab/estats-collector/endpoint"
)

// sentinel32/sentinel64 are the "not populated" validity sentinels from
// spec §3.
const (
	sentinel32  = uint64(0xFFFFFFFF)
	sentinel64  = uint64(math.MaxUint64)
	heapDebug32 = uint64(0xC0C0C0C0)
	heapDebug64 = uint64(0xC0C0C0C0C0C0C0C0)
)

// IsValid reports whether a raw field reading of the given bit width is
// populated data rather than one of spec §3's validity sentinels.
func IsValid(raw uint64, width int) bool {
	if width == 32 {
		return raw != sentinel32 && raw != heapDebug32
	}
	return raw != sentinel64 && raw != heapDebug64
}

// Fake is an in-memory System used by tests. Callers script per-tick table
// contents and per-connection readings; AdvanceTick moves to the next
// scripted entry.
type Fake struct {
	// Ticks[i] is the table contents (both families merged by the caller
	// into the appropriate V4/V6) as of tick i.
	Ticks []FakeTick

	// Dynamic and Static map (identity, family) -> a function producing the
	// next dynamic or static reading. Tests install these directly or via
	// OnDynamic/OnStatic.
	Dynamic map[fakeKey]func(tick int) (Enable, []uint64, error)
	Static  map[fakeKey]func(tick int) ([]uint64, error)

	// DeniedOps, when non-empty, makes SetEnable/GetDynamic/GetStatic for
	// the named EstatsType return ErrAccessDenied unconditionally.
	DeniedOps map[EstatsType]bool

	tick    int
	enabled map[fakeEnableKey]Enable
}

// FakeTick is one tick's worth of scripted connection-table contents.
type FakeTick struct {
	V4 []Row
	V6 []Row
	// InsufficientBufferOnce, if true, makes the first TCPTable call for
	// this tick return ErrInsufficientBuffer to the caller; later calls in
	// the same tick succeed. The Fake does not retry internally, so this
	// stands for a table enumeration whose resize-and-retry also failed.
	InsufficientBufferOnce bool
	consumedRetry          bool
}

type fakeKey struct {
	id  endpoint.Identity
	typ EstatsType
}

type fakeEnableKey struct {
	id  endpoint.Identity
	typ EstatsType
}

// NewFake creates an empty Fake. Use Ticks, Dynamic and Static to script
// behavior before driving the poller.
func NewFake() *Fake {
	return &Fake{
		Dynamic:   map[fakeKey]func(int) (Enable, []uint64, error){},
		Static:    map[fakeKey]func(int) ([]uint64, error){},
		DeniedOps: map[EstatsType]bool{},
		enabled:   map[fakeEnableKey]Enable{},
	}
}

// OnDynamic scripts the GetDynamic response for one connection's family.
func (f *Fake) OnDynamic(row Row, typ EstatsType, fn func(tick int) (Enable, []uint64, error)) {
	f.Dynamic[fakeKey{identityOf(row), typ}] = fn
}

// OnStatic scripts the GetStatic response for one connection's family.
func (f *Fake) OnStatic(row Row, typ EstatsType, fn func(tick int) ([]uint64, error)) {
	f.Static[fakeKey{identityOf(row), typ}] = fn
}

// AdvanceTick moves the fake to the next scripted tick.
func (f *Fake) AdvanceTick() { f.tick++ }

// Tick returns the current tick index.
func (f *Fake) Tick() int { return f.tick }

func (f *Fake) currentTick() *FakeTick {
	if f.tick >= len(f.Ticks) {
		return &FakeTick{}
	}
	return &f.Ticks[f.tick]
}

func (f *Fake) TCPTable(fam endpoint.Family) ([]Row, error) {
	t := f.currentTick()
	if t.InsufficientBufferOnce && !t.consumedRetry {
		t.consumedRetry = true
		return nil, ErrInsufficientBuffer
	}
	if fam == endpoint.FamilyV4 {
		return t.V4, nil
	}
	return t.V6, nil
}

func identityOf(row Row) endpoint.Identity {
	return endpoint.Identity{Local: row.Local, Remote: row.Remote}
}

func (f *Fake) SetEnable(row Row, typ EstatsType, outbound, inbound bool) error {
	if f.DeniedOps[typ] {
		return ErrAccessDenied
	}
	f.enabled[fakeEnableKey{identityOf(row), typ}] = Enable{Outbound: outbound, Inbound: inbound}
	return nil
}

func (f *Fake) GetDynamic(row Row, typ EstatsType) (Enable, []uint64, error) {
	if f.DeniedOps[typ] {
		return Enable{}, nil, ErrAccessDenied
	}
	fn, ok := f.Dynamic[fakeKey{identityOf(row), typ}]
	if !ok {
		return f.enabled[fakeEnableKey{identityOf(row), typ}], nil, ErrNoData
	}
	return fn(f.tick)
}

func (f *Fake) GetStatic(row Row, typ EstatsType) ([]uint64, error) {
	if f.DeniedOps[typ] {
		return nil, ErrAccessDenied
	}
	fn, ok := f.Static[fakeKey{identityOf(row), typ}]
	if !ok {
		return nil, ErrNoData
	}
	return fn(f.tick)
}
