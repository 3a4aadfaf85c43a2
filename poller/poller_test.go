package poller

import (
	"context"
	"testing"
	"time"

	"github.com/m-lab/estats-collector/config"
	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/events"
	"github.com/m-lab/estats-collector/output"
	"github.com/m-lab/estats-collector/winapi"
)

func mustEndpoint(t *testing.T, last byte, port uint16) endpoint.Endpoint {
	t.Helper()
	e, err := endpoint.New(endpoint.FamilyV4, []byte{10, 0, 0, last}, port)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func newEngine(t *testing.T, fake *winapi.Fake, cfg config.Config) *Engine {
	t.Helper()
	dir := t.TempDir()
	long, err := output.NewLongFormWriter(dir + "/longform")
	if err != nil {
		t.Fatal(err)
	}
	live := output.NewLiveWriter(dir + "/LiveData")
	return New(fake, cfg, long, live, events.NullServer())
}

// TestCumulativeDeltaAcrossTicks mirrors spec §8 end-to-end scenario 1.
func TestCumulativeDeltaAcrossTicks(t *testing.T) {
	fake := winapi.NewFake()
	row := winapi.Row{Local: mustEndpoint(t, 1, 1234), Remote: mustEndpoint(t, 2, 443)}
	fake.Ticks = make([]winapi.FakeTick, 5)
	for i := range fake.Ticks {
		fake.Ticks[i] = winapi.FakeTick{V4: []winapi.Row{row}}
	}

	raw := []uint64{1000, 1500, 1500, 2500, 3000}
	fake.OnDynamic(row, winapi.EstatsTypeData, func(tick int) (winapi.Enable, []uint64, error) {
		return winapi.Enable{Outbound: true}, []uint64{raw[tick], 0}, nil
	})

	cfg := config.Config{PollRate: time.Second, MaxHistoryLength: 10, GlobalMetrics: []string{"DataBytesOut"}}
	e := newEngine(t, fake, cfg)

	for i := 0; i < 5; i++ {
		if fatal := e.runTick(); fatal {
			t.Fatalf("tick %d: unexpected fatal", i)
		}
		if i < 4 {
			fake.AdvanceTick()
		}
	}

	record, ok := e.indices["Data"].Find(endpoint.Identity{Local: row.Local, Remote: row.Remote})
	if !ok {
		t.Fatal("expected a Data record for the connection")
	}
	got := record.Tracker.Metrics()["DataBytesOut"].Values()
	want := []uint64{1000, 500, 0, 1000, 500}
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	summary, _ := e.agg.Global("DataBytesOut")
	if summary.Samples != 1 || summary.Min != 0 || summary.Max != 1000 || summary.Mean != 600 || summary.Median != 500 {
		t.Errorf("global summary = %+v, want {Samples:1 Min:0 Max:1000 Mean:600 Median:500 ...}", summary)
	}
}

// TestStaleEvictionRemovesConnection mirrors spec §8 end-to-end scenario 4.
func TestStaleEvictionRemovesConnection(t *testing.T) {
	fake := winapi.NewFake()
	a := winapi.Row{Local: mustEndpoint(t, 1, 1234), Remote: mustEndpoint(t, 2, 443)}
	b := winapi.Row{Local: mustEndpoint(t, 3, 1234), Remote: mustEndpoint(t, 4, 443)}
	fake.Ticks = []winapi.FakeTick{
		{V4: []winapi.Row{a, b}},
		{V4: []winapi.Row{a, b}},
		{V4: []winapi.Row{a, b}},
		{V4: []winapi.Row{a}},
	}

	cfg := config.Config{PollRate: time.Second, MaxHistoryLength: 10}
	e := newEngine(t, fake, cfg)

	for i := 0; i < 4; i++ {
		if fatal := e.runTick(); fatal {
			t.Fatalf("tick %d: unexpected fatal", i)
		}
		if i < 3 {
			fake.AdvanceTick()
		}
	}

	synOpts := e.indices["SynOpts"]
	idA := endpoint.Identity{Local: a.Local, Remote: a.Remote}
	idB := endpoint.Identity{Local: b.Local, Remote: b.Remote}
	if _, ok := synOpts.Find(idA); !ok {
		t.Error("connection A should still be tracked")
	}
	if _, ok := synOpts.Find(idB); ok {
		t.Error("connection B should have been evicted as stale")
	}
}

// TestAccessDeniedIsFatal mirrors spec §8 end-to-end scenario 6.
func TestAccessDeniedIsFatal(t *testing.T) {
	fake := winapi.NewFake()
	fake.DeniedOps = map[winapi.EstatsType]bool{winapi.EstatsTypeData: true}
	row := winapi.Row{Local: mustEndpoint(t, 1, 1234), Remote: mustEndpoint(t, 2, 443)}
	fake.Ticks = []winapi.FakeTick{{V4: []winapi.Row{row}}}

	cfg := config.Config{PollRate: time.Second, MaxHistoryLength: 10}
	e := newEngine(t, fake, cfg)

	if fatal := e.runTick(); !fatal {
		t.Fatal("expected a fatal result when the OS surface denies access")
	}
	if err := e.shutdown(); err != nil {
		t.Fatalf("shutdown after a fatal tick should still succeed: %v", err)
	}
}

// TestRunStopsOnContextCancel is a smoke test for the Run loop itself.
func TestRunStopsOnContextCancel(t *testing.T) {
	fake := winapi.NewFake()
	fake.Ticks = []winapi.FakeTick{{}}
	cfg := config.Config{PollRate: time.Millisecond, MaxHistoryLength: 10}
	e := newEngine(t, fake, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); err != nil {
		t.Errorf("Run with an already-canceled context should return nil, got %v", err)
	}
}
