package family

import (
	"testing"

	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/winapi"
)

func mustEndpoint(t *testing.T, fam endpoint.Family, ip []byte, port uint16) endpoint.Endpoint {
	t.Helper()
	e, err := endpoint.New(fam, ip, port)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func testRow(t *testing.T) winapi.Row {
	local := mustEndpoint(t, endpoint.FamilyV4, []byte{10, 0, 0, 1}, 1234)
	remote := mustEndpoint(t, endpoint.FamilyV4, []byte{10, 0, 0, 2}, 443)
	return winapi.Row{Local: local, Remote: remote}
}

func TestHeaderMatchesColumnOrder(t *testing.T) {
	tr := New("Data")
	if got, want := tr.Header(), "DataBytesOut,DataBytesIn"; got != want {
		t.Errorf("Header() = %q, want %q", got, want)
	}
}

func TestCumulativeFamilyPushesDeltas(t *testing.T) {
	row := testRow(t)
	fake := winapi.NewFake()
	readings := []uint64{100, 200, 260, 260}
	i := 0
	fake.OnDynamic(row, winapi.EstatsTypeData, func(tick int) (winapi.Enable, []uint64, error) {
		v := readings[i]
		i++
		return winapi.Enable{Outbound: true}, []uint64{v, 0}, nil
	})

	tr := New("Data")
	if err := tr.Start(fake, row); err != nil {
		t.Fatal(err)
	}
	for range readings {
		if err := tr.Update(fake, row, 10); err != nil {
			t.Fatal(err)
		}
	}
	hist := tr.Metrics()["DataBytesOut"]
	if hist == nil {
		t.Fatal("expected DataBytesOut history to exist")
	}
	// prev starts at zero, so the four readings produce deltas 100, 100,
	// 60, 0.
	got := hist.Values()
	want := []uint64{100, 100, 60, 0}
	if len(got) != len(want) {
		t.Fatalf("Values() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Values() = %v, want %v", got, want)
		}
	}
}

func TestInstantaneousFamilyPushesRawValues(t *testing.T) {
	row := testRow(t)
	fake := winapi.NewFake()
	fake.OnDynamic(row, winapi.EstatsTypeRec, func(tick int) (winapi.Enable, []uint64, error) {
		return winapi.Enable{Outbound: true}, []uint64{uint64(1000 + tick), 500, 2000}, nil
	})

	tr := New("LocalRwin")
	for tick := 0; tick < 3; tick++ {
		if err := tr.Update(fake, row, 10); err != nil {
			t.Fatal(err)
		}
		fake.AdvanceTick()
	}
	got := tr.Metrics()["CurRwinRcvd"].Values()
	want := []uint64{1000, 1001, 1002}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Values() = %v, want %v", got, want)
		}
	}
}

func TestValiditySentinelDropsReading(t *testing.T) {
	row := testRow(t)
	fake := winapi.NewFake()
	fake.OnDynamic(row, winapi.EstatsTypeRec, func(tick int) (winapi.Enable, []uint64, error) {
		return winapi.Enable{Outbound: true}, []uint64{0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF}, nil
	})

	tr := New("LocalRwin")
	if err := tr.Update(fake, row, 10); err != nil {
		t.Fatal(err)
	}
	if hist, ok := tr.Metrics()["CurRwinRcvd"]; ok && !hist.Empty() {
		t.Fatal("expected sentinel reading to be dropped, not pushed")
	}
}

func TestBandwidthRequiresAnEnableFlag(t *testing.T) {
	row := testRow(t)
	fake := winapi.NewFake()
	fake.OnDynamic(row, winapi.EstatsTypeBandwidth, func(tick int) (winapi.Enable, []uint64, error) {
		return winapi.Enable{Outbound: false, Inbound: false}, []uint64{1, 2, 0, 3, 4, 0}, nil
	})

	tr := New("Bandwidth")
	if err := tr.Update(fake, row, 10); err != nil {
		t.Fatal(err)
	}
	if hist, ok := tr.Metrics()["OutboundBandwidth"]; ok && !hist.Empty() {
		t.Fatal("expected no-enable-flag reading to be treated as no data")
	}
}

func TestSynOptsLatchesAfterFirstNonZeroRead(t *testing.T) {
	row := testRow(t)
	fake := winapi.NewFake()
	calls := 0
	fake.OnStatic(row, winapi.EstatsTypeSynOpts, func(tick int) ([]uint64, error) {
		calls++
		return []uint64{1460, 1460}, nil
	})

	tr := New("SynOpts")
	for i := 0; i < 5; i++ {
		if err := tr.Update(fake, row, 10); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Fatalf("GetStatic called %d times, want 1 (latched after first non-zero read)", calls)
	}
}

func TestBandwidthPushesWhenBothFlagsReadBackTrue(t *testing.T) {
	row := testRow(t)
	fake := winapi.NewFake()
	tr := New("Bandwidth")
	if err := tr.Start(fake, row); err != nil {
		t.Fatal(err)
	}
	fake.OnDynamic(row, winapi.EstatsTypeBandwidth, func(tick int) (winapi.Enable, []uint64, error) {
		return winapi.Enable{Outbound: true, Inbound: true}, []uint64{1, 2, 0, 3, 4, 0}, nil
	})
	if err := tr.Update(fake, row, 10); err != nil {
		t.Fatal(err)
	}
	if hist := tr.Metrics()["OutboundBandwidth"]; hist == nil || hist.Empty() {
		t.Fatal("expected a pushed reading once both enable flags are true")
	}
}

func TestStartSynOptsIsNoOp(t *testing.T) {
	row := testRow(t)
	fake := winapi.NewFake()
	fake.DeniedOps[winapi.EstatsTypeSynOpts] = true
	tr := New("SynOpts")
	if err := tr.Start(fake, row); err != nil {
		t.Fatalf("SynOpts.Start should never call the OS surface, got error: %v", err)
	}
}

func TestAccessDeniedPropagates(t *testing.T) {
	row := testRow(t)
	fake := winapi.NewFake()
	fake.DeniedOps[winapi.EstatsTypeData] = true
	tr := New("Data")
	if err := tr.Start(fake, row); err != winapi.ErrAccessDenied {
		t.Fatalf("Start() = %v, want ErrAccessDenied", err)
	}
}

func TestMetricFamilyMapCoversAllColumns(t *testing.T) {
	for _, name := range Names {
		for _, col := range specs[name].columns {
			// The Bandwidth peaked flags are latched booleans and are
			// deliberately absent from MetricFamily.
			want := name
			if col.peaked {
				want = ""
			}
			if MetricFamily[col.name] != want {
				t.Errorf("MetricFamily[%q] = %q, want %q", col.name, MetricFamily[col.name], want)
			}
		}
	}
}
