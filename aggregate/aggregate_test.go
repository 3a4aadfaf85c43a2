package aggregate

import (
	"testing"

	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/family"
	"github.com/m-lab/estats-collector/index"
	"github.com/m-lab/estats-collector/winapi"
)

func mustEndpoint(t *testing.T, port uint16) endpoint.Endpoint {
	t.Helper()
	e, err := endpoint.New(endpoint.FamilyV4, []byte{10, 0, 0, 1}, port)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// feedInstantaneous drives tr through a real fake winapi.System so its
// history is populated the same way the Polling Engine would populate it.
// Only families whose columns are all instantaneous (e.g. LocalRwin) are
// supported, since the fake response repeats v across every column.
func feedInstantaneous(t *testing.T, tr *family.Tracker, metric string, row winapi.Row, typ winapi.EstatsType, values []uint64) {
	t.Helper()
	fake := winapi.NewFake()
	i := 0
	fake.OnDynamic(row, typ, func(tick int) (winapi.Enable, []uint64, error) {
		v := values[i]
		i++
		fields := winapi.FieldWidths[typ]
		out := make([]uint64, len(fields))
		for j := range out {
			out[j] = v
		}
		return winapi.Enable{Outbound: true}, out, nil
	})
	for range values {
		if err := tr.Update(fake, row, 10); err != nil {
			t.Fatal(err)
		}
	}
	_ = metric
}

func TestEmptyGlobalSummaryIsZero(t *testing.T) {
	idx := index.New("Data")
	agg := New(map[string]*index.Index{"Data": idx})
	summary, change := agg.Global("DataBytesOut")
	if summary.Samples != 0 || summary.Mean != 0 {
		t.Fatalf("expected zero summary for empty index, got %+v", summary)
	}
	if change != (PercentChange{}) {
		t.Fatalf("expected zero change with no prior summary, got %+v", change)
	}
}

func TestNoPriorYieldsZeroChangeEvenWithData(t *testing.T) {
	idx := index.New("LocalRwin")
	agg := New(map[string]*index.Index{"LocalRwin": idx})
	id := endpoint.Identity{Local: mustEndpoint(t, 1000), Remote: mustEndpoint(t, 443)}
	record, _ := idx.Upsert(id)
	row := winapi.Row{Local: id.Local, Remote: id.Remote}
	feedInstantaneous(t, record.Tracker, "CurRwinRcvd", row, winapi.EstatsTypeRec, []uint64{10, 20, 30})

	_, change := agg.Global("CurRwinRcvd")
	if change != (PercentChange{}) {
		t.Fatalf("expected all-zero change on first observation, got %+v", change)
	}
}

func TestPercentChangeSecondTick(t *testing.T) {
	idx := index.New("LocalRwin")
	agg := New(map[string]*index.Index{"LocalRwin": idx})
	id := endpoint.Identity{Local: mustEndpoint(t, 1000), Remote: mustEndpoint(t, 443)}
	record, _ := idx.Upsert(id)
	row := winapi.Row{Local: id.Local, Remote: id.Remote}

	feedInstantaneous(t, record.Tracker, "CurRwinRcvd", row, winapi.EstatsTypeRec, []uint64{10})
	agg.Global("CurRwinRcvd") // seed prior

	feedInstantaneous(t, record.Tracker, "CurRwinRcvd", row, winapi.EstatsTypeRec, []uint64{20})
	summary, change := agg.Global("CurRwinRcvd")

	if summary.Mean == 0 {
		t.Fatal("expected non-zero mean on second tick")
	}
	if change.Mean <= 0 {
		t.Fatalf("expected positive percent change after mean increased, got %v", change.Mean)
	}
}

func TestDetailReturnsOneResultPerConnectionWithData(t *testing.T) {
	idx := index.New("LocalRwin")
	agg := New(map[string]*index.Index{"LocalRwin": idx})

	id1 := endpoint.Identity{Local: mustEndpoint(t, 1000), Remote: mustEndpoint(t, 443)}
	r1, _ := idx.Upsert(id1)
	feedInstantaneous(t, r1.Tracker, "CurRwinRcvd", winapi.Row{Local: id1.Local, Remote: id1.Remote}, winapi.EstatsTypeRec, []uint64{5})

	// A second connection with no pushed data should be skipped.
	id2 := endpoint.Identity{Local: mustEndpoint(t, 2000), Remote: mustEndpoint(t, 443)}
	idx.Upsert(id2)

	results := agg.Detail("CurRwinRcvd")
	if len(results) != 1 {
		t.Fatalf("Detail() returned %d results, want 1", len(results))
	}
	if results[0].Identity != id1 {
		t.Fatalf("Detail()[0].Identity = %v, want %v", results[0].Identity, id1)
	}
}
