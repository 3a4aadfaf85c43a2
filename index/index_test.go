package index

import (
	"testing"

	"github.com/m-lab/estats-collector/endpoint"
)

func mustEndpoint(t *testing.T, port uint16) endpoint.Endpoint {
	t.Helper()
	e, err := endpoint.New(endpoint.FamilyV4, []byte{10, 0, 0, 1}, port)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestUpsertInsertsOnce(t *testing.T) {
	idx := New("Data")
	remote := mustEndpoint(t, 443)
	id := endpoint.Identity{Local: mustEndpoint(t, 1000), Remote: remote}

	r1, inserted := idx.Upsert(id)
	if !inserted {
		t.Fatal("expected first Upsert to insert")
	}
	r2, inserted := idx.Upsert(id)
	if inserted {
		t.Fatal("expected second Upsert to find existing record")
	}
	if r1 != r2 {
		t.Fatal("expected Upsert to return the same record pointer")
	}
}

func TestFindAndErase(t *testing.T) {
	idx := New("Data")
	id := endpoint.Identity{Local: mustEndpoint(t, 1000), Remote: mustEndpoint(t, 443)}
	idx.Upsert(id)

	if _, ok := idx.Find(id); !ok {
		t.Fatal("expected Find to locate the inserted record")
	}
	idx.Erase(id)
	if _, ok := idx.Find(id); ok {
		t.Fatal("expected Find to fail after Erase")
	}
}

func TestIterIsOrdered(t *testing.T) {
	idx := New("Data")
	ports := []uint16{3000, 1000, 2000}
	for _, p := range ports {
		idx.Upsert(endpoint.Identity{Local: mustEndpoint(t, p), Remote: mustEndpoint(t, 443)})
	}
	records := idx.Iter()
	if len(records) != 3 {
		t.Fatalf("Iter() returned %d records, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if !records[i-1].Less(records[i]) {
			t.Fatalf("Iter() not in identity order: %v before %v", records[i-1].Identity, records[i].Identity)
		}
	}
}
