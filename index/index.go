// Package index implements the Connection Index (spec §4.C): an ordered set
// of Connection Records for one family, keyed by connection identity.
package index

import (
	"sort"

	"github.com/m-lab/estats-collector/connrecord"
	"github.com/m-lab/estats-collector/endpoint"
)

// Index is one family's ordered set of Connection Records.
type Index struct {
	familyName string
	records    map[endpoint.Identity]*connrecord.Record
}

// New creates an empty Index for the named family.
func New(familyName string) *Index {
	return &Index{familyName: familyName, records: map[endpoint.Identity]*connrecord.Record{}}
}

// Upsert returns the Record for identity, constructing and inserting one if
// absent. inserted reports whether a new Record was created.
func (idx *Index) Upsert(identity endpoint.Identity) (record *connrecord.Record, inserted bool) {
	if r, ok := idx.records[identity]; ok {
		return r, false
	}
	r := connrecord.New(identity, idx.familyName)
	idx.records[identity] = r
	return r, true
}

// Find looks up a Record by identity.
func (idx *Index) Find(identity endpoint.Identity) (*connrecord.Record, bool) {
	r, ok := idx.records[identity]
	return r, ok
}

// Erase removes identity's Record, if present.
func (idx *Index) Erase(identity endpoint.Identity) {
	delete(idx.records, identity)
}

// Len reports the number of Records currently in the Index.
func (idx *Index) Len() int { return len(idx.records) }

// Iter returns every Record in identity order.
func (idx *Index) Iter() []*connrecord.Record {
	out := make([]*connrecord.Record, 0, len(idx.records))
	for _, r := range idx.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
