package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// LiveWriter writes the two rotating live summary CSVs: each tick gets a
// fresh GlobalSummary_<n>.csv and DetailSummary_<n>.csv under dir, with n a
// monotonic counter incremented on every rotation.
type LiveWriter struct {
	dir string
	n   int
}

// NewLiveWriter creates a LiveWriter rooted at dir (typically "LiveData").
func NewLiveWriter(dir string) *LiveWriter {
	return &LiveWriter{dir: dir}
}

// WriteTick writes both summary tables for this tick under the current
// rotation index, then advances the index for the next tick. The first call
// writes index 0, matching spec §4.F.2's "GlobalSummary_0..N-1.csv" naming
// after N ticks.
func (w *LiveWriter) WriteTick(global []GlobalSummaryRow, detail []DetailSummaryRow) error {
	if err := w.writeGlobal(global); err != nil {
		return err
	}
	if err := w.writeDetail(detail); err != nil {
		return err
	}
	w.n++
	return nil
}

func (w *LiveWriter) writeGlobal(rows []GlobalSummaryRow) error {
	f, err := w.create(fmt.Sprintf("GlobalSummary_%d.csv", w.n))
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(&rows, f)
}

func (w *LiveWriter) writeDetail(rows []DetailSummaryRow) error {
	f, err := w.create(fmt.Sprintf("DetailSummary_%d.csv", w.n))
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(&rows, f)
}

func (w *LiveWriter) create(name string) (*os.File, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(w.dir, name))
}
