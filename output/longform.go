package output

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-lab/estats-collector/connrecord"
	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/family"
	"github.com/m-lab/estats-collector/index"
)

// The long-form CSVs are heterogeneous joins of whichever families a given
// identity happens to have records in, with column counts that vary per
// family. That rules out gocsv's struct-reflection marshalling (used by the
// two live summary CSVs in live.go): there is no single Go struct whose field
// count matches "however many columns the Path family declares". A thin
// encoding/csv writer tracks the needed external primitive
// (create_file/set_filename/write_row/write_empty_row) directly instead.
type csvFile struct {
	f *os.File
	w *csv.Writer
}

func createCSVFile(path string, header []string) (*csvFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	return &csvFile{f: f, w: w}, nil
}

func (c *csvFile) writeRow(cells []string) error {
	if err := c.w.Write(cells); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvFile) close() error {
	c.w.Flush()
	return c.f.Close()
}

// LongFormWriter owns the three long-form CSVs opened once at startup (spec
// §4.F.1): Path, ReceiveWindow (LocalRwin+RemoteRwin joined), and
// SenderCongestion (SendCongestion+Data+Bandwidth joined).
type LongFormWriter struct {
	path     *csvFile
	rwin     *csvFile
	sendCong *csvFile
}

// NewLongFormWriter creates and opens all three files under dir, writing
// each header immediately.
func NewLongFormWriter(dir string) (*LongFormWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path, err := createCSVFile(filepath.Join(dir, "EstatsPathInfo.csv"), addresses(family.ColumnNames("Path")))
	if err != nil {
		return nil, err
	}
	rwin, err := createCSVFile(filepath.Join(dir, "EstatsReceiveWindow.csv"),
		addresses(append(append([]string{}, family.ColumnNames("LocalRwin")...), family.ColumnNames("RemoteRwin")...)))
	if err != nil {
		path.close()
		return nil, err
	}
	cols := append(append([]string{}, family.ColumnNames("SendCongestion")...), family.ColumnNames("Data")...)
	cols = append(cols, family.ColumnNames("Bandwidth")...)
	sendCong, err := createCSVFile(filepath.Join(dir, "EstatsSenderCongestion.csv"), addresses(cols))
	if err != nil {
		path.close()
		rwin.close()
		return nil, err
	}
	return &LongFormWriter{path: path, rwin: rwin, sendCong: sendCong}, nil
}

func addresses(columns []string) []string {
	return append([]string{"LocalAddress", "RemoteAddress"}, columns...)
}

// placeholder returns n cells holding the literal "(bad)" token, for a
// missing cross-family partner (spec §4.F.1, spec §9 Open Questions 2/3:
// unavailable data always renders "(bad)", never a stale or empty cell).
func placeholder(n int) []string {
	cells := make([]string, n)
	for i := range cells {
		cells[i] = "(bad)"
	}
	return cells
}

// FlushIdentity emits the long-form rows for one identity, drawing whatever
// family records exist for it out of the seven indices (keyed by family
// name). A family with no record for this identity contributes a
// placeholder row of the correct width (spec §4.D step 4, §4.F.1).
func (w *LongFormWriter) FlushIdentity(id endpoint.Identity, indices map[string]*index.Index) error {
	if err := w.flushPath(id, indices); err != nil {
		return err
	}
	if err := w.flushReceiveWindow(id, indices); err != nil {
		return err
	}
	return w.flushSenderCongestion(id, indices)
}

func lookup(indices map[string]*index.Index, familyName string, id endpoint.Identity) (*connrecord.Record, bool) {
	idx := indices[familyName]
	if idx == nil {
		return nil, false
	}
	return idx.Find(id)
}

func (w *LongFormWriter) flushPath(id endpoint.Identity, indices map[string]*index.Index) error {
	cells := []string{id.Local.String(), id.Remote.String()}
	if r, ok := lookup(indices, "Path", id); ok {
		cells = append(cells, r.Tracker.RowValues()...)
	} else {
		cells = append(cells, placeholder(len(family.ColumnNames("Path")))...)
	}
	return w.path.writeRow(cells)
}

func (w *LongFormWriter) flushReceiveWindow(id endpoint.Identity, indices map[string]*index.Index) error {
	cells := []string{id.Local.String(), id.Remote.String()}
	if r, ok := lookup(indices, "LocalRwin", id); ok {
		cells = append(cells, r.Tracker.RowValues()...)
	} else {
		cells = append(cells, placeholder(len(family.ColumnNames("LocalRwin")))...)
	}
	if r, ok := lookup(indices, "RemoteRwin", id); ok {
		cells = append(cells, r.Tracker.RowValues()...)
	} else {
		cells = append(cells, placeholder(len(family.ColumnNames("RemoteRwin")))...)
	}
	return w.rwin.writeRow(cells)
}

func (w *LongFormWriter) flushSenderCongestion(id endpoint.Identity, indices map[string]*index.Index) error {
	cells := []string{id.Local.String(), id.Remote.String()}
	for _, familyName := range []string{"SendCongestion", "Data", "Bandwidth"} {
		if r, ok := lookup(indices, familyName, id); ok {
			cells = append(cells, r.Tracker.RowValues()...)
		} else {
			cells = append(cells, placeholder(len(family.ColumnNames(familyName)))...)
		}
	}
	return w.sendCong.writeRow(cells)
}

// FlushRemaining emits rows for every identity still present in the SynOpts
// index, the shutdown-time behavior spec §4.F.1 requires ("at shutdown for
// every identity remaining in the respective index").
func (w *LongFormWriter) FlushRemaining(indices map[string]*index.Index) error {
	synOpts := indices["SynOpts"]
	if synOpts == nil {
		return nil
	}
	for _, r := range synOpts.Iter() {
		if err := w.FlushIdentity(r.Identity, indices); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes all three files.
func (w *LongFormWriter) Close() error {
	errs := []string{}
	for _, f := range []*csvFile{w.path, w.rwin, w.sendCong} {
		if err := f.close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errString(errs)
	}
	return nil
}

type errString []string

func (e errString) Error() string { return strings.Join(e, "; ") }
