// Package family implements the seven Counter-Family Trackers (spec §3, §4.A):
// for one ESTATS family, which RW enable flags to set, how to query the
// ROD/ROS block, which fields are cumulative versus instantaneous, and the
// bounded per-metric history each field accumulates into.
package family

import (
	"strconv"
	"strings"

	"github.com/m-lab/estats-collector/history"
	"github.com/m-lab/estats-collector/winapi"
)

// column describes one field of a family's ROD (or ROS, for SynOpts) block.
type column struct {
	name       string
	width      int // bits, from winapi.FieldWidths
	cumulative bool
	// peaked marks the two Bandwidth "has this direction ever peaked" flags:
	// latched booleans, excluded from histories, MetricFamily, and the
	// summary/percent-change pipeline, and rendered as true/false rather
	// than a numeric value in the long-form row.
	peaked bool
}

// spec is the static description of one of the seven families.
type spec struct {
	familyName string
	typ        winapi.EstatsType
	static     bool // true only for SynOpts: queried via GetStatic, not GetDynamic
	columns    []column
}

func newSpec(familyName string, typ winapi.EstatsType, static bool, names []string, cumulative []bool) spec {
	return newSpecWithPeaked(familyName, typ, static, names, cumulative, nil)
}

func newSpecWithPeaked(familyName string, typ winapi.EstatsType, static bool, names []string, cumulative, peaked []bool) spec {
	widths := winapi.FieldWidths[typ]
	cols := make([]column, len(names))
	for i, n := range names {
		cols[i] = column{name: n, width: widths[i], cumulative: cumulative[i]}
		if peaked != nil {
			cols[i].peaked = peaked[i]
		}
	}
	return spec{familyName: familyName, typ: typ, static: static, columns: cols}
}

var specs = map[string]spec{
	"SynOpts": newSpec("SynOpts", winapi.EstatsTypeSynOpts, true,
		[]string{"MssRcvd", "MssSent"},
		[]bool{false, false}),

	"Data": newSpec("Data", winapi.EstatsTypeData, false,
		[]string{"DataBytesOut", "DataBytesIn"},
		[]bool{true, true}),

	"SendCongestion": newSpec("SendCongestion", winapi.EstatsTypeSndCong, false,
		[]string{"CurCwnd", "SndLimBytesRwin", "SndLimBytesSnd", "SndLimBytesCwnd", "SndLimTransRwin", "SndLimTransSnd", "SndLimTransCwnd"},
		[]bool{false, true, true, true, true, true, true}),

	"Path": newSpec("Path", winapi.EstatsTypePath, false,
		[]string{"CurRto", "SmoothedRtt", "BytesRetrans", "DupAcksIn", "SacksRcvd", "CongSignals", "CurMss"},
		[]bool{false, false, true, true, true, true, true}),

	"LocalRwin": newSpec("LocalRwin", winapi.EstatsTypeRec, false,
		[]string{"CurRwinRcvd", "MinRwinRcvd", "MaxRwinRcvd"},
		[]bool{false, false, false}),

	"RemoteRwin": newSpec("RemoteRwin", winapi.EstatsTypeObsRec, false,
		[]string{"CurRwinSent", "MinRwinSent", "MaxRwinSent"},
		[]bool{false, false, false}),

	"Bandwidth": newSpecWithPeaked("Bandwidth", winapi.EstatsTypeBandwidth, false,
		[]string{"OutboundBandwidth", "OutboundInstability", "OutboundBandwidthPeaked", "InboundBandwidth", "InboundInstability", "InboundBandwidthPeaked"},
		[]bool{false, false, false, false, false, false},
		[]bool{false, false, true, false, false, true}),
}

// Names lists the seven family names in the order spec §3 declares them.
var Names = []string{"SynOpts", "Data", "SendCongestion", "Path", "LocalRwin", "RemoteRwin", "Bandwidth"}

// MetricFamily maps every summarizable metric name to its owning family
// name, the static name→family map spec §4.E's Aggregator resolves metric
// names through. The Bandwidth peaked flags are deliberately absent: they
// are latched booleans, not summarizable histories.
var MetricFamily = func() map[string]string {
	m := map[string]string{}
	for _, name := range Names {
		for _, c := range specs[name].columns {
			if c.peaked {
				continue
			}
			m[c.name] = name
		}
	}
	return m
}()

// ColumnNames returns a family's metric names in declared column order.
func ColumnNames(familyName string) []string {
	s := specs[familyName]
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.name
	}
	return names
}

type state struct {
	hist       *history.History
	prev       uint64
	latest     uint64
	haveLatest bool
}

// Tracker is one family's per-connection tracking state: one bounded history
// per column, plus whatever cumulative-counter bookkeeping the column needs.
// Trackers never sort, dedupe, or compute statistics. They are pure history
// appenders.
type Tracker struct {
	spec   spec
	states []state
	// synLatched is set once a SynOpts reading with a non-zero MssRcvd has
	// been taken; thereafter update is a no-op (spec §4.A: "SynOpts is
	// queried only while its previous MssRcvd stored value is zero").
	synLatched bool
}

// New constructs a Tracker for the named family. familyName must be one of
// Names.
func New(familyName string) *Tracker {
	return &Tracker{spec: specs[familyName], states: make([]state, len(specs[familyName].columns))}
}

// Header is the static CSV header fragment for this family's columns.
func (t *Tracker) Header() string {
	names := make([]string, len(t.spec.columns))
	for i, c := range t.spec.columns {
		names[i] = c.name
	}
	return strings.Join(names, ",")
}

// Start is invoked exactly once per connection per family, immediately after
// the Connection Record is inserted (spec §4.A point 2). SynOpts performs no
// action; Bandwidth sets both enable flags; every other family sets the
// single outbound flag.
func (t *Tracker) Start(sys winapi.System, row winapi.Row) error {
	if t.spec.static {
		return nil
	}
	inbound := t.spec.familyName == "Bandwidth"
	return sys.SetEnable(row, t.spec.typ, true, inbound)
}

// Update queries the OS for fresh readings and pushes validated samples into
// each column's history (spec §4.A point 3). maxHistory bounds every column's
// history the first time it is created.
func (t *Tracker) Update(sys winapi.System, row winapi.Row, maxHistory int) error {
	if t.spec.static {
		return t.updateStatic(sys, row, maxHistory)
	}
	return t.updateDynamic(sys, row, maxHistory)
}

func (t *Tracker) updateStatic(sys winapi.System, row winapi.Row, maxHistory int) error {
	// MssRcvd is column 0 for SynOpts; latch once it has been read non-zero.
	if t.synLatched {
		return nil
	}
	fields, err := sys.GetStatic(row, t.spec.typ)
	if err != nil {
		if err == winapi.ErrNoData {
			return nil
		}
		return err
	}
	t.pushAll(fields, maxHistory)
	if mss, ok := t.states[0].hist.Last(); ok && mss != 0 {
		t.synLatched = true
	}
	return nil
}

func (t *Tracker) updateDynamic(sys winapi.System, row winapi.Row, maxHistory int) error {
	enable, fields, err := sys.GetDynamic(row, t.spec.typ)
	if err != nil {
		if err == winapi.ErrNoData {
			return nil
		}
		return err
	}
	// Bandwidth is unique: success alone isn't enough, at least one enable
	// flag must also have read back true, or the reading is "no data"
	// (spec §4.A: "Key design points").
	if t.spec.familyName == "Bandwidth" && !enable.Outbound && !enable.Inbound {
		return nil
	}
	t.pushAll(fields, maxHistory)
	return nil
}

func (t *Tracker) pushAll(fields []uint64, maxHistory int) {
	for i, c := range t.spec.columns {
		raw := fields[i]
		if !winapi.IsValid(raw, c.width) {
			continue
		}
		st := &t.states[i]
		if c.peaked {
			// A latched boolean: once observed true it stays true, and it
			// never gets a history of its own.
			if raw != 0 {
				st.latest = 1
			}
			st.haveLatest = true
			continue
		}
		if st.hist == nil {
			st.hist = history.New(maxHistory)
		}
		if c.cumulative {
			// prev starts at zero, so the first valid reading pushes the
			// raw counter value itself.
			st.hist.Push(raw - st.prev)
			st.latest = raw - st.prev
			st.prev = raw
		} else {
			st.hist.Push(raw)
			st.latest = raw
		}
		st.haveLatest = true
	}
}

// RowValues renders the most recent or derived value for each column, in
// declared column order, for the long-form CSV (spec §4.A point 4). A
// column with no reading yet renders the literal token "(bad)" rather than
// a stale or empty cell. A peaked column renders "true"/"false".
func (t *Tracker) RowValues() []string {
	cells := make([]string, len(t.spec.columns))
	for i, c := range t.spec.columns {
		st := t.states[i]
		if !st.haveLatest {
			cells[i] = "(bad)"
			continue
		}
		if c.peaked {
			cells[i] = strconv.FormatBool(st.latest != 0)
			continue
		}
		cells[i] = strconv.FormatUint(st.latest, 10)
	}
	return cells
}

// FormatRow renders RowValues as a single comma-separated fragment.
func (t *Tracker) FormatRow() string {
	return strings.Join(t.RowValues(), ",")
}

// NumColumns reports how many columns this family declares.
func (t *Tracker) NumColumns() int { return len(t.spec.columns) }

// Metrics exposes each column's bounded history by metric name, for the
// Summary Aggregator to consume (spec §4.A point 4).
func (t *Tracker) Metrics() map[string]*history.History {
	out := make(map[string]*history.History, len(t.spec.columns))
	for i, c := range t.spec.columns {
		if t.states[i].hist != nil {
			out[c.name] = t.states[i].hist
		}
	}
	return out
}
