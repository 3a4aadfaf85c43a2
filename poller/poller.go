// Package poller implements the Polling Engine (spec §4.D): a single-shot
// timer loop that, once per tick, enumerates the OS TCP connection tables,
// upserts and updates Connection Records across all seven families, evicts
// stale records, and hands the tick's summaries to the Output Renderer.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/m-lab/estats-collector/aggregate"
	"github.com/m-lab/estats-collector/classify"
	"github.com/m-lab/estats-collector/config"
	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/events"
	"github.com/m-lab/estats-collector/family"
	"github.com/m-lab/estats-collector/index"
	"github.com/m-lab/estats-collector/metrics"
	"github.com/m-lab/estats-collector/output"
	"github.com/m-lab/estats-collector/tcp"
	"github.com/m-lab/estats-collector/winapi"
)

// ErrFatal is returned by Run when a tick observed "access denied" from the
// OS statistics surface (spec §4.H): the engine has already flushed and
// closed its long-form CSVs by the time Run returns it.
var ErrFatal = errors.New("poller: fatal error from OS statistics surface, polling stopped")

// Engine is the Polling Engine. Construct one with New.
type Engine struct {
	sys    winapi.System
	cfg    config.Config
	long   *output.LongFormWriter
	live   *output.LiveWriter
	events events.Server

	indices map[string]*index.Index
	agg     *aggregate.Aggregator

	tick uint64

	// prevSamples remembers each (metric, identity) detail summary's sample
	// count from the prior tick, so the terminal renderer can highlight a
	// connection whose history just grew (spec §4.F.3).
	prevSamples map[string]int
}

// New constructs an Engine over a fresh set of Connection Indices, one per
// family.
func New(sys winapi.System, cfg config.Config, long *output.LongFormWriter, live *output.LiveWriter, evs events.Server) *Engine {
	indices := make(map[string]*index.Index, len(family.Names))
	for _, name := range family.Names {
		indices[name] = index.New(name)
	}
	return &Engine{
		sys:         sys,
		cfg:         cfg,
		long:        long,
		live:        live,
		events:      evs,
		indices:     indices,
		agg:         aggregate.New(indices),
		prevSamples: map[string]int{},
	}
}

// Run executes ticks at cfg.PollRate until ctx is canceled or a tick
// observes a fatal OS error. It always flushes and closes the long-form
// CSVs before returning, whether that return is nil (context canceled) or
// ErrFatal.
func (e *Engine) Run(ctx context.Context) error {
	for {
		start := time.Now()
		fatal := e.runTick()
		metrics.TickDurationHistogram.Observe(time.Since(start).Seconds())

		if fatal {
			metrics.FatalErrorCount.Inc()
			if err := e.shutdown(); err != nil {
				return err
			}
			return ErrFatal
		}

		timer := time.NewTimer(e.cfg.PollRate)
		select {
		case <-ctx.Done():
			timer.Stop()
			return e.shutdown()
		case <-timer.C:
		}
	}
}

func (e *Engine) shutdown() error {
	if err := e.long.FlushRemaining(e.indices); err != nil {
		return err
	}
	return e.long.Close()
}

// runTick executes one complete tick (spec §4.D steps 1-6) and reports
// whether a fatal "access denied" error was observed.
func (e *Engine) runTick() bool {
	e.tick++

	fatalV4 := e.enumerate(endpoint.FamilyV4)
	fatalV6 := e.enumerate(endpoint.FamilyV6)
	if fatalV4 || fatalV6 {
		return true
	}

	e.evictStale()
	e.render()
	e.events.TickComplete(e.tick)
	return false
}

// enumerate runs one address family's phase of step 2/3: list the OS TCP
// table, skip rows in uninteresting states, upsert+start+update every
// family's tracker for each remaining row. It reports true iff a fatal
// "access denied" error was observed, per spec §4.D step 2 ("if any is
// access denied, re-throw out of the per-entry loop").
func (e *Engine) enumerate(fam endpoint.Family) bool {
	rows, err := e.sys.TCPTable(fam)
	if err != nil {
		// TCPTable already retries insufficient-buffer internally, so any
		// error reaching here skips this phase only, without stopping the
		// engine.
		log.Printf("estats: %s connection table enumeration failed: %v", fam, err)
		return false
	}
	metrics.ConnectionCountHistogram.With(prometheus.Labels{"af": fam.String()}).Observe(float64(len(rows)))

	for _, row := range rows {
		if tcp.Skip(row.State) {
			continue
		}
		if e.trackRow(row) {
			return true
		}
	}
	return false
}

// trackRow upserts, starts (if newly inserted) and updates every family's
// tracker for one connection-table row. It reports true iff a fatal error
// was observed.
func (e *Engine) trackRow(row winapi.Row) bool {
	identity := endpoint.Identity{Local: row.Local, Remote: row.Remote}
	opened := false

	for _, name := range family.Names {
		idx := e.indices[name]
		record, inserted := idx.Upsert(identity)
		if inserted {
			record.StartedTick = e.tick
			if name == family.Names[0] {
				opened = true
			}
			if err := record.Tracker.Start(e.sys, row); err != nil {
				if e.handleError(identity, name, err) {
					return true
				}
			}
		}
		if err := record.Tracker.Update(e.sys, row, e.cfg.MaxHistoryLength); err != nil {
			if e.handleError(identity, name, err) {
				return true
			}
			continue
		}
		record.LastSeenTick = e.tick
	}

	if opened {
		e.events.ConnectionOpened(identity)
	}
	return false
}

// handleError classifies err (spec §4.H) and reports true iff it is fatal.
func (e *Engine) handleError(identity endpoint.Identity, familyName string, err error) bool {
	switch classify.Of(err) {
	case classify.Fatal:
		classify.LogFatal(identity, familyName, err)
		return true
	case classify.Transient:
		classify.LogTransient(identity, familyName, err)
		metrics.TransientErrorCount.With(prometheus.Labels{"family": familyName}).Inc()
	}
	return false
}

// evictStale implements spec §4.D step 4: any identity in the SynOpts index
// whose last-seen-tick isn't the current tick has disappeared from the OS
// tables. Its rows are flushed to the long-form CSVs, its prior-detail cache
// entries are pruned, and it is erased from every index.
func (e *Engine) evictStale() {
	synOpts := e.indices["SynOpts"]
	for _, record := range synOpts.Iter() {
		if record.LastSeenTick == e.tick {
			continue
		}
		identity := record.Identity
		if err := e.long.FlushIdentity(identity, e.indices); err != nil {
			log.Printf("estats: failed to flush long-form rows for %s: %v", identity, err)
		} else {
			for _, file := range []string{"Path", "ReceiveWindow", "SenderCongestion"} {
				metrics.LongFormRowCount.With(prometheus.Labels{"file": file}).Inc()
			}
		}
		e.events.ConnectionClosed(identity)
		e.agg.Prune(identity)
		for _, name := range family.Names {
			e.indices[name].Erase(identity)
		}
	}
	for _, name := range family.Names {
		metrics.TrackedConnectionGauge.With(prometheus.Labels{"family": name}).Set(float64(e.indices[name].Len()))
	}
}

// render implements spec §4.D step 5 / §4.F: compute this tick's global and
// detail summaries for the configured metric sets, write the rotating live
// CSVs, and optionally render the terminal tables.
func (e *Engine) render() {
	globalRows := make([]output.GlobalSummaryRow, 0, len(e.cfg.GlobalMetrics))
	for _, metric := range e.cfg.GlobalMetrics {
		summary, change := e.agg.Global(metric)
		globalRows = append(globalRows, output.GlobalSummaryRow{
			Metric:       metric,
			Samples:      summary.Samples,
			Min:          summary.Min,
			Max:          summary.Max,
			Mean:         summary.Mean,
			Stddev:       summary.Stddev,
			Median:       summary.Median,
			IQR:          summary.IQR,
			MinChange:    output.PctScale(change.Min),
			MaxChange:    output.PctScale(change.Max),
			MeanChange:   output.PctScale(change.Mean),
			StddevChange: output.PctScale(change.Stddev),
			MedianChange: output.PctScale(change.Median),
			IQRChange:    output.PctScale(change.IQR),
		})
	}

	var detailRows []output.DetailSummaryRow
	for _, metric := range e.cfg.DetailMetrics {
		for _, r := range e.agg.Detail(metric) {
			key := fmt.Sprintf("%s|%s", metric, r.Identity)
			gained := r.Summary.Samples > e.prevSamples[key]
			e.prevSamples[key] = r.Summary.Samples
			detailRows = append(detailRows, output.DetailSummaryRow{
				Metric:        metric,
				LocalAddress:  r.Identity.Local.String(),
				RemoteAddress: r.Identity.Remote.String(),
				Samples:       r.Summary.Samples,
				Min:           r.Summary.Min,
				Max:           r.Summary.Max,
				Mean:          r.Summary.Mean,
				Stddev:        r.Summary.Stddev,
				Median:        r.Summary.Median,
				IQR:           r.Summary.IQR,
				MinChange:     output.PctScale(r.Change.Min),
				MaxChange:     output.PctScale(r.Change.Max),
				MeanChange:    output.PctScale(r.Change.Mean),
				StddevChange:  output.PctScale(r.Change.Stddev),
				MedianChange:  output.PctScale(r.Change.Median),
				IQRChange:     output.PctScale(r.Change.IQR),
				GainedSamples: gained,
				StartedTick:   r.StartedTick,
			})
		}
	}

	if err := e.live.WriteTick(globalRows, detailRows); err != nil {
		log.Printf("estats: failed to write live summary CSVs: %v", err)
	} else {
		metrics.LiveRotationCount.Inc()
	}

	if e.cfg.PrintGlobalToConsole {
		fmt.Print(output.RenderGlobal(globalRows))
	}
	if e.cfg.PrintDetailToConsole {
		fmt.Print(output.RenderDetail(detailRows))
	}
}
