// Package aggregate implements the Summary Aggregator (spec §4.E): per
// metric, compute {samples,min,max,mean,stddev,median,IQR} either across all
// connections (global) or per connection (detail), and the percent-change of
// each field versus the immediately prior tick's summary for the same key.
package aggregate

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/family"
	"github.com/m-lab/estats-collector/index"
)

// Summary is {samples,min,max,mean,stddev,median,IQR} (spec §3). The zero
// value is the "empty dataset" summary spec §3/§4.E requires.
type Summary struct {
	Samples int
	Min     float64
	Max     float64
	Mean    float64
	Stddev  float64
	Median  float64
	IQR     float64
}

// PercentChange is the fractional change per Summary field versus the prior
// tick's Summary for the same key (spec §3 Percent-Change Record).
type PercentChange struct {
	Min    float64
	Max    float64
	Mean   float64
	Stddev float64
	Median float64
	IQR    float64
}

// DetailResult pairs one connection's identity with its Summary and change.
// StartedTick is carried through only as a diagnostic for the terminal
// renderer; it plays no part in the summary or percent-change computation.
type DetailResult struct {
	Identity    endpoint.Identity
	Summary     Summary
	Change      PercentChange
	StartedTick uint64
}

type detailKey struct {
	metric   string
	identity endpoint.Identity
}

// Aggregator computes summaries over the Connection Indices and remembers
// the prior tick's summaries to derive percent-change.
type Aggregator struct {
	indices map[string]*index.Index // keyed by family name

	priorGlobal map[string]Summary
	priorDetail map[detailKey]Summary
}

// New constructs an Aggregator over the seven per-family indices, keyed by
// family name (see family.Names).
func New(indices map[string]*index.Index) *Aggregator {
	return &Aggregator{
		indices:     indices,
		priorGlobal: map[string]Summary{},
		priorDetail: map[detailKey]Summary{},
	}
}

// Global computes the global summary for metricName: across every connection
// in the metric's owning family whose history for that metric is non-empty,
// min of minima, max of maxima, mean-of-means, stddev-of-means,
// median-of-medians, IQR-of-medians (spec §4.E).
func (a *Aggregator) Global(metricName string) (Summary, PercentChange) {
	idx := a.indices[family.MetricFamily[metricName]]
	var mins, maxs, means, medians []float64
	if idx != nil {
		for _, record := range idx.Iter() {
			hist, ok := record.Tracker.Metrics()[metricName]
			if !ok || hist.Empty() {
				continue
			}
			values := sortedFloats(hist.Values())
			mn, mx, mean, _, median, _ := summarize(values)
			mins = append(mins, mn)
			maxs = append(maxs, mx)
			means = append(means, mean)
			medians = append(medians, median)
		}
	}

	summary := Summary{Samples: len(mins)}
	if len(mins) > 0 {
		summary.Min = must(stats.Min(mins))
		summary.Max = must(stats.Max(maxs))
		summary.Mean = must(stats.Mean(means))
		summary.Stddev = sampleStddev(means)
		summary.Median = must(stats.Median(medians))
		summary.IQR = iqr(medians)
	}

	prior, hadPrior := a.priorGlobal[metricName]
	change := percentChange(prior, summary, hadPrior)
	a.priorGlobal[metricName] = summary
	return summary, change
}

// Prune discards every cached prior-detail summary for identity, called when
// a Connection Record for identity is evicted from its index. Without this,
// priorDetail grows without bound across the lifetime of the collector
// (spec §9 design note on prior-summary memory).
func (a *Aggregator) Prune(identity endpoint.Identity) {
	for key := range a.priorDetail {
		if key.identity == identity {
			delete(a.priorDetail, key)
		}
	}
}

// Detail computes one summary per connection holding a non-empty history
// for metricName, in index order (spec §4.E "per connection").
func (a *Aggregator) Detail(metricName string) []DetailResult {
	idx := a.indices[family.MetricFamily[metricName]]
	if idx == nil {
		return nil
	}
	var out []DetailResult
	for _, record := range idx.Iter() {
		hist, ok := record.Tracker.Metrics()[metricName]
		if !ok || hist.Empty() {
			continue
		}
		values := sortedFloats(hist.Values())
		mn, mx, mean, stddev, median, q := summarize(values)
		summary := Summary{
			Samples: len(values),
			Min:     mn,
			Max:     mx,
			Mean:    mean,
			Stddev:  stddev,
			Median:  median,
			IQR:     q,
		}
		key := detailKey{metric: metricName, identity: record.Identity}
		prior, hadPrior := a.priorDetail[key]
		change := percentChange(prior, summary, hadPrior)
		a.priorDetail[key] = summary
		out = append(out, DetailResult{Identity: record.Identity, Summary: summary, Change: change, StartedTick: record.StartedTick})
	}
	return out
}

func sortedFloats(values []uint64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	sort.Float64s(out)
	return out
}

func summarize(sorted []float64) (min, max, mean, stddev, median, iqrVal float64) {
	min = must(stats.Min(sorted))
	max = must(stats.Max(sorted))
	mean = must(stats.Mean(sorted))
	stddev = sampleStddev(sorted)
	median = must(stats.Median(sorted))
	iqrVal = iqr(sorted)
	return
}

// sampleStddev is the sample (n-1) standard deviation of values, or 0 when
// there are fewer than two values.
func sampleStddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return must(stats.StandardDeviationSample(values))
}

func iqr(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	v, err := stats.InterQuartileRange(sorted)
	if err != nil {
		return 0
	}
	return v
}

func must(v float64, err error) float64 {
	if err != nil {
		return 0
	}
	return v
}

// percentChange derives spec §3's Percent-Change Record, field by field,
// between prior and current. With no prior summary at all for this key, the
// change is all zeros regardless of current's values.
func percentChange(prior, current Summary, hadPrior bool) PercentChange {
	if !hadPrior {
		return PercentChange{}
	}
	return PercentChange{
		Min:    fieldChange(prior.Min, current.Min),
		Max:    fieldChange(prior.Max, current.Max),
		Mean:   fieldChange(prior.Mean, current.Mean),
		Stddev: fieldChange(prior.Stddev, current.Stddev),
		Median: fieldChange(prior.Median, current.Median),
		IQR:    fieldChange(prior.IQR, current.IQR),
	}
}

func fieldChange(old, updated float64) float64 {
	switch {
	case old == updated:
		return 0
	case old == 0 && updated > 0:
		return 1.0
	case updated == 0 && old > 0:
		return -1.0
	default:
		return (updated - old) / old
	}
}
