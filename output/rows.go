// Package output implements the Output Renderer (spec §4.F): long-form
// per-connection CSVs flushed on stale eviction and shutdown, rotating live
// CSV summaries written every tick, and an optional color-coded terminal
// table.
package output

// GlobalSummaryRow is one row of LiveData/GlobalSummary_<n>.csv: a single
// metric's global Summary plus its percent-change versus the prior tick,
// each change cell pre-scaled to a percentage (spec §4.F.2: "field%change
// × 100").
type GlobalSummaryRow struct {
	Metric       string  `csv:"Metric"`
	Samples      int     `csv:"Samples"`
	Min          float64 `csv:"Min"`
	Max          float64 `csv:"Max"`
	Mean         float64 `csv:"Mean"`
	Stddev       float64 `csv:"Stddev"`
	Median       float64 `csv:"Median"`
	IQR          float64 `csv:"IQR"`
	MinChange    float64 `csv:"MinPctChange"`
	MaxChange    float64 `csv:"MaxPctChange"`
	MeanChange   float64 `csv:"MeanPctChange"`
	StddevChange float64 `csv:"StddevPctChange"`
	MedianChange float64 `csv:"MedianPctChange"`
	IQRChange    float64 `csv:"IQRPctChange"`
}

// DetailSummaryRow is one row of LiveData/DetailSummary_<n>.csv: one
// connection's per-metric Summary plus percent-change.
type DetailSummaryRow struct {
	Metric        string  `csv:"Metric"`
	LocalAddress  string  `csv:"LocalAddress"`
	RemoteAddress string  `csv:"RemoteAddress"`
	Samples       int     `csv:"Samples"`
	Min           float64 `csv:"Min"`
	Max           float64 `csv:"Max"`
	Mean          float64 `csv:"Mean"`
	Stddev        float64 `csv:"Stddev"`
	Median        float64 `csv:"Median"`
	IQR           float64 `csv:"IQR"`
	MinChange     float64 `csv:"MinPctChange"`
	MaxChange     float64 `csv:"MaxPctChange"`
	MeanChange    float64 `csv:"MeanPctChange"`
	StddevChange  float64 `csv:"StddevPctChange"`
	MedianChange  float64 `csv:"MedianPctChange"`
	IQRChange     float64 `csv:"IQRPctChange"`
	// GainedSamples marks a connection whose Samples grew since the prior
	// tick, for the terminal renderer's green highlight (spec §4.F.3).
	GainedSamples bool `csv:"-"`
	// StartedTick is the tick this connection's family was first started,
	// a diagnostic surfaced only by the optional terminal renderer.
	StartedTick uint64 `csv:"-"`
}

// PctScale converts a fractional percent-change (spec §3) into the
// "× 100" form the live CSVs store (spec §4.F.2).
func PctScale(fraction float64) float64 { return fraction * 100 }
