package output

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color-by-percent-change styles (spec §4.F.3). ANSI 4-bit palette indices
// keep this legible on any terminal, not just truecolor ones.
var (
	styleWhiteOnBlue   = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	styleBrightBlue    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleBrightCyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	styleBrightGreen   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWhite         = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	styleBrightYellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleBrightMagenta = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	styleBrightRed     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleWhiteOnRed    = lipgloss.NewStyle().Foreground(lipgloss.Color("7")).Background(lipgloss.Color("1"))
)

// styleForChange picks the cell style for a percent-change value, per spec
// §4.F.3's threshold table.
func styleForChange(change float64) lipgloss.Style {
	switch {
	case change <= -1.0:
		return styleWhiteOnBlue
	case change < -0.25:
		return styleBrightBlue
	case change < -0.01:
		return styleBrightCyan
	case change < 0:
		return styleBrightGreen
	case change == 0:
		return styleWhite
	case change < 0.01:
		return styleBrightYellow
	case change < 0.25:
		return styleBrightMagenta
	case change < 1.0:
		return styleBrightRed
	default:
		return styleWhiteOnRed
	}
}

// renderCell colors v according to change's threshold bucket. change is a
// row's pre-scaled percentage (see PctScale), so it is divided back to a
// fraction before styleForChange's thresholds are applied.
func renderCell(v float64, change float64) string {
	return styleForChange(change / 100).Render(strconv.FormatFloat(v, 'f', -1, 64))
}

// renderSampleCount colors a detail row's sample count green when it grew
// this tick, uncolored otherwise (spec §4.F.3).
func renderSampleCount(samples int, gained bool) string {
	s := strconv.Itoa(samples)
	if gained {
		return styleBrightGreen.Render(s)
	}
	return s
}

const clearScreen = "\x1b[2J\x1b[H"

// RenderGlobal draws the fixed-width global summary table (spec §4.F.3).
func RenderGlobal(rows []GlobalSummaryRow) string {
	var b strings.Builder
	b.WriteString(clearScreen)
	fmt.Fprintf(&b, "%-24s %8s %10s %10s %10s %10s %10s %10s\n",
		"Metric", "Samples", "Min", "Max", "Mean", "Stddev", "Median", "IQR")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-24s %8d %10s %10s %10s %10s %10s %10s\n",
			r.Metric, r.Samples,
			renderCell(r.Min, r.MinChange),
			renderCell(r.Max, r.MaxChange),
			renderCell(r.Mean, r.MeanChange),
			renderCell(r.Stddev, r.StddevChange),
			renderCell(r.Median, r.MedianChange),
			renderCell(r.IQR, r.IQRChange))
	}
	return b.String()
}

// RenderDetail draws the fixed-width per-connection detail table (spec
// §4.F.3). Each row's GainedSamples reports whether that connection's sample
// count grew since the prior tick.
func RenderDetail(rows []DetailSummaryRow) string {
	var b strings.Builder
	b.WriteString(clearScreen)
	fmt.Fprintf(&b, "%-16s %-21s %-21s %8s %7s %10s %10s %10s %10s %10s %10s\n",
		"Metric", "Local", "Remote", "Samples", "Started", "Min", "Max", "Mean", "Stddev", "Median", "IQR")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-16s %-21s %-21s %8s %7d %10s %10s %10s %10s %10s %10s\n",
			r.Metric, r.LocalAddress, r.RemoteAddress,
			renderSampleCount(r.Samples, r.GainedSamples),
			r.StartedTick,
			renderCell(r.Min, r.MinChange),
			renderCell(r.Max, r.MaxChange),
			renderCell(r.Mean, r.MeanChange),
			renderCell(r.Stddev, r.StddevChange),
			renderCell(r.Median, r.MedianChange),
			renderCell(r.IQR, r.IQRChange))
	}
	return b.String()
}
