// Package config loads and validates the collector's configuration (spec
// §4.G): poll rate, history cap, the global/detail metric name sets, and the
// two console-rendering toggles.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/m-lab/go/flagx"

	"github.com/m-lab/estats-collector/family"
)

// Config holds the recognized options of spec §4.G. All fields are
// immutable for the lifetime of the collector once Load returns.
type Config struct {
	PollRate             time.Duration
	MaxHistoryLength     int
	GlobalMetrics        []string
	DetailMetrics        []string
	PrintGlobalToConsole bool
	PrintDetailToConsole bool
}

var (
	pollRateMS           = flag.Int("pollRateMS", 1000, "Interval between polling ticks, in milliseconds.")
	maxHistoryLength     = flag.Int("maxHistoryLength", 10, "Per-metric history cap.")
	globalMetrics        flagx.StringArray
	detailMetrics        flagx.StringArray
	printGlobalToConsole = flag.Bool("printGlobalToConsole", false, "Render the global summary table to the terminal each tick.")
	printDetailToConsole = flag.Bool("printDetailToConsole", false, "Render the per-connection detail tables to the terminal each tick.")
)

func init() {
	flag.Var(&globalMetrics, "globalMetrics", "Metric name to include in the global summary. May be repeated.")
	flag.Var(&detailMetrics, "detailMetrics", "Metric name to include in the per-connection detail summary. May be repeated.")
}

// ErrUnknownMetric is returned by Load when globalMetrics or detailMetrics
// names a metric absent from every family's column table (spec §4.G, §4.H
// "Configuration errors").
type ErrUnknownMetric struct {
	Metric string
	Set    string
}

func (e *ErrUnknownMetric) Error() string {
	return fmt.Sprintf("config: unknown metric %q in %s", e.Metric, e.Set)
}

// Load parses the already-registered flags (the caller must have already
// called flag.Parse and, if wanted, flagx.ArgsFromEnv) into a Config,
// validating every metric name against family.MetricFamily.
func Load() (Config, error) {
	cfg := Config{
		PollRate:             time.Duration(*pollRateMS) * time.Millisecond,
		MaxHistoryLength:     *maxHistoryLength,
		GlobalMetrics:        []string(globalMetrics),
		DetailMetrics:        []string(detailMetrics),
		PrintGlobalToConsole: *printGlobalToConsole,
		PrintDetailToConsole: *printDetailToConsole,
	}
	if err := validate(cfg.GlobalMetrics, "globalMetrics"); err != nil {
		return Config{}, err
	}
	if err := validate(cfg.DetailMetrics, "detailMetrics"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(metrics []string, setName string) error {
	for _, m := range metrics {
		if _, ok := family.MetricFamily[m]; !ok {
			return &ErrUnknownMetric{Metric: m, Set: setName}
		}
	}
	return nil
}
