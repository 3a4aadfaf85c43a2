// Command estats-collector runs the per-connection TCP ESTATS telemetry
// collector: a timer-driven poller that enumerates the OS TCP connection
// tables, tracks per-family counters, and renders summary statistics to
// rotating live CSVs and long-form per-connection CSVs.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	_ "net/http/pprof" // Support profiling

	"github.com/m-lab/estats-collector/config"
	"github.com/m-lab/estats-collector/events"
	"github.com/m-lab/estats-collector/output"
	"github.com/m-lab/estats-collector/poller"
	"github.com/m-lab/estats-collector/winapi"
)

var (
	promPort    = flag.String("prom", ":9090", "Prometheus metrics export address and port.")
	outputDir   = flag.String("output", ".", "Directory in which to put the resulting tree of long-form and live CSVs.")
	eventSocket = flag.String("eventsocket", "", "Path to a unix domain socket on which to serve Open/Close/TickComplete notifications. Empty disables it.")
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	cfg, err := config.Load()
	rtx.Must(err, "invalid configuration")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	rtx.Must(os.MkdirAll(*outputDir, 0o755), "could not create output directory %s", *outputDir)
	longForm, err := output.NewLongFormWriter(*outputDir)
	rtx.Must(err, "could not open long-form CSVs")

	live := output.NewLiveWriter(*outputDir + "/LiveData")

	var evs events.Server = events.NullServer()
	if *eventSocket != "" {
		evs = events.New(*eventSocket)
		rtx.Must(evs.Listen(), "could not listen on event socket %s", *eventSocket)
		go evs.Serve(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	engine := poller.New(winapi.New(), cfg, longForm, live, evs)
	if err := engine.Run(ctx); err != nil && err != poller.ErrFatal {
		log.Fatalf("estats-collector: %v", err)
	} else if err == poller.ErrFatal {
		log.Println("estats-collector: stopped after a fatal OS statistics error; see log above")
		os.Exit(1)
	}
}
