// Command estats-eventtail is a minimal reference client for the
// estats-collector event socket: it connects, and logs every
// Open/Close/TickComplete notification it receives until interrupted.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/estats-collector/endpoint"
	"github.com/m-lab/estats-collector/events"
)

var socket = flag.String("estats.eventsocket", "", "The filename of the unix domain socket on which estats-collector serves events.")

var (
	mainCtx, mainCancel = context.WithCancel(context.Background())
)

type handler struct{}

func (handler) Opened(id endpoint.Identity) { log.Println("open ", id) }
func (handler) Closed(id endpoint.Identity) { log.Println("close", id) }
func (handler) TickComplete(tick uint64)    { log.Println("tick ", tick) }

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "could not get args from environment variables")
	defer mainCancel()

	if *socket == "" {
		panic("-estats.eventsocket path is required")
	}

	events.MustRun(mainCtx, *socket, handler{})
}
