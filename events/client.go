package events

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net"

	"github.com/m-lab/go/rtx"

	"github.com/m-lab/estats-collector/endpoint"
)

// Handler is implemented by interested consumers of the event socket.
// Methods are called synchronously, in socket arrival order.
type Handler interface {
	Opened(id endpoint.Identity)
	Closed(id endpoint.Identity)
	TickComplete(tick uint64)
}

// MustRun reads newline-delimited Events from socket until ctx is canceled,
// dispatching each to handler. Any connection or decode error is fatal.
func MustRun(ctx context.Context, socket string, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c, err := net.Dial("unix", socket)
	rtx.Must(err, "could not connect to %q", socket)
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	s := bufio.NewScanner(c)
	for s.Scan() {
		var event Event
		rtx.Must(json.Unmarshal(s.Bytes(), &event), "could not unmarshal event")
		switch event.Kind {
		case Open:
			handler.Opened(*event.Identity)
		case Close:
			handler.Closed(*event.Identity)
		case TickComplete:
			handler.TickComplete(*event.Tick)
		default:
			log.Println("unknown event kind:", event.Kind)
		}
	}
}
