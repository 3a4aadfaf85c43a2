// Package events serves tick-lifecycle notifications over a Unix domain
// socket in JSONL form, so that integration tests and external observers can
// watch the polling engine progress without racy sleeps or polling the
// output directory.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/m-lab/estats-collector/endpoint"
)

//go:generate stringer -type=Kind

// Kind identifies the sort of event that occurred.
type Kind int

const (
	// Open is sent once when a new connection is first inserted into the
	// Connection Indices.
	Open = Kind(iota)
	// Close is sent when a Connection Record is evicted as stale.
	Close
	// TickComplete is sent once per tick, after rendering finishes, so a
	// test can wait for exactly N ticks instead of sleeping.
	TickComplete
)

// Event is the data sent down the socket in JSONL form. Timestamp and Kind
// are always filled in; Identity is set for Open/Close and omitted for
// TickComplete; Tick is set for TickComplete and omitted otherwise.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Identity  *endpoint.Identity `json:",omitempty"`
	Tick      *uint64            `json:",omitempty"`
}

// Server serves tick-lifecycle events over a Unix domain socket. Construct
// one with New or NullServer.
type Server interface {
	Listen() error
	Serve(context.Context) error
	ConnectionOpened(id endpoint.Identity)
	ConnectionClosed(id endpoint.Identity)
	TickComplete(tick uint64)
}

type server struct {
	eventC       chan *Event
	filename     string
	clients      map[net.Conn]struct{}
	unixListener net.Listener
	mutex        sync.Mutex
	servingWG    sync.WaitGroup
}

func (s *server) addClient(c net.Conn) {
	log.Println("event client connected:", c)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[c] = struct{}{}
}

func (s *server) removeClient(c net.Conn) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.clients[c]; !ok {
		log.Println("event client", c, "already removed, ignoring")
		return
	}
	delete(s.clients, c)
}

func (s *server) sendToAllListeners(data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for c := range s.clients {
		if _, err := fmt.Fprintln(c, data); err != nil {
			log.Println("event client", c, "write failed, dropping it:", err)
			go s.removeClient(c)
			go c.Close()
		}
	}
}

func (s *server) notifyClients(ctx context.Context) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	for ctx.Err() == nil {
		event := <-s.eventC
		var b []byte
		var err error
		if event != nil {
			b, err = json.Marshal(*event)
		}
		if event == nil || err != nil {
			log.Printf("WARNING: bad event received %v (err: %v)\n", event, err)
			continue
		}
		s.sendToAllListeners(string(b))
	}
}

// Listen returns quickly. Connections will not succeed until Serve is also
// called. Listen should only be called once for a given Server.
func (s *server) Listen() error {
	s.servingWG.Add(1)
	var err error
	os.Remove(s.filename)
	s.unixListener, err = net.Listen("unix", s.filename)
	return err
}

// Serve accepts clients until ctx is canceled. It is expected to run in a
// goroutine, after Listen. Serve should only be called once for a given
// Server.
func (s *server) Serve(ctx context.Context) error {
	defer s.servingWG.Done()
	derivedCtx, derivedCancel := context.WithCancel(ctx)
	defer derivedCancel()

	go s.notifyClients(derivedCtx)

	s.servingWG.Add(1)
	go func() {
		<-derivedCtx.Done()
		s.unixListener.Close()
		close(s.eventC)
		s.servingWG.Done()
	}()

	var err error
	for derivedCtx.Err() == nil {
		var conn net.Conn
		conn, err = s.unixListener.Accept()
		if err != nil {
			log.Printf("Could not Accept on socket %q: %s\n", s.filename, err)
			continue
		}
		s.addClient(conn)
	}
	return err
}

// ConnectionOpened should be called once whenever a new connection is first
// inserted into the Connection Indices (spec §4.C).
func (s *server) ConnectionOpened(id endpoint.Identity) {
	s.eventC <- &Event{Kind: Open, Timestamp: time.Now(), Identity: &id}
}

// ConnectionClosed should be called whenever a Connection Record is evicted
// as stale (spec §4.D step 4).
func (s *server) ConnectionClosed(id endpoint.Identity) {
	s.eventC <- &Event{Kind: Close, Timestamp: time.Now(), Identity: &id}
}

// TickComplete should be called once per tick, after the render phase
// finishes (spec §4.D step 5).
func (s *server) TickComplete(tick uint64) {
	s.eventC <- &Event{Kind: TickComplete, Timestamp: time.Now(), Tick: &tick}
}

// New makes a new Server that serves clients on the given Unix domain
// socket path.
func New(filename string) Server {
	return &server{
		filename: filename,
		eventC:   make(chan *Event, 100),
		clients:  make(map[net.Conn]struct{}),
	}
}

type nullServer struct{}

func (nullServer) Listen() error                        { return nil }
func (nullServer) Serve(context.Context) error           { return nil }
func (nullServer) ConnectionOpened(id endpoint.Identity) {}
func (nullServer) ConnectionClosed(id endpoint.Identity) {}
func (nullServer) TickComplete(tick uint64)              {}

// NullServer returns a Server that does nothing, so that code which may or
// may not want event notifications can hold a Server and not worry about
// whether it is nil.
func NullServer() Server {
	return nullServer{}
}
