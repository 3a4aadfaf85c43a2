package events

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/estats-collector/endpoint"
)

func mustEndpoint(t *testing.T, port uint16) endpoint.Endpoint {
	t.Helper()
	e, err := endpoint.New(endpoint.FamilyV4, []byte{10, 0, 0, 1}, port)
	rtx.Must(err, "could not build endpoint")
	return e
}

func TestServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	srv := New(dir + "/estats-events.sock").(*server)
	rtx.Must(srv.Listen(), "could not listen")
	go srv.Serve(ctx)
	c, err := net.Dial("unix", dir+"/estats-events.sock")
	rtx.Must(err, "could not open unix domain socket")

	for {
		srv.mutex.Lock()
		length := len(srv.clients)
		srv.mutex.Unlock()
		if length > 0 {
			break
		}
	}

	id := endpoint.Identity{Local: mustEndpoint(t, 80), Remote: mustEndpoint(t, 443)}

	srv.ConnectionClosed(id)
	r := bufio.NewScanner(c)
	if !r.Scan() {
		t.Fatal("should have been able to scan until the next newline, but couldn't")
	}
	var event Event
	rtx.Must(json.Unmarshal(r.Bytes(), &event), "could not unmarshal")
	if event.Kind != Close || event.Identity == nil || *event.Identity != id {
		t.Error("event was supposed to be {Close, id}, not", event)
	}

	before := time.Now()
	srv.TickComplete(7)
	if !r.Scan() {
		t.Fatal("should have been able to scan until the next newline, but couldn't")
	}
	rtx.Must(json.Unmarshal(r.Bytes(), &event), "could not unmarshal")
	after := time.Now()
	if before.After(event.Timestamp) || after.Before(event.Timestamp) {
		t.Error("it should be true that", before, "<", event.Timestamp, "<", after)
	}
	event.Timestamp = time.Time{}
	tick := uint64(7)
	if diff := deep.Equal(event, Event{Kind: TickComplete, Tick: &tick}); diff != nil {
		t.Error("event differed from expected:", diff)
	}

	c.Close()

	srv.eventC <- nil
	srv.removeClient(nil)

	srv.ConnectionClosed(id)

	for {
		srv.mutex.Lock()
		length := len(srv.clients)
		srv.mutex.Unlock()
		if length == 0 {
			break
		}
	}
	cancel()
	srv.servingWG.Wait()
}

func TestNullServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NullServer()
	rtx.Must(srv.Listen(), "could not listen")
	rtx.Must(srv.Serve(ctx), "could not serve")
	id := endpoint.Identity{Local: mustEndpoint(t, 80), Remote: mustEndpoint(t, 443)}
	srv.ConnectionOpened(id)
	srv.ConnectionClosed(id)
	srv.TickComplete(0)
}

func TestLeftoverSocketFileIsRemoved(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/estats-events.sock"
	f, err := os.Create(path)
	rtx.Must(err, "could not create stale socket file")
	f.Close()

	srv := New(path).(*server)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen should remove a stale socket file, got: %v", err)
	}
	srv.unixListener.Close()
}
