package poiconsole

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/poiconsole/core"
	"pkt.systems/poiconsole/httpapi"
	"pkt.systems/poiconsole/internal/eventbus"
	"pkt.systems/poiconsole/schema"
)

type tokenSet map[schema.Credential]bool

func (s tokenSet) Verify(token schema.Credential) bool { return s[token] }

type countingSink struct {
	mu      sync.Mutex
	lines   int
	changes int
	creds   int
}

func (s *countingSink) OnDisplay(schema.DisplayLine) {
	s.mu.Lock()
	s.lines++
	s.mu.Unlock()
}

func (s *countingSink) OnStateChange(schema.StateChange) {
	s.mu.Lock()
	s.changes++
	s.mu.Unlock()
}

func (s *countingSink) OnCredentialRequired(string) {
	s.mu.Lock()
	s.creds++
	s.mu.Unlock()
}

func newManager(t *testing.T, seed ...schema.HistoryEntry) (*httpapi.Server, *httptest.Server) {
	t.Helper()
	srv := httpapi.NewServer(httpapi.Config{}, nil, tokenSet{"good": true}, nil, nil)
	for _, entry := range seed {
		srv.Hub().Publish(entry)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func newClient(t *testing.T, baseURL string, sink core.Sink) (*Client, <-chan eventbus.Event) {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		DialTimeout:    2 * time.Second,
		WriteTimeout:   time.Second,
		EventBuffer:    64,
	}, ClientDeps{Sink: sink}, WithEventBus())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	events, cancel := client.Events().Subscribe()
	t.Cleanup(func() {
		_ = client.Close()
		cancel()
	})
	return client, events
}

func TestClientConnectsToManager(t *testing.T) {
	srv, ts := newManager(t, schema.HistoryEntry{Category: "bds", Text: "boot ok"})
	sink := &countingSink{}
	client, events := newClient(t, ts.URL, sink)
	ctx := context.Background()

	if err := client.Session().Connect(ctx, "good"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectLine(t, events, schema.DisplayLine{Category: "bds", Text: "boot ok"})
	expectLine(t, events, schema.DisplayLine{Category: core.StatusCategory, Text: "connection succeeded"})
	waitFor(t, func() bool { return client.Events().Connected() })
	waitFor(t, func() bool { return srv.Peers() == 1 })

	if err := client.Session().SendCommand(ctx, "say hi"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	expectLine(t, events, schema.DisplayLine{Category: "cmd_in", Text: "say hi"})
	expectLine(t, events, schema.DisplayLine{Category: "bds", Text: "[Server] hi"})

	if err := client.Session().Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	expectLine(t, events, schema.DisplayLine{Category: core.StatusCategory, Text: "disconnected"})
	status, err := client.Session().Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != schema.StateDisconnected || status.HoldsChannel {
		t.Fatalf("unexpected status after disconnect: %+v", status)
	}
	waitFor(t, func() bool { return srv.Peers() == 0 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.lines < 5 || sink.changes < 4 {
		t.Fatalf("expected extra sink to see events, got %+v", sink)
	}
}

func TestClientReplaysHistoryLargerThanEventBuffer(t *testing.T) {
	const lines = 300
	seed := make([]schema.HistoryEntry, 0, lines)
	for i := 0; i < lines; i++ {
		seed = append(seed, schema.HistoryEntry{Category: "bds", Text: fmt.Sprintf("line %d", i)})
	}
	_, ts := newManager(t, seed...)
	client, events := newClient(t, ts.URL, nil)

	if err := client.Session().Connect(context.Background(), "good"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Let the replay pile up behind a reader that has not started yet.
	waitFor(t, func() bool { return client.Events().Connected() })
	for i := 0; i < lines; i++ {
		expectLine(t, events, schema.DisplayLine{Category: "bds", Text: fmt.Sprintf("line %d", i)})
		if i%100 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	expectLine(t, events, schema.DisplayLine{Category: core.StatusCategory, Text: "connection succeeded"})
	if dropped := client.Events().Dropped(); dropped != 0 {
		t.Fatalf("expected no dropped events, got %d", dropped)
	}
}

func TestClientBadTokenRequestsCredential(t *testing.T) {
	_, ts := newManager(t, schema.HistoryEntry{Category: "bds", Text: "secret log"})
	client, events := newClient(t, ts.URL, nil)

	if err := client.Session().Connect(context.Background(), "wrong"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectLine(t, events, schema.DisplayLine{Category: core.StatusCategory, Text: "token required"})
	for {
		ev := nextEvent(t, events)
		if ev.Type == eventbus.EventDisplay && ev.Line.Text == "secret log" {
			t.Fatalf("history leaked to unauthorized client")
		}
		if ev.Type == eventbus.EventCredential {
			break
		}
	}
	if client.Events().State() != schema.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", client.Events().State())
	}
}

func TestClientUnreachableManagerFails(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()
	client, events := newClient(t, url, nil)

	const secret = "s3cr3t-token"
	if err := client.Session().Connect(context.Background(), secret); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for {
		ev := nextEvent(t, events)
		if ev.Type == eventbus.EventDisplay && strings.Contains(ev.Line.Text, secret) {
			t.Fatalf("display line leaks the token: %q", ev.Line.Text)
		}
		if ev.Type == eventbus.EventState && ev.Change.To == schema.StateFailed {
			break
		}
	}
	if client.Events().Connected() {
		t.Fatalf("expected not connected")
	}
}

func TestNewClientRequiresReceiver(t *testing.T) {
	if _, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1"}, ClientDeps{}); err == nil {
		t.Fatalf("expected error without sink or bus")
	}
	if _, err := NewClient(ClientConfig{BaseURL: "ftp://host"}, ClientDeps{}, WithEventBus()); err == nil {
		t.Fatalf("expected error for bad base url")
	}
}

func TestMockServerLifecycle(t *testing.T) {
	if _, err := NewMockServer(MockServerConfig{HTTP: httpapi.Config{Addr: "127.0.0.1:0"}}, MockServerDeps{}); err == nil {
		t.Fatalf("expected verifier error")
	}
	srv, err := NewMockServer(MockServerConfig{
		HTTP: httpapi.Config{Addr: "127.0.0.1:0"},
		Seed: []schema.HistoryEntry{{Category: "bds", Text: "seeded"}},
	}, MockServerDeps{Verifier: tokenSet{"good": true}})
	if err != nil {
		t.Fatalf("NewMockServer: %v", err)
	}
	if got := srv.Hub().History(); len(got) != 1 || got[0].Text != "seeded" {
		t.Fatalf("expected seeded history, got %+v", got)
	}
	if err := srv.Wait(); err == nil {
		t.Fatalf("expected wait before start to fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
	if srv.Addr() == "127.0.0.1:0" {
		t.Fatalf("expected bound address, got %s", srv.Addr())
	}
	resp, err := http.Get("http://" + srv.Addr() + "/api/log/all?token=wrong")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 from running server, got %d", resp.StatusCode)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Wait(); err != nil {
		t.Fatalf("Wait after stop: %v", err)
	}
}

func expectLine(t *testing.T, events <-chan eventbus.Event, want schema.DisplayLine) {
	t.Helper()
	for {
		ev := nextEvent(t, events)
		if ev.Type != eventbus.EventDisplay {
			continue
		}
		if ev.Line != want {
			t.Fatalf("expected line %q, got %q", want.String(), ev.Line.String())
		}
		return
	}
}

func nextEvent(t *testing.T, events <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("event stream closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return eventbus.Event{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
