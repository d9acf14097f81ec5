package console

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/poiconsole/core"
	"pkt.systems/poiconsole/internal/eventbus"
	"pkt.systems/poiconsole/schema"
)

func TestRunConnectsSendsAndDisconnects(t *testing.T) {
	session := &fakeSession{state: schema.StateConnected}
	out := &lockedBuffer{}
	c := New(session, nil, Config{
		In:         strings.NewReader("list\n\nsay hi\n/quit\nignored\n"),
		Out:        out,
		Credential: "abc",
	})
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := session.connects(); len(got) != 1 || got[0] != "abc" {
		t.Fatalf("unexpected connects: %v", got)
	}
	if got := session.sent(); len(got) != 2 || got[0] != "list" || got[1] != "say hi" {
		t.Fatalf("unexpected commands: %v", got)
	}
	if session.disconnects() != 1 {
		t.Fatalf("expected disconnect on exit, got %d", session.disconnects())
	}
	if !strings.HasPrefix(out.String(), Banner+"\n") {
		t.Fatalf("expected banner first, got %q", out.String())
	}
}

func TestRunConnectsWithoutCredentialAndPromptsOnConnect(t *testing.T) {
	session := &fakeSession{state: schema.StateDisconnected}
	out := &lockedBuffer{}
	c := New(session, nil, Config{
		In:  strings.NewReader("/connect\nsecret\n/connect\n\n/connect other\n"),
		Out: out,
	})
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := session.connects()
	want := []schema.Credential{"", "secret", "secret", "other"}
	if len(got) != len(want) {
		t.Fatalf("expected connects %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected connects %v, got %v", want, got)
		}
	}
	if strings.Count(out.String(), "token: ") != 2 {
		t.Fatalf("expected two prompts, got %q", out.String())
	}
}

func TestConnectPromptUsesTerminalWithoutEcho(t *testing.T) {
	session := &fakeSession{}
	out := &lockedBuffer{}
	c := New(session, nil, Config{In: strings.NewReader("not read\n"), Out: out})
	c.termFD = 7
	c.readPassword = func(fd int) ([]byte, error) {
		if fd != 7 {
			t.Fatalf("unexpected fd %d", fd)
		}
		return []byte(" hidden \n"), nil
	}
	if _, err := c.Handle(context.Background(), "/connect"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := session.connects(); len(got) != 1 || got[0] != "hidden" {
		t.Fatalf("unexpected connects: %v", got)
	}
	if strings.Contains(out.String(), "hidden") {
		t.Fatalf("token must not be echoed: %q", out.String())
	}
}

func TestRejectedCommandIsReported(t *testing.T) {
	session := &fakeSession{state: schema.StateAuthenticating}
	out := &lockedBuffer{}
	c := New(session, nil, Config{Out: out})
	if _, err := c.Handle(context.Background(), "list"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := out.String(); got != "console:command rejected: authenticating\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestSessionClosedEndsConsole(t *testing.T) {
	session := &fakeSession{closed: true}
	c := New(session, nil, Config{})
	if _, err := c.Handle(context.Background(), "list"); err != schema.ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSlashCommands(t *testing.T) {
	session := &fakeSession{
		state: schema.StateConnected,
		lines: []schema.DisplayLine{
			{Category: "bds", Text: "one"},
			{Category: "", Text: "two"},
			{Category: "cmd_in", Text: "three"},
		},
		history: []string{"list", "stop"},
	}
	tests := []struct {
		input string
		want  string
	}{
		{input: "/status", want: "console:state=connected attempt=a1 credential=ba7816bf channel=true lines=3\n"},
		{input: "/log 2", want: "two\ncmd_in:three\n"},
		{input: "/log", want: "bds:one\ntwo\ncmd_in:three\n"},
		{input: "/log nope", want: "console:usage: /log [n]\n"},
		{input: "/history", want: "console:1 list\nconsole:2 stop\n"},
		{input: "/bogus", want: "console:unknown command /bogus (try /help)\n"},
	}
	for _, tc := range tests {
		out := &lockedBuffer{}
		c := New(session, nil, Config{Out: out})
		quit, err := c.Handle(context.Background(), tc.input)
		if err != nil || quit {
			t.Fatalf("Handle(%q) = %v, %v", tc.input, quit, err)
		}
		if got := out.String(); got != tc.want {
			t.Fatalf("Handle(%q) output %q, want %q", tc.input, got, tc.want)
		}
	}

	c := New(session, nil, Config{})
	if _, err := c.Handle(context.Background(), "/disconnect"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if session.disconnects() != 1 {
		t.Fatalf("expected one disconnect, got %d", session.disconnects())
	}
	for _, input := range []string{"/quit", "/exit"} {
		if quit, _ := c.Handle(context.Background(), input); !quit {
			t.Fatalf("expected %s to quit", input)
		}
	}
}

func TestRunPrintsEvents(t *testing.T) {
	bus := eventbus.New(nil, 8)
	events, cancel := bus.Subscribe()
	defer cancel()
	bus.OnDisplay(schema.DisplayLine{Category: "info", Text: "boot ok"})
	bus.OnStateChange(schema.StateChange{From: schema.StateAuthenticating, To: schema.StateConnected})
	bus.OnDisplay(schema.DisplayLine{Category: "console", Text: "connection succeeded"})
	bus.OnCredentialRequired("bad token")
	deadline := time.Now().Add(2 * time.Second)
	for len(events) < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for queued events, have %d", len(events))
		}
		time.Sleep(time.Millisecond)
	}

	out := &lockedBuffer{}
	c := New(&fakeSession{}, events, Config{Out: out})
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"info:boot ok\n",
		"console:connection succeeded\n",
		"console:" + credentialPrompt + "\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output %q", want, got)
		}
	}
	if strings.Index(got, "info:boot ok") > strings.Index(got, "console:connection succeeded") {
		t.Fatalf("expected display order preserved: %q", got)
	}
}

func TestCredentialRequestReconnectsWithNextLine(t *testing.T) {
	session := &fakeSession{}
	out := &lockedBuffer{}
	c := New(session, nil, Config{Out: out, Credential: "stale"})
	c.printEvent(eventbus.Event{Type: eventbus.EventCredential, Reason: "bad token"})
	if !strings.Contains(out.String(), "console:"+credentialPrompt+"\n") {
		t.Fatalf("expected credential prompt, got %q", out.String())
	}
	if _, err := c.Handle(context.Background(), "  fresh-token "); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := session.connects(); len(got) != 1 || got[0] != "fresh-token" {
		t.Fatalf("unexpected connects: %v", got)
	}
	if _, err := c.Handle(context.Background(), "list"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := session.connects(); len(got) != 1 {
		t.Fatalf("expected the request to be answered once, connects %v", got)
	}
}

func TestSlashCommandCancelsCredentialRequest(t *testing.T) {
	session := &fakeSession{}
	c := New(session, nil, Config{Out: &lockedBuffer{}})
	c.printEvent(eventbus.Event{Type: eventbus.EventCredential})
	quit, err := c.Handle(context.Background(), "/quit")
	if err != nil || !quit {
		t.Fatalf("expected /quit to quit, got quit=%t err=%v", quit, err)
	}
	if got := session.connects(); len(got) != 0 {
		t.Fatalf("slash command taken as token: %v", got)
	}
}

func TestCredentialRequestBlankLineOpensPrompt(t *testing.T) {
	session := &fakeSession{}
	out := &lockedBuffer{}
	c := New(session, nil, Config{In: strings.NewReader("typed-token\n"), Out: out})
	c.printEvent(eventbus.Event{Type: eventbus.EventCredential})
	if _, err := c.Handle(context.Background(), ""); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := session.connects(); len(got) != 1 || got[0] != "typed-token" {
		t.Fatalf("unexpected connects: %v", got)
	}
	if !strings.Contains(out.String(), "token: ") {
		t.Fatalf("expected token prompt, got %q", out.String())
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	session := &fakeSession{}
	pr, pw := newBlockingReader()
	defer pw()
	c := New(session, nil, Config{In: pr})
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if session.disconnects() != 1 {
		t.Fatalf("expected disconnect on cancel")
	}
}

type fakeSession struct {
	mu       sync.Mutex
	state    schema.SessionState
	closed   bool
	creds    []schema.Credential
	commands []string
	discs    int
	lines    []schema.DisplayLine
	history  []string
}

func (s *fakeSession) Connect(_ context.Context, cred schema.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = append(s.creds, cred)
	return nil
}

func (s *fakeSession) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discs++
	return nil
}

func (s *fakeSession) SendCommand(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return schema.ErrSessionClosed
	}
	if s.state != schema.StateConnected {
		return &schema.RejectedError{State: s.state}
	}
	s.commands = append(s.commands, text)
	return nil
}

func (s *fakeSession) Status(context.Context) (core.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.Status{
		State:        s.state,
		Attempt:      "a1",
		Credential:   schema.Credential("abc").Fingerprint(),
		HoldsChannel: s.state.HoldsChannel(),
		Lines:        len(s.lines),
	}, nil
}

func (s *fakeSession) Transcript(_ context.Context, limit int) ([]schema.DisplayLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.lines) {
		limit = len(s.lines)
	}
	return append([]schema.DisplayLine(nil), s.lines[len(s.lines)-limit:]...), nil
}

func (s *fakeSession) CommandHistory(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...), nil
}

func (s *fakeSession) connects() []schema.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.Credential(nil), s.creds...)
}

func (s *fakeSession) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *fakeSession) disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discs
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type blockingReader struct {
	done chan struct{}
}

func newBlockingReader() (*blockingReader, func()) {
	r := &blockingReader{done: make(chan struct{})}
	return r, func() { close(r.done) }
}

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.done
	return 0, context.Canceled
}
