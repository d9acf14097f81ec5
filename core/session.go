package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/poiconsole/internal/channel"
	"pkt.systems/poiconsole/internal/logx"
	"pkt.systems/poiconsole/internal/router"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

// StatusCategory tags the lines a Session writes about its own lifecycle.
const StatusCategory = "console"

const (
	msgConnectionSucceeded = "connection succeeded"
	msgConnectionFailed    = "connection failed"
	msgConnectionLost      = "connection lost"
	msgConnectionCanceled  = "connection cancelled"
	msgDisconnected        = "disconnected"
	msgAuthFailed          = "authentication failed"
)

const defaultQueueDepth = 64

// SessionConfig tunes a Session.
type SessionConfig struct {
	// TranscriptLines bounds the retained display lines.
	TranscriptLines int
	// CommandHistory bounds the retained sent commands.
	CommandHistory int
	// QueueDepth is the event loop's queue size.
	QueueDepth int
	// SeedHistory preloads the command history, oldest first.
	SeedHistory []string
}

// Status is a point-in-time view of a Session.
type Status struct {
	State        schema.SessionState
	Attempt      schema.AttemptID
	Credential   string
	HoldsChannel bool
	Lines        int
}

// Session is one operator session: it drives history replay, the channel
// handshake and command dispatch. All state is owned by a single loop
// goroutine; public methods post work to it.
type Session struct {
	fetcher   HistoryFetcher
	connector ChannelConnector
	sink      Sink
	router    *router.Router
	log       pslog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue     chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// loop-owned
	state       schema.SessionState
	cred        schema.Credential
	attempt     schema.AttemptID
	fetchCancel context.CancelFunc
	link        *link
	transcript  *transcript
	history     *commandRing
}

// link is the channel handle of one attempt. It exists from the moment the
// dial starts until the attempt leaves the channel-holding states.
type link struct {
	attempt schema.AttemptID
	cancel  context.CancelFunc
	conn    channel.Channel
}

// NewSession constructs a Session and starts its loop. Close releases it.
func NewSession(cfg SessionConfig, deps SessionDeps) (*Session, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("history fetcher is required")
	}
	if deps.Connector == nil {
		return nil, errors.New("channel connector is required")
	}
	if deps.Sink == nil {
		deps.Sink = noopSink{}
	}
	log := logx.OrCtx(context.Background(), deps.Logger)
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	ctx, cancel := context.WithCancel(pslog.ContextWithLogger(context.Background(), log))
	s := &Session{
		fetcher:    deps.Fetcher,
		connector:  deps.Connector,
		sink:       deps.Sink,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan func(), cfg.QueueDepth),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		state:      schema.StateDisconnected,
		transcript: newTranscript(cfg.TranscriptLines),
		history:    newCommandRing(cfg.CommandHistory),
	}
	s.history.seed(cfg.SeedHistory)
	s.router = router.New(s.emit, log)
	go s.run()
	return s, nil
}

// Connect starts a new attempt with cred. Any attempt in flight, and any open
// channel, is torn down first. Connect returns once the session entered
// FetchingHistory; progress is reported through the sink.
func (s *Session) Connect(ctx context.Context, cred schema.Credential) error {
	return s.do(ctx, func() { s.startAttempt(cred) })
}

// Disconnect closes the channel or cancels the attempt in flight. It is a
// no-op when nothing is connected.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.do(ctx, s.disconnect)
}

// SendCommand writes a command frame. It returns a *schema.RejectedError when
// the session is not connected. No acknowledgement is awaited.
func (s *Session) SendCommand(ctx context.Context, text string) error {
	var err error
	if doErr := s.do(ctx, func() { err = s.sendCommand(text) }); doErr != nil {
		return doErr
	}
	return err
}

// Status reports the current state.
func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() {
		st = Status{
			State:        s.state,
			Attempt:      s.attempt,
			Credential:   s.cred.Fingerprint(),
			HoldsChannel: s.link != nil,
			Lines:        s.transcript.Total(),
		}
	})
	return st, err
}

// Transcript returns up to limit of the most recent display lines.
func (s *Session) Transcript(ctx context.Context, limit int) ([]schema.DisplayLine, error) {
	var out []schema.DisplayLine
	err := s.do(ctx, func() { out = s.transcript.Tail(limit) })
	return out, err
}

// CommandHistory returns the commands sent in this session, oldest first.
func (s *Session) CommandHistory(ctx context.Context) ([]string, error) {
	var out []string
	err := s.do(ctx, func() { out = s.history.list() })
	return out, err
}

// Close tears down any attempt and stops the loop. It is safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.stopped
	return nil
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.queue:
			fn()
		case <-s.done:
			s.shutdown()
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ran := make(chan struct{})
	select {
	case s.queue <- func() { fn(); close(ran) }:
	case <-s.done:
		return schema.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-s.stopped:
		select {
		case <-ran:
			return nil
		default:
			return schema.ErrSessionClosed
		}
	}
}

// post queues fn without waiting for it to run. It reports false once the
// session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.queue <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) shutdown() {
	s.abandon()
	if s.state != schema.StateDisconnected && s.state != schema.StateFailed {
		s.setState(schema.StateDisconnected)
	}
	s.cancel()
	s.log.Debug("session closed")
}

func (s *Session) startAttempt(cred schema.Credential) {
	if s.state != schema.StateDisconnected && s.state != schema.StateFailed {
		s.log.Info("connect supersedes attempt", "attempt", s.attempt, "state", s.state.String())
	}
	s.abandon()
	attempt := newAttemptID()
	s.cred = cred
	s.attempt = attempt
	log := logx.WithCredential(logx.WithAttempt(s.ctx, s.log, attempt), cred)
	fetchCtx, cancel := context.WithCancel(logx.ContextWithAttemptLogger(s.ctx, log, attempt))
	s.fetchCancel = cancel
	s.setState(schema.StateFetchingHistory)
	log.Info("history fetch start")
	go func() {
		entries, err := s.fetcher.Fetch(fetchCtx, cred)
		s.post(func() { s.onHistory(attempt, entries, err) })
	}()
}

func (s *Session) onHistory(attempt schema.AttemptID, entries []schema.HistoryEntry, err error) {
	if attempt != s.attempt || s.state != schema.StateFetchingHistory {
		s.log.Debug("stale history result dropped", "attempt", attempt)
		return
	}
	s.stopFetch()
	log := logx.WithAttempt(s.ctx, s.log, attempt)
	if err != nil {
		if errors.Is(err, schema.ErrUnauthorized) {
			reason := serverMessage(err, schema.ErrUnauthorized.Error())
			log.Warn("history fetch unauthorized", "err", err)
			s.emitStatus(reason)
			s.setState(schema.StateDisconnected)
			s.sink.OnCredentialRequired(reason)
			return
		}
		log.Warn("history fetch failed", "err", err)
		s.emitStatus(err.Error())
		s.setState(schema.StateFailed)
		return
	}
	for _, entry := range entries {
		s.emit(schema.DisplayLine{Category: entry.Category, Text: entry.Text})
	}
	log.Info("history replayed", "entries", len(entries))

	dialCtx, cancel := context.WithCancel(logx.ContextWithAttemptLogger(s.ctx, log, attempt))
	s.link = &link{attempt: attempt, cancel: cancel}
	s.setState(schema.StateConnecting)
	handle := func(ev channel.Event) bool {
		ev.Attempt = attempt
		return s.post(func() { s.onChannel(ev) })
	}
	go s.connector.Dial(dialCtx, attempt, handle)
}

func (s *Session) onChannel(ev channel.Event) {
	log := logx.WithAttempt(s.ctx, s.log, ev.Attempt)
	l := s.link
	switch ev.Kind {
	case channel.EventOpened:
		if l == nil || l.attempt != ev.Attempt || l.conn != nil || s.state != schema.StateConnecting {
			log.Debug("stale channel closed")
			if ev.Conn != nil {
				_ = ev.Conn.Close()
			}
			return
		}
		l.conn = ev.Conn
		s.setState(schema.StateAuthenticating)
		if err := ev.Conn.Authenticate(s.cred); err != nil {
			log.Warn("auth frame write failed", "err", err)
			s.emitStatus(msgConnectionFailed)
			s.dropLink()
			s.setState(schema.StateDisconnected)
		}
	case channel.EventFrame:
		if !l.owns(ev) {
			log.Trace("stale frame dropped")
			return
		}
		s.onFrame(log, ev.Frame)
	case channel.EventClosed:
		if l == nil || l.attempt != ev.Attempt || ev.Conn != l.conn {
			log.Trace("stale close ignored")
			return
		}
		msg := msgConnectionFailed
		if s.state == schema.StateConnected {
			msg = msgConnectionLost
		}
		log.Info("channel ended", "reason", ev.Reason, "state", s.state.String())
		s.emitStatus(msg)
		s.dropLink()
		s.setState(schema.StateDisconnected)
	}
}

func (s *Session) onFrame(log pslog.Logger, frame schema.InboundFrame) {
	switch s.state {
	case schema.StateAuthenticating:
		result, ok := frame.(schema.AuthResult)
		if !ok {
			log.Warn("frame before auth result dropped", "err", schema.ErrProtocolViolation, "frame", fmt.Sprintf("%T", frame))
			return
		}
		if result.OK {
			log.Info("channel authenticated")
			s.emitStatus(msgConnectionSucceeded)
			s.setState(schema.StateConnected)
			return
		}
		reason := result.Message
		if reason == "" {
			reason = msgAuthFailed
		}
		log.Warn("channel auth rejected", "reason", reason)
		s.emitStatus(reason)
		s.dropLink()
		s.setState(schema.StateDisconnected)
		s.sink.OnCredentialRequired(reason)
	case schema.StateConnected:
		s.router.Route(frame)
	default:
		log.Debug("frame dropped", "state", s.state.String())
	}
}

func (s *Session) disconnect() {
	switch s.state {
	case schema.StateConnected:
		s.dropLink()
		s.emitStatus(msgDisconnected)
		s.setState(schema.StateDisconnected)
	case schema.StateFetchingHistory, schema.StateConnecting, schema.StateAuthenticating:
		s.abandon()
		s.emitStatus(msgConnectionCanceled)
		s.setState(schema.StateDisconnected)
	default:
		s.log.Debug("disconnect ignored", "state", s.state.String())
	}
}

func (s *Session) sendCommand(text string) error {
	if s.state != schema.StateConnected || s.link == nil || s.link.conn == nil {
		s.log.Debug("command rejected", "state", s.state.String())
		return &schema.RejectedError{State: s.state}
	}
	s.history.record(text)
	if err := s.link.conn.Send(schema.CommandFrame{Credential: s.cred, Text: text}); err != nil {
		s.log.Warn("command write failed", "err", err)
		return err
	}
	s.log.Trace("command sent", "bytes", len(text))
	return nil
}

// abandon cancels the pending fetch and closes the link without reporting.
func (s *Session) abandon() {
	s.stopFetch()
	s.dropLink()
}

func (s *Session) stopFetch() {
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
}

func (s *Session) dropLink() {
	l := s.link
	if l == nil {
		return
	}
	s.link = nil
	if l.cancel != nil {
		l.cancel()
	}
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			s.log.Debug("channel close failed", "err", err)
		}
	}
}

func (s *Session) setState(to schema.SessionState) {
	change := schema.StateChange{Attempt: s.attempt, From: s.state, To: to}
	s.state = to
	logx.WithState(s.log, to).Debug("session state", "from", change.From.String(), "attempt", s.attempt)
	if (s.link != nil) != to.HoldsChannel() {
		s.log.Error("channel handle invariant violated", "state", to.String(), "holds_channel", s.link != nil)
	}
	s.sink.OnStateChange(change)
}

func (s *Session) emitStatus(text string) {
	s.emit(schema.DisplayLine{Category: StatusCategory, Text: text})
}

func (s *Session) emit(line schema.DisplayLine) {
	s.transcript.Append(line)
	s.sink.OnDisplay(line)
}

func (l *link) owns(ev channel.Event) bool {
	return l != nil && l.conn != nil && l.attempt == ev.Attempt && ev.Conn == l.conn
}

func serverMessage(err error, fallback string) string {
	var msg interface{ ServerMessage() string }
	if errors.As(err, &msg) {
		if text := msg.ServerMessage(); text != "" {
			return text
		}
	}
	return fallback
}
