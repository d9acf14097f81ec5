package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/term"

	"pkt.systems/poiconsole/core"
	"pkt.systems/poiconsole/internal/eventbus"
	"pkt.systems/poiconsole/internal/logx"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

const defaultLogLines = 50

const credentialPrompt = "credential required, enter a token (blank line to type it hidden)"

// Banner is printed before every connect.
const Banner = "Connecting to PoiManager..."

// Session is the part of core.Session the console drives.
type Session interface {
	Connect(ctx context.Context, cred schema.Credential) error
	Disconnect(ctx context.Context) error
	SendCommand(ctx context.Context, text string) error
	Status(ctx context.Context) (core.Status, error)
	Transcript(ctx context.Context, limit int) ([]schema.DisplayLine, error)
	CommandHistory(ctx context.Context) ([]string, error)
}

// Config configures a Console.
type Config struct {
	In  io.Reader
	Out io.Writer
	// Credential is used for the first connect. Empty sends an
	// unauthenticated request and lets the manager ask for a token.
	Credential schema.Credential
	// LogLines is the default count for /log.
	LogLines int
	Logger   pslog.Logger
}

// Console is a line-oriented collaborator for a Session: it writes display
// lines as "category:text" and turns input lines into commands.
type Console struct {
	session Session
	events  <-chan eventbus.Event
	cfg     Config
	log     pslog.Logger

	outMu sync.Mutex
	out   io.Writer
	lines *lineReader

	termFD       int
	readPassword func(fd int) ([]byte, error)

	cred schema.Credential
	// credRequested is set when the session asks for a credential; the next
	// input line answers it.
	credRequested atomic.Bool
}

// New constructs a Console over session. events is usually a subscription
// on the session's event bus.
func New(session Session, events <-chan eventbus.Event, cfg Config) *Console {
	if cfg.LogLines <= 0 {
		cfg.LogLines = defaultLogLines
	}
	in := cfg.In
	if in == nil {
		in = strings.NewReader("")
	}
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	c := &Console{
		session:      session,
		events:       events,
		cfg:          cfg,
		log:          logx.OrCtx(context.Background(), cfg.Logger),
		out:          out,
		lines:        newLineReader(in),
		termFD:       -1,
		readPassword: term.ReadPassword,
		cred:         cfg.Credential,
	}
	if fd, ok := terminalFD(in); ok {
		c.termFD = fd
	}
	return c
}

// Run connects with the configured credential and serves input until EOF,
// /quit or ctx is done. The session is disconnected on return.
func (c *Console) Run(ctx context.Context) error {
	stop := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		c.printEvents(stop)
	}()
	defer func() {
		if err := c.session.Disconnect(context.Background()); err != nil && !errors.Is(err, schema.ErrSessionClosed) {
			c.log.Debug("console disconnect failed", "err", err)
		}
		close(stop)
		<-printed
	}()

	if err := c.connect(ctx, c.cred); err != nil {
		return err
	}
	for {
		line, err := c.lines.next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		quit, err := c.Handle(ctx, line)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if quit {
			return nil
		}
	}
}

// Handle processes one input line. It reports whether the console should
// exit. Only session shutdown is returned as an error; everything else is
// reported on the output.
func (c *Console) Handle(ctx context.Context, input string) (bool, error) {
	cmd, ok := Parse(input)
	if c.credRequested.CompareAndSwap(true, false) && !ok {
		return false, c.answerCredential(ctx, input)
	}
	if strings.TrimSpace(input) == "" {
		return false, nil
	}
	if !ok {
		return false, c.send(ctx, input)
	}
	log := c.log.With("command", cmd.Name, "args", len(cmd.Args))
	log.Debug("console slash command")
	switch cmd.Name {
	case "connect":
		cred := schema.Credential(cmd.Arg(0))
		if cred == "" {
			read, err := c.readCredential(ctx)
			if err != nil {
				return false, c.fatal(err)
			}
			if read != "" {
				cred = read
			} else {
				cred = c.cred
			}
		}
		return false, c.connect(ctx, cred)
	case "disconnect":
		return false, c.fatal(c.session.Disconnect(ctx))
	case "status":
		return false, c.status(ctx)
	case "log":
		return false, c.transcript(ctx, cmd)
	case "history":
		return false, c.history(ctx)
	case "help":
		c.help()
		return false, nil
	case "quit", "exit":
		return true, nil
	default:
		log.Warn("console slash command rejected", "reason", "unknown")
		c.notice(fmt.Sprintf("unknown command /%s (try /help)", cmd.Name))
		return false, nil
	}
}

func (c *Console) connect(ctx context.Context, cred schema.Credential) error {
	c.cred = cred
	c.writeLine(Banner)
	return c.fatal(c.session.Connect(ctx, cred))
}

// answerCredential reconnects with input as the token. A blank line opens
// the token prompt, which does not echo on a terminal.
func (c *Console) answerCredential(ctx context.Context, input string) error {
	cred := schema.Credential(strings.TrimSpace(input))
	if cred == "" {
		read, err := c.readCredential(ctx)
		if err != nil {
			return c.fatal(err)
		}
		cred = read
	}
	if cred == "" {
		c.notice("no token entered, type /connect to try again")
		return nil
	}
	return c.connect(ctx, cred)
}

func (c *Console) send(ctx context.Context, text string) error {
	err := c.session.SendCommand(ctx, text)
	var rejected *schema.RejectedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rejected):
		c.notice(fmt.Sprintf("command rejected: %s", rejected.State))
		return nil
	case errors.Is(err, schema.ErrSessionClosed):
		return err
	default:
		c.notice(fmt.Sprintf("command failed: %v", err))
		return nil
	}
}

func (c *Console) status(ctx context.Context) error {
	st, err := c.session.Status(ctx)
	if err != nil {
		return c.fatal(err)
	}
	attempt := string(st.Attempt)
	if attempt == "" {
		attempt = "-"
	}
	c.notice(fmt.Sprintf("state=%s attempt=%s credential=%s channel=%t lines=%d",
		st.State, attempt, st.Credential, st.HoldsChannel, st.Lines))
	return nil
}

func (c *Console) transcript(ctx context.Context, cmd Command) error {
	limit := c.cfg.LogLines
	if arg := cmd.Arg(0); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			c.notice("usage: /log [n]")
			return nil
		}
		limit = n
	}
	lines, err := c.session.Transcript(ctx, limit)
	if err != nil {
		return c.fatal(err)
	}
	for _, line := range lines {
		c.writeLine(line.String())
	}
	return nil
}

func (c *Console) history(ctx context.Context) error {
	entries, err := c.session.CommandHistory(ctx)
	if err != nil {
		return c.fatal(err)
	}
	if len(entries) == 0 {
		c.notice("no commands sent")
		return nil
	}
	for i, entry := range entries {
		c.notice(fmt.Sprintf("%d %s", i+1, entry))
	}
	return nil
}

func (c *Console) help() {
	for _, line := range []string{
		"/connect [token]  connect, prompting for a token when none is given",
		"/disconnect       close the channel",
		"/status           show the session state",
		"/log [n]          reprint the last n lines",
		"/history          list commands sent this session",
		"/quit             leave the console",
	} {
		c.notice(line)
	}
}

func (c *Console) printEvents(stop <-chan struct{}) {
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			c.printEvent(ev)
		case <-stop:
			for {
				select {
				case ev, ok := <-c.events:
					if !ok {
						return
					}
					c.printEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func (c *Console) printEvent(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.EventDisplay:
		c.writeLine(ev.Line.String())
	case eventbus.EventCredential:
		c.credRequested.Store(true)
		c.notice(credentialPrompt)
	case eventbus.EventState:
		c.log.Trace("console state", "from", ev.Change.From.String(), "to", ev.Change.To.String())
	}
}

// fatal passes through errors that end the console and reports the rest.
func (c *Console) fatal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, schema.ErrSessionClosed) || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return err
	}
	c.notice(err.Error())
	return nil
}

func (c *Console) notice(text string) {
	c.writeLine(schema.DisplayLine{Category: core.StatusCategory, Text: text}.String())
}

func (c *Console) writeLine(text string) {
	c.write(text + "\n")
}

func (c *Console) write(text string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = io.WriteString(c.out, text)
}
