package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/poiconsole/internal/channel"
	"pkt.systems/poiconsole/internal/history"
	"pkt.systems/poiconsole/internal/logx"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

// Messages the emulator sends, matching the manager's wording.
const (
	msgTokenRequired = "token required"
	msgBadToken      = "bad token"
	msgAuthRequired  = "auth frame required"
	msgBadFrame      = "malformed frame"
)

// FrameTypeError tags command-level failures on the channel.
const FrameTypeError = "error"

// Server emulates the manager's history endpoint and duplex channel.
type Server struct {
	cfg      Config
	hub      *Hub
	verifier TokenVerifier
	exec     CommandExecutor
	peers    *peerSet
	upgrader websocket.Upgrader
	log      pslog.Logger
}

// NewServer constructs an emulator. A nil hub gets a fresh one, a nil
// executor gets the demo command set and a nil verifier rejects every token.
func NewServer(cfg Config, hub *Hub, verifier TokenVerifier, exec CommandExecutor, logger pslog.Logger) *Server {
	cfg = cfg.withDefaults()
	log := logx.OrCtx(context.Background(), logger)
	if hub == nil {
		hub = NewHub(cfg.HistoryLines, log)
	}
	if verifier == nil {
		verifier = denyAll{}
	}
	if exec == nil {
		exec = NewDemoExecutor()
	}
	return &Server{
		cfg:      cfg,
		hub:      hub,
		verifier: verifier,
		exec:     exec,
		peers:    newPeerSet(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Hub returns the server's log hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Peers returns the number of authenticated channel connections.
func (s *Server) Peers() int {
	return s.peers.count()
}

// Close ends every open channel connection.
func (s *Server) Close() {
	if n := s.peers.closeAll(); n > 0 {
		s.log.Info("channel peers closed", "count", n)
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(history.DefaultPath, s.handleHistory)
	mux.HandleFunc(channel.DefaultPath, s.handleChannel)
	return withRequestLogging(mux)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	token := schema.Credential(strings.TrimSpace(r.URL.Query().Get("token")))
	log := logx.WithCredential(logx.Ctx(r.Context()), token)
	if !s.verifier.Verify(token) {
		log.Info("history rejected", "reason", "token")
		writeJSON(w, http.StatusUnauthorized, schema.HistoryResponse{
			Code: schema.CodeUnauthorized,
			Type: schema.ResponseTypeLogAll,
			Msg:  msgTokenRequired,
		})
		return
	}
	entries := s.hub.History()
	log.Debug("history served", "entries", len(entries))
	writeJSON(w, http.StatusOK, schema.HistoryResponse{
		Code:    schema.CodeOK,
		Type:    schema.ResponseTypeLogAll,
		Msg:     schema.AuthOK,
		Content: entries,
	})
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("channel upgrade failed", "err", err)
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)
	p := newPeer(ws, log)

	cred, ok := s.authenticate(p)
	if !ok {
		_ = ws.Close()
		return
	}
	log = logx.WithCredential(p.log, cred)
	p.log = log

	// Subscribe before acknowledging so no broadcast after the ack is missed.
	events, unsubscribe := s.hub.Subscribe()
	count := s.peers.add(p)
	defer func() {
		unsubscribe()
		remaining := s.peers.remove(p)
		log.Info("channel closed", "peers", remaining)
	}()
	if err := p.writeNow(authFrame(schema.CodeOK, schema.AuthOK), s.cfg.WriteTimeout); err != nil {
		log.Warn("channel auth reply failed", "err", err)
		_ = ws.Close()
		return
	}
	_ = ws.SetReadDeadline(time.Time{})
	log.Info("channel authenticated", "peers", count)
	go p.writePump(s.cfg.WriteTimeout)
	go p.forward(events)
	stop := context.AfterFunc(r.Context(), p.close)
	defer stop()

	s.readCommands(r.Context(), p, cred)
	p.close()
}

// authenticate reads the first frame and answers failures with an auth frame.
func (s *Server) authenticate(p *peer) (schema.Credential, bool) {
	_ = p.conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
	_, payload, err := p.conn.ReadMessage()
	if err != nil {
		p.log.Debug("channel closed before auth", "err", err)
		return "", false
	}
	frame, err := schema.DecodeOutboundFrame(payload)
	if err != nil {
		p.log.Warn("channel auth frame invalid", "err", err)
		_ = p.writeNow(authFrame(schema.CodeBadRequest, msgBadFrame), s.cfg.WriteTimeout)
		return "", false
	}
	auth, ok := frame.(schema.AuthFrame)
	if !ok {
		p.log.Warn("channel auth frame missing")
		_ = p.writeNow(authFrame(schema.CodeBadRequest, msgAuthRequired), s.cfg.WriteTimeout)
		return "", false
	}
	if !s.verifier.Verify(auth.Credential) {
		logx.WithCredential(p.log, auth.Credential).Info("channel auth rejected")
		_ = p.writeNow(authFrame(schema.CodeUnauthorized, msgBadToken), s.cfg.WriteTimeout)
		return "", false
	}
	return auth.Credential, true
}

func (s *Server) readCommands(ctx context.Context, p *peer, cred schema.Credential) {
	for {
		_, payload, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Debug("channel read ended", "err", err)
			}
			return
		}
		frame, err := schema.DecodeOutboundFrame(payload)
		if err != nil {
			p.log.Warn("channel frame invalid", "err", err)
			p.enqueue(errorFrame(schema.CodeBadRequest, msgBadFrame))
			continue
		}
		cmd, ok := frame.(schema.CommandFrame)
		if !ok {
			p.log.Debug("channel auth frame repeated")
			continue
		}
		if cmd.Credential != cred && !s.verifier.Verify(cmd.Credential) {
			p.log.Warn("channel command rejected", "reason", "token")
			p.enqueue(errorFrame(schema.CodeUnauthorized, msgBadToken))
			continue
		}
		s.execute(ctx, p, cmd.Text)
	}
}

func (s *Server) execute(ctx context.Context, p *peer, text string) {
	p.log.Info("channel command", "cmd", text)
	p.enqueue(schema.WireFrame{
		Code:   schema.CodeOK,
		Type:   schema.FrameTypeCommandEcho,
		Msg:    text,
		Status: true,
	})
	lines, err := s.exec.Execute(ctx, text)
	if err != nil {
		p.log.Warn("channel command failed", "err", err)
		p.enqueue(errorFrame(schema.StatusCode(http.StatusInternalServerError), err.Error()))
		return
	}
	for _, line := range lines {
		s.hub.Publish(schema.HistoryEntry{Category: schema.FrameTypeBroadcast, Text: line})
	}
}

func authFrame(code schema.StatusCode, msg string) schema.WireFrame {
	return schema.WireFrame{
		Code:   code,
		Type:   schema.FrameTypeAuth,
		Msg:    msg,
		Status: code == schema.CodeOK,
	}
}

func errorFrame(code schema.StatusCode, msg string) schema.WireFrame {
	return schema.WireFrame{Code: code, Type: FrameTypeError, Msg: msg}
}

type denyAll struct{}

func (denyAll) Verify(schema.Credential) bool { return false }

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
