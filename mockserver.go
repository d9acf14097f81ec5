package poiconsole

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/poiconsole/httpapi"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

// Server is a long-running service with an explicit lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// MockServerConfig configures the manager emulator.
type MockServerConfig struct {
	HTTP httpapi.Config
	// Seed is published to the history before the server starts.
	Seed []schema.HistoryEntry
}

// MockServerDeps captures the emulator's collaborators.
type MockServerDeps struct {
	Verifier httpapi.TokenVerifier
	Executor httpapi.CommandExecutor
	Logger   pslog.Logger
}

// NewMockServer constructs a manager emulator.
func NewMockServer(cfg MockServerConfig, deps MockServerDeps) (*MockServer, error) {
	if deps.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if cfg.HTTP.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	hub := httpapi.NewHub(cfg.HTTP.HistoryLines, deps.Logger)
	for _, entry := range cfg.Seed {
		hub.Publish(entry)
	}
	return &MockServer{
		cfg:     cfg,
		httpSrv: httpapi.NewServer(cfg.HTTP, hub, deps.Verifier, deps.Executor, deps.Logger),
	}, nil
}

// MockServer runs httpapi.Server until stopped.
type MockServer struct {
	cfg     MockServerConfig
	httpSrv *httpapi.Server
	logger  pslog.Logger

	mu      sync.Mutex
	addr    string
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	done    chan struct{}
	started bool
}

var _ Server = (*MockServer)(nil)

// Hub exposes the emulator's log hub.
func (s *MockServer) Hub() *httpapi.Hub {
	return s.httpSrv.Hub()
}

// Addr returns the bound listen address once started, else the configured one.
func (s *MockServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != "" {
		return s.addr
	}
	return s.cfg.HTTP.Addr
}

// Start binds the listen address and begins serving in the background.
func (s *MockServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("mock server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	ln, err := httpapi.Listen(s.cfg.HTTP.Addr)
	if err != nil {
		s.mu.Unlock()
		pslog.Ctx(ctx).Error("mock server listen failed", "err", err)
		return err
	}
	s.addr = ln.Addr().String()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.done = make(chan struct{})
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info("mock server start", "addr", ln.Addr().String(), "history", len(s.cfg.Seed))
	go func() {
		defer close(s.done)
		err := httpapi.Serve(s.ctx, ln, s.httpSrv.Handler())
		s.httpSrv.Close()
		if err != nil {
			log.Error("mock server failed", "err", err)
			s.errCh <- err
		}
	}()
	return nil
}

// Wait blocks until the server stops, returning its failure if any.
func (s *MockServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		pslog.Ctx(ctx).Error("mock server stopped", "err", err)
		_ = s.Stop(context.Background())
		return err
	}
}

// Stop cancels the server and waits for the listener to shut down.
func (s *MockServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	done := s.done
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("mock server stop requested")
	cancel()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		log.Warn("mock server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("mock server stopped")
		return nil
	}
}
