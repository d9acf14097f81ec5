package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"pkt.systems/pslog"
)

// Listen binds the emulator address. Port 0 picks a free port; the bound
// address is available from the listener.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve runs handler on ln until ctx is done, then gives in-flight requests
// shutdownTimeout to finish. Upgraded channels are not tracked by the HTTP
// server; Server.Close ends those.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	log := pslog.Ctx(ctx).With("addr", ln.Addr().String())
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          pslog.LogLoggerWithLevel(log, pslog.ErrorLevel),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "err", err)
		_ = srv.Close()
	}
	<-served
	return nil
}
