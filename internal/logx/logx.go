package logx

import (
	"context"

	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	attemptKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// OrCtx returns log when set, otherwise the logger bound to ctx.
func OrCtx(ctx context.Context, log pslog.Logger) pslog.Logger {
	if log != nil {
		return log
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return pslog.Ctx(ctx)
}

// WithAttempt annotates the logger with the connect attempt id if present.
func WithAttempt(ctx context.Context, log pslog.Logger, attempt schema.AttemptID) pslog.Logger {
	log = OrCtx(ctx, log)
	if attempt == "" {
		return log
	}
	if ctx != nil {
		if current, ok := ctx.Value(attemptKey).(schema.AttemptID); ok && current == attempt {
			return log
		}
	}
	return log.With("attempt", attempt)
}

// WithCredential annotates the logger with a credential fingerprint. The raw
// token never reaches the log.
func WithCredential(log pslog.Logger, cred schema.Credential) pslog.Logger {
	if log == nil {
		return nil
	}
	return log.With("credential", cred.Fingerprint())
}

// WithState annotates the logger with the session state.
func WithState(log pslog.Logger, state schema.SessionState) pslog.Logger {
	if log == nil {
		return nil
	}
	return log.With("state", state.String())
}

// ContextWithAttempt stores the attempt marker on the context for log de-duplication.
func ContextWithAttempt(ctx context.Context, attempt schema.AttemptID) context.Context {
	if ctx == nil || attempt == "" {
		return ctx
	}
	return context.WithValue(ctx, attemptKey, attempt)
}

// ContextWithAttemptLogger attaches the logger and attempt marker to the context.
func ContextWithAttemptLogger(ctx context.Context, log pslog.Logger, attempt schema.AttemptID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithAttempt(ctx, attempt)
}
