package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

func TestWithCredentialMasksToken(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	log := WithCredential(logger, "super-secret")
	log.Info("hello")

	entry := capture.firstEntry(t)
	value, ok := entry["credential"].(string)
	if !ok || value == "" {
		t.Fatalf("expected credential field, got %+v", entry)
	}
	if strings.Contains(capture.buf.String(), "super-secret") {
		t.Fatalf("raw credential leaked into log: %s", capture.buf.String())
	}
}

func TestWithAttemptAddsField(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	log := WithAttempt(ctx, nil, "a1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["attempt"] != "a1" {
		t.Fatalf("expected attempt field, got %+v", entry)
	}
}

func TestWithAttemptSkipsDuplicateMarker(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture).With("attempt", "a1")
	ctx := ContextWithAttemptLogger(context.Background(), logger, "a1")
	log := WithAttempt(ctx, nil, "a1")
	log.Info("hello")

	if n := strings.Count(capture.buf.String(), `"attempt"`); n != 1 {
		t.Fatalf("expected a single attempt field, got %d in %s", n, capture.buf.String())
	}
}

func TestWithStateAddsField(t *testing.T) {
	capture := &logCapture{}
	WithState(newCaptureLogger(capture), 4).Info("hello")
	entry := capture.firstEntry(t)
	if entry["state"] != "connected" {
		t.Fatalf("expected state field, got %+v", entry)
	}
}

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
