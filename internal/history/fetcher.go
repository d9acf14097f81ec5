package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/poiconsole/internal/logx"
	"pkt.systems/poiconsole/internal/version"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

// DefaultPath is the manager's history endpoint.
const DefaultPath = "/api/log/all"

const maxResponseBytes = 8 << 20

// Config configures the fetcher.
type Config struct {
	BaseURL string
	Path    string
	Timeout time.Duration
}

// Fetcher performs the one-shot history replay request.
type Fetcher struct {
	endpoint *url.URL
	client   *http.Client
	log      pslog.Logger
}

// New constructs a Fetcher. client may be nil.
func New(cfg Config, client *http.Client, logger pslog.Logger) (*Fetcher, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("history base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse history base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("history base url must be http or https, got %q", parsed.Scheme)
	}
	path := cfg.Path
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	endpoint := parsed.JoinPath(path)
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{endpoint: endpoint, client: client, log: logger}, nil
}

// Endpoint returns the resolved request URL without the token.
func (f *Fetcher) Endpoint() string {
	return f.endpoint.String()
}

// Fetch retrieves the buffered history for cred in server order.
func (f *Fetcher) Fetch(ctx context.Context, cred schema.Credential) ([]schema.HistoryEntry, error) {
	log := logx.WithCredential(logx.OrCtx(ctx, f.log), cred)
	target := *f.endpoint
	query := target.Query()
	query.Set("token", string(cred))
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &FetchError{Kind: schema.ErrTransport, Err: f.redact(err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		err = f.redact(err)
		log.Warn("history request failed", "err", err)
		return nil, &FetchError{Kind: schema.ErrTransport, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		err = f.redact(err)
		log.Warn("history read failed", "status", resp.StatusCode, "err", err)
		return nil, &FetchError{Kind: schema.ErrTransport, Status: resp.StatusCode, Err: err}
	}
	var envelope schema.HistoryResponse
	decodeErr := json.Unmarshal(body, &envelope)

	if resp.StatusCode == http.StatusUnauthorized || (decodeErr == nil && envelope.Code == schema.CodeUnauthorized) {
		msg := envelope.Msg
		if decodeErr != nil || strings.TrimSpace(msg) == "" {
			msg = "unauthorized"
		}
		log.Info("history unauthorized", "status", resp.StatusCode)
		return nil, &FetchError{Kind: schema.ErrUnauthorized, Status: resp.StatusCode, Message: msg}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := envelope.Msg
		if decodeErr != nil {
			msg = ""
		}
		log.Warn("history request rejected", "status", resp.StatusCode, "msg", msg)
		return nil, &FetchError{Kind: schema.ErrTransport, Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		log.Warn("history decode failed", "err", decodeErr)
		return nil, &FetchError{Kind: schema.ErrTransport, Status: resp.StatusCode, Err: decodeErr}
	}
	if envelope.Code != 0 && envelope.Code != schema.CodeOK {
		log.Warn("history request rejected", "code", int(envelope.Code), "msg", envelope.Msg)
		return nil, &FetchError{Kind: schema.ErrTransport, Status: int(envelope.Code), Message: envelope.Msg}
	}
	entries := append([]schema.HistoryEntry(nil), envelope.Content...)
	log.Debug("history fetched", "entries", len(entries), "duration_ms", time.Since(start).Milliseconds())
	return entries, nil
}

// FetchError is a classified history failure. Kind is schema.ErrUnauthorized
// or schema.ErrTransport.
type FetchError struct {
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "history fetch failed"
	}
	var b strings.Builder
	b.WriteString("history fetch failed")
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	switch {
	case e.Message != "":
		b.WriteString(": ")
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Kind != nil:
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	return b.String()
}

// Unwrap exposes both the classification and the underlying cause.
func (e *FetchError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// ServerMessage returns the human-readable reason to show the operator.
func (e *FetchError) ServerMessage() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error()
}

// redact swaps the request URL in err for the endpoint so the token query
// never reaches logs or display lines.
func (f *Fetcher) redact(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	clean := *uerr
	clean.URL = f.endpoint.String()
	return &clean
}
