package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/omnibrowser/warden/internal/event"
	"github.com/omnibrowser/warden/internal/metrics"
)

// DefaultPrefix names relay events when the request does not set one.
const DefaultPrefix = "chat"

// ErrUpstreamNotResponding is returned when the stream ends (clean close,
// transport failure, or idle timeout) without a terminal marker.
var ErrUpstreamNotResponding = errors.New("upstream not responding")

// Request describes one relay session. Sessions are single-use: each Run
// call owns its decoder state and nothing is shared between concurrent runs.
type Request struct {
	// URL of the streaming endpoint.
	URL string

	// Subject is the original request subject (e.g. the prompt), carried
	// on the start event.
	Subject string

	// Payload is marshalled to JSON as the request body.
	Payload any

	// Prefix names the emitted events: <prefix>-start, <prefix>-token,
	// <prefix>-end. Empty means DefaultPrefix.
	Prefix string
}

// record is the closed streaming vocabulary. Token is a pointer so that a
// present-but-empty fragment is still relayed; all other fields are ignored.
type record struct {
	Token *string `json:"token"`
	Done  bool    `json:"done"`
}

// Relay issues a streaming HTTP request and translates its newline-delimited
// JSON body into a sequence of named events. It never retries; retries are
// the caller's concern, layered on this single-attempt primitive.
type Relay struct {
	client      *http.Client
	idleTimeout time.Duration
	mx          *metrics.Metrics
}

// New builds a relay. client may be nil (http.DefaultClient is used).
// idleTimeout bounds the wait for each chunk; zero disables the bound.
func New(client *http.Client, idleTimeout time.Duration, mx *metrics.Metrics) *Relay {
	if client == nil {
		client = http.DefaultClient
	}
	return &Relay{client: client, idleTimeout: idleTimeout, mx: mx}
}

// Run performs one relay session: it emits <prefix>-start, then one
// <prefix>-token per fragment in arrival order, then <prefix>-end on the
// terminal marker. Records are decoded incrementally as chunks arrive;
// blank, malformed, and non-UTF-8 lines are skipped. A stream that ends
// without a terminal marker returns ErrUpstreamNotResponding and emits no
// end event. Cancelling ctx abandons the request and returns ctx.Err().
func (r *Relay) Run(ctx context.Context, req Request, sink event.Sink) error {
	prefix := req.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	r.mx.RelaySession()
	sink.Emit(prefix+"-start", req.Subject)

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("encoding request payload: %w", err)
	}

	// Derived context so the idle timer can abandon a stalled stream.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var idle *time.Timer
	if r.idleTimeout > 0 {
		idle = time.AfterFunc(r.idleTimeout, cancel)
		defer idle.Stop()
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.mx.RelayFailure()
		return fmt.Errorf("%w: %v", ErrUpstreamNotResponding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.mx.RelayFailure()
		return fmt.Errorf("%w: upstream status %d", ErrUpstreamNotResponding, resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if idle != nil {
			idle.Reset(r.idleTimeout)
		}

		// A trailing line without newline is still a complete record:
		// the stream has closed behind it.
		if len(line) > 0 {
			if done := r.handleLine(line, prefix, sink); done {
				sink.Emit(prefix+"-end", nil)
				return nil
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.mx.RelayFailure()
			if err == io.EOF {
				// Clean close without a terminal marker.
				return ErrUpstreamNotResponding
			}
			return fmt.Errorf("%w: %v", ErrUpstreamNotResponding, err)
		}
	}
}

// handleLine decodes one line and emits a token event if it carries a
// fragment. Returns true when the line is a terminal marker. Undecodable
// lines are skipped at line granularity, never failing the session.
func (r *Relay) handleLine(line []byte, prefix string, sink event.Sink) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}
	if !utf8.Valid(line) {
		return false
	}

	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return false
	}

	if rec.Done {
		return true
	}
	if rec.Token != nil {
		r.mx.RelayToken()
		sink.Emit(prefix+"-token", *rec.Token)
	}
	return false
}
