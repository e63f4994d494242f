// Package dispatcher implements the request dispatcher (C9): a single
// upstream attempt over an acquired credential, including adaptive socket
// timeout, streaming response copy and outcome classification.
//
// Grounded on the teacher's adaptive-dial and streaming-copy-loop proxy
// service, and its connection-error classification, now expressed via
// domain.ClassifyNetError.
package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/core/ports"
	litepool "github.com/driftwell/relay/pkg/pool"
)

// bodyBufferPool recycles the scratch buffers used to drain an upstream
// error or non-streaming response body, so a busy proxy isn't churning a
// fresh allocation per request on this hot path.
var bodyBufferPool = litepool.NewLitePool(func() *bytes.Buffer { return new(bytes.Buffer) })

// Dispatcher issues one HTTP attempt against a provider's target URL using
// an http.Client whose timeout is set per-attempt from the adaptive
// timeout estimate the caller (the retry loop) maintains.
type Dispatcher struct {
	client *http.Client
}

func New() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			// Timeout is overridden per-request via context deadline; the
			// client-level value is a generous backstop only.
			Timeout: 5 * time.Minute,
		},
	}
}

// Attempt is everything the dispatcher needs to perform and report on one
// upstream call.
type Attempt struct {
	TargetURL   string
	Method      string
	Body        []byte
	Headers     http.Header
	Timeout     time.Duration
	Stream      bool
}

// Dispatch performs the HTTP round trip, streaming the response body to w
// as it arrives (so the client sees the first byte as soon as the upstream
// does), and returns a classified result.
func (d *Dispatcher) Dispatch(ctx context.Context, a Attempt, w io.Writer) ports.DispatchResult {
	start := time.Now()

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, a.TargetURL, bytes.NewReader(a.Body))
	if err != nil {
		return ports.DispatchResult{Err: err, Kind: domain.ErrorKindServerError}
	}
	req.Header = a.Headers

	resp, err := d.client.Do(req)
	if err != nil {
		kind := domain.ClassifyNetError(err)
		return ports.DispatchResult{Err: err, Kind: kind, LatencyMs: time.Since(start).Milliseconds()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfterSeconds(resp.Header.Get("Retry-After"))
		return ports.DispatchResult{
			Status:       resp.StatusCode,
			Kind:         domain.ErrorKindRateLimited,
			RateLimited:  true,
			RetryAfterMs: retryAfter * 1000,
			LatencyMs:    time.Since(start).Milliseconds(),
		}
	}

	// 529 is Anthropic's model-at-capacity signal: not a fatal failure, and
	// unlike a 5xx it must not trip the credential's breaker.
	if resp.StatusCode == 529 {
		return ports.DispatchResult{
			Status:    resp.StatusCode,
			Kind:      domain.ErrorKindModelAtCapacity,
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	if resp.StatusCode >= 500 {
		return ports.DispatchResult{
			Status:    resp.StatusCode,
			Kind:      domain.ErrorKindServerError,
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	if resp.StatusCode >= 400 {
		buf := bodyBufferPool.Get()
		defer bodyBufferPool.Put(buf)
		io.Copy(buf, resp.Body) //nolint:errcheck // best-effort passthrough of the error body
		body := buf.Bytes()
		w.Write(body) //nolint:errcheck // client disconnects are not actionable here

		kind := domain.ErrorKindServerError
		err := fmt.Errorf("upstream returned %d", resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			kind = domain.ErrorKindAuthError
		case resp.StatusCode == http.StatusBadRequest && isContextWindowExceeded(body):
			kind = domain.ErrorKindContextOverflow
			err = domain.ErrContextOverflow
		}
		return ports.DispatchResult{
			Status:    resp.StatusCode,
			Kind:      kind,
			Err:       err,
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	usageTokens := d.streamResponse(resp, w, a.Stream)

	return ports.DispatchResult{
		Status:      resp.StatusCode,
		Kind:        domain.ErrorKindNone,
		UsageTokens: usageTokens,
		LatencyMs:   time.Since(start).Milliseconds(),
	}
}

// streamResponse copies the body to w, scanning SSE frames as they pass
// through to pull a final usage count when the provider emits one
// (sse.go). Non-streaming bodies are copied in one shot.
func (d *Dispatcher) streamResponse(resp *http.Response, w io.Writer, stream bool) int {
	if !stream {
		buf := bodyBufferPool.Get()
		defer bodyBufferPool.Put(buf)
		io.Copy(buf, resp.Body) //nolint:errcheck // best-effort drain of the response body
		body := buf.Bytes()
		w.Write(body) //nolint:errcheck // client disconnects are not actionable here
		return extractUsageTokens(body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	usageTokens := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		w.Write(line) //nolint:errcheck
		w.Write([]byte("\n"))
		if t, ok := extractSSEUsage(line); ok {
			usageTokens = t
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	return usageTokens
}

func parseRetryAfterSeconds(v string) int64 {
	if v == "" {
		return 0
	}
	var seconds int64
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		seconds = seconds*10 + int64(c-'0')
	}
	return seconds
}
