// Package retryloop implements the retry loop (C10): credential
// selection/exclusion across attempts, pool-cooldown precedence, and
// per-error-kind backoff, returning a final client-facing status.
//
// Grounded on internal/adapter/proxy/core/retry.go's ExecuteWithRetry
// (copy-then-shrink candidate list, classify the error, retry or fail
// fast) generalised from endpoint failover to credential failover against
// the error-kind policy table (domain.ErrorKind.Policy()).
package retryloop

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/driftwell/relay/internal/adapter/backoff"
	"github.com/driftwell/relay/internal/adapter/dispatcher"
	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/core/ports"
	"github.com/driftwell/relay/internal/logger"
)

type Loop struct {
	pool                ports.CredentialPool
	dispatcher          *dispatcher.Dispatcher
	log                 logger.StyledLogger
	maxRetries          int
	backoff             backoff.Policy
	defaultProviderName string
}

func New(p ports.CredentialPool, d *dispatcher.Dispatcher, maxRetries int, log logger.StyledLogger, defaultProviderName string) *Loop {
	return &Loop{
		pool:                p,
		dispatcher:          d,
		log:                 log,
		maxRetries:          maxRetries,
		backoff:             backoff.Default(200*time.Millisecond, 5*time.Second),
		defaultProviderName: defaultProviderName,
	}
}

// Outcome is what Execute returns for the caller (the HTTP handler) to
// translate into a final response.
type Outcome struct {
	Status      int
	Attempts    int
	UsageTokens int
	Err         error
}

// Execute runs the full acquire -> dispatch -> classify -> retry cycle for
// one client request, following pool-cooldown precedence: an
// account-level rate-limit hit takes priority over a
// single credential's cooldown, and a pool-level cooldown takes priority
// over both since it blocks every credential for the model.
//
// attempt.Headers carries the client-forwarded headers with sensitive and
// hop-by-hop entries already stripped; Execute rebuilds the upstream
// headers on every attempt so each retry carries the auth header for the
// credential it actually acquired that round, never a stale one.
func (l *Loop) Execute(ctx context.Context, model string, attempt dispatcher.Attempt, provider domain.Provider, w io.Writer) Outcome {
	exclude := make(map[int]bool)
	var lastErr error
	var lastStatus int
	clientHeaders := attempt.Headers

	filter := domain.ProviderFilter{Name: provider.Name, IsDefault: provider.Name == l.defaultProviderName}

	maxAttempts := l.maxRetries + 1
	for n := 0; n < maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Status: http.StatusGatewayTimeout, Attempts: n, Err: err}
		}

		index, secret, err := l.pool.AcquireKey(ctx, model, filter, exclude)
		if err != nil {
			if n == 0 {
				return Outcome{Status: http.StatusServiceUnavailable, Attempts: n, Err: err}
			}
			return Outcome{Status: http.StatusServiceUnavailable, Attempts: n, Err: fmt.Errorf("%w after %d attempts: %w", domain.ErrNoCredentialsAvailable, n, lastErr)}
		}

		if !l.pool.AcquireModelSlot(model) {
			l.pool.ReleaseKey(index)
			exclude[index] = true
			lastErr = fmt.Errorf("model %s at capacity", model)
			continue
		}

		auth := provider.FormatAuthHeader(secret)
		attempt.Headers = dispatcher.BuildUpstreamHeaders(clientHeaders, auth.Name, auth.Value, provider.ExtraHeaders)

		// Set on every attempt, not just the first: only the attempt that
		// actually writes a body byte commits these to the client, so the
		// last value set before that write is the one that sticks.
		if rw, ok := w.(http.ResponseWriter); ok {
			rw.Header().Set("x-proxy-attempt", strconv.Itoa(n+1))
			rw.Header().Set("x-proxy-key-id", domain.MaskedKeyID(secret))
		}

		start := time.Now()
		result := l.dispatcher.Dispatch(ctx, attempt, w)
		l.pool.ReleaseModelSlot(model)
		l.pool.ReleaseKey(index)

		switch {
		case result.Kind == domain.ErrorKindNone:
			l.pool.RecordSuccess(index, time.Since(start))
			return Outcome{Status: result.Status, Attempts: n + 1, UsageTokens: result.UsageTokens}

		case result.RateLimited:
			l.pool.RecordRateLimit(index, time.Duration(result.RetryAfterMs)*time.Millisecond)
			if acct := l.pool.DetectAccountLevelRateLimit(index); acct.IsAccountLevel {
				l.pool.RecordPoolRateLimitHit(model)
				l.log.ErrorWithEndpoint("account-level rate limit detected", provider.Name, "model", model)
				return Outcome{Status: http.StatusTooManyRequests, Attempts: n + 1, Err: fmt.Errorf("account-level rate limit detected")}
			}
			exclude[index] = true
			lastErr = result.Err
			lastStatus = http.StatusTooManyRequests
			l.log.WarnWithEndpoint("credential rate limited, retrying", provider.Name, "model", model, "attempt", n+1)

		default:
			l.pool.RecordFailure(index, result.Kind)
			lastErr = result.Err
			lastStatus = statusForKind(result.Kind)

			if result.Kind.ShortCircuits() {
				l.log.ErrorWithEndpoint("dispatch short-circuited", provider.Name, "model", model, "error", lastErr)
				return Outcome{Status: lastStatus, Attempts: n + 1, Err: lastErr}
			}
			if !result.Kind.Policy().Retryable {
				l.log.ErrorWithEndpoint("dispatch failed, not retryable", provider.Name, "model", model, "error", lastErr)
				return Outcome{Status: lastStatus, Attempts: n + 1, Err: lastErr}
			}
			exclude[index] = true
			l.log.WarnWithEndpoint("dispatch attempt failed, retrying", provider.Name, "model", model, "attempt", n+1)
		}

		if n < maxAttempts-1 {
			time.Sleep(l.backoff.Delay(n))
		}
	}

	if lastStatus == 0 {
		lastStatus = http.StatusBadGateway
	}
	l.log.ErrorWithEndpoint("max retries exceeded", provider.Name, "model", model, "retries", l.maxRetries)
	return Outcome{Status: lastStatus, Attempts: maxAttempts, Err: fmt.Errorf("max retries (%d) exceeded: %w", l.maxRetries, lastErr)}
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrorKindAuthError:
		return http.StatusUnauthorized
	case domain.ErrorKindContextOverflow:
		return http.StatusBadRequest
	case domain.ErrorKindRateLimited, domain.ErrorKindModelAtCapacity:
		return http.StatusTooManyRequests
	case domain.ErrorKindTLSError, domain.ErrorKindAborted:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
