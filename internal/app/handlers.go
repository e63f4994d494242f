package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/driftwell/relay/internal/adapter/dispatcher"
	"github.com/driftwell/relay/internal/adapter/failedstore"
	"github.com/driftwell/relay/internal/adapter/transform"
	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/util"
)

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"uptime":      time.Since(a.startTime).String(),
		"credentials": a.credPool.Len(),
	})
}

func (a *Application) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"credentials": a.credPool.Snapshots(),
		"models":      a.aggregator.Snapshot(),
		"traces":      a.traces.Stats(),
	})
}

func (a *Application) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		fmt.Sscanf(raw, "%d", &limit)
	}
	writeJSON(w, http.StatusOK, a.traces.Recent(limit))
}

func (a *Application) handleFailedList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		fmt.Sscanf(raw, "%d", &limit)
	}
	writeJSON(w, http.StatusOK, a.failedStore.List(limit))
}

func (a *Application) handleFailedReplay(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("id")
	if storeID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing id query parameter")
		return
	}
	result, err := a.failedStore.Replay(storeID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleProxy resolves the client-requested model to a provider and target
// model, classifies the request for tier routing, then hands off to the
// retry loop. The retry loop (and the dispatcher beneath it) write the
// response body directly to w for streaming, so any error surfaced after
// the first dispatch attempt has already partially written a body and must
// not call WriteHeader again.
func (a *Application) handleProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := util.GenerateRequestID()
	queuedAt := time.Now()

	maxBody := a.cfg.Server.RequestLimits.MaxBodySize
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	clientModel, err := transform.ProbeModel(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	route, overridden := transform.AdminOverride(r.Header.Get(transform.AdminOverrideHeader), a.isAdminAuthorised(r))
	if !overridden {
		route, err = a.providers.Resolve(clientModel)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	if route.ProviderName == "" {
		route.ProviderName = a.providers.Default().Name
	}

	provider, ok := a.providers.Provider(route.ProviderName)
	if !ok {
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("unknown provider %q", route.ProviderName))
		return
	}

	features := transform.ExtractFeatures(route.TargetModel, body)
	decision := a.modelRouter.Route(features)
	a.log.Debug("routed request", "model", decision.Model, "tier", decision.Tier, "reason", decision.Reason)

	// Set before the retry loop ever writes a body byte: once streaming
	// starts, Go has already committed the response headers.
	w.Header().Set("x-request-id", requestID)
	w.Header().Set("x-proxy-routing-reason", decision.Reason)

	outBody := body
	if route.TargetModel != clientModel {
		outBody, err = transform.Rewrite(body, route.TargetModel)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	stream := gjson.GetBytes(body, "stream").Bool()

	forwardHeaders := r.Header.Clone()
	forwardHeaders.Set("X-Request-Id", requestID)

	attempt := dispatcher.Attempt{
		TargetURL: provider.TargetURL() + r.URL.Path,
		Method:    r.Method,
		Body:      outBody,
		Headers:   forwardHeaders,
		Timeout:   a.adaptiveTimeout(),
		Stream:    stream,
	}

	dequeuedAt := time.Now()
	outcome := a.retryLoop.Execute(ctx, route.TargetModel, attempt, provider, w)

	if outcome.Err != nil && outcome.Attempts == 0 {
		if fallback := a.modelRouter.FallbacksFor(route.TargetModel); len(fallback) > 0 {
			attempt.Body = outBody
			outcome = a.retryLoop.Execute(ctx, fallback[0], attempt, provider, w)
			route.TargetModel = fallback[0]
		}
	}
	endedAt := time.Now()

	a.aggregator.Observe(route.TargetModel, endedAt.Sub(dequeuedAt).Milliseconds(), outcome.Err == nil)
	a.traces.Record(domain.RequestTrace{
		QueuedAt:      queuedAt,
		DequeuedAt:    dequeuedAt,
		EndTime:       endedAt,
		RequestID:     requestID,
		Method:        r.Method,
		Path:          r.URL.Path,
		Model:         clientModel,
		MappedModel:   route.TargetModel,
		Provider:      route.ProviderName,
		FinalStatus:   outcome.Status,
		QueueDuration: dequeuedAt.Sub(queuedAt),
		TotalDuration: endedAt.Sub(queuedAt),
		Success:       outcome.Err == nil,
	})

	if outcome.Err == nil {
		return
	}

	if outcome.Attempts == 0 {
		writeJSONError(w, outcome.Status, outcome.Err.Error())
	}

	a.failedStore.Store(domain.FailedRequestEntry{
		StoreID:           requestID,
		OriginalRequestID: requestID,
		StoredAt:          endedAt,
		ExpiresAt:         endedAt.Add(30 * time.Minute),
		Method:            r.Method,
		URL:               attempt.TargetURL,
		SanitizedHeaders:  dispatcher.SanitizeForStorage(r.Header),
		BodyBase64:        mustEncodeBody(outBody),
		BodySize:          len(outBody),
	})
}

func mustEncodeBody(body []byte) string {
	encoded, err := failedstore.EncodeBody(failedstore.Config{}, body)
	if err != nil {
		return ""
	}
	return encoded
}

// replay is the failedstore.ReplayFunc: it re-dispatches a stored request
// against the credential pool exactly as the original attempt would have,
// discarding the streamed body (replay is for diagnostics, not for serving
// a second client response).
func (a *Application) replay(ctx context.Context, entry domain.FailedRequestEntry) (domain.ReplayResult, error) {
	body, err := failedstore.DecodeBody(failedstore.Config{}, entry.BodyBase64)
	if err != nil {
		return domain.ReplayResult{}, fmt.Errorf("decoding stored body: %w", err)
	}

	model, err := transform.ProbeModel(body)
	if err != nil {
		return domain.ReplayResult{}, err
	}
	route, err := a.providers.Resolve(model)
	if err != nil {
		return domain.ReplayResult{}, err
	}
	provider, ok := a.providers.Provider(route.ProviderName)
	if !ok {
		return domain.ReplayResult{}, fmt.Errorf("unknown provider %q", route.ProviderName)
	}

	headers := http.Header{}
	for k, v := range entry.SanitizedHeaders {
		headers.Set(k, v)
	}
	headers.Set("X-Request-Id", entry.OriginalRequestID)

	var sink strings.Builder
	outcome := a.retryLoop.Execute(ctx, route.TargetModel, dispatcher.Attempt{
		TargetURL: provider.TargetURL() + entry.URL,
		Method:    entry.Method,
		Body:      body,
		Headers:   headers,
		Timeout:   a.adaptiveTimeout(),
	}, provider, &sink)

	if outcome.Err != nil {
		return domain.ReplayResult{Success: false, Error: outcome.Err.Error()}, nil
	}
	return domain.ReplayResult{Success: true}, nil
}

func (a *Application) adaptiveTimeout() time.Duration {
	ms := a.cfg.Pool.AdaptiveTimeout.InitialMs
	if ms <= 0 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

// isAdminAuthorised gates the per-request model override header: it passes
// when no admin token is configured (admin auth not set up at all) or when
// the caller presents the configured token.
func (a *Application) isAdminAuthorised(r *http.Request) bool {
	token := a.cfg.Credentials.AdminToken
	if token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(r.Header.Get("x-admin-token"))) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload) //nolint:errcheck // client disconnects aren't actionable here
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
