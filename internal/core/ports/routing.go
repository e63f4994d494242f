package ports

import (
	"github.com/driftwell/relay/internal/core/domain"
)

// ProviderRegistry is the C6 component: validated provider configuration
// plus model->provider resolution.
type ProviderRegistry interface {
	Resolve(model string) (domain.ResolvedRoute, error)
	Provider(name string) (domain.Provider, bool)
	Default() domain.Provider
}

// ModelRouter is the C7 component: tier classification and pool-strategy
// selection, including fallback-chain walking.
type ModelRouter interface {
	Classify(features domain.RequestFeatures) domain.Tier
	Route(features domain.RequestFeatures) domain.RoutingDecision
	FallbacksFor(model string) []string
}

// DispatchResult is the outcome of a single upstream attempt by the C9
// dispatcher.
type DispatchResult struct {
	Err          error
	Kind         domain.ErrorKind
	Status       int
	UsageTokens  int
	LatencyMs    int64
	RateLimited  bool
	RetryAfterMs int64
}
