// Package modelrouter implements the model router (C7): tier
// classification from request features, pool-strategy candidate selection,
// and fallback-chain walking, grounded on the teacher's routing-strategy
// interface (optimistic/strict discovery strategies selecting among
// candidate endpoints by a named policy).
package modelrouter

import (
	"github.com/driftwell/relay/internal/config"
	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/core/ports"
	"github.com/driftwell/relay/internal/util/pattern"
)

var _ ports.ModelRouter = (*Router)(nil)

type Router struct {
	rules          []domain.RoutingRule
	tierStrategies map[string]domain.PoolStrategy
	fallbackChains map[string][]string
	enabled        bool
}

func New(cfg config.ModelRoutingConfig) *Router {
	rules := make([]domain.RoutingRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, domain.RoutingRule{
			ModelPattern:       r.ModelPattern,
			Tier:               domain.Tier(r.Tier),
			MinMaxTokens:       r.MinMaxTokens,
			MinMessages:        r.MinMessages,
			MinSystemPromptLen: r.MinSystemPromptLen,
			RequiresTools:      r.RequiresTools,
			RequiresVision:     r.RequiresVision,
		})
	}

	strategies := make(map[string]domain.PoolStrategy, len(cfg.TierStrategies))
	for tier, strat := range cfg.TierStrategies {
		strategies[tier] = domain.PoolStrategy(strat)
	}

	return &Router{
		rules:          rules,
		tierStrategies: strategies,
		fallbackChains: cfg.FallbackChains,
		enabled:        cfg.Enabled,
	}
}

// Classify walks the configured rules in order, returning the first
// matching tier, or TierMedium as a conservative default when routing is
// disabled or no rule matches.
func (r *Router) Classify(f domain.RequestFeatures) domain.Tier {
	if !r.enabled {
		return domain.TierMedium
	}

	for _, rule := range r.rules {
		if !pattern.MatchesGlob(f.Model, rule.ModelPattern) {
			continue
		}
		if rule.RequiresTools && !f.HasTools {
			continue
		}
		if rule.RequiresVision && !f.HasVision {
			continue
		}
		if rule.MinMaxTokens > 0 && f.MaxTokens < rule.MinMaxTokens {
			continue
		}
		if rule.MinMessages > 0 && f.MessageCount < rule.MinMessages {
			continue
		}
		if rule.MinSystemPromptLen > 0 && f.SystemPromptLen < rule.MinSystemPromptLen {
			continue
		}
		return rule.Tier
	}

	return domain.TierMedium
}

// Route classifies the request and reports the routing decision. It does
// not itself acquire a concurrency slot, so Committed is always false in
// the returned decision; no caller in this module sets it either (the
// retry loop acquires its model slot without seeing the decision).
func (r *Router) Route(f domain.RequestFeatures) domain.RoutingDecision {
	if !r.enabled {
		return domain.RoutingDecision{
			Model:  f.Model,
			Tier:   domain.TierMedium,
			Source: domain.RoutingSourceDirect,
			Reason: "model routing disabled",
		}
	}

	tier := r.Classify(f)
	return domain.RoutingDecision{
		Model:  f.Model,
		Tier:   tier,
		Source: domain.RoutingSourceComplexity,
		Reason: "matched tier " + string(tier),
	}
}

// FallbacksFor returns the configured fallback chain for a model, or nil if
// none is configured.
func (r *Router) FallbacksFor(model string) []string {
	return r.fallbackChains[model]
}

// StrategyFor returns the pool strategy configured for a tier, defaulting
// to balanced.
func (r *Router) StrategyFor(tier domain.Tier) domain.PoolStrategy {
	if s, ok := r.tierStrategies[string(tier)]; ok {
		return s
	}
	return domain.PoolStrategyBalanced
}
