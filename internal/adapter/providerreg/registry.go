// Package providerreg implements the provider registry (C6): validated
// provider configuration plus model->provider resolution, grounded on the
// inference-profile factory's closed-set validation at construction over a
// named-entry map with a built-in default entry.
package providerreg

import (
	"fmt"
	"strings"

	"github.com/driftwell/relay/internal/config"
	"github.com/driftwell/relay/internal/core/domain"
	"github.com/driftwell/relay/internal/core/ports"
)

var _ ports.ProviderRegistry = (*Registry)(nil)

type Registry struct {
	providers     map[string]domain.Provider
	defaultName   string
	modelMapping  map[string]domain.ModelMappingEntry
}

// New validates every configured provider up front (fail fast, same as the
// profile factory's construction-time validation) and builds the flattened
// model->provider lookup table.
func New(cfg *config.Config) (*Registry, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	providers := make(map[string]domain.Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		p := domain.Provider{
			Name:             name,
			TargetHost:       pc.TargetHost,
			TargetBasePath:   pc.TargetBasePath,
			TargetProtocol:   pc.TargetProtocol,
			AuthScheme:       domain.AuthScheme(pc.AuthScheme),
			CustomAuthHeader: pc.CustomAuthHeader,
			CostTier:         domain.CostTier(pc.CostTier),
			ExtraHeaders:     pc.ExtraHeaders,
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		providers[name] = p
	}

	if _, ok := providers[cfg.DefaultProviderName]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", cfg.DefaultProviderName)
	}

	mapping := make(map[string]domain.ModelMappingEntry, len(cfg.ModelMapping.Models))
	for model, entry := range cfg.ModelMapping.Models {
		providerName := entry.Provider
		if providerName == "" {
			providerName = cfg.DefaultProviderName
		}
		if _, ok := providers[providerName]; !ok {
			return nil, fmt.Errorf("model mapping %q references unknown provider %q", model, providerName)
		}
		mapping[model] = domain.ModelMappingEntry{
			TargetModel: entry.Target,
			Provider:    providerName,
		}
	}

	return &Registry{
		providers:    providers,
		defaultName:  cfg.DefaultProviderName,
		modelMapping: mapping,
	}, nil
}

// Resolve maps a client-requested model name to a target model and
// provider, falling back to the default provider and an unmapped (pass
// through) model name when no explicit mapping entry exists.
func (r *Registry) Resolve(model string) (domain.ResolvedRoute, error) {
	if entry, ok := r.modelMapping[model]; ok {
		return domain.ResolvedRoute{ProviderName: entry.Provider, TargetModel: entry.TargetModel}, nil
	}

	// Prefix-style mapping: "claude-*" keys match by prefix before the "*".
	for pattern, entry := range r.modelMapping {
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(model, strings.TrimSuffix(pattern, "*")) {
			target := entry.TargetModel
			if target == "" {
				target = model
			}
			return domain.ResolvedRoute{ProviderName: entry.Provider, TargetModel: target}, nil
		}
	}

	return domain.ResolvedRoute{ProviderName: r.defaultName, TargetModel: model}, nil
}

func (r *Registry) Provider(name string) (domain.Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Default() domain.Provider {
	return r.providers[r.defaultName]
}
