package providerreg

import (
	"testing"

	"github.com/driftwell/relay/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		DefaultProviderName: "openai",
		Providers: map[string]config.ProviderConfig{
			"openai": {
				TargetHost:     "api.openai.com",
				TargetProtocol: "https",
				AuthScheme:     "bearer",
				CostTier:       "metered",
			},
			"anthropic": {
				TargetHost:     "api.anthropic.com",
				TargetProtocol: "https",
				AuthScheme:     "x-api-key",
				CostTier:       "metered",
			},
		},
		ModelMapping: config.ModelMappingConfig{
			Models: map[string]config.ModelMappingEntryConfig{
				"gpt-4-turbo": {Target: "gpt-4o", Provider: "openai"},
				"claude-*":    {Provider: "anthropic"},
			},
		},
	}
}

func TestNewRejectsNoProviders(t *testing.T) {
	if _, err := New(&config.Config{}); err == nil {
		t.Fatal("expected an error when no providers are configured")
	}
}

func TestNewRejectsUnknownDefaultProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultProviderName = "missing"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected an error when the default provider isn't configured")
	}
}

func TestNewRejectsInvalidProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.Providers["broken"] = config.ProviderConfig{TargetHost: "", AuthScheme: "bearer", CostTier: "metered"}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected an error for a provider missing a target host")
	}
}

func TestNewRejectsMappingToUnknownProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.ModelMapping.Models["foo"] = config.ModelMappingEntryConfig{Provider: "nonexistent"}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected an error for a model mapping referencing an unknown provider")
	}
}

func TestResolveExactMapping(t *testing.T) {
	reg, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	route, err := reg.Resolve("gpt-4-turbo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.ProviderName != "openai" || route.TargetModel != "gpt-4o" {
		t.Fatalf("unexpected route: %+v", route)
	}
}

func TestResolvePrefixMapping(t *testing.T) {
	reg, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	route, err := reg.Resolve("claude-3-opus")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.ProviderName != "anthropic" || route.TargetModel != "claude-3-opus" {
		t.Fatalf("expected the prefix-matched model to pass through unmapped, got %+v", route)
	}
}

func TestResolveFallsBackToDefaultProvider(t *testing.T) {
	reg, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	route, err := reg.Resolve("unmapped-model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.ProviderName != "openai" || route.TargetModel != "unmapped-model" {
		t.Fatalf("expected pass-through to the default provider, got %+v", route)
	}
}

func TestProviderAndDefault(t *testing.T) {
	reg, err := New(baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := reg.Provider("missing"); ok {
		t.Fatal("expected Provider to report false for an unknown name")
	}
	p, ok := reg.Provider("anthropic")
	if !ok || p.Name != "anthropic" {
		t.Fatalf("expected to find the anthropic provider, got %+v ok=%v", p, ok)
	}
	if reg.Default().Name != "openai" {
		t.Fatalf("expected default provider openai, got %s", reg.Default().Name)
	}
}
