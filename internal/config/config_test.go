package config

import (
	"os"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != DefaultHost {
		t.Errorf("expected host %s, got %s", DefaultHost, cfg.Server.Host)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected log format 'json', got %s", cfg.Logging.Format)
	}

	if cfg.Credentials.KeyFile != "keys.json" {
		t.Errorf("expected default key file 'keys.json', got %s", cfg.Credentials.KeyFile)
	}

	if cfg.Pool.MaxConcurrencyPerKey != 4 {
		t.Errorf("expected default max concurrency per key 4, got %d", cfg.Pool.MaxConcurrencyPerKey)
	}
	if cfg.Pool.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("expected default circuit breaker failure threshold 5, got %d", cfg.Pool.CircuitBreaker.FailureThreshold)
	}
	if cfg.Pool.RateLimit.RequestsPerMinute != 60 {
		t.Errorf("expected default rate limit 60 rpm, got %d", cfg.Pool.RateLimit.RequestsPerMinute)
	}

	if cfg.DefaultProviderName != "z.ai" {
		t.Errorf("expected default provider 'z.ai', got %s", cfg.DefaultProviderName)
	}
	if _, ok := cfg.Providers[cfg.DefaultProviderName]; !ok {
		t.Fatalf("expected a provider entry for the default provider %q", cfg.DefaultProviderName)
	}

	if cfg.ModelRouting.Enabled {
		t.Error("expected model routing to be disabled by default")
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Engineering.ShowNerdStats {
		t.Error("expected ShowNerdStats to be false by default")
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("expected default host %s, got %s", DefaultHost, cfg.Server.Host)
	}
}

func TestLoadConfigWithEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"RELAY_SERVER_PORT":                   "8080",
		"RELAY_SERVER_HOST":                   "0.0.0.0",
		"RELAY_LOGGING_LEVEL":                 "debug",
		"RELAY_ENGINEERING_SHOW_NERDSTATS":     "true",
		"RELAY_DEFAULT_PROVIDER_NAME":          "openai",
		"RELAY_POOL_MAX_CONCURRENCY_PER_KEY":   "8",
		"RELAY_CREDENTIALS_ADMIN_TOKEN":        "s3cr3t",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080 from env override, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0 from env override, got %s", cfg.Server.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug from env override, got %s", cfg.Logging.Level)
	}
	if !cfg.Engineering.ShowNerdStats {
		t.Error("expected ShowNerdStats true from env override")
	}
	if cfg.DefaultProviderName != "openai" {
		t.Errorf("expected default provider openai from env override, got %s", cfg.DefaultProviderName)
	}
	if cfg.Pool.MaxConcurrencyPerKey != 8 {
		t.Errorf("expected max concurrency per key 8 from env override, got %d", cfg.Pool.MaxConcurrencyPerKey)
	}
	if cfg.Credentials.AdminToken != "s3cr3t" {
		t.Errorf("expected admin token from env override, got %s", cfg.Credentials.AdminToken)
	}
}

func TestServerConfigGetAddress(t *testing.T) {
	sc := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := sc.GetAddress(); got != "127.0.0.1:9000" {
		t.Errorf("expected 127.0.0.1:9000, got %s", got)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	configContent := []byte(`
server:
  host: 10.0.0.5
  port: 9999
logging:
  level: warn
default_provider_name: anthropic
providers:
  anthropic:
    target_host: api.anthropic.com
    target_protocol: "https:"
    auth_scheme: x-api-key
    cost_tier: metered
`)
	if err := os.WriteFile(dir+"/config.yaml", configContent, 0o644); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to chdir into temp dir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "10.0.0.5" {
		t.Errorf("expected host from config file, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port from config file, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level from config file, got %s", cfg.Logging.Level)
	}
	if cfg.DefaultProviderName != "anthropic" {
		t.Errorf("expected default provider from config file, got %s", cfg.DefaultProviderName)
	}
}
