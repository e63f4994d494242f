package config

import (
	"fmt"
	"net"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Pool        PoolConfig        `yaml:"pool"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	DefaultProviderName string    `yaml:"default_provider_name"`
	ModelMapping ModelMappingConfig `yaml:"model_mapping"`
	ModelRouting ModelRoutingConfig `yaml:"model_routing"`
	Retry       RetryConfig       `yaml:"retry"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string              `yaml:"host"`
	Port            int                 `yaml:"port"`
	ReadTimeout     time.Duration       `yaml:"read_timeout"`
	WriteTimeout    time.Duration       `yaml:"write_timeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdown_timeout"`
	RequestLimits   ServerRequestLimits `yaml:"request_limits"`
	RateLimits      ServerRateLimits    `yaml:"rate_limits"`
}

// GetAddress returns the host:port the HTTP server binds to.
func (s ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ServerRequestLimits defines request size and validation limits.
type ServerRequestLimits struct {
	MaxBodySize   int64 `yaml:"max_body_size"`
	MaxHeaderSize int64 `yaml:"max_header_size"`
}

// ServerRateLimits defines the edge (client-facing) rate limiting
// configuration, separate from the per-credential limits in RateLimitConfig.
type ServerRateLimits struct {
	GlobalRequestsPerMinute int           `yaml:"global_requests_per_minute"`
	PerIPRequestsPerMinute  int           `yaml:"per_ip_requests_per_minute"`
	BurstSize               int           `yaml:"burst_size"`
	HealthRequestsPerMinute int           `yaml:"health_requests_per_minute"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval"`
	TrustProxyHeaders       bool          `yaml:"trust_proxy_headers"`
	TrustedProxyCIDRs       []string      `yaml:"trusted_proxy_cidrs"`
	TrustedProxyCIDRsParsed []*net.IPNet  `yaml:"-"`
}

// CredentialsConfig describes where the credential pool's secrets come
// from: either a flat ordered list (all credentials untagged) or a
// provider-keyed map of ordered lists.
type CredentialsConfig struct {
	KeyFile    string `yaml:"key_file"`
	AdminToken string `yaml:"admin_token"`
}

// PoolConfig is the credential pool's tunables.
type PoolConfig struct {
	CircuitBreaker         CircuitBreakerConfig         `yaml:"circuit_breaker"`
	RateLimit              RateLimitConfig              `yaml:"rate_limit"`
	KeySelection           KeySelectionConfig           `yaml:"key_selection"`
	PoolCooldown           PoolCooldownConfig           `yaml:"pool_cooldown"`
	KeyRateLimitCooldown   KeyRateLimitCooldownConfig   `yaml:"key_rate_limit_cooldown"`
	AccountLevelDetection  AccountLevelDetectionConfig  `yaml:"account_level_detection"`
	AdaptiveTimeout        AdaptiveTimeoutConfig        `yaml:"adaptive_timeout"`
	MaxConcurrencyPerKey   int                          `yaml:"max_concurrency_per_key"`
}

// CircuitBreakerConfig tunes the circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`
	CooldownPeriod   time.Duration `yaml:"cooldown_period"`
	HalfOpenTimeout  time.Duration `yaml:"half_open_timeout"`
}

// RateLimitConfig tunes the per-credential token bucket.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// KeySelectionConfig tunes weighted health-score scheduling.
type KeySelectionConfig struct {
	HealthScoreWeights    HealthScoreWeights `yaml:"health_score_weights"`
	UseWeightedSelection  bool               `yaml:"use_weighted_selection"`
	SlowKeyThreshold      float64            `yaml:"slow_key_threshold"`
	SlowKeyCheckInterval  time.Duration      `yaml:"slow_key_check_interval_ms"`
	SlowKeyCooldown       time.Duration      `yaml:"slow_key_cooldown_ms"`
}

// HealthScoreWeights weights the three health-score subscores so they sum
// to 1.0 (latency, recent success rate, error recency).
type HealthScoreWeights struct {
	Latency    float64 `yaml:"latency"`
	SuccessRate float64 `yaml:"success_rate"`
	Recency    float64 `yaml:"recency"`
}

// PoolCooldownConfig tunes the per-model pool-level 429 cooldown
// (recordPoolRateLimitHit).
type PoolCooldownConfig struct {
	BaseMs           int64 `yaml:"base_ms"`
	CapMs            int64 `yaml:"cap_ms"`
	DecayMs          int64 `yaml:"decay_ms"`
	SleepThresholdMs int64 `yaml:"sleep_threshold_ms"`
}

// KeyRateLimitCooldownConfig tunes a single key's adaptive 429 cooldown
//
type KeyRateLimitCooldownConfig struct {
	CooldownDecayMs int64 `yaml:"cooldown_decay_ms"`
	BaseCooldownMs  int64 `yaml:"base_cooldown_ms"`
}

// AccountLevelDetectionConfig tunes detectAccountLevelRateLimit
//
type AccountLevelDetectionConfig struct {
	Enabled      bool          `yaml:"enabled"`
	KeyThreshold int           `yaml:"key_threshold"`
	WindowMs     int64         `yaml:"window_ms"`
	CooldownMs   int64         `yaml:"cooldown_ms"`
}

// AdaptiveTimeoutConfig tunes the dispatcher's per-attempt socket timeout
//
type AdaptiveTimeoutConfig struct {
	MinMs     int64 `yaml:"min_ms"`
	MaxMs     int64 `yaml:"max_ms"`
	InitialMs int64 `yaml:"initial_ms"`
}

// ProviderConfig is the on-disk shape of a domain.Provider.
type ProviderConfig struct {
	TargetHost       string            `yaml:"target_host"`
	TargetBasePath   string            `yaml:"target_base_path"`
	TargetProtocol   string            `yaml:"target_protocol"`
	AuthScheme       string            `yaml:"auth_scheme"`
	CustomAuthHeader string            `yaml:"custom_auth_header"`
	CostTier         string            `yaml:"cost_tier"`
	ExtraHeaders     map[string]string `yaml:"extra_headers"`
}

// ModelMappingConfig is the on-disk shape of the model->provider mapping
// table. Each value is either a
// bare target-model string (uses the default provider) or an explicit
// {target, provider} pair represented here as ModelMappingEntry.
type ModelMappingConfig struct {
	Models map[string]ModelMappingEntryConfig `yaml:"models"`
}

type ModelMappingEntryConfig struct {
	Target   string `yaml:"target"`
	Provider string `yaml:"provider"`
}

// ModelRoutingConfig configures the tier classifier and fallback chains
//
type ModelRoutingConfig struct {
	Rules           []RoutingRuleConfig          `yaml:"rules"`
	TierStrategies  map[string]string            `yaml:"tier_strategies"`
	FallbackChains  map[string][]string          `yaml:"fallback_chains"`
	Enabled         bool                         `yaml:"enabled"`
}

type RoutingRuleConfig struct {
	ModelPattern       string `yaml:"model_pattern"`
	Tier               string `yaml:"tier"`
	MinMaxTokens       int    `yaml:"min_max_tokens"`
	MinMessages        int    `yaml:"min_messages"`
	MinSystemPromptLen int    `yaml:"min_system_prompt_len"`
	RequiresTools      bool   `yaml:"requires_tools"`
	RequiresVision     bool   `yaml:"requires_vision"`
}

// RetryConfig tunes the retry loop.
type RetryConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FileOutput bool   `yaml:"file_output"`
	LogDir     string `yaml:"log_dir"`
}

// EngineeringConfig holds development/debugging configuration.
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
}
