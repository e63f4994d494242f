package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/driftwell/relay/internal/util"
)

const (
	DefaultPort = 19841
	DefaultHost = "localhost"

	DefaultFileWriteDelay = 150 * time.Millisecond // Small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute, // long write timeout, LLM streams run for minutes
			ShutdownTimeout: 10 * time.Second,
			RequestLimits: ServerRequestLimits{
				MaxBodySize:   10 << 20,
				MaxHeaderSize: 1 << 20,
			},
			RateLimits: ServerRateLimits{
				GlobalRequestsPerMinute: 0, // 0 = disabled
				PerIPRequestsPerMinute:  0,
				BurstSize:               10,
				HealthRequestsPerMinute: 0,
				CleanupInterval:         5 * time.Minute,
				TrustedProxyCIDRs: []string{
					"127.0.0.0/8",
					"10.0.0.0/8",
					"172.16.0.0/12",
					"192.168.0.0/16",
				},
			},
		},
		Credentials: CredentialsConfig{
			KeyFile: "keys.json",
		},
		Pool: PoolConfig{
			MaxConcurrencyPerKey: 4,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				FailureWindow:    60 * time.Second,
				CooldownPeriod:   30 * time.Second,
				HalfOpenTimeout:  10 * time.Second,
			},
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				Burst:             10,
			},
			KeySelection: KeySelectionConfig{
				UseWeightedSelection: true,
				HealthScoreWeights: HealthScoreWeights{
					Latency:     0.4,
					SuccessRate: 0.4,
					Recency:     0.2,
				},
				SlowKeyThreshold:     2.0,
				SlowKeyCheckInterval: 30 * time.Second,
				SlowKeyCooldown:      60 * time.Second,
			},
			PoolCooldown: PoolCooldownConfig{
				BaseMs:           1000,
				CapMs:            60000,
				DecayMs:          5 * 60 * 1000,
				SleepThresholdMs: 2000,
			},
			KeyRateLimitCooldown: KeyRateLimitCooldownConfig{
				CooldownDecayMs: 5 * 60 * 1000,
				BaseCooldownMs:  1000,
			},
			AccountLevelDetection: AccountLevelDetectionConfig{
				Enabled:      true,
				KeyThreshold: 3,
				WindowMs:     5000,
				CooldownMs:   10000,
			},
			AdaptiveTimeout: AdaptiveTimeoutConfig{
				MinMs:     5000,
				MaxMs:     120000,
				InitialMs: 30000,
			},
		},
		DefaultProviderName: "z.ai",
		Providers: map[string]ProviderConfig{
			"z.ai": {
				TargetHost:     "api.z.ai",
				TargetBasePath: "/api/anthropic",
				TargetProtocol: "https:",
				AuthScheme:     "x-api-key",
				CostTier:       "free",
			},
		},
		ModelMapping: ModelMappingConfig{
			Models: map[string]ModelMappingEntryConfig{},
		},
		ModelRouting: ModelRoutingConfig{
			Enabled:        false,
			TierStrategies: map[string]string{},
			FallbackChains: map[string][]string{},
		},
		Retry: RetryConfig{
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load loads configuration from file and environment variables
func Load(onConfigChange func()) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, check if we have RELAY_CONFIG_FILE env var
		if configFile := os.Getenv("RELAY_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	trustedCIDRs, err := util.ParseTrustedCIDRs(config.Server.RateLimits.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted_proxy_cidrs: %w", err)
	}
	config.Server.RateLimits.TrustedProxyCIDRsParsed = trustedCIDRs

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			// lame debounce to avoid rapid-fire reloads
			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // Ignore miultiple rapid changes
			}
			lastReload = now

			// looks like on windows this event is triggered
			// before the file is fully written, not sure why
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return config, nil
}
