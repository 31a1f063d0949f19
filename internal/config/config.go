package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	Usage     UsageConfig     `mapstructure:"usage"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress     string `mapstructure:"bind_address"`
	HTTPPort        int    `mapstructure:"http_port"`
	MetricsPort     int    `mapstructure:"metrics_port"`
	ReadTimeout     string `mapstructure:"read_timeout"`
	WriteTimeout    string `mapstructure:"write_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

// SessionConfig defines anonymous session settings
type SessionConfig struct {
	TTL           string `mapstructure:"ttl"`
	SweepInterval string `mapstructure:"sweep_interval"`
	CookieName    string `mapstructure:"cookie_name"`
	CookieSecure  bool   `mapstructure:"cookie_secure"`
}

// UsageConfig defines daily quota settings
type UsageConfig struct {
	DailyLimit     string `mapstructure:"daily_limit"`
	DailyResetTime string `mapstructure:"daily_reset_time"` // HH:MM, server local time
	CostMode       string `mapstructure:"cost_mode"`        // "flat" or "elapsed"
	FlatCost       string `mapstructure:"flat_cost"`
}

// RateLimitConfig defines per-address request limiting
type RateLimitConfig struct {
	MaxRequests             int      `mapstructure:"max_requests"`
	Window                  string   `mapstructure:"window"`
	AddressHeaders          []string `mapstructure:"address_headers"`
	UnknownBucketMultiplier int      `mapstructure:"unknown_bucket_multiplier"`
	MaxTrackedAddresses     int      `mapstructure:"max_tracked_addresses"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "memory" or "redis"
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// UpstreamConfig defines the reply generation backend
type UpstreamConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	Model        string  `mapstructure:"model"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Timeout      string  `mapstructure:"timeout"`
	SystemPrompt string  `mapstructure:"system_prompt"`
}

// ChatConfig defines request validation for the chat endpoint
type ChatConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length"`
	HistoryLimit     int `mapstructure:"history_limit"`
}

// AdminConfig defines the operator API
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix("CHATGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration used when nothing is overridden
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// secretKeys have no default but are valid in a config file
var secretKeys = []string{
	"storage.redis.password",
	"upstream.api_key",
	"admin.token",
}

// KnownKeys returns every recognised configuration key, sorted
func KnownKeys() []string {
	v := viper.New()
	setDefaults(v)

	keys := append(v.AllKeys(), secretKeys...)
	sort.Strings(keys)
	return keys
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Session defaults
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.sweep_interval", "5m")
	v.SetDefault("session.cookie_name", "chatgate_session")
	v.SetDefault("session.cookie_secure", true)

	// Usage defaults
	v.SetDefault("usage.daily_limit", "5m")
	v.SetDefault("usage.daily_reset_time", "00:00")
	v.SetDefault("usage.cost_mode", "flat")
	v.SetDefault("usage.flat_cost", "30s")

	// Rate limit defaults
	v.SetDefault("rate_limit.max_requests", 10)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.address_headers", []string{"X-Forwarded-For", "X-Real-IP"})
	v.SetDefault("rate_limit.unknown_bucket_multiplier", 5)
	v.SetDefault("rate_limit.max_tracked_addresses", 100000)

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "chatgate")

	// Upstream defaults
	v.SetDefault("upstream.base_url", "https://api.openai.com/v1")
	v.SetDefault("upstream.model", "gpt-4o-mini")
	v.SetDefault("upstream.temperature", 0.8)
	v.SetDefault("upstream.max_tokens", 500)
	v.SetDefault("upstream.timeout", "60s")
	v.SetDefault("upstream.system_prompt", "You are a warm, attentive listener. Keep replies short and conversational.")

	// Chat defaults
	v.SetDefault("chat.max_message_length", 2000)
	v.SetDefault("chat.history_limit", 6)

	// Admin defaults
	v.SetDefault("admin.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	durations := []struct {
		name  string
		value string
	}{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout},
		{"session.ttl", cfg.Session.TTL},
		{"session.sweep_interval", cfg.Session.SweepInterval},
		{"usage.daily_limit", cfg.Usage.DailyLimit},
		{"usage.flat_cost", cfg.Usage.FlatCost},
		{"rate_limit.window", cfg.RateLimit.Window},
		{"upstream.timeout", cfg.Upstream.Timeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if _, err := time.Parse("15:04", cfg.Usage.DailyResetTime); err != nil {
		return fmt.Errorf("invalid usage.daily_reset_time %q (expected HH:MM): %w", cfg.Usage.DailyResetTime, err)
	}

	switch cfg.Usage.CostMode {
	case "flat", "elapsed":
	default:
		return fmt.Errorf("unknown usage.cost_mode: %q", cfg.Usage.CostMode)
	}

	if cfg.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.UnknownBucketMultiplier < 1 {
		return fmt.Errorf("rate_limit.unknown_bucket_multiplier must be at least 1, got %d", cfg.RateLimit.UnknownBucketMultiplier)
	}
	if cfg.RateLimit.MaxTrackedAddresses <= 0 {
		return fmt.Errorf("rate_limit.max_tracked_addresses must be positive, got %d", cfg.RateLimit.MaxTrackedAddresses)
	}

	switch cfg.Storage.Type {
	case "memory":
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage.type: %q", cfg.Storage.Type)
	}

	if cfg.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("chat.max_message_length must be positive, got %d", cfg.Chat.MaxMessageLength)
	}
	if cfg.Chat.HistoryLimit < 0 {
		return fmt.Errorf("chat.history_limit must not be negative, got %d", cfg.Chat.HistoryLimit)
	}

	if cfg.Admin.Enabled && cfg.Admin.Token == "" {
		return fmt.Errorf("admin.token is required when the admin API is enabled")
	}

	return nil
}
