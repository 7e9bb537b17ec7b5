package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppLogLevel   slog.Level
	AppListenAddr string
	DebugMode     bool
	DebugDataPath string

	// USPS is the primary tier. The tier is unconfigured, and silently
	// skipped by the chain, when either credential is absent.
	USPSBaseURL      string
	USPSClientID     string
	USPSClientSecret string
	USPSTimeout      time.Duration

	// Smarty is the secondary tier, same unconfigured rule.
	SmartyBaseURL   string
	SmartyAuthID    string
	SmartyAuthToken string
	SmartyTimeout   time.Duration

	// AppProviderRetryEnabled allows one extra attempt per provider call on
	// transient failures. Off by default to bound worst-case latency.
	AppProviderRetryEnabled bool

	// AppBreakerMaxFailures is the consecutive-failure count that opens a
	// provider's circuit breaker.
	AppBreakerMaxFailures uint32

	AppBatchConcurrency int
	AppBatchTimeout     time.Duration

	// AppPolicyPath points at an optional Rego acceptance policy. Empty
	// disables policy evaluation.
	AppPolicyPath string
}

func New() (*Config, error) {
	cfg := Config{
		AppLogLevel:   slog.LevelInfo,
		AppListenAddr: os.Getenv("APP_LISTEN_ADDR"),
		DebugMode:     os.Getenv("APP_DEBUG_MODE") == "true",
		DebugDataPath: os.Getenv("APP_DEBUG_DATA_PATH"),

		USPSBaseURL:      os.Getenv("APP_USPS_BASE_URL"),
		USPSClientID:     os.Getenv("APP_USPS_CLIENT_ID"),
		USPSClientSecret: os.Getenv("APP_USPS_CLIENT_SECRET"),
		USPSTimeout:      5 * time.Second,

		SmartyBaseURL:   os.Getenv("APP_SMARTY_BASE_URL"),
		SmartyAuthID:    os.Getenv("APP_SMARTY_AUTH_ID"),
		SmartyAuthToken: os.Getenv("APP_SMARTY_AUTH_TOKEN"),
		SmartyTimeout:   5 * time.Second,

		AppProviderRetryEnabled: os.Getenv("APP_PROVIDER_RETRY_ENABLED") == "true",
		AppBreakerMaxFailures:   5,
		AppBatchConcurrency:     8,
		AppBatchTimeout:         0,

		AppPolicyPath: os.Getenv("APP_POLICY_PATH"),
	}

	if cfg.AppListenAddr == "" {
		cfg.AppListenAddr = ":8080"
	}
	if cfg.USPSBaseURL == "" {
		cfg.USPSBaseURL = "https://apis.usps.com"
	}
	if cfg.SmartyBaseURL == "" {
		cfg.SmartyBaseURL = "https://us-street.api.smarty.com"
	}

	if levelStr := os.Getenv("APP_LOG_LEVEL"); levelStr != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(levelStr)); err == nil {
			cfg.AppLogLevel = level
		}
	}

	cfg.USPSTimeout = durationEnv("APP_USPS_TIMEOUT", cfg.USPSTimeout)
	cfg.SmartyTimeout = durationEnv("APP_SMARTY_TIMEOUT", cfg.SmartyTimeout)
	cfg.AppBatchTimeout = durationEnv("APP_BATCH_TIMEOUT", cfg.AppBatchTimeout)

	if s := os.Getenv("APP_BATCH_CONCURRENCY"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			cfg.AppBatchConcurrency = n
		} else {
			slog.Warn("invalid APP_BATCH_CONCURRENCY, using default", "value", s, "default", cfg.AppBatchConcurrency)
		}
	}
	if s := os.Getenv("APP_BREAKER_MAX_FAILURES"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil {
			cfg.AppBreakerMaxFailures = uint32(n)
		} else {
			slog.Warn("invalid APP_BREAKER_MAX_FAILURES, using default", "value", s, "default", cfg.AppBreakerMaxFailures)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func durationEnv(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("invalid duration, using default", "var", key, "value", s, "default", def)
		return def
	}
	return d
}

// Validate checks that configuration fields are consistent. Missing provider
// credentials are not an error: the tier is simply unconfigured.
func (c *Config) Validate() error {
	if c.USPSTimeout <= 0 {
		return errors.New("APP_USPS_TIMEOUT must be positive")
	}
	if c.SmartyTimeout <= 0 {
		return errors.New("APP_SMARTY_TIMEOUT must be positive")
	}
	if c.AppBatchTimeout < 0 {
		return errors.New("APP_BATCH_TIMEOUT must not be negative")
	}
	if c.AppBatchConcurrency < 1 {
		return errors.New("APP_BATCH_CONCURRENCY must be at least 1")
	}
	if c.AppPolicyPath != "" {
		if _, err := os.Stat(c.AppPolicyPath); err != nil {
			return errors.New("APP_POLICY_PATH does not point at a readable file")
		}
	}
	return nil
}

// USPSConfigured reports whether the primary tier has credentials.
func (c *Config) USPSConfigured() bool {
	return c.USPSClientID != "" && c.USPSClientSecret != ""
}

// SmartyConfigured reports whether the secondary tier has credentials.
func (c *Config) SmartyConfigured() bool {
	return c.SmartyAuthID != "" && c.SmartyAuthToken != ""
}
