package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_LISTEN_ADDR", "APP_LOG_LEVEL", "APP_DEBUG_MODE", "APP_DEBUG_DATA_PATH",
		"APP_USPS_BASE_URL", "APP_USPS_CLIENT_ID", "APP_USPS_CLIENT_SECRET", "APP_USPS_TIMEOUT",
		"APP_SMARTY_BASE_URL", "APP_SMARTY_AUTH_ID", "APP_SMARTY_AUTH_TOKEN", "APP_SMARTY_TIMEOUT",
		"APP_PROVIDER_RETRY_ENABLED", "APP_BREAKER_MAX_FAILURES",
		"APP_BATCH_CONCURRENCY", "APP_BATCH_TIMEOUT", "APP_POLICY_PATH",
	} {
		t.Setenv(key, "")
	}
}

func TestNew_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppListenAddr)
	assert.Equal(t, slog.LevelInfo, cfg.AppLogLevel)
	assert.Equal(t, "https://apis.usps.com", cfg.USPSBaseURL)
	assert.Equal(t, "https://us-street.api.smarty.com", cfg.SmartyBaseURL)
	assert.Equal(t, 5*time.Second, cfg.USPSTimeout)
	assert.Equal(t, 5*time.Second, cfg.SmartyTimeout)
	assert.Equal(t, 8, cfg.AppBatchConcurrency)
	assert.Equal(t, uint32(5), cfg.AppBreakerMaxFailures)
	assert.False(t, cfg.AppProviderRetryEnabled)
	assert.False(t, cfg.USPSConfigured())
	assert.False(t, cfg.SmartyConfigured())
}

func TestNew_ReadsEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_LISTEN_ADDR", ":9191")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_USPS_CLIENT_ID", "id")
	t.Setenv("APP_USPS_CLIENT_SECRET", "secret")
	t.Setenv("APP_USPS_TIMEOUT", "750ms")
	t.Setenv("APP_SMARTY_AUTH_ID", "auth-id")
	t.Setenv("APP_SMARTY_AUTH_TOKEN", "auth-token")
	t.Setenv("APP_PROVIDER_RETRY_ENABLED", "true")
	t.Setenv("APP_BATCH_CONCURRENCY", "16")
	t.Setenv("APP_BATCH_TIMEOUT", "30s")
	t.Setenv("APP_BREAKER_MAX_FAILURES", "3")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":9191", cfg.AppListenAddr)
	assert.Equal(t, slog.LevelDebug, cfg.AppLogLevel)
	assert.Equal(t, 750*time.Millisecond, cfg.USPSTimeout)
	assert.True(t, cfg.AppProviderRetryEnabled)
	assert.Equal(t, 16, cfg.AppBatchConcurrency)
	assert.Equal(t, 30*time.Second, cfg.AppBatchTimeout)
	assert.Equal(t, uint32(3), cfg.AppBreakerMaxFailures)
	assert.True(t, cfg.USPSConfigured())
	assert.True(t, cfg.SmartyConfigured())
}

func TestNew_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_USPS_TIMEOUT", "not-a-duration")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.USPSTimeout)
}

func TestNew_RejectsBadConcurrency(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_BATCH_CONCURRENCY", "0")

	_, err := New()
	assert.Error(t, err)
}

func TestNew_RejectsMissingPolicyFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_POLICY_PATH", "/nonexistent/policy.rego")

	_, err := New()
	assert.Error(t, err)
}

func TestConfigured_RequiresBothCredentials(t *testing.T) {
	cfg := &Config{USPSClientID: "id"}
	assert.False(t, cfg.USPSConfigured())

	cfg.USPSClientSecret = "secret"
	assert.True(t, cfg.USPSConfigured())

	cfg = &Config{SmartyAuthID: "auth-id"}
	assert.False(t, cfg.SmartyConfigured())

	cfg.SmartyAuthToken = "auth-token"
	assert.True(t, cfg.SmartyConfigured())
}
