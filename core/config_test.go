package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"PROMPTS_ENABLED", "CEE_LEGACY_PIPELINE_ENABLED", "ENABLE_EVIDENCE_PACK",
		"LLM_FAILOVER_PROVIDERS", "SSE_RESUME_LIVE_ENABLED", "ASSIST_API_KEYS",
		"HMAC_SECRET", "HMAC_MAX_SKEW_MS", "CEE_LOG_LEVEL", "CEE_LOG_FORMAT",
		"KUBERNETES_SERVICE_HOST",
		"CEE_DRAFT_GRAPH_RATE_LIMIT_RPM", "CEE_GRAPH_READINESS_RATE_LIMIT_RPM",
	}
	for _, v := range vars {
		orig, had := os.LookupEnv(v)
		os.Unsetenv(v)
		t.Cleanup(func() {
			if had {
				os.Setenv(v, orig)
			}
		})
	}
}

func TestNewConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.True(t, cfg.PromptsEnabled)
	assert.False(t, cfg.LegacyPipelineEnabled)
	assert.False(t, cfg.EnableEvidencePack)
	assert.True(t, cfg.SSEResumeLiveEnabled)
	assert.Empty(t, cfg.FailoverProviders)
	assert.Empty(t, cfg.APIKeys)
	assert.Equal(t, 5*time.Minute, cfg.HMACMaxSkew)
	assert.Equal(t, 30, cfg.FeatureRateLimitRPM["draft-graph"])
	assert.Equal(t, 60, cfg.FeatureRateLimitRPM["graph-readiness"])
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestNewConfigEnvironmentOverrides(t *testing.T) {
	clearConfigEnv(t)

	os.Setenv("PROMPTS_ENABLED", "false")
	os.Setenv("CEE_LEGACY_PIPELINE_ENABLED", "true")
	os.Setenv("LLM_FAILOVER_PROVIDERS", "anthropic, openai ,bedrock")
	os.Setenv("ASSIST_API_KEYS", "key-a,key-b")
	os.Setenv("HMAC_SECRET", "topsecret")
	os.Setenv("HMAC_MAX_SKEW_MS", "120000")
	os.Setenv("CEE_DRAFT_GRAPH_RATE_LIMIT_RPM", "5")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.False(t, cfg.PromptsEnabled)
	assert.True(t, cfg.LegacyPipelineEnabled)
	assert.Equal(t, []string{"anthropic", "openai", "bedrock"}, cfg.FailoverProviders)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.APIKeys)
	assert.Equal(t, "topsecret", cfg.HMACSecret)
	assert.Equal(t, 2*time.Minute, cfg.HMACMaxSkew)
	assert.Equal(t, 5, cfg.FeatureRateLimitRPM["draft-graph"])
}

func TestNewConfigKubernetesLogFormat(t *testing.T) {
	clearConfigEnv(t)
	os.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Development)
}

func TestNewConfigOptionsOverrideEnvironment(t *testing.T) {
	clearConfigEnv(t)
	os.Setenv("LLM_FAILOVER_PROVIDERS", "anthropic")

	cfg, err := NewConfig(
		WithFailoverProviders("bedrock", "openai"),
		WithFeatureRateLimit("bias-check", 5),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"bedrock", "openai"}, cfg.FailoverProviders)
	assert.Equal(t, 5, cfg.FeatureRateLimitRPM["bias-check"])
}

func TestNewConfigRejectsNonPositiveSkew(t *testing.T) {
	clearConfigEnv(t)
	os.Setenv("HMAC_MAX_SKEW_MS", "0")

	_, err := NewConfig()
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestConfigStringRedactsSecret(t *testing.T) {
	clearConfigEnv(t)
	os.Setenv("HMAC_SECRET", "topsecret")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.NotContains(t, cfg.String(), "topsecret")
	assert.Contains(t, cfg.String(), "hmac_secret_set=true")
}
