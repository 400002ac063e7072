package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the environment-driven configuration for the assist engine.
// Values are resolved once at startup from the flags named in the external
// interfaces spec: three-layer priority is default -> environment variable
// -> functional option, following the same shape as the teacher framework's
// Config/ConfigOption pattern.
type Config struct {
	// PromptsEnabled gates the prompt registry/cache (C1). When false, no
	// registry is built and adapters use ChatAdapter's built-in instruction.
	PromptsEnabled bool

	// LegacyPipelineEnabled gates the deprecated draft pipeline code path.
	// When false, legacy entry points fail with a stable, greppable message.
	LegacyPipelineEnabled bool

	// EnableEvidencePack gates the /assist/evidence-pack endpoint.
	EnableEvidencePack bool

	// FailoverProviders is the ordered provider alias chain for C3, e.g.
	// "anthropic,openai,bedrock".
	FailoverProviders []string

	// SSEResumeLiveEnabled gates live-resume mode (C9). When false, resume
	// requests with ?mode=live gracefully degrade to replay-only.
	SSEResumeLiveEnabled bool

	// FeatureRateLimitRPM holds per-feature RPM budgets parsed from
	// CEE_<FEATURE>_RATE_LIMIT_RPM, keyed by the lowercased feature name
	// (e.g. "draft-graph", "graph-readiness").
	FeatureRateLimitRPM map[string]int

	// APIKeys is the set of keys accepted by the API-key auth path.
	APIKeys []string

	// HMACSecret signs and verifies request HMAC signatures (A4).
	HMACSecret string

	// HMACMaxSkew bounds the accepted clock skew for HMAC timestamps.
	HMACMaxSkew time.Duration

	// Logging configures A1.
	Logging LoggingConfig

	// Development enables human-readable text logs and other dev-mode
	// conveniences (otherwise JSON logs are used, auto-detected under k8s).
	Development bool

	logger Logger
}

// LoggingConfig controls the structured logger (A1).
type LoggingConfig struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // "json" or "text"
}

// ConfigOption configures a Config; functional options take priority over
// environment variables, matching the teacher's NewConfig(opts...) idiom.
type ConfigOption func(*Config)

// WithLogger attaches a logger used for configuration-time diagnostics.
func WithLogger(logger Logger) ConfigOption {
	return func(c *Config) { c.logger = logger }
}

// WithFailoverProviders overrides the provider chain.
func WithFailoverProviders(aliases ...string) ConfigOption {
	return func(c *Config) { c.FailoverProviders = aliases }
}

// WithFeatureRateLimit sets the RPM budget for a single feature.
func WithFeatureRateLimit(feature string, rpm int) ConfigOption {
	return func(c *Config) {
		if c.FeatureRateLimitRPM == nil {
			c.FeatureRateLimitRPM = map[string]int{}
		}
		c.FeatureRateLimitRPM[strings.ToLower(feature)] = rpm
	}
}

// defaultFeatureRPM is applied when no environment override is present.
var defaultFeatureRPM = map[string]int{
	"draft-graph":     30,
	"options":         30,
	"graph-readiness": 60,
	"bias-check":      60,
}

// NewConfig builds a Config from the environment, then applies opts.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		PromptsEnabled:        boolEnv("PROMPTS_ENABLED", true),
		LegacyPipelineEnabled: boolEnv("CEE_LEGACY_PIPELINE_ENABLED", false),
		EnableEvidencePack:    boolEnv("ENABLE_EVIDENCE_PACK", false),
		FailoverProviders:     csvEnv("LLM_FAILOVER_PROVIDERS", nil),
		SSEResumeLiveEnabled:  boolEnv("SSE_RESUME_LIVE_ENABLED", true),
		FeatureRateLimitRPM:   map[string]int{},
		APIKeys:               csvEnv("ASSIST_API_KEYS", nil),
		HMACSecret:            os.Getenv("HMAC_SECRET"),
		HMACMaxSkew:           durationEnv("HMAC_MAX_SKEW_MS", 5*time.Minute),
		Logging: LoggingConfig{
			Level:  envOr("CEE_LOG_LEVEL", "INFO"),
			Format: detectLogFormat(),
		},
		Development: os.Getenv("KUBERNETES_SERVICE_HOST") == "",
		logger:      &NoOpLogger{},
	}

	for feature, rpm := range defaultFeatureRPM {
		cfg.FeatureRateLimitRPM[feature] = rpm
	}
	for _, e := range os.Environ() {
		const prefix = "CEE_"
		const suffix = "_RATE_LIMIT_RPM"
		if !strings.HasPrefix(e, prefix) {
			continue
		}
		kv := strings.SplitN(e, "=", 2)
		if len(kv) != 2 || !strings.HasSuffix(kv[0], suffix) {
			continue
		}
		feature := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(kv[0], prefix), suffix))
		feature = strings.ReplaceAll(feature, "_", "-")
		if rpm, err := strconv.Atoi(kv[1]); err == nil {
			cfg.FeatureRateLimitRPM[feature] = rpm
		}
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HMACMaxSkew <= 0 {
		return &FrameworkError{Op: "NewConfig", Kind: "config", Message: "HMAC_MAX_SKEW_MS must be positive", Err: ErrInvalidConfiguration}
	}
	return nil
}

func detectLogFormat() string {
	if f := os.Getenv("CEE_LOG_FORMAT"); f != "" {
		return f
	}
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	return "text"
}

func boolEnv(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func csvEnv(name string, def []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationEnv(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// String renders a redacted summary suitable for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{prompts=%v legacy_pipeline=%v evidence_pack=%v failover=%v sse_live=%v keys=%d hmac_secret_set=%v}",
		c.PromptsEnabled, c.LegacyPipelineEnabled, c.EnableEvidencePack,
		c.FailoverProviders, c.SSEResumeLiveEnabled, len(c.APIKeys), c.HMACSecret != "",
	)
}
