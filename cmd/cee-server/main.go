// Command cee-server wires A1-A5 and C1-C11 together and starts the
// HTTP server named in §6. Construction follows the teacher's
// core/cmd + Framework functional-options style: one ordered pass
// building each component from core.Config, each defaulting to a
// no-op/in-memory implementation when its environment isn't
// configured, so the server is runnable locally with zero setup.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talchain/olumi-cee/core"
	"github.com/talchain/olumi-cee/failover"
	"github.com/talchain/olumi-cee/hmac"
	"github.com/talchain/olumi-cee/httpapi"
	"github.com/talchain/olumi-cee/llm"
	"github.com/talchain/olumi-cee/llm/providers"
	"github.com/talchain/olumi-cee/logging"
	"github.com/talchain/olumi-cee/metrics"
	"github.com/talchain/olumi-cee/pipeline/orchestrator"
	"github.com/talchain/olumi-cee/prompt"
	"github.com/talchain/olumi-cee/ratelimit"
	"github.com/talchain/olumi-cee/sse"
	"github.com/talchain/olumi-cee/telemetry"
)

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("cee-server: config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("cee-server: logger: %v", err)
	}
	logger.Info("starting cee-server", map[string]interface{}{"config": cfg.String()})

	telem, metricsHandler, shutdownTelem := buildTelemetry(logger)
	defer shutdownTelem()

	adapter := buildAdapter(cfg, logger, telem)
	orch := orchestrator.New(adapter, logger, telem)

	limiter := ratelimit.New(func(feature string) int {
		return cfg.FeatureRateLimitRPM[feature]
	})

	sseHandler, sseManager, closeSSE := buildSSE(cfg, logger)
	defer closeSSE()

	var verifier *hmac.Verifier
	if cfg.HMACSecret != "" {
		verifier = hmac.NewVerifier([]byte(cfg.HMACSecret), cfg.HMACMaxSkew)
		defer verifier.Stop()
	}

	deps := &httpapi.Dependencies{
		Config:       cfg,
		Orchestrator: orch,
		Limiter:      limiter,
		SSEHandler:   sseHandler,
		SSEManager:   sseManager,
		HMACVerifier: verifier,
		Logger:       logger,
		Telem:        telem,
	}
	router := httpapi.NewRouter(deps)
	if metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		mux.Handle("/", router)
		router = mux
	}

	addr := ":" + envOr("PORT", "8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Error("server failed", map[string]interface{}{"error": err.Error()})
	case <-stop:
		logger.Info("shutdown signal received", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

// buildTelemetry picks the server's metrics backend from METRICS_BACKEND:
//
//   - "prometheus": an in-process metrics.Registry scraped over /metrics,
//     for deployments that pull metrics rather than push them.
//   - anything else (the default): OTel, pushed to OTEL_EXPORTER_OTLP_ENDPOINT
//     when that's set, else core.NoOpTelemetry.
//
// Either way, initializing the backend through telemetry.Initialize (OTel)
// or metrics.NewTelemetry (Prometheus) is what makes resilience's
// circuit-breaker and retry metrics actually reach an exporter: they emit
// through telemetry.Counter/Histogram/Gauge, which route to whichever
// backend buildTelemetry activated.
func buildTelemetry(logger core.Logger) (telem core.Telemetry, metricsHandler http.Handler, shutdown func()) {
	if strings.EqualFold(os.Getenv("METRICS_BACKEND"), "prometheus") {
		registry := metrics.NewRegistry()
		logger.Info("telemetry backend: prometheus", map[string]interface{}{"path": "/metrics"})
		return metrics.NewTelemetry("cee-server", registry), promhttp.HandlerFor(registry.Prometheus(), promhttp.HandlerOpts{}), func() {}
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return &core.NoOpTelemetry{}, nil, func() {}
	}
	if err := telemetry.Initialize(telemetry.Config{ServiceName: "cee-server", Endpoint: endpoint}); err != nil {
		logger.Warn("telemetry disabled: failed to start OTel provider", map[string]interface{}{"error": err.Error()})
		return &core.NoOpTelemetry{}, nil, func() {}
	}
	provider := telemetry.GetTelemetryProvider()
	if provider == nil {
		logger.Warn("telemetry disabled: registry initialized but no provider available", nil)
		return &core.NoOpTelemetry{}, nil, func() {}
	}
	return provider, nil, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// buildAdapter resolves cfg.FailoverProviders into a chain of llm.Adapter
// values behind a single failover.Facade, per §4.3. An empty chain
// defaults to a bare OpenAI-compatible backend so a minimally-configured
// environment (one API key env var) still runs.
func buildAdapter(cfg *core.Config, logger core.Logger, telem core.Telemetry) llm.Adapter {
	var prompts *prompt.Registry
	if cfg.PromptsEnabled {
		prompts = prompt.NewRegistry(prompt.NewInMemoryStore(), logger, telem)
	}

	aliases := cfg.FailoverProviders
	if len(aliases) == 0 {
		aliases = []string{"openai"}
	}

	adapters := make([]llm.Adapter, 0, len(aliases))
	for _, alias := range aliases {
		backend, err := buildBackend(alias, logger)
		if err != nil {
			logger.Warn("skipping failover provider", map[string]interface{}{"alias": alias, "error": err.Error()})
			continue
		}
		adapters = append(adapters, llm.EnforceInvariants(llm.NewChatAdapter(backend, prompts), llm.DefaultSizeCaps()))
	}
	if len(adapters) == 0 {
		// No provider could be built from the environment; still return a
		// usable adapter chain so draft-graph calls fail with a clear
		// upstream error instead of a nil-pointer panic.
		adapters = append(adapters, llm.EnforceInvariants(llm.NewChatAdapter(providers.NewOpenAICompatible("openai", providers.HTTPConfig{Logger: logger}), prompts), llm.DefaultSizeCaps()))
	}
	return failover.New(adapters, logger, telem)
}

// buildBackend constructs the ChatBackend for one failover alias:
// "anthropic", "bedrock", or an OpenAI-compatible alias ("openai",
// "openai.deepseek", "openai.groq", ...).
func buildBackend(alias string, logger core.Logger) (llm.ChatBackend, error) {
	switch {
	case alias == "anthropic":
		return providers.NewAnthropic(providers.HTTPConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  os.Getenv("ANTHROPIC_MODEL"),
			Logger: logger,
		}), nil
	case alias == "bedrock":
		region := envOr("AWS_REGION", "us-east-1")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, err
		}
		return providers.NewBedrock(awsCfg, os.Getenv("BEDROCK_MODEL")), nil
	case alias == "openai" || strings.HasPrefix(alias, "openai."):
		return providers.NewOpenAICompatible(alias, providers.HTTPConfig{Logger: logger}), nil
	default:
		return providers.NewOpenAICompatible("openai."+alias, providers.HTTPConfig{Logger: logger}), nil
	}
}

// buildSSE wires the resume/replay buffer: Redis-backed when REDIS_URL
// is set (required for any multi-process deployment, per §5), else an
// in-memory buffer suitable for a single local process. The 10-minute
// idle expiry matches the Open Question decision recorded in DESIGN.md.
func buildSSE(cfg *core.Config, logger core.Logger) (*sse.Handler, *sse.Manager, func()) {
	const idleExpiry = 10 * time.Minute

	var buffer sse.Buffer
	var closeBuffer func()
	if url := os.Getenv("REDIS_URL"); url != "" {
		redisBuf, err := sse.NewRedisBuffer(url, idleExpiry)
		if err != nil {
			logger.Warn("falling back to in-memory SSE buffer: redis unavailable", map[string]interface{}{"error": err.Error()})
			memBuf := sse.NewMemoryBuffer(idleExpiry)
			buffer, closeBuffer = memBuf, memBuf.Stop
		} else {
			buffer, closeBuffer = redisBuf, func() {}
		}
	} else {
		memBuf := sse.NewMemoryBuffer(idleExpiry)
		buffer, closeBuffer = memBuf, memBuf.Stop
	}

	manager := sse.NewManager(buffer)

	secret := os.Getenv("SSE_RESUME_TOKEN_SECRET")
	if secret == "" {
		secret = cfg.HMACSecret
	}
	if secret == "" {
		secret = "dev-only-insecure-resume-secret"
		logger.Warn("SSE_RESUME_TOKEN_SECRET not set: using an insecure development default", nil)
	}
	signer := sse.NewTokenSigner([]byte(secret))

	handler := sse.NewHandlerFromConfig(manager, signer, cfg)
	return handler, manager, closeBuffer
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
