package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// NewRouter builds the chi.Mux implementing the endpoint table in §6,
// wiring admission (C11 rate limiting, API-key/HMAC auth) around every
// handler. Grounded on the handler-registration idiom in
// ui/transports/sse/sse.go, generalised from one auto-registered
// transport to an explicit route table since this service exposes
// several distinct endpoints rather than one chat transport.
func NewRouter(d *Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", HeaderAPIKey, "X-Olumi-Signature", "X-Olumi-Timestamp", "X-Olumi-Nonce", "X-Resume-Token", "X-Resume-Mode"},
		ExposedHeaders:   []string{"X-CEE-Request-Id", "X-CEE-API-Version", "Retry-After"},
	}))
	r.Use(withRequestID)

	apiKeys := d.Config.APIKeys
	bothAuth := requireAuth(apiKeys, d.HMACVerifier)
	apiKeyOnlyAuth := requireAuth(apiKeys, nil)

	r.Route("/assist", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.With(bothAuth, rateLimited(d.Limiter, "draft-graph")).
				Post("/draft-graph", d.handleDraftGraph)
			r.With(apiKeyOnlyAuth, rateLimited(d.Limiter, "graph-readiness")).
				Post("/graph-readiness", d.handleGraphReadiness)
			r.With(apiKeyOnlyAuth, rateLimited(d.Limiter, "bias-check")).
				Post("/bias-check", d.handleBiasCheck)
		})

		r.With(bothAuth, rateLimited(d.Limiter, "draft-graph")).
			Post("/draft-graph/stream", d.handleDraftGraphStream)
		r.With(bothAuth, rateLimited(d.Limiter, "draft-graph")).
			Post("/draft-graph/resume", d.handleDraftGraphResume)

		if d.Config.EnableEvidencePack {
			r.With(bothAuth).Post("/evidence-pack", d.handleEvidencePack)
		}
	})

	return r
}
