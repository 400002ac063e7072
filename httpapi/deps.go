// Package httpapi implements A5, the chi-routed HTTP surface named in
// spec.md §6: admission (C11) wraps every handler, the draft-graph
// family wires C8 (envelope) around C7 (pipeline orchestrator), and the
// streaming endpoints delegate to sse.Handler (C9). Grounded on the
// handler-registration idiom in ui/transports/sse/sse.go
// (CreateHandler(agent) http.Handler) and on ui/circuit_breaker_transport.go
// for wrapping a transport with resilience; this package is deliberately
// thin, route wiring over already-built components rather than a new
// home for business logic.
package httpapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/talchain/olumi-cee/core"
	"github.com/talchain/olumi-cee/hmac"
	"github.com/talchain/olumi-cee/pipeline/orchestrator"
	"github.com/talchain/olumi-cee/ratelimit"
	"github.com/talchain/olumi-cee/sse"
)

// Dependencies bundles every already-built component the router wires
// together. Callers (cmd/cee-server) construct one of these and pass it
// to NewRouter.
type Dependencies struct {
	Config *core.Config

	Orchestrator *orchestrator.Orchestrator

	Limiter *ratelimit.Limiter

	SSEHandler *sse.Handler
	SSEManager *sse.Manager

	HMACVerifier *hmac.Verifier

	Logger core.Logger
	Telem  core.Telemetry
}

// validate is a single, package-level validator instance; per the
// go-playground/validator docs it caches struct metadata and is safe
// for concurrent use.
var validate = validator.New()
