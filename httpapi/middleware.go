package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/talchain/olumi-cee/cee"
	"github.com/talchain/olumi-cee/hmac"
	"github.com/talchain/olumi-cee/ratelimit"
)

// HeaderAPIKey carries the caller's API key, alongside the X-Olumi-*
// family of headers already defined for HMAC signing (§6).
const HeaderAPIKey = "X-Olumi-Api-Key"

// APIVersion is reported on every response via X-CEE-API-Version.
const APIVersion = "v1"

type ctxKey int

const requestIDKey ctxKey = iota

// requestIDFrom returns the request id stashed by withRequestID, or ""
// if called outside that middleware.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// withRequestID assigns every request a request id (the caller's
// X-CEE-Request-Id if present, else a fresh UUIDv4), stashes it on the
// context, and echoes it plus X-CEE-API-Version on the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-CEE-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-CEE-Request-Id", id)
		w.Header().Set("X-CEE-API-Version", APIVersion)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth accepts either an API key (HeaderAPIKey, checked against
// cfg.APIKeys) or a valid HMAC signature (verified via verifier), per
// §6's "API key header or HMAC" auth column. A nil verifier disables the
// HMAC branch, so the route accepts an API key only; router.go mounts
// graph-readiness and bias-check that way and every other route with
// both branches.
func requireAuth(apiKeys []string, verifier *hmac.Verifier) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		allowed[k] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := requestIDFrom(r.Context())

			if key := r.Header.Get(HeaderAPIKey); key != "" {
				if allowed[key] {
					next.ServeHTTP(w, r)
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "BAD_INPUT", "unknown API key", requestID, nil)
				return
			}

			sig := r.Header.Get(hmac.HeaderSignature)
			if sig == "" || verifier == nil {
				writeAuthError(w, http.StatusUnauthorized, "BAD_INPUT", "missing API key or HMAC signature", requestID, nil)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeAuthError(w, http.StatusBadRequest, "BAD_INPUT", "could not read request body", requestID, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			req := hmac.Request{
				Method:      r.Method,
				Path:        r.URL.Path,
				Body:        body,
				Signature:   sig,
				TimestampMs: r.Header.Get(hmac.HeaderTimestamp),
				Nonce:       r.Header.Get(hmac.HeaderNonce),
			}
			if verr := verifier.Verify(req, time.Now()); verr != nil {
				writeAuthError(w, http.StatusUnauthorized, "BAD_INPUT", "invalid HMAC signature", requestID, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimited enforces feature's per-key RPM budget via limiter, keyed
// by the caller's API key header (or, for HMAC-authenticated callers
// with no key header, the signature itself — still one budget per
// distinct caller identity).
func rateLimited(limiter *ratelimit.Limiter, feature string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := requestIDFrom(r.Context())
			key := r.Header.Get(HeaderAPIKey)
			if key == "" {
				key = r.Header.Get("X-Olumi-Signature")
			}

			allowed, retryAfter := limiter.Allow(feature, key)
			if !allowed {
				err := cee.New(cee.CodeRateLimit, "rate limit exceeded for "+feature, cee.Trace{RequestID: requestID}).
					WithDetails(cee.RateLimitDetails(retryAfter))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeCeeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
