package cee

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusForEveryCode(t *testing.T) {
	cases := map[Code]int{
		CodeValidationFailed:    http.StatusBadRequest,
		CodeLLMValidationFailed: http.StatusBadRequest,
		CodeGraphInvalid:        http.StatusBadRequest,
		CodeRateLimit:           http.StatusTooManyRequests,
		CodeLLMUpstreamError:    http.StatusBadGateway,
		CodeServiceUnavailable:  http.StatusServiceUnavailable,
		CodeLLMTimeout:          http.StatusGatewayTimeout,
		CodeInternalError:       http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, HTTPStatus(code), "code %s", code)
	}
}

func TestRetryableForEveryCode(t *testing.T) {
	retryable := map[Code]bool{
		CodeValidationFailed:    false,
		CodeLLMValidationFailed: false,
		CodeGraphInvalid:        false,
		CodeRateLimit:           true,
		CodeLLMUpstreamError:    true,
		CodeServiceUnavailable:  true,
		CodeLLMTimeout:          true,
		CodeInternalError:       false,
	}
	for code, want := range retryable {
		assert.Equal(t, want, Retryable(code), "code %s", code)
	}
}

func TestNewStampsRetryableFromTaxonomy(t *testing.T) {
	e := New(CodeRateLimit, "too many requests", Trace{RequestID: "r1"})
	assert.True(t, e.Retryable)
	assert.Equal(t, schemaVersion, e.Schema)
	assert.Equal(t, http.StatusTooManyRequests, e.Status())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("upstream blew up")
	e := Wrap(CodeLLMUpstreamError, "upstream failed", Trace{RequestID: "r1"}, cause)

	assert.True(t, errors.Is(e, cause))
	assert.Contains(t, e.Error(), "upstream blew up")
}

func TestWithRecoveryAttaches(t *testing.T) {
	e := New(CodeGraphInvalid, "degenerate graph", Trace{RequestID: "r1"}).
		WithRecovery("simplify the brief", "remove circular goals")

	assert.Equal(t, "simplify the brief", e.Recovery.Suggestion)
	assert.Len(t, e.Recovery.Hints, 1)
}

func TestRateLimitDetailsShape(t *testing.T) {
	d := RateLimitDetails(42)
	assert.Equal(t, 42, d["retry_after_seconds"])
}

func TestUnknownCodeDefaultsToInternalServerError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Code("CEE_MADE_UP")))
	assert.False(t, Retryable(Code("CEE_MADE_UP")))
}
