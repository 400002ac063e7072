// Package cee implements the closed error taxonomy (§7): eight canonical
// error codes, each bound to an HTTP status and a retryability rule, plus
// the {schema, code, message, retryable, trace, details?, recovery?}
// response body shape every error conforms to.
package cee

import (
	"fmt"
	"net/http"
)

// Code is one of the closed set of canonical error codes.
type Code string

const (
	CodeValidationFailed    Code = "CEE_VALIDATION_FAILED"
	CodeLLMValidationFailed Code = "CEE_LLM_VALIDATION_FAILED"
	CodeGraphInvalid        Code = "CEE_GRAPH_INVALID"
	CodeRateLimit           Code = "CEE_RATE_LIMIT"
	CodeLLMUpstreamError    Code = "CEE_LLM_UPSTREAM_ERROR"
	CodeServiceUnavailable  Code = "CEE_SERVICE_UNAVAILABLE"
	CodeLLMTimeout          Code = "CEE_LLM_TIMEOUT"
	CodeInternalError       Code = "CEE_INTERNAL_ERROR"
)

type classification struct {
	status    int
	retryable bool
}

var taxonomy = map[Code]classification{
	CodeValidationFailed:    {http.StatusBadRequest, false},
	CodeLLMValidationFailed: {http.StatusBadRequest, false},
	CodeGraphInvalid:        {http.StatusBadRequest, false},
	CodeRateLimit:           {http.StatusTooManyRequests, true},
	CodeLLMUpstreamError:    {http.StatusBadGateway, true},
	CodeServiceUnavailable:  {http.StatusServiceUnavailable, true},
	CodeLLMTimeout:          {http.StatusGatewayTimeout, true},
	CodeInternalError:       {http.StatusInternalServerError, false},
}

// HTTPStatus returns the HTTP status bound to code. Unknown codes map to
// 500, the same default the taxonomy uses for CEE_INTERNAL_ERROR.
func HTTPStatus(code Code) int {
	if c, ok := taxonomy[code]; ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether code is retryable per the taxonomy.
func Retryable(code Code) bool {
	if c, ok := taxonomy[code]; ok {
		return c.retryable
	}
	return false
}

// Trace is the trace block every error body carries.
type Trace struct {
	RequestID     string `json:"request_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Recovery is populated only for CEE_LLM_VALIDATION_FAILED and
// CEE_GRAPH_INVALID.
type Recovery struct {
	Suggestion string   `json:"suggestion"`
	Hints      []string `json:"hints"`
}

// Error is the closed-taxonomy error type, implementing the error
// interface and carrying everything needed to render the response body.
type Error struct {
	Schema    string                 `json:"schema"`
	Code      Code                   `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Trace     Trace                  `json:"trace"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Recovery  *Recovery              `json:"recovery,omitempty"`

	// Err wraps the underlying cause for logging/errors.Is, never
	// serialised.
	Err error `json:"-"`
}

const schemaVersion = "cee.error.v1"

// New builds an Error for code with message, stamping retryability from
// the taxonomy.
func New(code Code, message string, trace Trace) *Error {
	return &Error{
		Schema:    schemaVersion,
		Code:      code,
		Message:   message,
		Retryable: Retryable(code),
		Trace:     trace,
	}
}

// Wrap builds an Error that also carries the underlying cause for
// logging, without serialising it into the response body.
func Wrap(code Code, message string, trace Trace, cause error) *Error {
	e := New(code, message, trace)
	e.Err = cause
	return e
}

// WithDetails attaches a details map and returns e for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRecovery attaches a recovery suggestion and returns e for chaining.
// Only meaningful for CEE_LLM_VALIDATION_FAILED and CEE_GRAPH_INVALID.
func (e *Error) WithRecovery(suggestion string, hints ...string) *Error {
	e.Recovery = &Recovery{Suggestion: suggestion, Hints: hints}
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status this error should be reported with.
func (e *Error) Status() int {
	return HTTPStatus(e.Code)
}

// RateLimitDetails builds the details block for a CEE_RATE_LIMIT error:
// retry_after_seconds alongside the standard retry-after header value.
func RateLimitDetails(retryAfterSeconds int) map[string]interface{} {
	return map[string]interface{}{"retry_after_seconds": retryAfterSeconds}
}
