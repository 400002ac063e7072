// Package providers implements the concrete Adapter backends: an
// Anthropic Messages API client, an OpenAI-compatible chat-completions
// client (covers OpenAI itself plus DeepSeek/Groq/xAI/Together-style
// aliases), and a Bedrock client. The Anthropic and OpenAI-compatible
// clients share httpRetry for request-level retry of non-streaming calls
// so that retry/backoff policy lives in one place; Bedrock calls the AWS
// SDK client directly.
package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/talchain/olumi-cee/core"
)

// retryableStatus reports whether status is worth retrying: 429 and any
// 5xx, matching the failover facade's own retryability classification
// (§4.3) so a single HTTP attempt and a chain attempt agree on what
// "transient" means.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// httpRetry executes build (which must produce a fresh, unsent request
// each call, since a body reader can only be consumed once) with
// exponential backoff, retrying up to maxRetries times on a transient
// network error or a retryable HTTP status. Non-retryable 4xx responses
// are returned immediately without consuming a retry.
func httpRetry(ctx context.Context, client *http.Client, maxRetries int, build func() (*http.Request, error)) (*http.Response, error) {
	op := func() (*http.Response, error) {
		req, err := build()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 && !retryableStatus(resp.StatusCode) {
			return resp, backoff.Permanent(&statusError{status: resp.StatusCode, body: readAndClose(resp.Body)})
		}
		if resp.StatusCode >= 400 {
			return nil, &statusError{status: resp.StatusCode, body: readAndClose(resp.Body)}
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond

	resp, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(maxRetries+1)))
	if err != nil {
		var se *statusError
		if ok := asStatusError(err, &se); ok {
			return nil, se
		}
		return nil, fmt.Errorf("providers: request failed: %w", err)
	}
	return resp, nil
}

func readAndClose(r io.ReadCloser) string {
	defer r.Close()
	body, _ := io.ReadAll(r)
	return string(body)
}

// statusError carries a non-2xx HTTP response so callers can inspect the
// status code for retryability classification upstream (e.g. the
// failover facade).
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("providers: upstream status %d: %s", e.status, e.body)
}

// Status implements the llm.HTTPStatusError interface so the failover
// facade can classify retryability without importing this package.
func (e *statusError) Status() int { return e.status }

// Status returns the HTTP status code carried by err, if any.
func Status(err error) (int, bool) {
	var se *statusError
	if asStatusError(err, &se) {
		return se.status, true
	}
	return 0, false
}

func asStatusError(err error, target **statusError) bool {
	for err != nil {
		if se, ok := err.(*statusError); ok {
			*target = se
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// HTTPConfig is the common construction config for every HTTP-backed
// provider.
type HTTPConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Logger     core.Logger
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.Logger == nil {
		c.Logger = &core.NoOpLogger{}
	}
	return c
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
