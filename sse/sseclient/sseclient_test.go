package sseclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamYieldsEventsAndStopsAtTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("event: stage\ndata: {\"stage\":\"DRAFTING\"}\n\n"))
		w.Write([]byte("event: resume\ndata: {\"token\":\"tok-1\"}\n\n"))
		w.Write([]byte("event: complete\ndata: {}\n\n"))
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, errc := c.Stream(ctx, "a pricing decision")

	var types []string
	for ev := range events {
		types = append(types, ev.Type)
	}
	require.NoError(t, <-errc)
	assert.Equal(t, []string{"stage", "resume", "complete"}, types)
}

func TestStreamStopsImmediatelyOnAbort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, errc := c.Stream(ctx, "brief")
	for range events {
	}
	err := <-errc
	assert.ErrorIs(t, err, ErrAborted)
}

func TestStaticScheduleCapsAtLastEntry(t *testing.T) {
	s := newStaticSchedule([]time.Duration{time.Second, 2 * time.Second})
	assert.Equal(t, time.Second, s.NextBackOff())
	assert.Equal(t, 2*time.Second, s.NextBackOff())
	assert.Equal(t, 2*time.Second, s.NextBackOff())
}

func TestClassifyHTTPErrorExtractsRetryAfterSeconds(t *testing.T) {
	retryable, re := classifyHTTPError(429, []byte(`{"details":{"retry_after_seconds":5}}`))
	require.True(t, retryable)
	require.NotNil(t, re)
	assert.Equal(t, 5, re.retryAfterSeconds)
	assert.True(t, re.hasRetryAfter)
}

func TestClassifyHTTPErrorTreats4xxOtherThan429AsNonRetryable(t *testing.T) {
	retryable, _ := classifyHTTPError(400, []byte(`{}`))
	assert.False(t, retryable)
}
