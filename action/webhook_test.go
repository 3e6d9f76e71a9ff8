package action

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/runner"
)

func TestWebhookDefaultPayload(t *testing.T) {
	var received map[string]any
	var method, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	exec := NewWebhookExecutor()
	res, err := exec.Execute(context.Background(), map[string]any{
		"url":     srv.URL + "/hooks/lead",
		"headers": map[string]any{"X-Token": "abc"},
	}, leadContext())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "LEAD_CREATED", received["event"])
	assert.Equal(t, "lead-1", received["entity_id"])
	assert.Equal(t, 200, res["status_code"])
	assert.Equal(t, map[string]any{"accepted": true}, res["response"])
}

func TestWebhookCustomBodyAndMethod(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	res, err := NewWebhookExecutor().Execute(context.Background(), map[string]any{
		"url":     srv.URL,
		"method":  "put",
		"headers": map[string]any{"X-Token": "abc"},
		"body":    map[string]any{"custom": 1},
	}, leadContext())
	require.NoError(t, err)
	assert.Equal(t, float64(1), received["custom"])
	assert.Equal(t, "ok", res["response"])
}

func TestWebhookStatusClassification(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	exec := NewWebhookExecutor()
	res, err := exec.Execute(context.Background(), map[string]any{"url": srv.URL}, leadContext())
	require.Error(t, err)
	assert.True(t, runner.IsRetryable(err))
	assert.Equal(t, automation.ErrCodeActionFailed, automation.ErrorCode(err))
	assert.Equal(t, 500, res["status_code"])

	status = http.StatusBadRequest
	_, err = exec.Execute(context.Background(), map[string]any{"url": srv.URL}, leadContext())
	require.Error(t, err)
	assert.False(t, runner.IsRetryable(err))
	assert.True(t, automation.IsActionFailure(err))
}

func TestWebhookTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewWebhookExecutor().Execute(context.Background(), map[string]any{
		"url":        srv.URL,
		"timeout_ms": 50,
	}, leadContext())
	require.Error(t, err)
	assert.Equal(t, automation.ErrCodeActionTimeout, automation.ErrorCode(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWebhookTimeoutIsCapped(t *testing.T) {
	exec := NewWebhookExecutor(WithTimeouts(time.Second, 2*time.Second))
	assert.Equal(t, time.Second, exec.defaultTimeout)
	assert.Equal(t, 2*time.Second, exec.maxTimeout)

	exec = NewWebhookExecutor(WithTimeouts(time.Minute, time.Second))
	assert.Equal(t, time.Second, exec.defaultTimeout)
}

func TestWebhookInvalidConfig(t *testing.T) {
	exec := NewWebhookExecutor()
	for _, cfg := range []map[string]any{
		{},
		{"url": "not a url"},
		{"url": "ftp://example.com"},
		{"url": "https://example.com", "method": "TRACE"},
	} {
		_, err := exec.Execute(context.Background(), cfg, leadContext())
		require.Error(t, err)
		assert.Equal(t, automation.ErrCodeActionConfig, automation.ErrorCode(err), "config %v", cfg)
	}
}

func TestWebhookHostRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exec := NewWebhookExecutor(WithHostRateLimit(1, 1))
	_, err := exec.Execute(context.Background(), map[string]any{"url": srv.URL}, leadContext())
	require.NoError(t, err)

	// the second call needs a token a second away, beyond the call timeout
	_, err = exec.Execute(context.Background(), map[string]any{"url": srv.URL, "timeout_ms": 20}, leadContext())
	require.Error(t, err)
}
