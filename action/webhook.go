package action

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-automation"
)

const (
	DefaultWebhookTimeout    = 10 * time.Second
	MaxWebhookTimeout        = 60 * time.Second
	maxWebhookResponseBytes  = 1 << 20
	webhookUserAgent         = "go-automation/webhook"
	webhookContentTypeHeader = "Content-Type"
)

type webhookConfig struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      any               `json:"body"`
	TimeoutMS int               `json:"timeout_ms"`
}

func (c webhookConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.URL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.Method, oneOf("GET", "POST", "PUT", "PATCH", "DELETE")),
		validation.Field(&c.TimeoutMS, validation.Min(0)),
	)
}

func httpURL(value any) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return validation.NewError("validation_url", "must be an absolute http(s) url")
	}
	return nil
}

// WebhookOption configures a WebhookExecutor.
type WebhookOption func(*WebhookExecutor)

// WithHTTPClient sets the client used for calls.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookExecutor) {
		if c != nil {
			w.client = c
		}
	}
}

// WithTimeouts sets the default and maximum call timeout.
func WithTimeouts(def, max time.Duration) WebhookOption {
	return func(w *WebhookExecutor) {
		if def > 0 {
			w.defaultTimeout = def
		}
		if max > 0 {
			w.maxTimeout = max
		}
	}
}

// WithHostRateLimit limits calls per destination host.
func WithHostRateLimit(perSecond float64, burst int) WebhookOption {
	return func(w *WebhookExecutor) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		w.limits = &hostLimiter{
			limit:    rate.Limit(perSecond),
			burst:    burst,
			limiters: make(map[string]*rate.Limiter),
		}
	}
}

// WebhookExecutor handles CALL_WEBHOOK. It owns its transport so it is
// always registered.
type WebhookExecutor struct {
	client         *http.Client
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	limits         *hostLimiter
}

func NewWebhookExecutor(opts ...WebhookOption) *WebhookExecutor {
	w := &WebhookExecutor{
		client:         &http.Client{},
		defaultTimeout: DefaultWebhookTimeout,
		maxTimeout:     MaxWebhookTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.defaultTimeout > w.maxTimeout {
		w.defaultTimeout = w.maxTimeout
	}
	return w
}

func (w *WebhookExecutor) Kind() automation.ActionKind { return automation.ActionCallWebhook }

func (w *WebhookExecutor) Execute(ctx context.Context, raw map[string]any, actx automation.Context) (Result, error) {
	var cfg webhookConfig
	if raw != nil {
		// accept lower case methods
		if m, ok := raw["method"].(string); ok {
			raw = automation.CloneMap(raw)
			raw["method"] = strings.ToUpper(strings.TrimSpace(m))
		}
	}
	if err := decodeConfig(w.Kind(), raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}

	timeout := w.defaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	if timeout > w.maxTimeout {
		timeout = w.maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, _ := url.Parse(cfg.URL)
	if err := w.limits.wait(ctx, target.Host); err != nil {
		return nil, w.transportError(ctx, cfg, timeout, err)
	}

	var body io.Reader
	if cfg.Method != http.MethodGet && cfg.Method != http.MethodDelete {
		payload := cfg.Body
		if raw != nil {
			if b, ok := raw["body"]; ok {
				payload = b
			}
		}
		if payload == nil {
			payload = defaultWebhookPayload(actx)
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, automation.NewError(automation.ErrActionConfig, "webhook body is not serializable", err,
				map[string]any{"action": w.Kind().String()})
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, body)
	if err != nil {
		return nil, automation.NewError(automation.ErrActionConfig, "webhook request is invalid", err,
			map[string]any{"action": w.Kind().String()})
	}
	req.Header.Set("User-Agent", webhookUserAgent)
	if body != nil {
		req.Header.Set(webhookContentTypeHeader, "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, w.transportError(ctx, cfg, timeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBytes))
	if err != nil {
		return nil, w.transportError(ctx, cfg, timeout, err)
	}

	result := Result{
		"status_code": resp.StatusCode,
		"url":         cfg.URL,
		"method":      cfg.Method,
		"response":    decodeResponse(resp.Header.Get(webhookContentTypeHeader), data),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("webhook %s %s returned %d", cfg.Method, cfg.URL, resp.StatusCode)
		meta := map[string]any{"action": w.Kind().String(), "status_code": resp.StatusCode}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return result, errors.NewRetryable(msg, errors.CategoryExternal).
				WithTextCode(automation.ErrCodeActionFailed).
				WithCode(resp.StatusCode).
				WithMetadata(meta)
		}
		return result, automation.NewError(automation.ErrActionFailed, msg, nil, meta)
	}
	return result, nil
}

func (w *WebhookExecutor) transportError(ctx context.Context, cfg webhookConfig, timeout time.Duration, err error) error {
	meta := map[string]any{"action": w.Kind().String(), "url": cfg.URL}
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.WrapRetryable(err, errors.CategoryExternal,
			fmt.Sprintf("webhook %s timed out after %s", cfg.URL, timeout)).
			WithTextCode(automation.ErrCodeActionTimeout).
			WithMetadata(meta)
	}
	return errors.WrapRetryable(err, errors.CategoryExternal,
		fmt.Sprintf("webhook %s %s failed", cfg.Method, cfg.URL)).
		WithTextCode(automation.ErrCodeActionFailed).
		WithMetadata(meta)
}

func defaultWebhookPayload(actx automation.Context) map[string]any {
	return map[string]any{
		"event":       actx.Event,
		"entity_type": actx.EntityType,
		"entity_id":   actx.EntityID,
		"owner_id":    actx.OwnerID,
		"entity":      actx.Entity,
	}
}

func decodeResponse(contentType string, data []byte) any {
	if len(data) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") || json.Valid(data) {
		var out any
		if err := json.Unmarshal(data, &out); err == nil {
			return out
		}
	}
	return string(data)
}

type hostLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func (h *hostLimiter) wait(ctx context.Context, host string) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[host] = l
	}
	h.mu.Unlock()
	return l.Wait(ctx)
}
