package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-automation"
)

// Handler runs a function with a per-attempt timeout and an explicit,
// bounded retry policy. The zero configuration makes a single attempt.
type Handler struct {
	logger        automation.Logger
	errorHandler  func(error)
	retryStrategy RetryStrategy
	retryIf       func(error) bool

	maxAttempts int
	timeout     time.Duration
}

// NewHandler constructs a Handler from various options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		errorHandler:  func(error) {},
		retryStrategy: NoDelayStrategy{},
		retryIf:       IsRetryable,
		maxAttempts:   1,
		logger:        automation.NopLogger{},
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

// MaxAttempts returns the configured attempt budget.
func (h *Handler) MaxAttempts() int {
	return h.maxAttempts
}

// Run invokes fn until it succeeds, the attempt budget is spent, the error
// is not retryable or ctx is done. A panic in fn is returned as an error.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	for attempt := 0; attempt < h.maxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			break
		}

		err = h.attempt(ctx, fn)
		if err == nil {
			return nil
		}

		if attempt+1 >= h.maxAttempts || !h.retryIf(err) {
			break
		}

		decision := DecideRetry(h.retryStrategy, attempt, err)
		if !decision.ShouldRetry {
			break
		}

		h.errorHandler(err)
		h.logger.Debug("attempt %d of %d failed, retrying in %s: %v",
			attempt+1, h.maxAttempts, decision.Delay, err)

		if !sleep(ctx, decision.Delay) {
			break
		}
	}

	return err
}

func (h *Handler) attempt(parent context.Context, fn func(context.Context) error) error {
	ctx, cancel := h.contextWithSettings(parent)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		defer func() { done <- err }()
		defer automation.RecoverError(&err, "runner.attempt", nil)
		err = fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && h.timedOut(ctx, parent) {
			return h.timeoutError(err)
		}
		return err
	case <-ctx.Done():
		// fn ignored cancellation; it keeps running in the background
		if h.timedOut(ctx, parent) {
			return h.timeoutError(ctx.Err())
		}
		return ctx.Err()
	}
}

func (h *Handler) timedOut(ctx, parent context.Context) bool {
	return h.timeout > 0 &&
		stderrors.Is(ctx.Err(), context.DeadlineExceeded) &&
		parent.Err() == nil
}

func (h *Handler) timeoutError(source error) error {
	return errors.WrapRetryable(source, errors.CategoryExternal,
		fmt.Sprintf("timed out after %s", h.timeout)).
		WithTextCode(automation.ErrCodeActionTimeout)
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(parent, h.timeout)
	}
	return context.WithCancel(parent)
}

// IsRetryable reports whether any error in the chain declares itself retryable.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if stderrors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
