package tool

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	engerrors "github.com/cloudops-io/workflow-core/engine/errors"
)

// MaxRetryAttempts bounds automatic retries per spec §7: "bounded to 2
// attempts with exponential backoff".
const MaxRetryAttempts = 2

// RetryInvoker wraps an Invoker with bounded exponential backoff for
// transient external failures on idempotent tools only. Side-effectful
// tools (Definition.Idempotent == false) are invoked exactly once by
// this wrapper, mirroring the Registry's own per-call knowledge.
type RetryInvoker struct {
	inner    Invoker
	registry *Registry
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRetryInvoker wraps inner, consulting registry to decide whether a
// given tool name is eligible for retry.
func NewRetryInvoker(inner Invoker, registry *Registry) *RetryInvoker {
	return &RetryInvoker{inner: inner, registry: registry, baseDelay: 100 * time.Millisecond, maxDelay: 2 * time.Second}
}

func (r *RetryInvoker) Invoke(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	def, resolveErr := r.registry.Resolve(toolName)
	idempotent := resolveErr == nil && def.Idempotent

	var lastErr error
	attempts := 1
	if idempotent {
		attempts = MaxRetryAttempts
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, r.baseDelay, r.maxDelay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		result, err := r.inner.Invoke(ctx, toolName, args)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var e *engerrors.Error
	if errors.As(err, &e) {
		return e.Kind == engerrors.ExternalCloud
	}
	return false
}

func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	delay := base * time.Duration(uint64(1)<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	return delay + jitter
}
