package tool

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	engerrors "github.com/cloudops-io/workflow-core/engine/errors"
)

// CircuitInvoker wraps an Invoker with a per-tool circuit breaker, so
// a cloud API failing repeatedly trips open instead of the executor
// retrying straight into an outage. One breaker is created lazily per
// tool name the first time it is invoked.
type CircuitInvoker struct {
	inner    Invoker
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitInvoker wraps inner with per-tool breakers.
func NewCircuitInvoker(inner Invoker) *CircuitInvoker {
	return &CircuitInvoker{inner: inner, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (c *CircuitInvoker) breakerFor(toolName string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[toolName]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        toolName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[toolName] = b
	return b
}

// Invoke runs the underlying invoker through the tool's breaker. A
// tripped breaker surfaces as an ExternalCloud error so the caller's
// compensation/error-handling path treats it the same as a downstream
// failure.
func (c *CircuitInvoker) Invoke(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	b := c.breakerFor(toolName)
	result, err := b.Execute(func() (any, error) {
		return c.inner.Invoke(ctx, toolName, args)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, engerrors.Wrap(engerrors.ExternalCloud, "tool "+toolName+" circuit open", err)
		}
		return nil, err
	}
	return result.(map[string]any), nil
}
