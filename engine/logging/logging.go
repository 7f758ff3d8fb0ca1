// Package logging provides the structured logger shared across the
// engine. It wraps zap the way the portal's other services do, rather
// than reaching for fmt/log in library code.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	global = l
}

// Set replaces the process-wide logger. Call once during startup.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// L returns the current process-wide logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// ForRun returns a logger scoped to a single workflow run.
func ForRun(runID, orgID string) *zap.Logger {
	return L().With(zap.String("run_id", runID), zap.String("org_id", orgID))
}

// ForNode returns a logger further scoped to a single node dispatch.
func ForNode(base *zap.Logger, nodeID, nodeKind string) *zap.Logger {
	return base.With(zap.String("node_id", nodeID), zap.String("node_kind", nodeKind))
}
