// Package tool defines the tool registry and invocation capability
// consumed by the workflow executor and the direct tool-execution
// service surface (spec §4.4, §6).
package tool

import (
	"context"
	"sync"

	engerrors "github.com/cloudops-io/workflow-core/engine/errors"
)

// Category is a closed set of tool categories (spec §3).
type Category string

const (
	CategoryCompute       Category = "compute"
	CategoryNetworking    Category = "networking"
	CategoryStorage       Category = "storage"
	CategoryDatabase      Category = "database"
	CategoryIdentity      Category = "identity"
	CategoryObservability Category = "observability"
	CategoryPricing       Category = "pricing"
	CategorySearch        Category = "search"
	CategoryBilling       Category = "billing"
	CategoryLogging       Category = "logging"
)

var validCategories = map[Category]bool{
	CategoryCompute: true, CategoryNetworking: true, CategoryStorage: true,
	CategoryDatabase: true, CategoryIdentity: true, CategoryObservability: true,
	CategoryPricing: true, CategorySearch: true, CategoryBilling: true, CategoryLogging: true,
}

// ApprovalLevel determines whether a tool call must be gated by a
// human-issued approval token before invocation (spec §4.4).
type ApprovalLevel string

const (
	ApprovalAuto    ApprovalLevel = "auto"
	ApprovalConfirm ApprovalLevel = "confirm"
	ApprovalDanger  ApprovalLevel = "danger"
)

// Invoker is the capability the registry dispatches to. Concrete cloud
// SDK bindings live behind this interface — out of the core's scope
// per spec §1.
type Invoker interface {
	Invoke(ctx context.Context, toolName string, args map[string]any) (map[string]any, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, toolName string, args map[string]any) (map[string]any, error)

func (f InvokerFunc) Invoke(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	return f(ctx, toolName, args)
}

// Definition describes one registered tool. Immutable once registered.
type Definition struct {
	Name            string
	Category        Category
	ApprovalLevel   ApprovalLevel
	ParameterSchema map[string]any
	Invoker         Invoker

	// Idempotent marks a tool safe to retry automatically on transient
	// external failure. Side-effectful tools (the default, false) are
	// never retried automatically per spec §7.
	Idempotent bool
}

// Registry holds tool definitions keyed by name. It is closed-world
// per process: Register after Resolve-time reads is not supported
// concurrently without external synchronization by the caller during
// startup wiring, but Resolve itself is safe for concurrent readers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register adds a tool definition. It returns a Validation error if
// the category is not in the closed set or the name is already taken.
func (r *Registry) Register(def *Definition) error {
	if !validCategories[def.Category] {
		return engerrors.New(engerrors.Validation, "unknown tool category: "+string(def.Category))
	}
	if def.ApprovalLevel == "" {
		def.ApprovalLevel = ApprovalAuto
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return engerrors.New(engerrors.Validation, "tool already registered: "+def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// Resolve returns the definition for name, or a NotFound error.
func (r *Registry) Resolve(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	if !ok {
		return nil, engerrors.New(engerrors.NotFound, "unknown tool: "+name)
	}
	return def, nil
}

// List returns a snapshot of all registered tool names, for the
// `GET /tools` style listing surfaces.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}
