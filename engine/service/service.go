// Package service exposes the core's external interfaces (spec §6) as
// plain, transport-agnostic Go methods: ExecuteTool, DescribeTool,
// ApproveTool, ListPendingApprovals. An HTTP (or gRPC, or CLI) layer
// mounts these directly; this package never imports net/http.
package service

import (
	"context"

	"github.com/cloudops-io/workflow-core/engine"
	"github.com/cloudops-io/workflow-core/engine/approval"
	"github.com/cloudops-io/workflow-core/engine/tool"
)

// Service is the thin request surface described in spec §2's data
// flow: guardrails, registry resolution, approval enforcement, and
// invocation all happen inside the WorkflowExecutor this wraps.
type Service struct {
	Executor  *engine.WorkflowExecutor
	Tools     *tool.Registry
	Approvals approval.Store
}

// New builds a Service over an already-wired executor.
func New(executor *engine.WorkflowExecutor, tools *tool.Registry, approvals approval.Store) *Service {
	return &Service{Executor: executor, Tools: tools, Approvals: approvals}
}

// ExecuteTool invokes a single registered tool outside of any
// workflow definition.
func (s *Service) ExecuteTool(ctx context.Context, rc engine.RunContext, toolName string, args map[string]any) (map[string]any, error) {
	return s.Executor.InvokeTool(ctx, toolName, args, rc)
}

// DescribeTool returns the registered definition for toolName, or a
// NotFound error.
func (s *Service) DescribeTool(_ context.Context, toolName string) (*tool.Definition, error) {
	return s.Tools.Resolve(toolName)
}

// ApproveTool resolves a pending approval with a human decision,
// scoped to orgID per spec §4.5's cross-tenant protection.
func (s *Service) ApproveTool(ctx context.Context, toolCallID string, approved bool, orgID string) error {
	return s.Approvals.Resolve(ctx, toolCallID, approved, orgID)
}

// ListPendingApprovals lists unresolved approvals scoped to orgID.
func (s *Service) ListPendingApprovals(ctx context.Context, orgID string) ([]approval.Pending, error) {
	return s.Approvals.Pending(ctx, orgID)
}

// ListTools returns every registered tool definition, for the
// `GET /tools` listing surface.
func (s *Service) ListTools(_ context.Context) []*tool.Definition {
	return s.Tools.List()
}
