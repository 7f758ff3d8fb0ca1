package approval

import (
	"context"
	"sync"
	"time"

	engerrors "github.com/cloudops-io/workflow-core/engine/errors"
)

// MemoryStore is the default in-process ApprovalStore: a mutex-guarded
// map, matching the shared-resource policy of spec §5 ("operations
// use a serialized critical section keyed on toolCallId"). It does
// not survive a process restart — durable resumption is explicitly
// out of scope (spec §9 open question).
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	pendings map[string]*pendingEntry
}

type pendingEntry struct {
	Pending
	ch chan bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]Record),
		pendings: make(map[string]*pendingEntry),
	}
}

func (s *MemoryStore) Record(_ context.Context, toolCallID, toolName, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[toolCallID] = Record{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		OrgID:      orgID,
		CreatedAt:  time.Now(),
	}
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, toolCallID, toolName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[toolCallID]
	if !ok {
		return false, nil
	}
	if rec.ToolName != toolName {
		return false, nil
	}
	if time.Since(rec.CreatedAt) > TTL {
		delete(s.records, toolCallID)
		return false, nil
	}
	delete(s.records, toolCallID)
	return true, nil
}

func (s *MemoryStore) CreatePending(_ context.Context, toolCallID, toolName string, args map[string]any, orgID, sessionID string) (<-chan bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan bool, 1)
	s.pendings[toolCallID] = &pendingEntry{
		Pending: Pending{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Args:       args,
			OrgID:      orgID,
			SessionID:  sessionID,
			CreatedAt:  time.Now(),
		},
		ch: ch,
	}
	return ch, nil
}

func (s *MemoryStore) Pending(_ context.Context, orgID string) ([]Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pending, 0, len(s.pendings))
	for _, p := range s.pendings {
		if p.OrgID == orgID {
			out = append(out, p.Pending)
		}
	}
	return out, nil
}

func (s *MemoryStore) Resolve(_ context.Context, toolCallID string, approved bool, orgID string) error {
	s.mu.Lock()
	entry, ok := s.pendings[toolCallID]
	if !ok {
		s.mu.Unlock()
		return engerrors.New(engerrors.NotFound, "no pending approval for "+toolCallID)
	}
	if entry.OrgID != orgID {
		s.mu.Unlock()
		return engerrors.New(engerrors.Forbidden, "approval belongs to a different organization")
	}
	delete(s.pendings, toolCallID)
	if approved {
		s.records[toolCallID] = Record{
			ToolCallID: toolCallID,
			ToolName:   entry.ToolName,
			OrgID:      orgID,
			CreatedAt:  time.Now(),
		}
	}
	s.mu.Unlock()

	entry.ch <- approved
	close(entry.ch)
	return nil
}
