package approval

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestConsumeIsSingleUse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Record(ctx, "tc1", "terminateInstance", "org-a"); err != nil {
		t.Fatalf("record: %v", err)
	}

	var wg sync.WaitGroup
	successes := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := s.Consume(ctx, "tc1", "terminateInstance")
			successes <- ok
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for ok := range successes {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 successful consume, got %d", count)
	}
}

func TestConsumeRespectsTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Record(ctx, "tc-old", "tool", "org-a")
	s.mu.Lock()
	rec := s.records["tc-old"]
	rec.CreatedAt = time.Now().Add(-TTL - time.Second)
	s.records["tc-old"] = rec
	s.mu.Unlock()

	ok, err := s.Consume(ctx, "tc-old", "tool")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok {
		t.Fatal("expected consume to fail after TTL expiry")
	}
}

func TestCrossTenantIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.CreatePending(ctx, "tc2", "deleteBucket", map[string]any{"name": "b"}, "org-a", ""); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	if _, err := s.Pending(ctx, "org-b"); err != nil {
		t.Fatalf("pending: %v", err)
	}
	pendingA, _ := s.Pending(ctx, "org-a")
	pendingB, _ := s.Pending(ctx, "org-b")
	if len(pendingA) != 1 || len(pendingB) != 0 {
		t.Fatalf("expected org-a to see its own pending approval only, got a=%d b=%d", len(pendingA), len(pendingB))
	}

	if err := s.Resolve(ctx, "tc2", true, "org-b"); err == nil {
		t.Fatal("expected forbidden error resolving another org's approval")
	}
}

func TestResolveApprovedUnblocksWait(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ch, err := s.CreatePending(ctx, "tc3", "terminateInstance", nil, "org-a", "")
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.Resolve(ctx, "tc3", true, "org-a")
	}()

	approved, err := WaitDecision(ctx, ch)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !approved {
		t.Fatal("expected approved decision")
	}

	ok, err := s.Consume(ctx, "tc3", "terminateInstance")
	if err != nil || !ok {
		t.Fatalf("expected approved decision to be consumable, got ok=%v err=%v", ok, err)
	}
}
