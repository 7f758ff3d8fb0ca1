package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrBuildSingleflightsConcurrentCallers(t *testing.T) {
	c := New()
	var builds int32

	var wg sync.WaitGroup
	results := make([]any, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrBuild("fp-1", func() (any, error) {
				atomic.AddInt32(&builds, 1)
				time.Sleep(20 * time.Millisecond)
				return "built", nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if builds != 1 {
		t.Fatalf("expected exactly 1 build for concurrent same-fingerprint callers, got %d", builds)
	}
	for _, r := range results {
		if r != "built" {
			t.Fatalf("expected all callers to observe the built result, got %v", r)
		}
	}
}

func TestFailedBuildIsNotCached(t *testing.T) {
	c := New()
	_, err := c.GetOrBuild("fp-2", func() (any, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected build error to propagate")
	}
	if _, ok := c.Get("fp-2"); ok {
		t.Fatal("failed build must not be cached")
	}
	v, err := c.GetOrBuild("fp-2", func() (any, error) {
		return "recovered", nil
	})
	if err != nil || v != "recovered" {
		t.Fatalf("expected retry to succeed, got v=%v err=%v", v, err)
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a, err := Fingerprint("def-1", 2, map[string]any{"region": "phx", "count": 3.0})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	b, err := Fingerprint("def-1", 2, map[string]any{"count": 3.0, "region": "phx"})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if a != b {
		t.Fatalf("expected same fingerprint regardless of map iteration order: %s vs %s", a, b)
	}
}
