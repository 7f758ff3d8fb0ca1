package approval

import (
	"context"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Invariant 4 — approval single-use: however many callers race to
// consume the same token, exactly one ever succeeds.
func TestPropertyConsumeIsSingleUseUnderConcurrency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one concurrent consume succeeds", prop.ForAll(
		func(racers int) bool {
			s := NewMemoryStore()
			ctx := context.Background()
			if err := s.Record(ctx, "tc", "tool", "org-a"); err != nil {
				return false
			}

			var wg sync.WaitGroup
			results := make(chan bool, racers)
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, _ := s.Consume(ctx, "tc", "tool")
					results <- ok
				}()
			}
			wg.Wait()
			close(results)

			successes := 0
			for ok := range results {
				if ok {
					successes++
				}
			}
			return successes == 1
		},
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}

// Invariant 10 — cross-tenant isolation: an org can never resolve or
// see another org's pending approval, for any pair of distinct org ids.
func TestPropertyCrossTenantIsolationHoldsForAnyOrgPair(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("org B never observes or resolves org A's pending approval", prop.ForAll(
		func(orgA, orgB string) bool {
			if orgA == orgB {
				orgB = orgB + "-other"
			}
			s := NewMemoryStore()
			ctx := context.Background()
			if _, err := s.CreatePending(ctx, "tc", "tool", nil, orgA, ""); err != nil {
				return false
			}

			pendingB, err := s.Pending(ctx, orgB)
			if err != nil || len(pendingB) != 0 {
				return false
			}
			if err := s.Resolve(ctx, "tc", true, orgB); err == nil {
				return false
			}
			return true
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
