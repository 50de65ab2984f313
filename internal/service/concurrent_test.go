package service_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
)

// TestConcurrentExposureReservation simulates 50 goroutines simultaneously
// reserving exposure against a shared market cap — protected by a mutex.
// This test verifies our concurrency guard pattern compiles and passes -race.
//
// In the real LedgerService, the markets row FOR UPDATE lock plus the
// conditional exposure UPDATE provide this guarantee.  Here we replicate the
// same guard with sync primitives so the race detector can confirm the
// pattern is sound.
func TestConcurrentExposureReservation(t *testing.T) {
	const workers = 50
	const amountEach = 100_000 // minor units per position

	maxExposure := decimal.NewFromInt(int64(workers * amountEach)) // exact total
	exposure := decimal.Zero
	var mu sync.Mutex
	var rejected int64 // positions refused (zero is expected here)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			amount := decimal.NewFromInt(amountEach)

			mu.Lock()
			defer mu.Unlock()

			if exposure.Add(amount).GreaterThan(maxExposure) {
				atomic.AddInt64(&rejected, 1)
				return
			}
			exposure = exposure.Add(amount)
		}()
	}
	wg.Wait()

	// Cap exactly fits all 50 reservations: no rejections expected.
	if rejected > 0 {
		t.Errorf("expected 0 rejected positions, got %d", rejected)
	}
	if !exposure.Equal(maxExposure) {
		t.Errorf("final exposure = %s, want %s", exposure, maxExposure)
	}
}

// TestConcurrentExposureCap verifies that the cap holds when demand exceeds
// it: with room for only half the workers, exactly half are rejected and
// exposure never passes the limit.
func TestConcurrentExposureCap(t *testing.T) {
	const workers = 40
	const amountEach = 100_000

	maxExposure := decimal.NewFromInt(int64(workers / 2 * amountEach))
	exposure := decimal.Zero
	var mu sync.Mutex
	var accepted, rejected int64

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			amount := decimal.NewFromInt(amountEach)

			mu.Lock()
			defer mu.Unlock()

			if exposure.Add(amount).GreaterThan(maxExposure) {
				atomic.AddInt64(&rejected, 1)
				return
			}
			exposure = exposure.Add(amount)
			atomic.AddInt64(&accepted, 1)
		}()
	}
	wg.Wait()

	if accepted != workers/2 {
		t.Errorf("accepted = %d, want %d", accepted, workers/2)
	}
	if rejected != workers/2 {
		t.Errorf("rejected = %d, want %d", rejected, workers/2)
	}
	if exposure.GreaterThan(maxExposure) {
		t.Errorf("exposure %s exceeded cap %s", exposure, maxExposure)
	}
}

// TestConcurrentDuplicateSignature verifies the signature idempotency
// contract under concurrent replay: N goroutines submit the same
// transaction_signature, exactly one logical row is created, and every
// caller — winner and losers alike — receives that row's id.
//
// In the real LedgerService the unique transaction_signature constraint plus
// the signature re-check fallbacks provide this guarantee; here the same
// guard is replicated with sync primitives so the race detector can confirm
// the pattern is sound.
func TestConcurrentDuplicateSignature(t *testing.T) {
	const workers = 20
	const signature = "5KtP3rm9yX"

	var (
		mu       sync.Mutex
		ledger   = make(map[string]int) // signature → row id
		nextID   int
		inserted int64
	)

	results := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()

			mu.Lock()
			defer mu.Unlock()

			// Read-before-write: a prior row with this signature wins.
			if id, ok := ledger[signature]; ok {
				results[slot] = id
				return
			}
			nextID++
			ledger[signature] = nextID
			results[slot] = nextID
			atomic.AddInt64(&inserted, 1)
		}(i)
	}
	wg.Wait()

	if inserted != 1 {
		t.Errorf("exactly 1 logical row should exist, got %d", inserted)
	}
	want := ledger[signature]
	for i, got := range results {
		if got != want {
			t.Errorf("caller %d received id %d, want the surviving row %d", i, got, want)
		}
	}
}

// TestConcurrentCloseGuard verifies that at-most-one-close protection works
// under concurrent access: only one of N goroutines succeeds at closing a
// position.  In the real service the conditional UPDATE on status='placed'
// provides this guarantee.
func TestConcurrentCloseGuard(t *testing.T) {
	const workers = 20
	type positionState struct {
		mu     sync.Mutex
		closed bool
	}

	var (
		p      positionState
		wins   int64
		losses int64
		wg     sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			p.mu.Lock()
			defer p.mu.Unlock()

			if p.closed {
				// Second+ call: should be rejected
				atomic.AddInt64(&losses, 1)
				return
			}
			p.closed = true
			atomic.AddInt64(&wins, 1)
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("exactly 1 goroutine should have closed the position, got %d", wins)
	}
	if losses != workers-1 {
		t.Errorf("expected %d rejections, got %d", workers-1, losses)
	}
}
