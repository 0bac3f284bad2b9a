package allocator

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestAllocator(t *testing.T, capacityBits uint64) *SlotAllocator {
	t.Helper()
	a, err := NewSlotAllocator(DefaultUniverse(), NewPresenceIndex())
	if err != nil {
		t.Fatalf("NewSlotAllocator failed: %v", err)
	}
	if err := a.Init(capacityBits); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return a
}

func TestNewSlotAllocator_InvalidUniverse(t *testing.T) {
	tests := []struct {
		name     string
		universe Universe
	}{
		{"zero total", Universe{TotalSlots: 0, EligibilityStride: 1000}},
		{"zero stride", Universe{TotalSlots: 10, EligibilityStride: 0}},
		{"overflow", Universe{TotalSlots: 1 << 62, EligibilityStride: 1000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSlotAllocator(tt.universe, nil); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestClaim_EligibilityBoundary(t *testing.T) {
	a := newTestAllocator(t, 8000)
	now := time.Now()

	err := a.Claim(0, now, 999)
	var invalid *InvalidSlotError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSlotError at counter 999, got %v", err)
	}
	if invalid.Reason != ReasonNotYetEligible {
		t.Errorf("expected reason %q, got %q", ReasonNotYetEligible, invalid.Reason)
	}
	if invalid.Limit != 1000 {
		t.Errorf("expected limit 1000, got %d", invalid.Limit)
	}

	if err := a.Claim(0, now, 1000); err != nil {
		t.Errorf("expected claim at counter 1000 to succeed, got %v", err)
	}
}

func TestClaim_TotalSlotsBoundary(t *testing.T) {
	universe := Universe{TotalSlots: 16, EligibilityStride: 1000}
	a, err := NewSlotAllocator(universe, NewPresenceIndex())
	if err != nil {
		t.Fatalf("NewSlotAllocator failed: %v", err)
	}
	// Capacity far beyond the universe
	if err := a.Init(1 << 20); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	err = a.Claim(16, time.Now(), ^uint64(0))
	var invalid *InvalidSlotError
	if !errors.As(err, &invalid) || invalid.Reason != ReasonOutsideUniverse {
		t.Errorf("expected outside-universe InvalidSlotError, got %v", err)
	}

	if err := a.Claim(15, time.Now(), 16_000); err != nil {
		t.Errorf("expected last slot to be claimable, got %v", err)
	}
}

func TestClaim_NotLive(t *testing.T) {
	goLive := time.Date(2023, 12, 20, 21, 40, 0, 0, time.UTC)
	universe := DefaultUniverse()
	universe.GoLive = goLive

	a, err := NewSlotAllocator(universe, NewPresenceIndex())
	if err != nil {
		t.Fatalf("NewSlotAllocator failed: %v", err)
	}
	if err := a.Init(8000); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Even an out-of-universe slot reports NotLive first
	if err := a.Claim(DefaultTotalSlots, goLive.Add(-time.Second), 0); !IsNotLive(err) {
		t.Errorf("expected NotLiveError, got %v", err)
	}
	if err := a.Claim(1, goLive, 2000); err != nil {
		t.Errorf("expected claim at go-live to succeed, got %v", err)
	}
}

func TestClaim_UnderProvisioned(t *testing.T) {
	a, err := NewSlotAllocator(DefaultUniverse(), NewPresenceIndex(WithBlockSize(1)))
	if err != nil {
		t.Fatalf("NewSlotAllocator failed: %v", err)
	}
	if err := a.Init(8); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	err = a.Claim(8, time.Now(), 9000)
	if !IsProvisioningError(err) {
		t.Fatalf("expected ProvisioningError, got %v", err)
	}
	if !IsOutOfRange(err) {
		t.Error("ProvisioningError should unwrap to OutOfRangeError")
	}
	if IsRoutine(err) {
		t.Error("provisioning faults are not routine")
	}
}

func TestInit_OnlyGrows(t *testing.T) {
	a := newTestAllocator(t, 200_000)
	capacity := a.Index().Capacity()

	if err := a.Init(10); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if a.Index().Capacity() != capacity {
		t.Errorf("capacity changed from %d to %d", capacity, a.Index().Capacity())
	}
}

func TestEligibleHorizon(t *testing.T) {
	a := newTestAllocator(t, 0)

	tests := []struct {
		counter uint64
		want    uint64
	}{
		{0, 0},
		{999, 0},
		{1000, 1},
		{6000, 6},
		{^uint64(0), DefaultTotalSlots},
	}
	for _, tt := range tests {
		if got := a.EligibleHorizon(tt.counter); got != tt.want {
			t.Errorf("EligibleHorizon(%d) = %d, want %d", tt.counter, got, tt.want)
		}
	}
}

// TestEndToEnd walks through provisioning, a claim, queries and a repeat claim.
func TestEndToEnd(t *testing.T) {
	a, err := NewSlotAllocator(DefaultUniverse(), NewPresenceIndex())
	if err != nil {
		t.Fatalf("NewSlotAllocator failed: %v", err)
	}
	if a.Index().Capacity() != 0 {
		t.Fatalf("expected empty index")
	}
	if err := a.Init(8000); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := a.Claim(5, time.Now(), 6000); err != nil {
		t.Fatalf("claim of slot 5 failed: %v", err)
	}
	if a.TotalClaimed() != 1 {
		t.Errorf("expected 1 claimed, got %d", a.TotalClaimed())
	}
	if claimed, err := a.IsClaimed(5); err != nil || !claimed {
		t.Errorf("expected slot 5 claimed, got %v (err=%v)", claimed, err)
	}
	if claimed, err := a.IsClaimed(4); err != nil || claimed {
		t.Errorf("expected slot 4 unclaimed, got %v (err=%v)", claimed, err)
	}

	if err := a.Claim(5, time.Now(), 6000); !IsAlreadyClaimed(err) {
		t.Errorf("expected AlreadyClaimedError, got %v", err)
	}
}

func TestIsClaimed_BeyondCapacity(t *testing.T) {
	a := newTestAllocator(t, 8)

	_, err := a.IsClaimed(a.Index().Capacity())
	var invalid *InvalidSlotError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSlotError, got %v", err)
	}
	if invalid.Reason != ReasonBeyondCapacity {
		t.Errorf("expected reason %q, got %q", ReasonBeyondCapacity, invalid.Reason)
	}
	if IsOutOfRange(err) {
		t.Error("query surface must not expose raw range errors")
	}
}

func TestClaimedInRange(t *testing.T) {
	a := newTestAllocator(t, 100)
	for _, s := range []uint64{2, 3, 50} {
		if err := a.Claim(s, time.Now(), 100_000); err != nil {
			t.Fatalf("Claim(%d) failed: %v", s, err)
		}
	}

	got, err := a.ClaimedInRange(0, 10)
	if err != nil {
		t.Fatalf("ClaimedInRange failed: %v", err)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("expected [2 3], got %v", got)
	}

	if _, err := a.ClaimedInRange(a.Index().Capacity(), a.Index().Capacity()+5); !IsInvalidSlot(err) {
		t.Errorf("expected InvalidSlotError, got %v", err)
	}
}

func TestClaim_ConcurrentDistinctAndSameSlots(t *testing.T) {
	a := newTestAllocator(t, 1000)

	var mu sync.Mutex
	winners := make(map[uint64]int)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := uint64(0); slot < 200; slot++ {
				err := a.Claim(slot, time.Now(), 1_000_000)
				if err == nil {
					mu.Lock()
					winners[slot]++
					mu.Unlock()
				} else if !IsAlreadyClaimed(err) {
					t.Errorf("unexpected error for slot %d: %v", slot, err)
				}
			}
		}()
	}
	wg.Wait()

	for slot := uint64(0); slot < 200; slot++ {
		if winners[slot] != 1 {
			t.Errorf("slot %d claimed %d times", slot, winners[slot])
		}
	}
	if a.TotalClaimed() != 200 {
		t.Errorf("expected 200 claimed, got %d", a.TotalClaimed())
	}
}
