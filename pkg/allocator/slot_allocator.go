// Package allocator provides the slot index allocation algorithms.
//
// SlotAllocator gates claims on a PresenceIndex. A slot n may be claimed when:
//   - the supplied wall clock is at or after GoLive
//   - n < TotalSlots
//   - the external counter has reached (n+1) * EligibilityStride
//
// Later slot numbers therefore unlock later, so the universe cannot be
// claimed all at once.
package allocator

import (
	"fmt"
	"time"
)

const (
	// DefaultTotalSlots is the default size of the slot universe
	DefaultTotalSlots uint64 = 240_042

	// DefaultEligibilityStride is the counter increment that reveals one slot
	DefaultEligibilityStride uint64 = 1000
)

// Universe describes the claimable slot numbers
type Universe struct {
	// TotalSlots is the exclusive upper bound of valid slot numbers
	TotalSlots uint64

	// EligibilityStride is the counter distance between successive reveals
	EligibilityStride uint64

	// GoLive is the instant before which no claim is permitted
	GoLive time.Time
}

// DefaultUniverse returns a universe that is live from the Unix epoch
func DefaultUniverse() Universe {
	return Universe{
		TotalSlots:        DefaultTotalSlots,
		EligibilityStride: DefaultEligibilityStride,
		GoLive:            time.Unix(0, 0).UTC(),
	}
}

// Validate checks that the universe is usable
func (u Universe) Validate() error {
	if u.TotalSlots == 0 {
		return fmt.Errorf("total slots must be positive")
	}
	if u.EligibilityStride == 0 {
		return fmt.Errorf("eligibility stride must be positive")
	}
	// (TotalSlots) * stride must not overflow the eligibility threshold
	if u.TotalSlots > ^uint64(0)/u.EligibilityStride {
		return fmt.Errorf("total slots %d times stride %d overflows", u.TotalSlots, u.EligibilityStride)
	}
	return nil
}

// SlotAllocator validates slot claims and records them in a PresenceIndex.
//
// Thread Safety: All methods are thread-safe. The allocator itself holds no
// mutable state; the index serializes the check-and-set.
type SlotAllocator struct {
	universe Universe
	index    *PresenceIndex
}

// NewSlotAllocator creates an allocator over the given index.
//
// Parameters:
//   - universe: Slot bounds, eligibility stride and go-live instant
//   - index: Presence index, provisioned separately through Init
//
// Returns:
//   - *SlotAllocator: Allocator instance
//   - error: Error if the universe is invalid
func NewSlotAllocator(universe Universe, index *PresenceIndex) (*SlotAllocator, error) {
	if err := universe.Validate(); err != nil {
		return nil, fmt.Errorf("invalid universe: %w", err)
	}
	if index == nil {
		index = NewPresenceIndex()
	}
	return &SlotAllocator{universe: universe, index: index}, nil
}

// Init provisions the index to at least initialCapacityBits slots.
// Calling it again only ever grows the index.
func (a *SlotAllocator) Init(initialCapacityBits uint64) error {
	if _, err := a.index.EnsureCapacity(initialCapacityBits); err != nil {
		return fmt.Errorf("failed to provision slot index to %d bits: %w", initialCapacityBits, err)
	}
	return nil
}

// Claim permanently claims a slot.
//
// Parameters:
//   - slot: Slot number to claim
//   - now: Current wall-clock time, compared against GoLive
//   - counter: Current value of the external monotonic counter
//
// Returns:
//   - error: NotLiveError, InvalidSlotError, AlreadyClaimedError, or
//     ProvisioningError when the index is smaller than the universe
//
// Example:
//
//	err := allocator.Claim(5, time.Now(), 6000)
func (a *SlotAllocator) Claim(slot uint64, now time.Time, counter uint64) error {
	if !a.Live(now) {
		return &NotLiveError{Now: now, GoLive: a.universe.GoLive}
	}

	if slot >= a.universe.TotalSlots {
		return NewInvalidSlotError(slot, ReasonOutsideUniverse, a.universe.TotalSlots)
	}

	if !a.Eligible(slot, counter) {
		return NewInvalidSlotError(slot, ReasonNotYetEligible, a.threshold(slot))
	}

	err := a.index.TryClaim(slot)
	switch {
	case err == nil:
		return nil
	case IsOutOfRange(err):
		return &ProvisioningError{Slot: slot, Cause: err}
	default:
		return err
	}
}

// Live reports whether claiming is open at now
func (a *SlotAllocator) Live(now time.Time) bool {
	return !now.Before(a.universe.GoLive)
}

// Eligible reports whether slot has been revealed at the given counter value.
// It does not check the universe bound.
func (a *SlotAllocator) Eligible(slot, counter uint64) bool {
	if slot >= a.universe.TotalSlots {
		return false
	}
	return counter >= a.threshold(slot)
}

// EligibleHorizon returns how many slots are revealed at counter, capped at
// TotalSlots. Slots [0, horizon) are eligible.
func (a *SlotAllocator) EligibleHorizon(counter uint64) uint64 {
	horizon := counter / a.universe.EligibilityStride
	if horizon > a.universe.TotalSlots {
		return a.universe.TotalSlots
	}
	return horizon
}

// Universe returns the allocator's universe
func (a *SlotAllocator) Universe() Universe {
	return a.universe
}

// Index returns the underlying presence index
func (a *SlotAllocator) Index() *PresenceIndex {
	return a.index
}

// threshold is the counter value at which slot becomes eligible
func (a *SlotAllocator) threshold(slot uint64) uint64 {
	return (slot + 1) * a.universe.EligibilityStride
}
