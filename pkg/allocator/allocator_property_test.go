// Package allocator provides the slot index allocation algorithms.
//
// Property-based tests for the presence index and slot allocator.
package allocator

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ClaimIsPermanentAndExclusive verifies that a claimed bit reads
// back as set and cannot be claimed again.
func TestProperty_ClaimIsPermanentAndExclusive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("claimed bits stay set and reject a second claim", prop.ForAll(
		func(index uint64) bool {
			p := NewPresenceIndex(WithBlockSize(64))
			if _, err := p.EnsureCapacity(512); err != nil {
				return false
			}

			if err := p.TryClaim(index); err != nil {
				t.Logf("first claim of %d failed: %v", index, err)
				return false
			}

			set, err := p.IsSet(index)
			if err != nil || !set {
				t.Logf("bit %d not set after claim (err=%v)", index, err)
				return false
			}

			err = p.TryClaim(index)
			if !IsAlreadyClaimed(err) {
				t.Logf("expected AlreadyClaimedError for %d, got %v", index, err)
				return false
			}
			return true
		},
		gen.UInt64Range(0, 511),
	))

	properties.TestingRun(t)
}

// TestProperty_OutOfRangeBeyondCapacity verifies every access past capacity fails.
func TestProperty_OutOfRangeBeyondCapacity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("indices >= capacity are out of range", prop.ForAll(
		func(blocks int, offset uint64) bool {
			p := NewPresenceIndex(WithBlockSize(16))
			if _, err := p.EnsureCapacity(uint64(blocks) * 16 * 8); err != nil {
				return false
			}
			index := p.Capacity() + offset

			if _, err := p.IsSet(index); !IsOutOfRange(err) {
				t.Logf("IsSet(%d) with capacity %d: expected OutOfRangeError, got %v", index, p.Capacity(), err)
				return false
			}
			if err := p.TryClaim(index); !IsOutOfRange(err) {
				t.Logf("TryClaim(%d) with capacity %d: expected OutOfRangeError, got %v", index, p.Capacity(), err)
				return false
			}
			return true
		},
		gen.IntRange(0, 8),
		gen.UInt64Range(0, 10_000),
	))

	properties.TestingRun(t)
}

// TestProperty_EnsureCapacityIdempotent verifies that repeated or smaller
// provisioning leaves capacity and bits unchanged.
func TestProperty_EnsureCapacityIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ensure capacity never shrinks or rewrites", prop.ForAll(
		func(required uint64, smaller uint64, claims []uint64) bool {
			p := NewPresenceIndex(WithBlockSize(32))
			if _, err := p.EnsureCapacity(required); err != nil {
				return false
			}
			for _, c := range claims {
				_ = p.TryClaim(c % p.Capacity())
			}

			before := p.Bytes()
			capacity := p.Capacity()

			grown, err := p.EnsureCapacity(required)
			if err != nil || grown {
				return false
			}
			grown, err = p.EnsureCapacity(smaller % (required + 1))
			if err != nil || grown {
				return false
			}

			after := p.Bytes()
			if p.Capacity() != capacity || len(after) != len(before) {
				return false
			}
			for i := range before {
				if before[i] != after[i] {
					return false
				}
			}
			return p.Len()%p.BlockSize() == 0
		},
		gen.UInt64Range(1, 4096),
		gen.UInt64Range(0, 4096),
		gen.SliceOf(gen.UInt64Range(0, 1<<20)),
	))

	properties.TestingRun(t)
}

// TestProperty_CountSetMatchesIsSet verifies the population count equals
// the number of set bits after any sequence of claims.
func TestProperty_CountSetMatchesIsSet(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("count set equals number of set bits", prop.ForAll(
		func(claims []uint64) bool {
			p := NewPresenceIndex(WithBlockSize(8))
			if _, err := p.EnsureCapacity(256); err != nil {
				return false
			}
			for _, c := range claims {
				_ = p.TryClaim(c)
			}

			var counted uint64
			for i := uint64(0); i < p.Capacity(); i++ {
				set, err := p.IsSet(i)
				if err != nil {
					return false
				}
				if set {
					counted++
				}
			}
			return counted == p.CountSet()
		},
		gen.SliceOf(gen.UInt64Range(0, 300)),
	))

	properties.TestingRun(t)
}

// TestProperty_EligibilityThreshold verifies a slot is claimable exactly when
// the counter reaches (slot+1) * stride.
func TestProperty_EligibilityThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("claims succeed iff counter >= (slot+1)*stride", prop.ForAll(
		func(slot uint64, counter uint64) bool {
			a := newTestAllocator(t, 1000)
			err := a.Claim(slot, time.Now(), counter)

			if counter >= (slot+1)*DefaultEligibilityStride {
				return err == nil
			}
			return IsInvalidSlot(err)
		},
		gen.UInt64Range(0, 999),
		gen.UInt64Range(0, 1_100_000),
	))

	properties.TestingRun(t)
}
