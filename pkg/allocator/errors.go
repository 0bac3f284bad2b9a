// Package allocator provides the slot index allocation algorithms.
package allocator

import (
	"errors"
	"fmt"
	"time"
)

// InvalidSlotReason says why a slot number was rejected.
type InvalidSlotReason string

const (
	// ReasonOutsideUniverse means slot >= TotalSlots
	ReasonOutsideUniverse InvalidSlotReason = "outside universe"

	// ReasonNotYetEligible means the external counter has not revealed the slot
	ReasonNotYetEligible InvalidSlotReason = "not yet eligible"

	// ReasonBeyondCapacity means the slot lies past the provisioned index
	ReasonBeyondCapacity InvalidSlotReason = "beyond index capacity"
)

// NotLiveError indicates that a claim was attempted before go-live.
type NotLiveError struct {
	Now    time.Time
	GoLive time.Time
}

func (e *NotLiveError) Error() string {
	return fmt.Sprintf("claiming is not live until %s (now %s)",
		e.GoLive.UTC().Format(time.RFC3339), e.Now.UTC().Format(time.RFC3339))
}

// InvalidSlotError indicates that a slot number is out of bounds or not revealed yet.
type InvalidSlotError struct {
	Slot   uint64
	Reason InvalidSlotReason

	// Limit is the bound that was violated: TotalSlots, the counter
	// value required for eligibility, or the index capacity.
	Limit uint64
}

func (e *InvalidSlotError) Error() string {
	return fmt.Sprintf("invalid slot %d: %s (limit %d)", e.Slot, e.Reason, e.Limit)
}

// AlreadyClaimedError indicates that the slot bit was already set.
type AlreadyClaimedError struct {
	Slot uint64
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("slot %d is already claimed", e.Slot)
}

// OutOfRangeError indicates a bit access at or beyond the index capacity.
type OutOfRangeError struct {
	Index    uint64
	Capacity uint64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("index %d out of range [0, %d)", e.Index, e.Capacity)
}

// ProvisioningError reports that the presence index is smaller than the
// slot universe. It is a deployment fault, not a caller mistake.
type ProvisioningError struct {
	Slot  uint64
	Cause error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("slot index under-provisioned for slot %d: %v", e.Slot, e.Cause)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Cause
}

// CorruptIndexError indicates persisted index bytes that violate the layout.
type CorruptIndexError struct {
	Length    int
	BlockSize int
}

func (e *CorruptIndexError) Error() string {
	return fmt.Sprintf("slot index length %d is not a multiple of block size %d", e.Length, e.BlockSize)
}

// CapacityLimitError indicates a growth request the index can never satisfy.
type CapacityLimitError struct {
	Required uint64
	Limit    uint64
}

func (e *CapacityLimitError) Error() string {
	return fmt.Sprintf("slot index cannot grow to %d bits (limit %d)", e.Required, e.Limit)
}

// NewInvalidSlotError creates a new InvalidSlotError
func NewInvalidSlotError(slot uint64, reason InvalidSlotReason, limit uint64) *InvalidSlotError {
	return &InvalidSlotError{Slot: slot, Reason: reason, Limit: limit}
}

// IsNotLive checks if an error is a NotLiveError
func IsNotLive(err error) bool {
	var target *NotLiveError
	return errors.As(err, &target)
}

// IsInvalidSlot checks if an error is an InvalidSlotError
func IsInvalidSlot(err error) bool {
	var target *InvalidSlotError
	return errors.As(err, &target)
}

// IsAlreadyClaimed checks if an error is an AlreadyClaimedError
func IsAlreadyClaimed(err error) bool {
	var target *AlreadyClaimedError
	return errors.As(err, &target)
}

// IsOutOfRange checks if an error is an OutOfRangeError
func IsOutOfRange(err error) bool {
	var target *OutOfRangeError
	return errors.As(err, &target)
}

// IsCapacityLimit checks if an error is a CapacityLimitError
func IsCapacityLimit(err error) bool {
	var target *CapacityLimitError
	return errors.As(err, &target)
}

// IsProvisioningError checks if an error is a ProvisioningError
func IsProvisioningError(err error) bool {
	var target *ProvisioningError
	return errors.As(err, &target)
}

// IsRoutine reports whether err is an expected outcome under contention or
// misuse, which callers should not log as a fault.
func IsRoutine(err error) bool {
	return IsAlreadyClaimed(err) || IsInvalidSlot(err) || IsNotLive(err)
}
