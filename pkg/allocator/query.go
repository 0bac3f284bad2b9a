package allocator

// IsClaimed checks if a slot has been claimed.
//
// Returns:
//   - bool: True if claimed
//   - error: InvalidSlotError if slot is beyond the provisioned capacity
func (a *SlotAllocator) IsClaimed(slot uint64) (bool, error) {
	claimed, err := a.index.IsSet(slot)
	if err != nil {
		if IsOutOfRange(err) {
			return false, NewInvalidSlotError(slot, ReasonBeyondCapacity, a.index.Capacity())
		}
		return false, err
	}
	return claimed, nil
}

// TotalClaimed returns the number of claimed slots
func (a *SlotAllocator) TotalClaimed() uint64 {
	return a.index.CountSet()
}

// ClaimedInRange lists claimed slots in [from, to).
// to is clamped to the index capacity; from beyond capacity is an InvalidSlotError.
func (a *SlotAllocator) ClaimedInRange(from, to uint64) ([]uint64, error) {
	capacity := a.index.Capacity()
	if from >= capacity && from > 0 {
		return nil, NewInvalidSlotError(from, ReasonBeyondCapacity, capacity)
	}
	if to < from {
		return nil, nil
	}
	return a.index.SetInRange(from, to), nil
}
