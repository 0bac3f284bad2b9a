// Package allocator provides the slot index allocation algorithms.
//
// The presence index is a growable bitmap:
// - Each bit represents one slot number
// - Bit value 1 = claimed, 0 = unclaimed
// - Bits are LSB-first within each byte: byte k holds slots 8k..8k+7
// - Storage grows by appending whole zeroed blocks and never shrinks
//
// A claimed bit is never cleared again.
package allocator

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
)

const (
	// DefaultBlockSize is the growth increment of the backing store in bytes.
	DefaultBlockSize = 10240

	// DefaultMaxCapacityBits caps growth at a 512 MiB region.
	DefaultMaxCapacityBits uint64 = 1 << 32
)

// Journal receives every mutation of the index before it becomes visible.
// p is the new content of the region starting at byte offset off.
type Journal interface {
	WriteAt(p []byte, off int64) (int, error)
}

// IndexOption configures a PresenceIndex
type IndexOption func(*PresenceIndex)

// WithBlockSize overrides the growth block size
func WithBlockSize(size int) IndexOption {
	return func(p *PresenceIndex) {
		if size > 0 {
			p.blockSize = size
		}
	}
}

// WithMaxCapacity caps how many slots EnsureCapacity may provision.
// Growth past the cap fails with CapacityLimitError.
func WithMaxCapacity(maxBits uint64) IndexOption {
	return func(p *PresenceIndex) {
		if maxBits > 0 {
			p.maxCapacity = maxBits
		}
	}
}

// WithJournal makes the index write each mutation through j first.
// If j fails, the mutation is abandoned and the in-memory bits stay unchanged.
func WithJournal(j Journal) IndexOption {
	return func(p *PresenceIndex) {
		p.journal = j
	}
}

// PresenceIndex is a thread-safe, append-only bitmap of claimed slots
type PresenceIndex struct {
	// mu protects bits; TryClaim and EnsureCapacity take it exclusively
	mu sync.RWMutex

	// bits is the backing byte region, len(bits) % blockSize == 0
	bits []byte

	blockSize   int
	maxCapacity uint64
	journal     Journal
}

// NewPresenceIndex creates an empty index with zero capacity
func NewPresenceIndex(opts ...IndexOption) *PresenceIndex {
	p := &PresenceIndex{blockSize: DefaultBlockSize, maxCapacity: DefaultMaxCapacityBits}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadPresenceIndex rebuilds an index from persisted bytes.
// The data is copied; its length must be a whole number of blocks.
func LoadPresenceIndex(data []byte, opts ...IndexOption) (*PresenceIndex, error) {
	p := NewPresenceIndex(opts...)
	if len(data)%p.blockSize != 0 {
		return nil, &CorruptIndexError{Length: len(data), BlockSize: p.blockSize}
	}
	p.bits = make([]byte, len(data))
	copy(p.bits, data)
	return p, nil
}

// EnsureCapacity grows the index until it addresses at least requiredBits
// slots. It reports whether any block was appended.
func (p *PresenceIndex) EnsureCapacity(requiredBits uint64) (bool, error) {
	p.mu.RLock()
	enough := p.capacityLocked() >= requiredBits
	p.mu.RUnlock()
	if enough {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check, another caller may have grown it meanwhile
	current := p.capacityLocked()
	if current >= requiredBits {
		return false, nil
	}

	blockBits := uint64(p.blockSize) * 8
	missing := requiredBits - current
	blocks := missing / blockBits
	if missing%blockBits != 0 {
		blocks++
	}

	limitBlocks := p.limitBlocks()
	currentBlocks := uint64(len(p.bits)) / uint64(p.blockSize)
	if currentBlocks >= limitBlocks || blocks > limitBlocks-currentBlocks {
		return false, &CapacityLimitError{
			Required: requiredBits,
			Limit:    limitBlocks * uint64(p.blockSize) * 8,
		}
	}
	grow := make([]byte, blocks*uint64(p.blockSize))

	if p.journal != nil {
		if _, err := p.journal.WriteAt(grow, int64(len(p.bits))); err != nil {
			return false, fmt.Errorf("failed to persist %d new blocks: %w", blocks, err)
		}
	}

	p.bits = append(p.bits, grow...)
	return true, nil
}

// IsSet checks if a slot bit is claimed
func (p *PresenceIndex) IsSet(index uint64) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if capacity := p.capacityLocked(); index >= capacity {
		return false, &OutOfRangeError{Index: index, Capacity: capacity}
	}

	byteIndex, mask := locate(index)
	return p.bits[byteIndex]&mask != 0, nil
}

// TryClaim sets a bit that is currently clear.
//
// The check and the set happen under one exclusive lock, so at most one
// caller ever succeeds for a given index.
//
// Returns:
//   - OutOfRangeError if index >= capacity
//   - AlreadyClaimedError if the bit is already set
//   - the journal error if the mutation could not be persisted
func (p *PresenceIndex) TryClaim(index uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if capacity := p.capacityLocked(); index >= capacity {
		return &OutOfRangeError{Index: index, Capacity: capacity}
	}

	byteIndex, mask := locate(index)
	if p.bits[byteIndex]&mask != 0 {
		return &AlreadyClaimedError{Slot: index}
	}

	updated := p.bits[byteIndex] | mask
	if p.journal != nil {
		if _, err := p.journal.WriteAt([]byte{updated}, int64(byteIndex)); err != nil {
			return fmt.Errorf("failed to persist claim of bit %d: %w", index, err)
		}
	}

	p.bits[byteIndex] = updated
	return nil
}

// CountSet returns the number of claimed bits
func (p *PresenceIndex) CountSet() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var count uint64
	for _, b := range p.bits {
		count += uint64(bits.OnesCount8(b))
	}
	return count
}

// SetInRange returns the set bit indices in [from, to), with to clamped
// to the capacity.
func (p *PresenceIndex) SetInRange(from, to uint64) []uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if capacity := p.capacityLocked(); to > capacity {
		to = capacity
	}

	var out []uint64
	for i := from; i < to; i++ {
		byteIndex, mask := locate(i)
		// Skip empty bytes wholesale
		if mask == 1 && p.bits[byteIndex] == 0 {
			i += 7
			continue
		}
		if p.bits[byteIndex]&mask != 0 {
			out = append(out, i)
		}
	}
	return out
}

// Capacity returns the number of addressable slots
func (p *PresenceIndex) Capacity() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.capacityLocked()
}

// Len returns the length of the backing region in bytes
func (p *PresenceIndex) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.bits)
}

// BlockSize returns the growth increment in bytes
func (p *PresenceIndex) BlockSize() int {
	return p.blockSize
}

// Bytes returns a copy of the backing region
func (p *PresenceIndex) Bytes() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]byte, len(p.bits))
	copy(out, p.bits)
	return out
}

// limitBlocks is the largest region, in whole blocks, growth may reach.
// Capacity in bits must fit both an int-sized slice and a uint64.
func (p *PresenceIndex) limitBlocks() uint64 {
	limitBytes := p.maxCapacity / 8
	if limitBytes > math.MaxInt/8 {
		limitBytes = math.MaxInt / 8
	}
	return limitBytes / uint64(p.blockSize)
}

func (p *PresenceIndex) capacityLocked() uint64 {
	return uint64(len(p.bits)) * 8
}

// locate maps a bit index to its byte and LSB-first mask
func locate(index uint64) (uint64, byte) {
	return index / 8, byte(1) << (index % 8)
}
