// Package store persists the slot index byte region.
//
// The region is append-only: it grows by whole blocks and afterwards only
// single bytes are rewritten when a claim flips a bit. Every backend
// therefore implements two operations, Load and WriteAt, and a Store can be
// handed to the presence index as its journal.
//
// Backends:
// - file: a single flat file, byte k of the file is byte k of the region
// - badger: fixed-size blocks in a BadgerDB keyed by block number
package store

import (
	"fmt"

	"github.com/jiayi-1994/slotmap/pkg/config"
)

// Backend names
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Store is the durable home of the slot index region
type Store interface {
	// Load returns the whole region, empty if nothing was written yet
	Load() ([]byte, error)

	// WriteAt writes p at byte offset off, extending the region if needed
	WriteAt(p []byte, off int64) (int, error)

	// Backend returns the backend name for logs and metrics
	Backend() string

	// Close releases the underlying resources
	Close() error
}

// Open opens the backend selected by the configuration.
//
// Parameters:
//   - cfg: Store configuration
//   - blockSize: Growth block size of the index, used as the badger value size
//
// Returns:
//   - Store: Opened store, the caller must Close it
//   - error: Error if the backend is unknown or cannot be opened
func Open(cfg config.StoreConfig, blockSize int) (Store, error) {
	switch cfg.Backend {
	case BackendFile:
		return OpenFile(cfg.Path, cfg.SyncWrites)
	case BackendBadger:
		return OpenBadger(BadgerOptions{
			Path:       cfg.Path,
			InMemory:   cfg.InMemory,
			SyncWrites: cfg.SyncWrites,
			BlockSize:  blockSize,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
