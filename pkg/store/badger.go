package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/jiayi-1994/slotmap/pkg/logging"
)

// blockKeyPrefix prefixes every region block key; the suffix is the
// big-endian block number so iteration order equals region order.
var blockKeyPrefix = []byte("slot_index/")

// BadgerOptions configures a BadgerStore
type BadgerOptions struct {
	// Path is the database directory, ignored when InMemory is set
	Path string

	// InMemory keeps everything in RAM, for tests
	InMemory bool

	// SyncWrites makes every commit durable before returning
	SyncWrites bool

	// BlockSize is the size of each stored value in bytes
	BlockSize int
}

// BadgerStore keeps the region as fixed-size blocks in BadgerDB
type BadgerStore struct {
	db        *badger.DB
	blockSize int
}

// badgerLogger routes BadgerDB's internal logs through zap
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// OpenBadger opens a BadgerDB-backed store
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if opts.BlockSize <= 0 {
		return nil, fmt.Errorf("badger store requires a positive block size, got %d", opts.BlockSize)
	}
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("path is required for persistent badger store")
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}

	bopts = bopts.
		WithSyncWrites(opts.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{sugar: logging.LoggerForStore(BackendBadger).ZapLogger().Sugar()})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, blockSize: opts.BlockSize}, nil
}

// Load concatenates all blocks in order. Blocks must be contiguous from 0.
func (s *BadgerStore) Load() ([]byte, error) {
	var region []byte

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: blockKeyPrefix})
		defer it.Close()

		expected := uint64(0)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			block, err := blockNumber(item.Key())
			if err != nil {
				return err
			}
			if block != expected {
				return fmt.Errorf("slot index block %d missing (found %d)", expected, block)
			}
			err = item.Value(func(val []byte) error {
				if len(val) != s.blockSize {
					return fmt.Errorf("slot index block %d has %d bytes, expected %d", block, len(val), s.blockSize)
				}
				region = append(region, val...)
				return nil
			})
			if err != nil {
				return err
			}
			expected++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load slot index: %w", err)
	}
	return region, nil
}

// WriteAt rewrites every block touched by [off, off+len(p)), one
// transaction per block.
func (s *BadgerStore) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	written := 0
	for written < len(p) {
		pos := off + int64(written)
		block := uint64(pos) / uint64(s.blockSize)
		inner := int(uint64(pos) % uint64(s.blockSize))
		n := s.blockSize - inner
		if rest := len(p) - written; n > rest {
			n = rest
		}

		chunk := p[written : written+n]
		err := s.db.Update(func(txn *badger.Txn) error {
			key := blockKey(block)
			value := make([]byte, s.blockSize)

			item, err := txn.Get(key)
			switch {
			case err == nil:
				if err := item.Value(func(val []byte) error {
					copy(value, val)
					return nil
				}); err != nil {
					return err
				}
			case errors.Is(err, badger.ErrKeyNotFound):
			default:
				return err
			}

			copy(value[inner:], chunk)
			return txn.Set(key, value)
		})
		if err != nil {
			return written, fmt.Errorf("failed to write slot index block %d: %w", block, err)
		}
		written += n
	}
	return written, nil
}

// Backend returns BackendBadger
func (s *BadgerStore) Backend() string {
	return BackendBadger
}

// Close closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func blockKey(block uint64) []byte {
	key := make([]byte, len(blockKeyPrefix)+8)
	copy(key, blockKeyPrefix)
	binary.BigEndian.PutUint64(key[len(blockKeyPrefix):], block)
	return key
}

func blockNumber(key []byte) (uint64, error) {
	if len(key) != len(blockKeyPrefix)+8 {
		return 0, fmt.Errorf("malformed slot index key %q", key)
	}
	return binary.BigEndian.Uint64(key[len(blockKeyPrefix):]), nil
}
