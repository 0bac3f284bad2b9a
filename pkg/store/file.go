package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// regionFile is the subset of *os.File the store uses
type regionFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Sync() error
}

// FileStore keeps the region in a single flat file
type FileStore struct {
	mu   sync.Mutex
	file regionFile
	sync bool
}

// OpenFile opens or creates the region file at path
func OpenFile(path string, syncWrites bool) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open slot index file %s: %w", path, err)
	}
	return &FileStore{file: f, sync: syncWrites}, nil
}

// Load reads the whole file
func (s *FileStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat slot index file: %w", err)
	}
	data := make([]byte, info.Size())
	if _, err := s.file.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read slot index file: %w", err)
	}
	return data, nil
}

// WriteAt writes p at off and optionally fsyncs.
// A failed write that extended the file is truncated back to the previous
// length, so the file always ends on a whole block.
func (s *FileStore) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat slot index file: %w", err)
	}
	size := info.Size()

	n, err := s.file.WriteAt(p, off)
	if err != nil {
		if off+int64(len(p)) > size {
			if terr := s.file.Truncate(size); terr != nil {
				return n, fmt.Errorf("failed to write %d bytes at %d: %w (truncate back to %d also failed: %v)",
					len(p), off, err, size, terr)
			}
		}
		return n, fmt.Errorf("failed to write %d bytes at %d: %w", len(p), off, err)
	}
	if s.sync {
		if err := s.file.Sync(); err != nil {
			return n, fmt.Errorf("failed to sync slot index file: %w", err)
		}
	}
	return n, nil
}

// Backend returns BackendFile
func (s *FileStore) Backend() string {
	return BackendFile
}

// Close closes the file
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
