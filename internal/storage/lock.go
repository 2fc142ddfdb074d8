package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".lock"

// ErrLocked is returned when another process holds the data directory.
var ErrLocked = errors.New("data directory is locked by another process")

// DataDirLock is an exclusive, process-level lock on a data directory.
type DataDirLock struct {
	fl *flock.Flock
}

// LockDataDir takes the exclusive lock on dir without waiting.
// It returns ErrLocked when another process (e.g. a running server) holds it.
func LockDataDir(dir string) (*DataDirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &DataDirLock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *DataDirLock) Path() string {
	return l.fl.Path()
}

// Unlock releases the lock.
func (l *DataDirLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
