package db

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrCatalogLocked is returned by Lock when another process holds the catalog.
var ErrCatalogLocked = errors.New("catalog is in use by another process")

// CatalogLock is an advisory, cross-process lock on a catalog file. The lock
// lives next to the database as "<path>.lock".
type CatalogLock struct {
	flock *flock.Flock
	path  string
}

// Lock acquires the catalog lock without blocking. In-memory catalogs are
// private to the process and get a no-op lock.
func Lock(dbPath string) (*CatalogLock, error) {
	if dbPath == MemoryPath {
		return &CatalogLock{}, nil
	}
	lockPath := dbPath + ".lock"
	fl := flock.New(lockPath)
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock catalog %s: %w", lockPath, err)
	}
	if !acquired {
		return nil, fmt.Errorf("lock catalog %s: %w", lockPath, ErrCatalogLocked)
	}
	return &CatalogLock{flock: fl, path: lockPath}, nil
}

// Unlock releases the lock. Safe to call on a no-op lock.
func (l *CatalogLock) Unlock() error {
	if l == nil || l.flock == nil {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock catalog %s: %w", l.path, err)
	}
	return nil
}
