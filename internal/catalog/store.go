package catalog

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no record exists for a path.
var ErrNotFound = errors.New("record not found")

// Store is the durable record table the pipeline reconciles against.
// Implementations must serialise writes so that a read-modify-write of a
// single path never races with itself.
type Store interface {
	Upsert(ctx context.Context, rec FileRecord) error
	UpsertBatch(ctx context.Context, recs []FileRecord) error
	Get(ctx context.Context, path string) (FileRecord, error)
	// All returns every record ordered by path.
	All(ctx context.Context) ([]FileRecord, error)
	Delete(ctx context.Context, path string) error
	DeleteBatch(ctx context.Context, paths []string) error
	// GroupBySize returns, in ascending size order, every size shared by at
	// least minMembers records.
	GroupBySize(ctx context.Context, minMembers int) ([]SizeGroup, error)
	// Hashed returns every record in the Hashed state ordered by checksum,
	// then path.
	Hashed(ctx context.Context) ([]FileRecord, error)
	// CountByState returns the number of records in each hash state.
	CountByState(ctx context.Context) (map[HashState]int64, error)
	Close() error
}

// StoreError is a persistent-store failure. It is fatal to a run: catalog
// integrity is the run's core deliverable.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
