package catalog

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// MemStore is an in-memory Store. It is used by tests and by one-shot runs
// that do not need a durable catalog.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]FileRecord
	writes  atomic.Int64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]FileRecord)}
}

// Writes counts upserts and deletes applied since creation.
func (m *MemStore) Writes() int64 { return m.writes.Load() }

func (m *MemStore) Upsert(ctx context.Context, rec FileRecord) error {
	return m.UpsertBatch(ctx, []FileRecord{rec})
}

func (m *MemStore) UpsertBatch(ctx context.Context, recs []FileRecord) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "upsert batch", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		if !rec.State.Valid() {
			rec.State = Unhashed
		}
		if rec.State != Hashed {
			rec.Checksum, rec.Algorithm = "", ""
		}
		m.records[rec.Path] = rec
		m.writes.Add(1)
	}
	return nil
}

func (m *MemStore) Get(_ context.Context, path string) (FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[path]
	if !ok {
		return FileRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemStore) All(ctx context.Context) ([]FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Op: "all", Err: err}
	}
	m.mu.RLock()
	recs := make([]FileRecord, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	slices.SortFunc(recs, func(a, b FileRecord) int { return cmp.Compare(a.Path, b.Path) })
	return recs, nil
}

func (m *MemStore) Delete(ctx context.Context, path string) error {
	return m.DeleteBatch(ctx, []string{path})
}

func (m *MemStore) DeleteBatch(ctx context.Context, paths []string) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "delete batch", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		if _, ok := m.records[p]; ok {
			delete(m.records, p)
			m.writes.Add(1)
		}
	}
	return nil
}

func (m *MemStore) GroupBySize(ctx context.Context, minMembers int) ([]SizeGroup, error) {
	recs, err := m.All(ctx)
	if err != nil {
		return nil, err
	}

	bySize := make(map[int64][]FileRecord)
	for _, rec := range recs {
		bySize[rec.Size] = append(bySize[rec.Size], rec)
	}

	groups := make([]SizeGroup, 0, len(bySize))
	for size, members := range bySize {
		if len(members) >= max(minMembers, 1) {
			groups = append(groups, SizeGroup{Size: size, Records: members})
		}
	}
	slices.SortFunc(groups, func(a, b SizeGroup) int { return cmp.Compare(a.Size, b.Size) })
	return groups, nil
}

func (m *MemStore) Hashed(ctx context.Context) ([]FileRecord, error) {
	recs, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	hashed := recs[:0]
	for _, rec := range recs {
		if rec.HasChecksum() {
			hashed = append(hashed, rec)
		}
	}
	slices.SortStableFunc(hashed, func(a, b FileRecord) int { return cmp.Compare(a.Checksum, b.Checksum) })
	return hashed, nil
}

func (m *MemStore) CountByState(_ context.Context) (map[HashState]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[HashState]int64)
	for _, rec := range m.records {
		counts[rec.State]++
	}
	return counts, nil
}

func (m *MemStore) Close() error { return nil }
