package scan

import (
	"context"
	"testing"
	"time"

	"github.com/eargollo/dupecat/internal/catalog"
)

func feed(files ...FileInfo) <-chan FileInfo {
	ch := make(chan FileInfo, len(files))
	for _, f := range files {
		ch <- f
	}
	close(ch)
	return ch
}

func reconcile(t *testing.T, store catalog.Store, prune bool, files ...FileInfo) ReconcileStats {
	t.Helper()
	ctx := context.Background()
	b, err := NewBuilder(ctx, store, 2, nil)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.Consume(ctx, feed(files...)); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	stats, err := b.Finish(ctx, prune, nil)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return stats
}

func TestBuilderInsertsNewFiles(t *testing.T) {
	store := catalog.NewMemStore()
	mt := time.Unix(1000, 0)
	stats := reconcile(t, store, false,
		FileInfo{Path: "a.txt", Size: 1, MTime: mt},
		FileInfo{Path: "dir/b.txt", Size: 2, MTime: mt},
		FileInfo{Path: "dir/c.txt", Size: 3, MTime: mt},
	)

	if stats.Seen != 3 || stats.Inserted != 3 || stats.Updated != 0 {
		t.Errorf("stats: got %+v, want seen=3 inserted=3", stats)
	}
	rec, err := store.Get(context.Background(), "dir/b.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.State != catalog.Unhashed || rec.Size != 2 {
		t.Errorf("record: got %+v, want unhashed size 2", rec)
	}
}

// TestBuilderIdempotent reconciles the same tree twice: the second pass must
// not write anything.
func TestBuilderIdempotent(t *testing.T) {
	store := catalog.NewMemStore()
	files := []FileInfo{
		{Path: "a", Size: 1, MTime: time.Unix(1, 0)},
		{Path: "b", Size: 1, MTime: time.Unix(2, 0)},
	}
	reconcile(t, store, false, files...)
	writes := store.Writes()

	stats := reconcile(t, store, false, files...)
	if stats.Writes() != 0 || stats.Unchanged != 2 {
		t.Errorf("second pass stats: got %+v, want 0 writes and 2 unchanged", stats)
	}
	if got := store.Writes(); got != writes {
		t.Errorf("store writes: got %d, want %d", got, writes)
	}
}

func TestBuilderInvalidatesChangedFiles(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()

	for _, path := range []string{"same-size", "grown"} {
		rec := catalog.NewRecord(path, 10, time.Unix(1, 0))
		rec.SetChecksum("md5", "old")
		_ = store.Upsert(ctx, rec)
	}

	stats := reconcile(t, store, false,
		FileInfo{Path: "same-size", Size: 10, MTime: time.Unix(2, 0)},
		FileInfo{Path: "grown", Size: 11, MTime: time.Unix(1, 0)},
	)
	if stats.Updated != 2 {
		t.Errorf("Updated: got %d, want 2", stats.Updated)
	}
	for _, path := range []string{"same-size", "grown"} {
		rec, _ := store.Get(ctx, path)
		if rec.State != catalog.Stale || rec.Checksum != "" {
			t.Errorf("%s: got state=%s checksum=%q, want stale and cleared", path, rec.State, rec.Checksum)
		}
	}
	rec, _ := store.Get(ctx, "grown")
	if rec.Size != 11 {
		t.Errorf("grown size: got %d, want 11", rec.Size)
	}
}

func TestBuilderMissingFiles(t *testing.T) {
	ctx := context.Background()
	mt := time.Unix(1, 0)

	t.Run("prune", func(t *testing.T) {
		store := catalog.NewMemStore()
		reconcile(t, store, true, FileInfo{Path: "keep", Size: 1, MTime: mt}, FileInfo{Path: "gone", Size: 1, MTime: mt})
		stats := reconcile(t, store, true, FileInfo{Path: "keep", Size: 1, MTime: mt})

		if stats.Missing != 1 || stats.Pruned != 1 {
			t.Errorf("stats: got %+v, want missing=1 pruned=1", stats)
		}
		if _, err := store.Get(ctx, "gone"); err != catalog.ErrNotFound {
			t.Errorf("Get(gone): got %v, want ErrNotFound", err)
		}
	})

	t.Run("keep stale", func(t *testing.T) {
		store := catalog.NewMemStore()
		gone := catalog.NewRecord("gone", 1, mt)
		gone.SetChecksum("md5", "abc")
		_ = store.Upsert(ctx, gone)

		stats := reconcile(t, store, false, FileInfo{Path: "keep", Size: 1, MTime: mt})
		if stats.Missing != 1 || stats.Pruned != 0 {
			t.Errorf("stats: got %+v, want missing=1 pruned=0", stats)
		}
		rec, err := store.Get(ctx, "gone")
		if err != nil {
			t.Fatalf("Get(gone): %v", err)
		}
		if rec.State != catalog.Stale || rec.Size != 1 {
			t.Errorf("gone: got %+v, want stale record with old metadata", rec)
		}

		// Already stale: a second pass must not rewrite it.
		stats = reconcile(t, store, false, FileInfo{Path: "keep", Size: 1, MTime: mt})
		if stats.Writes() != 0 {
			t.Errorf("second pass writes: got %d, want 0", stats.Writes())
		}
	})
}

func TestBuilderLeavesSkippedDirectoriesAlone(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	mt := time.Unix(1, 0)
	reconcile(t, store, true,
		FileInfo{Path: "a", Size: 1, MTime: mt},
		FileInfo{Path: "locked/b", Size: 1, MTime: mt},
		FileInfo{Path: "lockedness", Size: 1, MTime: mt},
	)

	b, _ := NewBuilder(ctx, store, 10, nil)
	_ = b.Consume(ctx, feed(FileInfo{Path: "a", Size: 1, MTime: mt}))
	stats, err := b.Finish(ctx, true, []string{"locked"})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if stats.Pruned != 1 {
		t.Errorf("Pruned: got %d, want 1 (only lockedness)", stats.Pruned)
	}
	if _, err := store.Get(ctx, "locked/b"); err != nil {
		t.Errorf("record under skipped dir was pruned: %v", err)
	}
}
