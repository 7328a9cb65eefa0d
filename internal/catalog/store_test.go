package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// storeFactories lets every contract test run against both implementations.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemStore() },
		"sqlite": func(t *testing.T) Store { return mustOpenSQLite(t) },
	}
}

func TestStoreUpsertGetDelete(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			rec := NewRecord("dir/a.txt", 42, time.Unix(1000, 123))
			if err := s.Upsert(ctx, rec); err != nil {
				t.Fatalf("Upsert: %v", err)
			}

			got, err := s.Get(ctx, "dir/a.txt")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Size != 42 || got.MTime.UnixNano() != rec.MTime.UnixNano() || got.State != Unhashed {
				t.Errorf("Get: got %+v, want size=42 mtime=%v state=unhashed", got, rec.MTime)
			}

			got.SetChecksum("md5", "d41d8cd9")
			if err := s.Upsert(ctx, got); err != nil {
				t.Fatalf("Upsert hashed: %v", err)
			}
			got, _ = s.Get(ctx, "dir/a.txt")
			if got.Checksum != "d41d8cd9" || got.Algorithm != "md5" || got.State != Hashed {
				t.Errorf("after hash: got %+v", got)
			}

			if err := s.Delete(ctx, "dir/a.txt"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, "dir/a.txt"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after delete: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreStaleClearsChecksum(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			rec := NewRecord("a", 1, time.Unix(1, 0))
			rec.SetChecksum("md5", "abc")
			_ = s.Upsert(ctx, rec)

			rec.Invalidate()
			rec.Checksum = "leftover" // must not survive a non-hashed state
			if err := s.Upsert(ctx, rec); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			got, _ := s.Get(ctx, "a")
			if got.State != Stale || got.Checksum != "" {
				t.Errorf("got state=%s checksum=%q, want stale and empty", got.State, got.Checksum)
			}
		})
	}
}

func TestStoreGroupBySize(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			recs := []FileRecord{
				NewRecord("b", 200, time.Unix(1, 0)),
				NewRecord("a", 200, time.Unix(1, 0)),
				NewRecord("c", 100, time.Unix(1, 0)),
				NewRecord("d", 100, time.Unix(1, 0)),
				NewRecord("e", 100, time.Unix(1, 0)),
				NewRecord("unique", 300, time.Unix(1, 0)),
			}
			if err := s.UpsertBatch(ctx, recs); err != nil {
				t.Fatalf("UpsertBatch: %v", err)
			}

			groups, err := s.GroupBySize(ctx, 2)
			if err != nil {
				t.Fatalf("GroupBySize: %v", err)
			}
			if len(groups) != 2 {
				t.Fatalf("got %d groups, want 2: %+v", len(groups), groups)
			}
			if groups[0].Size != 100 || len(groups[0].Records) != 3 {
				t.Errorf("group 0: got size=%d n=%d, want size=100 n=3", groups[0].Size, len(groups[0].Records))
			}
			if groups[1].Size != 200 || groups[1].Records[0].Path != "a" || groups[1].Records[1].Path != "b" {
				t.Errorf("group 1: got %+v, want size 200 ordered a,b", groups[1])
			}

			all, _ := s.GroupBySize(ctx, 1)
			if len(all) != 3 {
				t.Errorf("minMembers=1: got %d groups, want 3", len(all))
			}
		})
	}
}

func TestStoreHashedOrdering(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			mk := func(path, sum string) FileRecord {
				r := NewRecord(path, 1, time.Unix(1, 0))
				if sum != "" {
					r.SetChecksum("md5", sum)
				}
				return r
			}
			_ = s.UpsertBatch(ctx, []FileRecord{
				mk("z", "bbb"), mk("y", "aaa"), mk("x", "bbb"), mk("w", ""),
			})

			got, err := s.Hashed(ctx)
			if err != nil {
				t.Fatalf("Hashed: %v", err)
			}
			want := []string{"y", "x", "z"}
			if len(got) != len(want) {
				t.Fatalf("got %d records, want %d", len(got), len(want))
			}
			for i, p := range want {
				if got[i].Path != p {
					t.Errorf("record %d: got %q, want %q", i, got[i].Path, p)
				}
			}
		})
	}
}

func TestStoreBatchLargerThanTransaction(t *testing.T) {
	ctx := context.Background()
	s := mustOpenSQLite(t)

	const n = writeBatchSize*2 + 7
	recs := make([]FileRecord, n)
	paths := make([]string, n)
	for i := range recs {
		paths[i] = fmt.Sprintf("f%05d", i)
		recs[i] = NewRecord(paths[i], int64(i), time.Unix(1, 0))
	}
	if err := s.UpsertBatch(ctx, recs); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	all, _ := s.All(ctx)
	if len(all) != n {
		t.Fatalf("All: got %d, want %d", len(all), n)
	}
	if err := s.DeleteBatch(ctx, paths[:n-1]); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	all, _ = s.All(ctx)
	if len(all) != 1 || all[0].Path != paths[n-1] {
		t.Errorf("after DeleteBatch: got %+v", all)
	}
}

func TestStoreErrorUnwraps(t *testing.T) {
	inner := errors.New("disk full")
	err := error(&StoreError{Op: "upsert", Path: "a", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("StoreError does not unwrap to its cause")
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "upsert" {
		t.Errorf("errors.As: got %+v", se)
	}
}

func TestMemStoreCancelledContext(t *testing.T) {
	s := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Upsert(ctx, NewRecord("a", 1, time.Unix(1, 0)))
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *StoreError", err)
	}
	if s.Writes() != 0 {
		t.Errorf("Writes: got %d, want 0", s.Writes())
	}
}

func TestStoreCountByState(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			hashed := NewRecord("h", 1, time.Unix(1, 0))
			hashed.SetChecksum("md5", "x")
			stale := NewRecord("s", 1, time.Unix(1, 0))
			stale.Invalidate()
			if err := s.UpsertBatch(ctx, []FileRecord{hashed, stale, NewRecord("u1", 2, time.Unix(1, 0)), NewRecord("u2", 3, time.Unix(1, 0))}); err != nil {
				t.Fatal(err)
			}

			got, err := s.CountByState(ctx)
			if err != nil {
				t.Fatalf("CountByState: %v", err)
			}
			if got[Hashed] != 1 || got[Stale] != 1 || got[Unhashed] != 2 {
				t.Errorf("got %v, want hashed=1 stale=1 unhashed=2", got)
			}
		})
	}
}

func TestStoreReadsCancelledContext(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			if err := s.UpsertBatch(context.Background(), []FileRecord{
				NewRecord("a", 1, time.Unix(1, 0)),
				NewRecord("b", 1, time.Unix(1, 0)),
			}); err != nil {
				t.Fatalf("UpsertBatch: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if _, err := s.All(ctx); err == nil {
				t.Error("All: got nil error, want cancellation")
			}
			if groups, err := s.GroupBySize(ctx, 2); err == nil {
				t.Errorf("GroupBySize: got %v, nil; want cancellation", groups)
			}
			if recs, err := s.Hashed(ctx); err == nil {
				t.Errorf("Hashed: got %v, nil; want cancellation", recs)
			}
		})
	}
}
