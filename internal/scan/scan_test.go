package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/eargollo/dupecat/internal/catalog"
)

func runPipeline(t *testing.T, store catalog.Store, cfg Config) *Result {
	t.Helper()
	res, err := New(store, nil, cfg).Run(context.Background(), "", "test", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestPipelineFindsDuplicates(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "b.txt", "hello")
	writeFile(t, root, "c.txt", "world")
	writeFile(t, root, "sub/a.bin", "0123456789")
	writeFile(t, root, "sub/b.bin", "0123456789")
	writeFile(t, root, "unique.dat", "only one of these")

	res := runPipeline(t, catalog.NewMemStore(), testConfig(root))

	// Groups are ordered by checksum: md5("hello") = 5d41..., md5("0123456789") = 781e...
	want := [][]string{{"a.txt", "b.txt"}, {"sub/a.bin", "sub/b.bin"}}
	if got := groupPaths(res); !reflect.DeepEqual(got, want) {
		t.Fatalf("groups: got %v, want %v", got, want)
	}
	for _, g := range res.Groups {
		if g.Size == 5 && g.Checksum != "5d41402abc4b2a76b9719d911017c592" {
			t.Errorf("hello group checksum: got %s", g.Checksum)
		}
	}
	if res.Candidates != 5 {
		t.Errorf("Candidates: got %d, want 5 (unique.dat never selected)", res.Candidates)
	}
	if res.Hash.Hashed != 5 {
		t.Errorf("Hashed: got %d, want 5", res.Hash.Hashed)
	}
	if res.Summary.Groups != 2 || res.Summary.Files != 4 || res.Summary.ReclaimableBytes != 15 {
		t.Errorf("Summary: got %+v, want 2 groups, 4 files, 15 bytes", res.Summary)
	}
	if res.RunID == "" {
		t.Error("RunID not generated")
	}
}

func TestPipelineUniqueSizesNeverHashed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.bin", string(make([]byte, 100)))
	writeFile(t, root, "b.bin", string(make([]byte, 200)))

	progress := &Progress{}
	res, err := New(catalog.NewMemStore(), nil, testConfig(root)).Run(context.Background(), "", "test", progress, noWarnings(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Groups) != 0 {
		t.Errorf("groups: got %v, want none", groupPaths(res))
	}
	if n := progress.HashTotal.Load(); n != 0 {
		t.Errorf("HashTotal: got %d, want 0", n)
	}
	if res.Candidates != 0 || res.Hash.Hashed != 0 || res.Hash.BytesRead != 0 {
		t.Errorf("got candidates=%d hash=%+v, want nothing hashed", res.Candidates, res.Hash)
	}
}

func TestPipelineIncrementalRerun(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "b.txt", "hello")
	writeFile(t, root, "c.txt", "world")
	store := catalog.NewMemStore()
	cfg := testConfig(root)

	first := runPipeline(t, store, cfg)
	writes := store.Writes()

	second := runPipeline(t, store, cfg)
	if second.Reconcile.Writes() != 0 || second.Hash.Hashed != 0 || second.Hash.Reused != 3 {
		t.Errorf("rerun: got reconcile=%+v hash=%+v, want no writes and 3 reused", second.Reconcile, second.Hash)
	}
	if store.Writes() != writes {
		t.Errorf("store writes grew from %d to %d on an unchanged tree", writes, store.Writes())
	}
	if !reflect.DeepEqual(groupPaths(first), groupPaths(second)) {
		t.Errorf("rerun groups differ: %v vs %v", groupPaths(first), groupPaths(second))
	}

	// A new copy is the only file hashed.
	writeFile(t, root, "d.txt", "hello")
	third := runPipeline(t, store, cfg)
	if third.Hash.Hashed != 1 {
		t.Errorf("after adding d.txt: hashed %d, want 1", third.Hash.Hashed)
	}
	if got := groupPaths(third); !reflect.DeepEqual(got, [][]string{{"a.txt", "b.txt", "d.txt"}}) {
		t.Errorf("after adding d.txt: got %v", got)
	}
}

func TestPipelineDetectsSameSizeContentChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "b.txt", "hello")
	store := catalog.NewMemStore()
	cfg := testConfig(root)

	if res := runPipeline(t, store, cfg); len(res.Groups) != 1 {
		t.Fatalf("first run: got %v, want one group", groupPaths(res))
	}

	writeFile(t, root, "b.txt", "jello")
	touch(t, root, "b.txt", time.Hour)

	res := runPipeline(t, store, cfg)
	if len(res.Groups) != 0 {
		t.Errorf("after edit: got %v, want no groups", groupPaths(res))
	}
	if res.Reconcile.Updated != 1 || res.Hash.Hashed != 1 {
		t.Errorf("after edit: reconcile=%+v hash=%+v, want one update and one hash", res.Reconcile, res.Hash)
	}
}

func TestPipelineRemovedFiles(t *testing.T) {
	for _, prune := range []bool{false, true} {
		name := "keep"
		if prune {
			name = "prune"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()
			writeFile(t, root, "a.txt", "hello")
			writeFile(t, root, "b.txt", "hello")
			store := catalog.NewMemStore()
			cfg := testConfig(root)
			cfg.Prune = prune
			runPipeline(t, store, cfg)

			os.Remove(filepath.Join(root, "b.txt"))
			res := runPipeline(t, store, cfg)
			if len(res.Groups) != 0 {
				t.Errorf("removed file still grouped: %v", groupPaths(res))
			}

			rec, err := store.Get(ctx, "b.txt")
			switch {
			case prune && !errors.Is(err, catalog.ErrNotFound):
				t.Errorf("pruned record: got %+v, %v; want ErrNotFound", rec, err)
			case !prune && (err != nil || rec.State != catalog.Stale):
				t.Errorf("kept record: got %+v, %v; want stale", rec, err)
			}
		})
	}
}

func TestPipelineDeterministic(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"x/1", "x/2", "y/1", "y/2", "z"} {
		writeFile(t, root, p, "dup")
	}
	writeFile(t, root, "w/1", "other")
	writeFile(t, root, "w/2", "other")

	cfg := testConfig(root)
	cfg.Walkers = 8
	cfg.Hashers = 8
	want := groupPaths(runPipeline(t, catalog.NewMemStore(), cfg))
	for range 5 {
		if got := groupPaths(runPipeline(t, catalog.NewMemStore(), cfg)); !reflect.DeepEqual(got, want) {
			t.Fatalf("nondeterministic groups: %v vs %v", got, want)
		}
	}
}

func TestPipelineSkipEmptyAndVerify(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "e1", "")
	writeFile(t, root, "e2", "")
	writeFile(t, root, "a", "same")
	writeFile(t, root, "b", "same")

	cfg := testConfig(root)
	cfg.Verify = true
	res := runPipeline(t, catalog.NewMemStore(), cfg)
	if len(res.Groups) != 2 {
		t.Errorf("with empty files: got %v, want 2 groups", groupPaths(res))
	}

	cfg.SkipEmpty = true
	res = runPipeline(t, catalog.NewMemStore(), cfg)
	if got := groupPaths(res); !reflect.DeepEqual(got, [][]string{{"a", "b"}}) {
		t.Errorf("skip empty: got %v, want [[a b]]", got)
	}
}

func TestPipelineSQLiteWithHistory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a", "same")
	writeFile(t, root, "b", "same")
	store := mustOpenStore(t)
	history := NewHistory(store.DB())

	res, err := New(store, history, testConfig(root)).Run(context.Background(), "run-xyz", "test", nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Groups) != 1 {
		t.Fatalf("got %v, want one group", groupPaths(res))
	}

	run, _, err := history.GetRun(context.Background(), "run-xyz", 0)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != StatusCompleted || run.DuplicateGroups != 1 || run.FilesSeen != 2 {
		t.Errorf("run: got %+v", run)
	}
}

func TestPipelineFatalRoot(t *testing.T) {
	store := catalog.NewMemStore()
	cfg := testConfig(filepath.Join(t.TempDir(), "missing"))
	_, err := New(store, nil, cfg).Run(context.Background(), "", "test", nil, nil)

	var fatal *FatalScanError
	if !errors.As(err, &fatal) {
		t.Fatalf("got %v, want FatalScanError", err)
	}
	if store.Writes() != 0 {
		t.Error("catalog modified after fatal root error")
	}
}

func TestPipelineCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(catalog.NewMemStore(), nil, testConfig(root)).Run(ctx, "", "test", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestPipelineRejectsUnknownAlgorithm(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Algorithm = "crc32"
	if _, err := New(catalog.NewMemStore(), nil, cfg).Run(context.Background(), "", "test", nil, nil); err == nil {
		t.Error("want error for unknown algorithm")
	}
}
