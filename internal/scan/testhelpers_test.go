package scan

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/eargollo/dupecat/internal/catalog"
	internaldb "github.com/eargollo/dupecat/internal/db"
)

// mustOpenStore opens a temp file catalog with the full schema applied.
func mustOpenStore(tb testing.TB) *catalog.SQLiteStore {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.OpenCatalog(dbPath)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return catalog.NewSQLiteStore(db, 2)
}

// writeFile creates root/rel (and its parents) with content.
func writeFile(tb testing.TB, root, rel, content string) string {
	tb.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		tb.Fatalf("mkdir %q: %v", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %q: %v", p, err)
	}
	return p
}

// touch moves the mtime of root/rel forward by d.
func touch(tb testing.TB, root, rel string, d time.Duration) {
	tb.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(p)
	if err != nil {
		tb.Fatalf("stat %q: %v", p, err)
	}
	mt := info.ModTime().Add(d)
	if err := os.Chtimes(p, mt, mt); err != nil {
		tb.Fatalf("chtimes %q: %v", p, err)
	}
}

// noWarnings is a WarningReporter that fails the test if invoked.
func noWarnings(tb testing.TB) WarningReporter {
	return func(w Warning) {
		tb.Errorf("unexpected warning: %s", w)
	}
}

// warningLog collects warnings from concurrent stages.
type warningLog struct {
	mu   sync.Mutex
	list []Warning
}

func (l *warningLog) report(w Warning) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, w)
}

func (l *warningLog) kinds() map[WarningKind][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[WarningKind][]string)
	for _, w := range l.list {
		out[w.Kind] = append(out[w.Kind], w.Path)
	}
	return out
}

// walkAll runs Walk to completion and returns the sorted relative paths.
func walkAll(tb testing.TB, root string, opts WalkOptions, report WarningReporter) []string {
	tb.Helper()
	out := make(chan FileInfo, 1000)
	errCh := make(chan error, 1)
	go func() { errCh <- Walk(context.Background(), root, opts, out, report) }()

	var got []string
	for fi := range out {
		got = append(got, fi.Path)
	}
	if err := <-errCh; err != nil {
		tb.Fatalf("Walk: %v", err)
	}
	sort.Strings(got)
	return got
}

// testConfig is a pipeline config suited to small trees.
func testConfig(root string) Config {
	cfg := DefaultConfig()
	cfg.Root = root
	cfg.BatchSize = 10
	cfg.HashTimeout = 10 * time.Second
	return cfg
}

// groupPaths flattens a result's groups into [][]path for comparisons.
func groupPaths(res *Result) [][]string {
	var out [][]string
	for _, g := range res.Groups {
		var paths []string
		for _, r := range g.Records {
			paths = append(paths, r.Path)
		}
		out = append(out, paths)
	}
	return out
}
