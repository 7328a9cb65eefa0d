package catalog

import (
	"path/filepath"
	"testing"
)

// mustOpenSQLite opens a temp file catalog with the full schema applied.
func mustOpenSQLite(tb testing.TB) *SQLiteStore {
	tb.Helper()
	s, err := OpenSQLite(filepath.Join(tb.TempDir(), "catalog.db"), 2)
	if err != nil {
		tb.Fatalf("open test catalog: %v", err)
	}
	tb.Cleanup(func() { s.Close() })
	return s
}
