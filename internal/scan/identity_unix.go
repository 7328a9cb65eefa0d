//go:build !windows

package scan

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"syscall"
)

// dirIdentity is the device/inode pair of a directory, falling back to its
// canonical path when the platform stat is unavailable.
func dirIdentity(abs string, info fs.FileInfo) string {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d:%d", uint64(st.Dev), uint64(st.Ino))
	}
	return canonicalPath(abs)
}

func canonicalPath(abs string) string {
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return filepath.Clean(abs)
}
