//go:build windows

package scan

import (
	"io/fs"
	"path/filepath"
)

// dirIdentity is the canonical path of a directory.
func dirIdentity(abs string, _ fs.FileInfo) string {
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return filepath.Clean(abs)
}
