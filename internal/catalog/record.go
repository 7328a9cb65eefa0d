// Package catalog holds the persistent table of file records that describes
// the last-known state of a scanned tree, and the stores that keep it.
package catalog

import (
	"path"
	"strings"
	"time"
)

// HashState tags where a record stands with respect to its content digest.
type HashState string

const (
	// Unhashed records have never been hashed.
	Unhashed HashState = "unhashed"
	// Hashed records carry a digest that matches their current size.
	Hashed HashState = "hashed"
	// Stale records had their digest invalidated, either because the
	// metadata changed or because the last read failed.
	Stale HashState = "stale"
)

// Valid reports whether s is one of the known states.
func (s HashState) Valid() bool {
	switch s {
	case Unhashed, Hashed, Stale:
		return true
	}
	return false
}

// FileRecord is one catalogued file, keyed by its root-relative path.
type FileRecord struct {
	Path      string // relative to the scan root, forward slashes
	Size      int64
	MTime     time.Time
	State     HashState
	Checksum  string // hex digest, empty unless State == Hashed
	Algorithm string // digest algorithm that produced Checksum
}

// NewRecord returns an Unhashed record for a freshly observed file.
func NewRecord(relPath string, size int64, mtime time.Time) FileRecord {
	return FileRecord{
		Path:  relPath,
		Size:  size,
		MTime: mtime,
		State: Unhashed,
	}
}

// Name is the base name of the file.
func (r FileRecord) Name() string {
	return path.Base(r.Path)
}

// Ext is the lowercase extension including the dot. Dot-files such as
// ".bashrc" have no extension.
func (r FileRecord) Ext() string {
	name := strings.TrimLeft(r.Name(), ".")
	if name == "" {
		return ""
	}
	return strings.ToLower(path.Ext(name))
}

// Changed reports whether the observed size or mtime differ from the record.
func (r FileRecord) Changed(size int64, mtime time.Time) bool {
	return r.Size != size || r.MTime.UnixNano() != mtime.UnixNano()
}

// HasChecksum reports whether the record carries a usable digest.
func (r FileRecord) HasChecksum() bool {
	return r.State == Hashed && r.Checksum != ""
}

// NeedsHash reports whether the record must be (re)hashed with algo.
func (r FileRecord) NeedsHash(algo string) bool {
	return !r.HasChecksum() || r.Algorithm != algo
}

// Invalidate clears the digest and marks the record Stale.
func (r *FileRecord) Invalidate() {
	r.State = Stale
	r.Checksum = ""
	r.Algorithm = ""
}

// SetChecksum records a freshly computed digest.
func (r *FileRecord) SetChecksum(algo, sum string) {
	r.State = Hashed
	r.Checksum = sum
	r.Algorithm = algo
}

// SizeGroup is every catalogued record with one exact size, ordered by path.
type SizeGroup struct {
	Size    int64
	Records []FileRecord
}
