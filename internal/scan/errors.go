package scan

import (
	"errors"
	"fmt"
)

// FatalScanError aborts a run: the root is missing, unreadable or not a
// directory.
type FatalScanError struct {
	Root string
	Err  error
}

func (e *FatalScanError) Error() string {
	return fmt.Sprintf("scan root %q: %v", e.Root, e.Err)
}

func (e *FatalScanError) Unwrap() error { return e.Err }

// errNotDir is wrapped by FatalScanError when the root is a file.
var errNotDir = errors.New("not a directory")

// WarningKind classifies a per-file problem that does not abort the run.
type WarningKind string

const (
	// SkippedEntry is a directory or file the walker could not read.
	SkippedEntry WarningKind = "skipped_entry"
	// StaleRead is a catalogued file that vanished, changed or became
	// unreadable before it could be hashed or verified.
	StaleRead WarningKind = "stale_read"
)

// Warning is one per-file problem surfaced to the operator.
type Warning struct {
	Kind  WarningKind
	Path  string // relative to the scan root
	Stage string // walk, hash, verify
	Err   error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s %q: %v", w.Kind, w.Stage, w.Path, w.Err)
}

// WarningReporter receives every Warning raised during a run. It must be safe
// for concurrent use.
type WarningReporter func(w Warning)
