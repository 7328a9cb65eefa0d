package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Stdout is the output path that sends the report to standard output.
const Stdout = "-"

// WriteFile renders a report through render into path atomically: readers
// see either the previous report or the complete new one. Path Stdout writes
// to os.Stdout instead.
func WriteFile(path string, render func(io.Writer) error) error {
	if path == Stdout {
		return render(os.Stdout)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := render(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod report: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename report to %s: %w", path, err)
	}
	tmp = nil
	return nil
}
