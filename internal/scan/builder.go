package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eargollo/dupecat/internal/catalog"
)

// ReconcileStats summarises one catalog reconciliation.
type ReconcileStats struct {
	Seen      int64
	Inserted  int64
	Updated   int64
	Unchanged int64
	// Missing counts catalogued paths not observed by this scan.
	Missing int64
	// Pruned counts Missing records deleted because pruning was enabled.
	Pruned int64
}

// Writes is the number of records the reconciliation changed.
func (s ReconcileStats) Writes() int64 {
	return s.Inserted + s.Updated + s.Pruned
}

// Builder reconciles walker output against a catalog snapshot. It never
// reads file content.
type Builder struct {
	store     catalog.Store
	batchSize int
	progress  *Progress

	snapshot map[string]catalog.FileRecord
	observed map[string]struct{}
	pending  []catalog.FileRecord
	stats    ReconcileStats
}

// NewBuilder loads the current catalog once so that each observed file costs
// a map lookup instead of a store round trip.
func NewBuilder(ctx context.Context, store catalog.Store, batchSize int, progress *Progress) (*Builder, error) {
	recs, err := store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog snapshot: %w", err)
	}
	snapshot := make(map[string]catalog.FileRecord, len(recs))
	for _, rec := range recs {
		snapshot[rec.Path] = rec
	}
	if progress == nil {
		progress = &Progress{}
	}
	return &Builder{
		store:     store,
		batchSize: max(batchSize, 1),
		progress:  progress,
		snapshot:  snapshot,
		observed:  make(map[string]struct{}, len(recs)),
	}, nil
}

// Observe reconciles a single walker result.
func (b *Builder) Observe(ctx context.Context, fi FileInfo) error {
	if _, dup := b.observed[fi.Path]; dup {
		// Followed symlinks can surface the same relative path only once,
		// but guard anyway so stats stay exact.
		return nil
	}
	b.observed[fi.Path] = struct{}{}
	b.stats.Seen++
	b.progress.FilesDiscovered.Add(1)

	rec, ok := b.snapshot[fi.Path]
	switch {
	case !ok:
		b.pending = append(b.pending, catalog.NewRecord(fi.Path, fi.Size, fi.MTime))
		b.stats.Inserted++
		b.progress.Inserted.Add(1)
	case rec.Changed(fi.Size, fi.MTime):
		rec.Size = fi.Size
		rec.MTime = fi.MTime
		rec.Invalidate()
		b.pending = append(b.pending, rec)
		b.stats.Updated++
		b.progress.Updated.Add(1)
	default:
		b.stats.Unchanged++
		b.progress.Unchanged.Add(1)
		return nil
	}

	if len(b.pending) >= b.batchSize {
		return b.flush(ctx)
	}
	return nil
}

// Consume observes everything from in until it is closed. Buffered writes are
// flushed even if ctx is cancelled, so a cancelled run keeps its work.
func (b *Builder) Consume(ctx context.Context, in <-chan FileInfo) error {
	var err error
	for fi := range in {
		if err != nil {
			continue // drain so the walker can finish
		}
		err = b.Observe(ctx, fi)
	}
	if err != nil {
		return err
	}
	return b.flush(context.WithoutCancel(ctx))
}

func (b *Builder) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.store.UpsertBatch(ctx, b.pending); err != nil {
		return fmt.Errorf("reconcile catalog: %w", err)
	}
	b.pending = b.pending[:0]
	return nil
}

// Finish handles catalogued paths the scan did not observe. With prune they
// are deleted; without it they are marked Stale once so no later grouping
// trusts their old digest. Paths under skippedDirs are left untouched: they
// were not seen because they could not be read, not because they are gone.
func (b *Builder) Finish(ctx context.Context, prune bool, skippedDirs []string) (ReconcileStats, error) {
	var (
		toDelete []string
		toStale  []catalog.FileRecord
	)
	for p, rec := range b.snapshot {
		if _, ok := b.observed[p]; ok {
			continue
		}
		if underAny(p, skippedDirs) {
			continue
		}
		b.stats.Missing++
		if prune {
			toDelete = append(toDelete, p)
			continue
		}
		if rec.State != catalog.Stale {
			rec.Invalidate()
			toStale = append(toStale, rec)
		}
	}

	if len(toDelete) > 0 {
		if err := b.store.DeleteBatch(ctx, toDelete); err != nil {
			return b.stats, fmt.Errorf("prune catalog: %w", err)
		}
		b.stats.Pruned = int64(len(toDelete))
		slog.Info("pruned records for removed files", "count", len(toDelete))
	}
	if len(toStale) > 0 {
		if err := b.store.UpsertBatch(ctx, toStale); err != nil {
			return b.stats, fmt.Errorf("mark missing records stale: %w", err)
		}
		b.stats.Updated += int64(len(toStale))
		slog.Info("marked records for missing files stale", "count", len(toStale))
	}
	return b.stats, nil
}

// Observed returns the set of paths seen by this scan.
func (b *Builder) Observed() map[string]struct{} { return b.observed }

// Stats returns the counters accumulated so far.
func (b *Builder) Stats() ReconcileStats { return b.stats }

func underAny(p string, dirs []string) bool {
	for _, d := range dirs {
		if d == "" || d == "." || p == d || strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}
