// Package scan implements the duplicate-detection pipeline: walk the tree,
// reconcile the catalog, select same-size candidates, hash them and group
// the results.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/report"
)

// Config holds run policy and concurrency tuning parameters.
type Config struct {
	Root           string
	FollowSymlinks bool
	Prune          bool
	SkipEmpty      bool
	Verify         bool
	Excludes       []string
	Algorithm      string
	Walkers        int
	Hashers        int
	BatchSize      int
	HashTimeout    time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Root:        ".",
		Algorithm:   DefaultAlgorithm,
		Walkers:     4,
		Hashers:     2,
		BatchSize:   1000,
		HashTimeout: 5 * time.Minute,
	}
}

// Result is everything a completed run produced.
type Result struct {
	RunID      string
	Reconcile  ReconcileStats
	Candidates int
	Hash       HashStats
	Groups     []report.Group
	Summary    report.Summary
	Warnings   int64
	Duration   time.Duration
}

// Pipeline runs the four phases sequentially against one store.
type Pipeline struct {
	store   catalog.Store
	history *History
	cfg     Config
}

// New creates a Pipeline. history may be nil.
func New(store catalog.Store, history *History, cfg Config) *Pipeline {
	return &Pipeline{store: store, history: history, cfg: cfg}
}

// Run executes one full pipeline. runID may be empty, in which case a new
// one is generated. Per-file problems are reported through onWarn (which
// may be nil) and never fail the run; root and store failures do.
func (p *Pipeline) Run(ctx context.Context, runID, triggeredBy string, progress *Progress, onWarn WarningReporter) (*Result, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	if progress == nil {
		progress = &Progress{}
	}
	algo, err := NormalizeAlgorithm(p.cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	cfg := p.cfg
	cfg.Algorithm = algo

	startedAt := time.Now()
	rowID, err := p.history.start(ctx, runID, cfg.Root, triggeredBy, startedAt)
	if err != nil {
		return nil, err
	}
	log := slog.With("run_id", runID)
	log.Info("scan started", "root", cfg.Root, "triggered_by", triggeredBy,
		"follow_symlinks", cfg.FollowSymlinks, "prune", cfg.Prune, "algorithm", algo)

	warn := func(w Warning) {
		progress.Warnings.Add(1)
		log.Warn("scan warning", "kind", w.Kind, "stage", w.Stage, "path", w.Path, "error", w.Err)
		p.history.warn(rowID, w)
		if onWarn != nil {
			onWarn(w)
		}
	}

	reporterStop := make(chan struct{})
	go p.history.reportProgress(ctx, rowID, progress, reporterStop)

	res, runErr := p.execute(ctx, cfg, progress, warn)
	close(reporterStop)

	status := StatusCompleted
	switch {
	case ctx.Err() != nil:
		status = StatusCancelled
		if runErr == nil {
			runErr = ctx.Err()
		}
	case runErr != nil:
		status = StatusFailed
	}

	finishedAt := time.Now()
	if res != nil {
		res.RunID = runID
		res.Warnings = progress.Warnings.Load()
		res.Duration = finishedAt.Sub(startedAt)
	}
	if err := p.history.finish(rowID, status, finishedAt, startedAt, res, progress, runErr); err != nil {
		log.Error("finalise scan run", "error", err)
	}

	log.Info("scan finished", "status", status,
		"files_discovered", progress.FilesDiscovered.Load(),
		"hashed", progress.Hashed.Load(),
		"warnings", progress.Warnings.Load())

	if runErr != nil {
		return nil, runErr
	}
	return res, nil
}

// execute wires the phases and returns the result of a completed run.
func (p *Pipeline) execute(ctx context.Context, cfg Config, progress *Progress, warn WarningReporter) (*Result, error) {
	// Phase 1: walk and reconcile.
	progress.setPhase(PhaseWalk)
	builder, err := NewBuilder(ctx, p.store, cfg.BatchSize, progress)
	if err != nil {
		return nil, err
	}

	excludes := make(map[string]struct{}, len(cfg.Excludes))
	for _, e := range cfg.Excludes {
		excludes[e] = struct{}{}
	}

	var (
		skippedMu sync.Mutex
		skipped   []string
	)
	walkWarn := func(w Warning) {
		if w.Kind == SkippedEntry {
			skippedMu.Lock()
			skipped = append(skipped, w.Path)
			skippedMu.Unlock()
		}
		warn(w)
	}

	walkCtx, cancelWalk := context.WithCancel(ctx)
	defer cancelWalk()

	const bufSize = 1000
	walkOut := make(chan FileInfo, bufSize)
	walkErr := make(chan error, 1)
	go func() {
		walkErr <- Walk(walkCtx, cfg.Root, WalkOptions{
			Workers:        cfg.Walkers,
			FollowSymlinks: cfg.FollowSymlinks,
			Excludes:       excludes,
		}, walkOut, walkWarn)
	}()

	consumeErr := builder.Consume(ctx, walkOut)
	if consumeErr != nil {
		cancelWalk()
	}
	if err := <-walkErr; err != nil {
		var fatal *FatalScanError
		if errors.As(err, &fatal) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if consumeErr == nil {
			return nil, fmt.Errorf("walk: %w", err)
		}
	}
	if consumeErr != nil {
		return nil, consumeErr
	}

	recStats, err := builder.Finish(ctx, cfg.Prune, skipped)
	if err != nil {
		return nil, err
	}
	slog.Info("catalog reconciled",
		"seen", recStats.Seen, "inserted", recStats.Inserted, "updated", recStats.Updated,
		"unchanged", recStats.Unchanged, "missing", recStats.Missing, "pruned", recStats.Pruned)

	// Phase 2: same-size candidates.
	progress.setPhase(PhaseSelect)
	observed := builder.Observed()
	groups, err := SelectCandidates(ctx, p.store, SelectOptions{Observed: observed, SkipEmpty: cfg.SkipEmpty}, progress)
	if err != nil {
		return nil, err
	}
	candidates := CountRecords(groups)
	slog.Info("candidates selected", "sizes", len(groups), "files", candidates)

	// Phase 3: hash.
	progress.setPhase(PhaseHash)
	hashStats, err := HashCandidates(ctx, p.store, cfg.Root, groups, HashOptions{
		Algorithm: cfg.Algorithm,
		Workers:   cfg.Hashers,
		Timeout:   cfg.HashTimeout,
		BatchSize: cfg.BatchSize,
	}, progress, warn)
	if err != nil {
		return nil, err
	}

	// Phase 4: group and optionally verify.
	progress.setPhase(PhaseReport)
	dupes, err := report.FromStore(ctx, p.store, candidateSet(groups))
	if err != nil {
		return nil, err
	}
	dupes = report.OnlyAlgorithm(dupes, cfg.Algorithm)
	if cfg.Verify {
		if dupes, err = VerifyGroups(ctx, cfg.Root, dupes, cfg.HashTimeout, progress, warn); err != nil {
			return nil, err
		}
	}

	return &Result{
		Reconcile:  recStats,
		Candidates: candidates,
		Hash:       hashStats,
		Groups:     dupes,
		Summary:    report.Summarize(dupes),
	}, nil
}

// candidateSet is the set of paths that took part in hashing. Records that
// failed to hash were marked Stale and drop out on their own.
func candidateSet(groups []catalog.SizeGroup) map[string]struct{} {
	set := make(map[string]struct{}, CountRecords(groups))
	for _, g := range groups {
		for _, rec := range g.Records {
			set[rec.Path] = struct{}{}
		}
	}
	return set
}
