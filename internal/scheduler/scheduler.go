// Package scheduler triggers periodic scans from a cron expression.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eargollo/dupecat/internal/scan"
)

// TriggeredBy is recorded on runs started by the schedule.
const TriggeredBy = "schedule"

// Starter launches an asynchronous scan. *scan.Manager satisfies it.
type Starter interface {
	Start(ctx context.Context, triggeredBy string) (*scan.ActiveScan, error)
}

// Scheduler wraps robfig/cron and tracks the next scheduled scan.
type Scheduler struct {
	mu       sync.RWMutex
	c        *cron.Cron
	entryID  cron.EntryID
	cronExpr string
	paused   bool
}

// New creates a stopped Scheduler. Call Start to activate it.
func New() *Scheduler {
	return &Scheduler{
		c: cron.New(),
	}
}

// SetScanJob replaces the scan job with one that fires on expr. Runs that
// fire while a scan is already active, or while paused, are skipped.
func (s *Scheduler) SetScanJob(ctx context.Context, expr string, starter Starter) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}
	id, err := s.c.AddFunc(expr, func() { s.fire(ctx, starter) })
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.entryID = id
	s.cronExpr = expr
	slog.Info("scheduler: scan job set", "cron", expr)
	return nil
}

func (s *Scheduler) fire(ctx context.Context, starter Starter) {
	if s.Paused() {
		slog.Info("scheduler: scan skipped, schedule paused")
		return
	}
	active, err := starter.Start(ctx, TriggeredBy)
	switch {
	case errors.Is(err, scan.ErrAlreadyRunning):
		slog.Info("scheduler: scan skipped, another scan is running")
	case err != nil:
		slog.Error("scheduler: start scan", "error", err)
	default:
		slog.Info("scheduler: scan started", "run_id", active.ID)
	}
}

// SetPaused suspends or resumes scheduled scans without removing the job.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

// Paused reports whether scheduled scans are suspended.
func (s *Scheduler) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop. The returned context is done once running jobs
// have returned.
func (s *Scheduler) Stop() context.Context {
	return s.c.Stop()
}

// NextRunAt returns the next scheduled time, or nil if no job is set.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current cron expression.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cronExpr
}
