package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/eargollo/dupecat/internal/scan"
)

type fakeStarter struct {
	calls []string
	err   error
}

func (f *fakeStarter) Start(_ context.Context, triggeredBy string) (*scan.ActiveScan, error) {
	f.calls = append(f.calls, triggeredBy)
	if f.err != nil {
		return nil, f.err
	}
	return &scan.ActiveScan{ID: "run", TriggeredBy: triggeredBy}, nil
}

func TestSetScanJob(t *testing.T) {
	s := New()
	if err := s.SetScanJob(context.Background(), "not a cron", &fakeStarter{}); err == nil {
		t.Error("expected error for invalid expression")
	}
	if s.NextRunAt() != nil {
		t.Error("NextRunAt with no job: want nil")
	}

	if err := s.SetScanJob(context.Background(), "0 2 * * 0", &fakeStarter{}); err != nil {
		t.Fatalf("SetScanJob: %v", err)
	}
	s.Start()
	defer s.Stop()
	if s.CronExpr() != "0 2 * * 0" {
		t.Errorf("CronExpr: got %q", s.CronExpr())
	}
	if s.NextRunAt() == nil {
		t.Error("NextRunAt after Start: want a time")
	}
}

func TestFire(t *testing.T) {
	s := New()
	starter := &fakeStarter{}

	s.fire(context.Background(), starter)
	if len(starter.calls) != 1 || starter.calls[0] != TriggeredBy {
		t.Errorf("calls: got %v, want [%s]", starter.calls, TriggeredBy)
	}

	s.SetPaused(true)
	s.fire(context.Background(), starter)
	if len(starter.calls) != 1 {
		t.Errorf("paused schedule started a scan: %v", starter.calls)
	}

	s.SetPaused(false)
	starter.err = scan.ErrAlreadyRunning
	s.fire(context.Background(), starter)
	starter.err = errors.New("boom")
	s.fire(context.Background(), starter)
	if len(starter.calls) != 3 {
		t.Errorf("calls: got %d, want 3", len(starter.calls))
	}
}
