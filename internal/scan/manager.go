package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eargollo/dupecat/internal/catalog"
)

// ErrAlreadyRunning is returned when a scan is started while one is in progress.
var ErrAlreadyRunning = errors.New("a scan is already in progress")

// ErrNoActiveScan is returned when cancel is called with no scan running.
var ErrNoActiveScan = errors.New("no scan is currently running")

// ActiveScan holds live information about the running scan.
type ActiveScan struct {
	ID          string
	StartedAt   time.Time
	TriggeredBy string
	Progress    *Progress
}

// Manager enforces a single-active-scan invariant and exposes start/cancel.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	store   catalog.Store
	history *History
	cfg     Config

	active   *ActiveScan
	cancelFn context.CancelFunc
	last     *Result
	done     chan struct{}
}

// NewManager creates a Manager. history may be nil.
func NewManager(store catalog.Store, history *History, cfg Config) *Manager {
	return &Manager{store: store, history: history, cfg: cfg}
}

// UpdateConfig replaces the configuration used for future scans.
// It does NOT affect a currently running scan.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Config returns the configuration future scans will use.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Start launches an asynchronous scan. Returns an ActiveScan snapshot or
// ErrAlreadyRunning if a scan is already in progress.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}

	progress := &Progress{}
	scanCtx, cancel := context.WithCancel(parentCtx)
	active := &ActiveScan{
		ID:          uuid.NewString(),
		StartedAt:   time.Now(),
		TriggeredBy: triggeredBy,
		Progress:    progress,
	}
	m.active = active
	m.cancelFn = cancel
	done := make(chan struct{})
	m.done = done

	pipeline := New(m.store, m.history, m.cfg)

	go func() {
		defer close(done)
		defer cancel()
		res, err := pipeline.Run(scanCtx, active.ID, triggeredBy, progress, nil)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scan run error", "run_id", active.ID, "error", err)
		}

		m.mu.Lock()
		if res != nil {
			m.last = res
		}
		m.active = nil
		m.cancelFn = nil
		m.mu.Unlock()
	}()

	snap := *active
	return &snap, nil
}

// Cancel stops the currently running scan. Returns ErrNoActiveScan if idle.
func (m *Manager) Cancel() (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveScan
	}

	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// ActiveScan returns a snapshot of the running scan, or nil when idle.
func (m *Manager) ActiveScan() *ActiveScan {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// LastResult returns the result of the most recent completed scan.
func (m *Manager) LastResult() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Wait blocks until the scan started last has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
