package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/eargollo/dupecat/internal/catalog"
)

func TestManagerSingleActiveScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a", "same")
	writeFile(t, root, "b", "same")

	m := NewManager(catalog.NewMemStore(), nil, testConfig(root))
	if m.ActiveScan() != nil {
		t.Fatal("ActiveScan before start: want nil")
	}
	if _, err := m.Cancel(); !errors.Is(err, ErrNoActiveScan) {
		t.Errorf("Cancel while idle: got %v, want ErrNoActiveScan", err)
	}

	active, err := m.Start(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if active.ID == "" || active.TriggeredBy != "manual" {
		t.Errorf("ActiveScan: got %+v", active)
	}
	if _, err := m.Start(context.Background(), "manual"); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: got %v, want ErrAlreadyRunning or success after completion", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if m.ActiveScan() != nil {
		t.Error("ActiveScan after completion: want nil")
	}
	last := m.LastResult()
	if last == nil || last.Summary.Groups != 1 {
		t.Errorf("LastResult: got %+v, want one group", last)
	}
}

func TestManagerCancel(t *testing.T) {
	root := t.TempDir()
	for i := range 200 {
		writeFile(t, root, fmt.Sprintf("dir/%02d/%03d", i%20, i), "x")
	}

	m := NewManager(catalog.NewMemStore(), nil, testConfig(root))
	if _, err := m.Start(context.Background(), "api"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// The scan may already be done; either outcome leaves the manager idle.
	_, _ = m.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if m.ActiveScan() != nil {
		t.Error("ActiveScan after cancel: want nil")
	}
}

func TestManagerUpdateConfig(t *testing.T) {
	m := NewManager(catalog.NewMemStore(), nil, DefaultConfig())
	cfg := DefaultConfig()
	cfg.Root = "/elsewhere"
	m.UpdateConfig(cfg)
	if got := m.Config().Root; got != "/elsewhere" {
		t.Errorf("Config().Root: got %q", got)
	}
}
