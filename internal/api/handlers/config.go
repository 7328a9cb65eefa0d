package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/eargollo/dupecat/internal/config"
	"github.com/eargollo/dupecat/internal/scan"
	"github.com/eargollo/dupecat/internal/scheduler"
)

// ConfigHandler handles GET/PATCH /api/config.
type ConfigHandler struct {
	Cfg     *config.Config
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	// BaseCtx is handed to scans started by a rescheduled job.
	BaseCtx context.Context
	mu      sync.Mutex // guards Cfg mutations
}

// ConfigPatch describes the fields that can be updated at runtime.
// Only supplied (non-nil) fields are applied. Changes last until restart.
type ConfigPatch struct {
	ExcludePaths   []string     `json:"exclude_paths"`
	Schedule       *string      `json:"schedule"`
	ScanPaused     *bool        `json:"scan_paused"`
	FollowSymlinks *bool        `json:"follow_symlinks"`
	Prune          *bool        `json:"prune"`
	SkipEmpty      *bool        `json:"skip_empty"`
	Verify         *bool        `json:"verify"`
	HashAlgorithm  *string      `json:"hash_algorithm"`
	ScanWorkers    *WorkerPatch `json:"scan_workers"`
}

// WorkerPatch holds optional updates for scan worker counts.
type WorkerPatch struct {
	Walkers *int `json:"walkers"`
	Hashers *int `json:"hashers"`
}

// Get handles GET /api/config.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, h.Cfg)
}

// Apply validates patch against a copy of the config and, if it is valid,
// commits it and propagates it to the scan manager and the scheduler. The
// running scan is not affected.
func (h *ConfigHandler) Apply(_ context.Context, patch ConfigPatch) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := *h.Cfg
	if patch.ExcludePaths != nil {
		next.ExcludePaths = patch.ExcludePaths
	}
	if patch.Schedule != nil {
		next.Schedule = *patch.Schedule
	}
	if patch.ScanPaused != nil {
		next.ScanPaused = *patch.ScanPaused
	}
	if patch.FollowSymlinks != nil {
		next.FollowSymlinks = *patch.FollowSymlinks
	}
	if patch.Prune != nil {
		next.Prune = *patch.Prune
	}
	if patch.SkipEmpty != nil {
		next.SkipEmpty = *patch.SkipEmpty
	}
	if patch.Verify != nil {
		next.Verify = *patch.Verify
	}
	if patch.HashAlgorithm != nil {
		next.HashAlgorithm = *patch.HashAlgorithm
	}
	if patch.ScanWorkers != nil {
		if v := patch.ScanWorkers.Walkers; v != nil {
			if *v < 1 || *v > 64 {
				return fmt.Errorf("walkers must be 1-64")
			}
			next.ScanWorkers.Walkers = *v
		}
		if v := patch.ScanWorkers.Hashers; v != nil {
			if *v < 1 || *v > 64 {
				return fmt.Errorf("hashers must be 1-64")
			}
			next.ScanWorkers.Hashers = *v
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}

	if h.Sched != nil {
		if next.Schedule != h.Cfg.Schedule {
			ctx := h.BaseCtx
			if ctx == nil {
				ctx = context.Background()
			}
			if err := h.Sched.SetScanJob(ctx, next.Schedule, h.Manager); err != nil {
				return err
			}
		}
		h.Sched.SetPaused(next.ScanPaused)
	}
	*h.Cfg = next
	if h.Manager != nil {
		h.Manager.UpdateConfig(next.ScanConfig())
	}
	return nil
}

// Update handles PATCH /api/config.
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}

	if err := h.Apply(r.Context(), patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, h.Cfg)
}
