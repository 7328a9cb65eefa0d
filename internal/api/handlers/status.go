package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/scan"
	"github.com/eargollo/dupecat/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Store   catalog.Store
	History *scan.History
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	Version string
}

type statusResponse struct {
	Version           string           `json:"version"`
	ActiveScan        *activeScanInfo  `json:"active_scan"`
	Schedule          *scheduleInfo    `json:"schedule"`
	LastCompletedScan *scan.Run        `json:"last_completed_scan"`
	Catalog           map[string]int64 `json:"catalog"`
}

type activeScanInfo struct {
	ID          string           `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	TriggeredBy string           `json:"triggered_by"`
	Progress    scanProgressInfo `json:"progress"`
}

type scanProgressInfo struct {
	Phase           string `json:"phase"`
	FilesDiscovered int64  `json:"files_discovered"`
	Inserted        int64  `json:"inserted"`
	Updated         int64  `json:"updated"`
	Unchanged       int64  `json:"unchanged"`
	CandidatesFound int64  `json:"candidates_found"`
	HashTotal       int64  `json:"hash_total"`
	Hashed          int64  `json:"hashed"`
	BytesTotal      int64  `json:"bytes_total"`
	BytesRead       int64  `json:"bytes_read"`
	Warnings        int64  `json:"warnings"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	Paused    bool       `json:"paused"`
	NextRunAt *time.Time `json:"next_run_at"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:           h.Version,
		ActiveScan:        h.activeScan(),
		LastCompletedScan: h.lastCompletedScan(r),
		Catalog:           map[string]int64{},
	}
	if h.Sched != nil {
		resp.Schedule = &scheduleInfo{
			Cron:      h.Sched.CronExpr(),
			Paused:    h.Sched.Paused(),
			NextRunAt: h.Sched.NextRunAt(),
		}
	}
	counts, err := h.Store.CountByState(r.Context())
	if err != nil {
		slog.Error("status: count records", "error", err)
	}
	for state, n := range counts {
		resp.Catalog[string(state)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) activeScan() *activeScanInfo {
	if h.Manager == nil {
		return nil
	}
	active := h.Manager.ActiveScan()
	if active == nil {
		return nil
	}
	return &activeScanInfo{
		ID:          active.ID,
		StartedAt:   active.StartedAt.UTC(),
		TriggeredBy: active.TriggeredBy,
		Progress:    progressInfo(active.Progress),
	}
}

func progressInfo(p *scan.Progress) scanProgressInfo {
	return scanProgressInfo{
		Phase:           p.CurrentPhase(),
		FilesDiscovered: p.FilesDiscovered.Load(),
		Inserted:        p.Inserted.Load(),
		Updated:         p.Updated.Load(),
		Unchanged:       p.Unchanged.Load(),
		CandidatesFound: p.CandidatesFound.Load(),
		HashTotal:       p.HashTotal.Load(),
		Hashed:          p.Hashed.Load(),
		BytesTotal:      p.BytesTotal.Load(),
		BytesRead:       p.BytesRead.Load(),
		Warnings:        p.Warnings.Load(),
	}
}

func (h *StatusHandler) lastCompletedScan(r *http.Request) *scan.Run {
	if h.History == nil {
		return nil
	}
	runs, err := h.History.ListRuns(r.Context(), 50)
	if err != nil {
		slog.Error("status: query last scan", "error", err)
		return nil
	}
	for _, run := range runs {
		if run.Status == scan.StatusCompleted {
			return &run
		}
	}
	return nil
}
