package handlers

import (
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/report"
	"github.com/eargollo/dupecat/internal/scan"
)

// StatsHandler handles GET /api/stats.
type StatsHandler struct {
	Store   catalog.Store
	Manager *scan.Manager
}

type statsResponse struct {
	Records map[string]int64     `json:"records"`
	Totals  statsTotals          `json:"totals"`
	ByType  map[string]typeTotal `json:"by_type"`
}

type statsTotals struct {
	DuplicateGroups  int    `json:"duplicate_groups"`
	DuplicateFiles   int    `json:"duplicate_files"`
	ReclaimableBytes int64  `json:"reclaimable_bytes"`
	ReclaimableHuman string `json:"reclaimable_human"`
}

type typeTotal struct {
	Groups           int   `json:"groups"`
	ReclaimableBytes int64 `json:"reclaimable_bytes"`
}

// ServeHTTP handles GET /api/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Store.CountByState(r.Context())
	if err != nil {
		slog.Error("stats: count records", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	groups, err := report.Load(r.Context(), h.Store, reportFilter(h.Manager))
	if err != nil {
		slog.Error("stats: load groups", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	resp := statsResponse{
		Records: make(map[string]int64, len(counts)),
		ByType:  make(map[string]typeTotal),
	}
	for state, n := range counts {
		resp.Records[string(state)] = n
	}
	sum := report.Summarize(groups)
	resp.Totals = statsTotals{
		DuplicateGroups:  sum.Groups,
		DuplicateFiles:   sum.Files,
		ReclaimableBytes: sum.ReclaimableBytes,
		ReclaimableHuman: humanize.IBytes(uint64(sum.ReclaimableBytes)),
	}
	for _, g := range groups {
		t := resp.ByType[string(groupType(g))]
		t.Groups++
		t.ReclaimableBytes += g.Reclaimable()
		resp.ByType[string(groupType(g))] = t
	}
	writeJSON(w, http.StatusOK, resp)
}
