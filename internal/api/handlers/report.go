package handlers

import (
	"log/slog"
	"net/http"

	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/report"
	"github.com/eargollo/dupecat/internal/scan"
)

// ReportHandler handles GET /api/report.csv.
type ReportHandler struct {
	Store   catalog.Store
	Manager *scan.Manager
}

// ServeHTTP streams the duplicate report for the configured algorithm.
// by_location=true orders rows by path; header=false drops the header row.
func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := reportFilter(h.Manager)
	groups, err := report.Load(r.Context(), h.Store, filter)
	if err != nil {
		slog.Error("report: load groups", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	q := r.URL.Query()
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="duplicates.csv"`)
	err = report.WriteCSV(w, groups, report.Options{
		Algorithm:  filter.Algorithm,
		NoHeader:   q.Get("header") == "false",
		ByLocation: q.Get("by_location") == "true",
	})
	if err != nil {
		slog.Error("report: write csv", "error", err)
	}
}
