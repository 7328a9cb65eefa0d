package handlers

import (
	"cmp"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/media"
	"github.com/eargollo/dupecat/internal/report"
	"github.com/eargollo/dupecat/internal/scan"
)

// GroupsHandler handles duplicate-group API endpoints.
type GroupsHandler struct {
	Store   catalog.Store
	Manager *scan.Manager
}

type groupItem struct {
	Checksum         string `json:"checksum"`
	Algorithm        string `json:"algorithm"`
	FileSize         int64  `json:"file_size"`
	FileSizeHuman    string `json:"file_size_human"`
	FileCount        int    `json:"file_count"`
	ReclaimableBytes int64  `json:"reclaimable_bytes"`
	ReclaimableHuman string `json:"reclaimable_human"`
	FileType         string `json:"file_type"`
}

type fileItem struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	Ext          string `json:"ext"`
	MTime        string `json:"mtime"`
	FileType     string `json:"file_type"`
	InfoURL      string `json:"info_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// reportFilter matches the filters of the next scan's report.
func reportFilter(m *scan.Manager) report.Filter {
	cfg := m.Config()
	return report.Filter{Algorithm: cfg.Algorithm, SkipEmpty: cfg.SkipEmpty}
}

// groupType classifies a group by its first member; members share content so
// a mixed group is rare and usually a renamed copy.
func groupType(g report.Group) media.FileType {
	return media.Classify(g.Records[0].Ext())
}

func newGroupItem(g report.Group) groupItem {
	return groupItem{
		Checksum:         g.Checksum,
		Algorithm:        g.Records[0].Algorithm,
		FileSize:         g.Size,
		FileSizeHuman:    humanize.IBytes(uint64(g.Size)),
		FileCount:        len(g.Records),
		ReclaimableBytes: g.Reclaimable(),
		ReclaimableHuman: humanize.IBytes(uint64(g.Reclaimable())),
		FileType:         string(groupType(g)),
	}
}

func newFileItem(rec catalog.FileRecord) fileItem {
	t := media.Classify(rec.Ext())
	q := "?path=" + url.QueryEscape(rec.Path)
	f := fileItem{
		Path:     rec.Path,
		Name:     rec.Name(),
		Ext:      rec.Ext(),
		MTime:    rec.MTime.UTC().Format(time.RFC3339),
		FileType: string(t),
		InfoURL:  "/api/files" + q,
	}
	if t == media.FileTypeImage {
		f.ThumbnailURL = "/api/files/thumbnail" + q
	}
	return f
}

// List handles GET /api/groups.
// Query parameters: type (media file type), min_reclaimable (bytes) and
// sort=reclaimable for largest savings first; default order is the report's.
func (h *GroupsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePagination(r)

	groups, err := report.Load(r.Context(), h.Store, reportFilter(h.Manager))
	if err != nil {
		slog.Error("groups list: load", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	var minReclaimable int64
	if v := q.Get("min_reclaimable"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			minReclaimable = n
		}
	}
	fileType := q.Get("type")

	items := []groupItem{}
	for _, g := range groups {
		if fileType != "" && string(groupType(g)) != fileType {
			continue
		}
		if g.Reclaimable() < minReclaimable {
			continue
		}
		items = append(items, newGroupItem(g))
	}
	if q.Get("sort") == "reclaimable" {
		slices.SortStableFunc(items, func(a, b groupItem) int {
			return cmp.Compare(b.ReclaimableBytes, a.ReclaimableBytes)
		})
	}

	writeJSON(w, http.StatusOK, ListResponse[groupItem]{
		Items:  page(items, limit, offset),
		Total:  len(items),
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/groups/{checksum}.
func (h *GroupsHandler) Get(w http.ResponseWriter, r *http.Request) {
	checksum := chi.URLParam(r, "checksum")

	groups, err := report.Load(r.Context(), h.Store, reportFilter(h.Manager))
	if err != nil {
		slog.Error("groups get: load", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	i := slices.IndexFunc(groups, func(g report.Group) bool { return g.Checksum == checksum })
	if i < 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		return
	}

	g := groups[i]
	files := make([]fileItem, 0, len(g.Records))
	for _, rec := range g.Records {
		files = append(files, newFileItem(rec))
	}

	type groupDetail struct {
		groupItem
		Files []fileItem `json:"files"`
	}
	writeJSON(w, http.StatusOK, groupDetail{groupItem: newGroupItem(g), Files: files})
}
