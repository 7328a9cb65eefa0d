package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/media"
	"github.com/eargollo/dupecat/internal/scan"
)

// FilesHandler handles file-level API endpoints. Files are addressed by
// their catalog path in the path query parameter.
type FilesHandler struct {
	Store   catalog.Store
	Manager *scan.Manager
}

// fileInfoResponse is returned by GET /api/files.
type fileInfoResponse struct {
	Path      string           `json:"path"`
	Name      string           `json:"name"`
	Ext       string           `json:"ext"`
	Size      int64            `json:"size"`
	Modified  time.Time        `json:"modified"`
	HashState string           `json:"hash_state"`
	Checksum  string           `json:"checksum,omitempty"`
	Algorithm string           `json:"algorithm,omitempty"`
	MimeType  string           `json:"mime_type"`
	FileType  string           `json:"file_type"`
	Image     *media.ImageMeta `json:"image,omitempty"`
}

// lookup resolves the path parameter to a catalog record and its location
// on disk. It writes the error response itself and returns ok=false.
func (h *FilesHandler) lookup(w http.ResponseWriter, r *http.Request) (rec catalog.FileRecord, abs string, ok bool) {
	p, err := catalogPath(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", err.Error())
		return rec, "", false
	}
	rec, err = h.Store.Get(r.Context(), p)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "file not found")
		return rec, "", false
	}
	if err != nil {
		slog.Error("files: get record", "path", p, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return rec, "", false
	}
	root := h.Manager.Config().Root
	return rec, filepath.Join(root, filepath.FromSlash(rec.Path)), true
}

// Info handles GET /api/files?path=.
func (h *FilesHandler) Info(w http.ResponseWriter, r *http.Request) {
	rec, abs, ok := h.lookup(w, r)
	if !ok {
		return
	}

	fileType := media.Classify(rec.Ext())
	resp := fileInfoResponse{
		Path:      rec.Path,
		Name:      rec.Name(),
		Ext:       rec.Ext(),
		Size:      rec.Size,
		Modified:  rec.MTime.UTC(),
		HashState: string(rec.State),
		Checksum:  rec.Checksum,
		Algorithm: rec.Algorithm,
		MimeType:  media.ContentType(rec.Ext()),
		FileType:  string(fileType),
	}
	if fileType == media.FileTypeImage {
		meta, err := media.ReadImageMeta(abs)
		if err != nil {
			slog.Warn("files info: read image metadata", "path", rec.Path, "error", err)
		} else {
			resp.Image = &meta
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Thumbnail handles GET /api/files/thumbnail?path=.
// Returns a 320x320 JPEG thumbnail for image files.
func (h *FilesHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	rec, abs, ok := h.lookup(w, r)
	if !ok {
		return
	}

	thumb, err := media.Thumbnail(abs, 320, 320)
	if errors.Is(err, media.ErrNoThumbnail) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "file not previewable")
		return
	}
	if err != nil {
		slog.Error("files thumbnail: generate", "path", rec.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "thumbnail generation failed")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(thumb) //nolint:errcheck
}
