package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Run statuses stored in scan_runs.status.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// History records runs and their warnings in the catalog database. A nil
// *History records nothing.
type History struct {
	db *sql.DB
}

// NewHistory returns a History backed by db.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// start inserts a running scan_runs row and returns its row ID.
func (h *History) start(ctx context.Context, runID, root, triggeredBy string, startedAt time.Time) (int64, error) {
	if h == nil {
		return 0, nil
	}
	res, err := h.db.ExecContext(ctx, `
		INSERT INTO scan_runs (run_uuid, root, triggered_by, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID, root, triggeredBy, StatusRunning, startedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert scan run: %w", err)
	}
	return res.LastInsertId()
}

// warn persists one warning. Failures are logged, never returned: losing a
// warning row must not fail the run.
func (h *History) warn(rowID int64, w Warning) {
	if h == nil || rowID == 0 {
		return
	}
	msg := ""
	if w.Err != nil {
		msg = w.Err.Error()
	}
	_, err := h.db.Exec(`
		INSERT INTO scan_warnings (run_id, path, kind, message, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		rowID, w.Path, string(w.Kind), msg, time.Now().Unix())
	if err != nil {
		slog.Warn("history: insert warning", "path", w.Path, "error", err)
	}
}

// flush writes the live progress counters.
func (h *History) flush(ctx context.Context, rowID int64, p *Progress) error {
	if h == nil || rowID == 0 {
		return nil
	}
	_, err := h.db.ExecContext(ctx, `
		UPDATE scan_runs
		SET files_seen = ?, inserted = ?, updated = ?, unchanged = ?,
		    candidates = ?, hashed = ?, bytes_read = ?, warnings = ?
		WHERE id = ?`,
		p.FilesDiscovered.Load(), p.Inserted.Load(), p.Updated.Load(), p.Unchanged.Load(),
		p.CandidatesFound.Load(), p.Hashed.Load(), p.BytesRead.Load(), p.Warnings.Load(),
		rowID)
	return err
}

// finish stores the terminal status and the final counters of a run.
func (h *History) finish(rowID int64, status string, finishedAt, startedAt time.Time, res *Result, p *Progress, runErr error) error {
	if h == nil || rowID == 0 {
		return nil
	}
	var errMsg sql.NullString
	if runErr != nil {
		errMsg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	var rs ReconcileStats
	var hashed, bytesRead int64
	var groups, files, reclaimable int64
	if res != nil {
		rs = res.Reconcile
		hashed = res.Hash.Hashed
		bytesRead = res.Hash.BytesRead
		groups = int64(res.Summary.Groups)
		files = int64(res.Summary.Files)
		reclaimable = res.Summary.ReclaimableBytes
	} else {
		rs = ReconcileStats{
			Seen:      p.FilesDiscovered.Load(),
			Inserted:  p.Inserted.Load(),
			Updated:   p.Updated.Load(),
			Unchanged: p.Unchanged.Load(),
		}
		hashed = p.Hashed.Load()
		bytesRead = p.BytesRead.Load()
	}

	_, err := h.db.Exec(`
		UPDATE scan_runs
		SET status = ?, finished_at = ?, duration_seconds = ?,
		    files_seen = ?, inserted = ?, updated = ?, unchanged = ?,
		    pruned = ?, missing = ?, candidates = ?, hashed = ?, bytes_read = ?,
		    warnings = ?, duplicate_groups = ?, duplicate_files = ?,
		    reclaimable_bytes = ?, error = ?
		WHERE id = ?`,
		status, finishedAt.Unix(), int64(finishedAt.Sub(startedAt).Seconds()),
		rs.Seen, rs.Inserted, rs.Updated, rs.Unchanged,
		rs.Pruned, rs.Missing, p.CandidatesFound.Load(), hashed, bytesRead,
		p.Warnings.Load(), groups, files,
		reclaimable, errMsg,
		rowID)
	return err
}

// reportProgress writes the progress counters every second until stop is
// closed.
func (h *History) reportProgress(ctx context.Context, rowID int64, p *Progress, stop <-chan struct{}) {
	if h == nil || rowID == 0 {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := h.flush(ctx, rowID, p); err != nil && ctx.Err() == nil {
				slog.Warn("progress reporter: update failed", "error", err)
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// MarkStaleRunsFailed marks any scan_runs rows still in 'running' state as
// 'failed'. Call once at startup in case a previous process died mid-run.
func MarkStaleRunsFailed(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE scan_runs
		SET status = ?, finished_at = ?, error = 'process exited during run'
		WHERE status = ?`,
		StatusFailed, time.Now().Unix(), StatusRunning)
	if err != nil {
		return fmt.Errorf("mark stale runs failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale runs as failed", "count", n)
	}
	return nil
}

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("scan run not found")

// Run is one row of scan_runs.
type Run struct {
	ID               string     `json:"id"`
	Root             string     `json:"root"`
	TriggeredBy      string     `json:"triggered_by"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	DurationSeconds  int64      `json:"duration_seconds"`
	FilesSeen        int64      `json:"files_seen"`
	Inserted         int64      `json:"inserted"`
	Updated          int64      `json:"updated"`
	Unchanged        int64      `json:"unchanged"`
	Pruned           int64      `json:"pruned"`
	Missing          int64      `json:"missing"`
	Candidates       int64      `json:"candidates"`
	Hashed           int64      `json:"hashed"`
	BytesRead        int64      `json:"bytes_read"`
	Warnings         int64      `json:"warnings"`
	DuplicateGroups  int64      `json:"duplicate_groups"`
	DuplicateFiles   int64      `json:"duplicate_files"`
	ReclaimableBytes int64      `json:"reclaimable_bytes"`
	Error            string     `json:"error,omitempty"`

	rowID int64
}

// RunWarning is one row of scan_warnings.
type RunWarning struct {
	Path       string    `json:"path"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

const runColumns = `id, run_uuid, root, triggered_by, status, started_at, finished_at,
	COALESCE(duration_seconds, 0), files_seen, inserted, updated, unchanged, pruned,
	missing, candidates, hashed, bytes_read, warnings, duplicate_groups,
	duplicate_files, reclaimable_bytes, COALESCE(error, '')`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	err := row.Scan(&r.rowID, &r.ID, &r.Root, &r.TriggeredBy, &r.Status, &started, &finished,
		&r.DurationSeconds, &r.FilesSeen, &r.Inserted, &r.Updated, &r.Unchanged, &r.Pruned,
		&r.Missing, &r.Candidates, &r.Hashed, &r.BytesRead, &r.Warnings, &r.DuplicateGroups,
		&r.DuplicateFiles, &r.ReclaimableBytes, &r.Error)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(started, 0).UTC()
	if finished.Valid {
		t := time.Unix(finished.Int64, 0).UTC()
		r.FinishedAt = &t
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (h *History) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM scan_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns the run with the given ID and up to warnLimit of its
// warnings.
func (h *History) GetRun(ctx context.Context, id string, warnLimit int) (Run, []RunWarning, error) {
	r, err := scanRun(h.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM scan_runs WHERE run_uuid = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, ErrRunNotFound
	}
	if err != nil {
		return Run{}, nil, fmt.Errorf("get scan run: %w", err)
	}

	if warnLimit <= 0 {
		warnLimit = 100
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT path, kind, message, occurred_at
		FROM scan_warnings WHERE run_id = ?
		ORDER BY id LIMIT ?`, r.rowID, warnLimit)
	if err != nil {
		return Run{}, nil, fmt.Errorf("list scan warnings: %w", err)
	}
	defer rows.Close()

	warnings := []RunWarning{}
	for rows.Next() {
		var (
			w  RunWarning
			at int64
		)
		if err := rows.Scan(&w.Path, &w.Kind, &w.Message, &at); err != nil {
			return Run{}, nil, fmt.Errorf("scan warning row: %w", err)
		}
		w.OccurredAt = time.Unix(at, 0).UTC()
		warnings = append(warnings, w)
	}
	return r, warnings, rows.Err()
}
