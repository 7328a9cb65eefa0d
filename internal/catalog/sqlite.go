package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	internaldb "github.com/eargollo/dupecat/internal/db"
)

// writeBatchSize is the number of records written per SQLite transaction.
const writeBatchSize = 1000

const recordColumns = `path, size, mtime_ns, hash_state, checksum, hash_algo`

// SQLiteStore keeps the catalog in the files table of a SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	retries uint64
	owned   bool
}

// NewSQLiteStore wraps an already migrated database. The caller keeps
// ownership of db; Close is a no-op.
func NewSQLiteStore(db *sql.DB, retries int) *SQLiteStore {
	return &SQLiteStore{db: db, retries: uint64(max(retries, 0))}
}

// OpenSQLite opens and migrates the catalog at path. The returned store owns
// the connection and closes it on Close.
func OpenSQLite(path string, retries int) (*SQLiteStore, error) {
	database, err := internaldb.OpenCatalog(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteStore(database, retries)
	s.owned = true
	return s, nil
}

// DB exposes the underlying connection for run history.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database if the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec FileRecord) error {
	return withRetry(ctx, s.retries, "upsert", rec.Path, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, upsertSQL, upsertArgs(rec, time.Now().Unix())...)
		return err
	})
}

// UpsertBatch writes recs writeBatchSize at a time, one transaction each.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, recs []FileRecord) error {
	for i := 0; i < len(recs); i += writeBatchSize {
		batch := recs[i:min(i+writeBatchSize, len(recs))]
		err := withRetry(ctx, s.retries, "upsert batch", batch[0].Path, func(ctx context.Context) error {
			return s.upsertTx(ctx, batch)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) upsertTx(ctx context.Context, batch []FileRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, rec := range batch {
		if _, err := stmt.ExecContext(ctx, upsertArgs(rec, now)...); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.Path, err)
		}
	}
	return tx.Commit()
}

const upsertSQL = `
	INSERT INTO files (path, size, mtime_ns, name, ext, hash_state, checksum, hash_algo, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		size       = excluded.size,
		mtime_ns   = excluded.mtime_ns,
		hash_state = excluded.hash_state,
		checksum   = excluded.checksum,
		hash_algo  = excluded.hash_algo,
		updated_at = excluded.updated_at`

func upsertArgs(rec FileRecord, now int64) []any {
	state := rec.State
	if !state.Valid() {
		state = Unhashed
	}
	var sum, algo sql.NullString
	if state == Hashed {
		sum = sql.NullString{String: rec.Checksum, Valid: rec.Checksum != ""}
		algo = sql.NullString{String: rec.Algorithm, Valid: rec.Algorithm != ""}
	}
	return []any{
		rec.Path, rec.Size, rec.MTime.UnixNano(), rec.Name(), rec.Ext(),
		string(state), sum, algo, now,
	}
}

func (s *SQLiteStore) Get(ctx context.Context, path string) (FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM files WHERE path = ?`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRecord{}, ErrNotFound
	}
	if err != nil {
		return FileRecord{}, &StoreError{Op: "get", Path: path, Err: err}
	}
	return rec, nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]FileRecord, error) {
	recs, err := s.query(ctx, `SELECT `+recordColumns+` FROM files ORDER BY path`)
	if err != nil {
		return nil, &StoreError{Op: "all", Err: err}
	}
	return recs, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	return withRetry(ctx, s.retries, "delete", path, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
		return err
	})
}

func (s *SQLiteStore) DeleteBatch(ctx context.Context, paths []string) error {
	for i := 0; i < len(paths); i += writeBatchSize {
		batch := paths[i:min(i+writeBatchSize, len(paths))]
		err := withRetry(ctx, s.retries, "delete batch", batch[0], func(ctx context.Context) error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin tx: %w", err)
			}
			defer tx.Rollback()
			stmt, err := tx.PrepareContext(ctx, `DELETE FROM files WHERE path = ?`)
			if err != nil {
				return fmt.Errorf("prepare delete: %w", err)
			}
			defer stmt.Close()
			for _, p := range batch {
				if _, err := stmt.ExecContext(ctx, p); err != nil {
					return fmt.Errorf("delete %s: %w", p, err)
				}
			}
			return tx.Commit()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// GroupBySize narrows in SQL first so that unique sizes never leave the
// database.
func (s *SQLiteStore) GroupBySize(ctx context.Context, minMembers int) ([]SizeGroup, error) {
	recs, err := s.query(ctx, `
		SELECT `+recordColumns+`
		FROM files
		WHERE size IN (SELECT size FROM files GROUP BY size HAVING COUNT(*) >= ?)
		ORDER BY size, path`, max(minMembers, 1))
	if err != nil {
		return nil, &StoreError{Op: "group by size", Err: err}
	}

	var groups []SizeGroup
	for _, rec := range recs {
		if n := len(groups); n == 0 || groups[n-1].Size != rec.Size {
			groups = append(groups, SizeGroup{Size: rec.Size})
		}
		g := &groups[len(groups)-1]
		g.Records = append(g.Records, rec)
	}
	return groups, nil
}

func (s *SQLiteStore) Hashed(ctx context.Context) ([]FileRecord, error) {
	recs, err := s.query(ctx, `
		SELECT `+recordColumns+`
		FROM files
		WHERE hash_state = 'hashed' AND checksum IS NOT NULL
		ORDER BY checksum, path`)
	if err != nil {
		return nil, &StoreError{Op: "hashed", Err: err}
	}
	return recs, nil
}

func (s *SQLiteStore) CountByState(ctx context.Context) (map[HashState]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash_state, COUNT(*) FROM files GROUP BY hash_state`)
	if err != nil {
		return nil, &StoreError{Op: "count by state", Err: err}
	}
	defer rows.Close()

	counts := make(map[HashState]int64)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, &StoreError{Op: "count by state", Err: err}
		}
		counts[HashState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "count by state", Err: err}
	}
	return counts, nil
}

// query materialises rows before returning so callers never hold the single
// connection open while writing.
func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (FileRecord, error) {
	var (
		rec     FileRecord
		mtimeNs int64
		state   string
		sum     sql.NullString
		algo    sql.NullString
	)
	if err := row.Scan(&rec.Path, &rec.Size, &mtimeNs, &state, &sum, &algo); err != nil {
		return FileRecord{}, err
	}
	rec.MTime = time.Unix(0, mtimeNs)
	rec.State = HashState(state)
	rec.Checksum = sum.String
	rec.Algorithm = algo.String
	return rec, nil
}
