// Package localstate is the client's durable per-device store: tracked file
// records with their version vectors, the prioritized sync queue, and the
// key/value client config holding the stable device identity.
package localstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/driftbox/driftbox/internal/vclock"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracked_files (
	file_id             TEXT    NOT NULL PRIMARY KEY,
	file_path           TEXT    NOT NULL,
	version_vector_json TEXT    NOT NULL DEFAULT '{}',
	last_modified       TEXT    NOT NULL,
	file_size           INTEGER NOT NULL DEFAULT 0,
	checksum            TEXT    NOT NULL DEFAULT '',
	sync_status         TEXT    NOT NULL,
	created_at          TEXT    NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tracked_path ON tracked_files(file_path);
CREATE INDEX IF NOT EXISTS idx_tracked_status ON tracked_files(sync_status);

CREATE TABLE IF NOT EXISTS sync_queue (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path     TEXT    NOT NULL,
	operation     TEXT    NOT NULL,
	priority      INTEGER NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT    NOT NULL,
	scheduled_at  TEXT    NOT NULL,
	error_message TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_queue_due ON sync_queue(priority, scheduled_at);

CREATE TABLE IF NOT EXISTS client_config (
	key        TEXT NOT NULL PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Sync statuses of a tracked file. Conflicts are not a tracked-file state;
// a conflicted path stays PENDING until its CONFLICT_RESOLVE task lands.
const (
	StatusPending = "PENDING"
	StatusSynced  = "SYNCED"
	StatusDeleted = "DELETED" // tombstone; never upload, never overwrite
)

// Queue operations in priority order. Lower number runs first.
const (
	OpDelete          = "DELETE"
	OpConflictResolve = "CONFLICT_RESOLVE"
	OpUpload          = "UPLOAD"
	OpDownload        = "DOWNLOAD"
)

// PriorityFor returns the queue priority of an operation.
func PriorityFor(operation string) int {
	switch operation {
	case OpDelete:
		return 1
	case OpConflictResolve:
		return 2
	case OpUpload:
		return 3
	default:
		return 4
	}
}

var ErrNotFound = errors.New("localstate: not found")

// ClientIDKey is the client_config key holding the device identity.
const ClientIDKey = "client_id"

type TrackedFile struct {
	FileID        string
	FilePath      string
	VersionVector vclock.VersionVector
	LastModified  time.Time
	FileSize      int64
	Checksum      string
	SyncStatus    string
	CreatedAt     time.Time
}

type QueueTask struct {
	ID           int64
	FilePath     string
	Operation    string
	Priority     int
	RetryCount   int
	CreatedAt    time.Time
	ScheduledAt  time.Time
	ErrorMessage string
}

type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init localstate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// UpsertTracked inserts or replaces the record for f.FilePath.
func (s *Store) UpsertTracked(ctx context.Context, f *TrackedFile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_files (file_id, file_path, version_vector_json, last_modified,
		    file_size, checksum, sync_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_path) DO UPDATE SET
		    file_id = excluded.file_id,
		    version_vector_json = excluded.version_vector_json,
		    last_modified = excluded.last_modified,
		    file_size = excluded.file_size,
		    checksum = excluded.checksum,
		    sync_status = excluded.sync_status`,
		f.FileID, f.FilePath, f.VersionVector.JSON(),
		f.LastModified.UTC().Format(time.RFC3339Nano),
		f.FileSize, f.Checksum, f.SyncStatus,
		f.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert tracked file: %w", err)
	}
	return nil
}

func (s *Store) GetTracked(ctx context.Context, filePath string) (*TrackedFile, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT * FROM tracked_files WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, fmt.Errorf("query tracked file: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanTracked(rows)
}

func (s *Store) ListTracked(ctx context.Context) ([]*TrackedFile, error) {
	return s.listTracked(ctx, `SELECT * FROM tracked_files ORDER BY file_path`)
}

// ListTrackedByStatus serves the reconciliation pass that re-enqueues
// PENDING files and the status command counters.
func (s *Store) ListTrackedByStatus(ctx context.Context, status string) ([]*TrackedFile, error) {
	return s.listTracked(ctx,
		`SELECT * FROM tracked_files WHERE sync_status = ? ORDER BY file_path`, status)
}

func (s *Store) listTracked(ctx context.Context, query string, args ...any) ([]*TrackedFile, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}
	defer rows.Close()

	var out []*TrackedFile
	for rows.Next() {
		f, err := scanTracked(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetDeleted plants the tombstone for a locally deleted path. It must be
// called before the server delete goes out; reconciliation skips DELETED
// paths so a stale peer view cannot resurrect the file.
func (s *Store) SetDeleted(ctx context.Context, filePath string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_files (file_id, file_path, version_vector_json, last_modified,
		    file_size, checksum, sync_status, created_at)
		 VALUES (?, ?, '{}', ?, 0, '', ?, ?)
		 ON CONFLICT(file_path) DO UPDATE SET sync_status = ?, last_modified = ?`,
		filePath, filePath, now, StatusDeleted, now, StatusDeleted, now,
	)
	if err != nil {
		return fmt.Errorf("set tombstone: %w", err)
	}
	return nil
}

// ClearTombstone flips a DELETED path back to PENDING, used when the file
// reappears on disk.
func (s *Store) ClearTombstone(ctx context.Context, filePath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracked_files SET sync_status = ? WHERE file_path = ? AND sync_status = ?`,
		StatusPending, filePath, StatusDeleted)
	if err != nil {
		return fmt.Errorf("clear tombstone: %w", err)
	}
	return mustAffect(res)
}

// PurgeAgedTombstones removes DELETED rows older than horizon whose local
// file is gone, per the exists check. Tombstones for files still on disk are
// kept; the watcher owns clearing those. Returns the number purged.
func (s *Store) PurgeAgedTombstones(ctx context.Context, horizon time.Duration, exists func(path string) bool) (int, error) {
	cutoff := time.Now().Add(-horizon).UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryxContext(ctx,
		`SELECT file_path FROM tracked_files WHERE sync_status = ? AND last_modified < ?`,
		StatusDeleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list aged tombstones: %w", err)
	}

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	purged := 0
	for _, p := range paths {
		if exists != nil && exists(p) {
			continue
		}
		if err := s.RemoveTracked(ctx, p); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// RemoveTracked drops the record for a path entirely.
func (s *Store) RemoveTracked(ctx context.Context, filePath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tracked_files WHERE file_path = ?`, filePath)
	if err != nil {
		return fmt.Errorf("remove tracked file: %w", err)
	}
	return nil
}

// Enqueue adds a task unless an identical pending one exists. Duplicate
// (path, operation) pairs would only multiply work, the queue is level
// triggered.
func (s *Store) Enqueue(ctx context.Context, filePath, operation string) error {
	var existing int
	if err := s.db.GetContext(ctx, &existing,
		`SELECT COUNT(*) FROM sync_queue WHERE file_path = ? AND operation = ?`,
		filePath, operation); err != nil {
		return fmt.Errorf("check queue: %w", err)
	}
	if existing > 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (file_path, operation, priority, created_at, scheduled_at)
		 VALUES (?, ?, ?, ?, ?)`,
		filePath, operation, PriorityFor(operation), now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// NextDue pops the most urgent task scheduled at or before now: lowest
// priority number first, then earliest scheduled_at, then insertion order.
func (s *Store) NextDue(ctx context.Context, now time.Time) (*QueueTask, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT * FROM sync_queue WHERE scheduled_at <= ?
		 ORDER BY priority, scheduled_at, id LIMIT 1`,
		now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanTask(rows)
}

// Complete removes a finished task.
func (s *Store) Complete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// Retry bumps the retry count, records the failure and pushes the task out
// by delay.
func (s *Store) Retry(ctx context.Context, id int64, delay time.Duration, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1, scheduled_at = ?, error_message = ?
		 WHERE id = ?`,
		time.Now().Add(delay).UTC().Format(time.RFC3339Nano), errMsg, id)
	if err != nil {
		return fmt.Errorf("retry task: %w", err)
	}
	return mustAffect(res)
}

// QueueLenByOp reports how many tasks of one operation are waiting.
func (s *Store) QueueLenByOp(ctx context.Context, operation string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM sync_queue WHERE operation = ?`, operation); err != nil {
		return 0, fmt.Errorf("queue length by operation: %w", err)
	}
	return n, nil
}

// QueueLen reports how many tasks are waiting.
func (s *Store) QueueLen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sync_queue`); err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// GetConfig reads one client_config value.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM client_config WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get config %s: %w", key, err)
	}
	return value, nil
}

// SetConfig writes one client_config value.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// EnsureClientID returns the stored device identity, seeding it with
// fallback when absent. The id must stay stable for the device's lifetime.
func (s *Store) EnsureClientID(ctx context.Context, fallback string) (string, error) {
	id, err := s.GetConfig(ctx, ClientIDKey)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if err := s.SetConfig(ctx, ClientIDKey, fallback); err != nil {
		return "", err
	}
	return fallback, nil
}

type trackedRow struct {
	FileID        string `db:"file_id"`
	FilePath      string `db:"file_path"`
	VersionVector string `db:"version_vector_json"`
	LastModified  string `db:"last_modified"`
	FileSize      int64  `db:"file_size"`
	Checksum      string `db:"checksum"`
	SyncStatus    string `db:"sync_status"`
	CreatedAt     string `db:"created_at"`
}

func scanTracked(rows *sqlx.Rows) (*TrackedFile, error) {
	var row trackedRow
	if err := rows.StructScan(&row); err != nil {
		return nil, fmt.Errorf("scan tracked file: %w", err)
	}
	vv, err := vclock.Parse([]byte(row.VersionVector))
	if err != nil {
		return nil, fmt.Errorf("tracked %s: %w", row.FilePath, err)
	}
	lastModified, _ := time.Parse(time.RFC3339Nano, row.LastModified)
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	return &TrackedFile{
		FileID:        row.FileID,
		FilePath:      row.FilePath,
		VersionVector: vv,
		LastModified:  lastModified,
		FileSize:      row.FileSize,
		Checksum:      row.Checksum,
		SyncStatus:    row.SyncStatus,
		CreatedAt:     createdAt,
	}, nil
}

type taskRow struct {
	ID           int64  `db:"id"`
	FilePath     string `db:"file_path"`
	Operation    string `db:"operation"`
	Priority     int    `db:"priority"`
	RetryCount   int    `db:"retry_count"`
	CreatedAt    string `db:"created_at"`
	ScheduledAt  string `db:"scheduled_at"`
	ErrorMessage string `db:"error_message"`
}

func scanTask(rows *sqlx.Rows) (*QueueTask, error) {
	var row taskRow
	if err := rows.StructScan(&row); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	scheduledAt, _ := time.Parse(time.RFC3339Nano, row.ScheduledAt)
	return &QueueTask{
		ID:           row.ID,
		FilePath:     row.FilePath,
		Operation:    row.Operation,
		Priority:     row.Priority,
		RetryCount:   row.RetryCount,
		CreatedAt:    createdAt,
		ScheduledAt:  scheduledAt,
		ErrorMessage: row.ErrorMessage,
	}, nil
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
