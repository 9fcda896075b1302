package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/driftbox/driftbox/internal/vclock"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
    file_id                TEXT PRIMARY KEY,
    user_id                TEXT NOT NULL,
    file_path              TEXT NOT NULL,
    file_name              TEXT NOT NULL,
    file_size              INTEGER NOT NULL,
    checksum               TEXT NOT NULL,
    current_version_vector TEXT NOT NULL,
    storage_path           TEXT NOT NULL,
    created_at             TEXT NOT NULL,
    modified_at            TEXT NOT NULL,
    sync_status            TEXT NOT NULL,
    conflict_status        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_files_user_path ON files(user_id, file_path);
CREATE INDEX IF NOT EXISTS idx_files_checksum ON files(checksum);
CREATE INDEX IF NOT EXISTS idx_files_modified_at ON files(modified_at);

CREATE TABLE IF NOT EXISTS file_versions (
    version_id         TEXT PRIMARY KEY,
    file_id            TEXT NOT NULL,
    version_number     INTEGER NOT NULL,
    checksum           TEXT NOT NULL,
    storage_path       TEXT NOT NULL,
    file_size          INTEGER NOT NULL,
    created_at         TEXT NOT NULL,
    is_current_version INTEGER NOT NULL DEFAULT 0,
    version_vector     TEXT NOT NULL,
    created_by_client  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_versions_file ON file_versions(file_id, version_number);

CREATE TABLE IF NOT EXISTS sync_events (
    event_id      TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    file_id       TEXT,
    event_type    TEXT NOT NULL,
    timestamp     TEXT NOT NULL,
    client_id     TEXT NOT NULL,
    sync_status   TEXT NOT NULL,
    error_message TEXT,
    file_path     TEXT NOT NULL,
    file_size     INTEGER,
    checksum      TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_user_ts ON sync_events(user_id, timestamp);
`

var ErrNotFound = errors.New("metadata: not found")

type File struct {
	FileID               string               `json:"fileId"`
	UserID               string               `json:"-"`
	FilePath             string               `json:"filePath"`
	FileName             string               `json:"fileName"`
	FileSize             int64                `json:"fileSize"`
	Checksum             string               `json:"checksum"`
	CurrentVersionVector vclock.VersionVector `json:"currentVersionVector"`
	StoragePath          string               `json:"-"`
	CreatedAt            time.Time            `json:"createdAt"`
	ModifiedAt           time.Time            `json:"modifiedAt"`
	SyncStatus           string               `json:"syncStatus"`
	ConflictStatus       string               `json:"conflictStatus,omitempty"`
}

type FileVersion struct {
	VersionID        string               `json:"versionId"`
	FileID           string               `json:"fileId"`
	VersionNumber    int64                `json:"versionNumber"`
	Checksum         string               `json:"checksum"`
	StoragePath      string               `json:"-"`
	FileSize         int64                `json:"fileSize"`
	CreatedAt        time.Time            `json:"createdAt"`
	IsCurrentVersion bool                 `json:"isCurrentVersion"`
	VersionVector    vclock.VersionVector `json:"versionVector"`
	CreatedByClient  string               `json:"createdByClient"`
}

type SyncEvent struct {
	EventID      string    `json:"eventId"`
	UserID       string    `json:"-"`
	FileID       string    `json:"fileId,omitempty"`
	EventType    string    `json:"eventType"`
	Timestamp    time.Time `json:"timestamp"`
	ClientID     string    `json:"clientId"`
	SyncStatus   string    `json:"syncStatus"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	FilePath     string    `json:"filePath"`
	FileSize     int64     `json:"fileSize,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
}

// Store is the server's durable file catalog: current records, version
// history and the sync event feed clients poll with /sync/changes.
type Store struct {
	*Queries
	db *sqlx.DB
}

// Queries holds the statement set; it runs against either the raw DB or a
// transaction, so the reconcile service can apply a decision atomically.
type Queries struct {
	ext sqlx.ExtContext
}

func NewStore(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init metadata schema: %w", err)
	}
	return &Store{Queries: &Queries{ext: db}, db: db}, nil
}

// WithTx runs fn inside a single transaction. Everything fn does through the
// passed Queries commits or rolls back together.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Queries{ext: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (q *Queries) CreateFile(ctx context.Context, f *File) error {
	if f.FileID == "" {
		f.FileID = uuid.NewString()
	}
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO files (file_id, user_id, file_path, file_name, file_size, checksum,
		    current_version_vector, storage_path, created_at, modified_at, sync_status, conflict_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FileID, f.UserID, f.FilePath, f.FileName, f.FileSize, f.Checksum,
		f.CurrentVersionVector.JSON(), f.StoragePath,
		f.CreatedAt.UTC().Format(time.RFC3339Nano), f.ModifiedAt.UTC().Format(time.RFC3339Nano),
		f.SyncStatus, f.ConflictStatus,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (q *Queries) UpdateFile(ctx context.Context, f *File) error {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE files SET file_size = ?, checksum = ?, current_version_vector = ?,
		    storage_path = ?, modified_at = ?, sync_status = ?, conflict_status = ?
		 WHERE file_id = ? AND user_id = ?`,
		f.FileSize, f.Checksum, f.CurrentVersionVector.JSON(),
		f.StoragePath, f.ModifiedAt.UTC().Format(time.RFC3339Nano),
		f.SyncStatus, f.ConflictStatus, f.FileID, f.UserID,
	)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return mustAffect(res)
}

func (q *Queries) DeleteFile(ctx context.Context, userID, fileID string) error {
	res, err := q.ext.ExecContext(ctx,
		`DELETE FROM files WHERE file_id = ? AND user_id = ?`, fileID, userID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return mustAffect(res)
}

func (q *Queries) GetFileByID(ctx context.Context, userID, fileID string) (*File, error) {
	return q.getFile(ctx, `SELECT * FROM files WHERE file_id = ? AND user_id = ?`, fileID, userID)
}

// GetFileByPath is the hot path: every upload and path lookup goes through
// it, which is why files carries the (user_id, file_path) index.
func (q *Queries) GetFileByPath(ctx context.Context, userID, filePath string) (*File, error) {
	return q.getFile(ctx, `SELECT * FROM files WHERE user_id = ? AND file_path = ?`, userID, filePath)
}

func (q *Queries) ListFiles(ctx context.Context, userID string) ([]*File, error) {
	rows, err := q.ext.QueryxContext(ctx,
		`SELECT * FROM files WHERE user_id = ? ORDER BY file_path`, userID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (q *Queries) getFile(ctx context.Context, query string, args ...any) (*File, error) {
	rows, err := q.ext.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query file: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanFile(rows)
}

type fileRow struct {
	FileID               string `db:"file_id"`
	UserID               string `db:"user_id"`
	FilePath             string `db:"file_path"`
	FileName             string `db:"file_name"`
	FileSize             int64  `db:"file_size"`
	Checksum             string `db:"checksum"`
	CurrentVersionVector string `db:"current_version_vector"`
	StoragePath          string `db:"storage_path"`
	CreatedAt            string `db:"created_at"`
	ModifiedAt           string `db:"modified_at"`
	SyncStatus           string `db:"sync_status"`
	ConflictStatus       string `db:"conflict_status"`
}

func scanFile(rows *sqlx.Rows) (*File, error) {
	var row fileRow
	if err := rows.StructScan(&row); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	vv, err := vclock.Parse([]byte(row.CurrentVersionVector))
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", row.FileID, err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	modifiedAt, _ := time.Parse(time.RFC3339Nano, row.ModifiedAt)
	return &File{
		FileID:               row.FileID,
		UserID:               row.UserID,
		FilePath:             row.FilePath,
		FileName:             row.FileName,
		FileSize:             row.FileSize,
		Checksum:             row.Checksum,
		CurrentVersionVector: vv,
		StoragePath:          row.StoragePath,
		CreatedAt:            createdAt,
		ModifiedAt:           modifiedAt,
		SyncStatus:           row.SyncStatus,
		ConflictStatus:       row.ConflictStatus,
	}, nil
}

// AddVersion appends a history row as the new current version, demoting the
// previous one. Run it inside WithTx together with the files update.
func (q *Queries) AddVersion(ctx context.Context, v *FileVersion) error {
	if v.VersionID == "" {
		v.VersionID = uuid.NewString()
	}

	var prev sql.NullInt64
	if err := sqlx.GetContext(ctx, q.ext, &prev,
		`SELECT MAX(version_number) FROM file_versions WHERE file_id = ?`, v.FileID); err != nil {
		return fmt.Errorf("next version number: %w", err)
	}
	v.VersionNumber = prev.Int64 + 1
	v.IsCurrentVersion = true

	if _, err := q.ext.ExecContext(ctx,
		`UPDATE file_versions SET is_current_version = 0 WHERE file_id = ?`, v.FileID); err != nil {
		return fmt.Errorf("demote versions: %w", err)
	}

	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO file_versions (version_id, file_id, version_number, checksum, storage_path,
		    file_size, created_at, is_current_version, version_vector, created_by_client)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		v.VersionID, v.FileID, v.VersionNumber, v.Checksum, v.StoragePath,
		v.FileSize, v.CreatedAt.UTC().Format(time.RFC3339Nano),
		v.VersionVector.JSON(), v.CreatedByClient,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (q *Queries) ListVersions(ctx context.Context, fileID string) ([]*FileVersion, error) {
	type versionRow struct {
		VersionID        string `db:"version_id"`
		FileID           string `db:"file_id"`
		VersionNumber    int64  `db:"version_number"`
		Checksum         string `db:"checksum"`
		StoragePath      string `db:"storage_path"`
		FileSize         int64  `db:"file_size"`
		CreatedAt        string `db:"created_at"`
		IsCurrentVersion bool   `db:"is_current_version"`
		VersionVector    string `db:"version_vector"`
		CreatedByClient  string `db:"created_by_client"`
	}

	rows, err := q.ext.QueryxContext(ctx,
		`SELECT * FROM file_versions WHERE file_id = ? ORDER BY version_number DESC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*FileVersion
	for rows.Next() {
		var row versionRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		vv, err := vclock.Parse([]byte(row.VersionVector))
		if err != nil {
			return nil, fmt.Errorf("version %s: %w", row.VersionID, err)
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
		out = append(out, &FileVersion{
			VersionID:        row.VersionID,
			FileID:           row.FileID,
			VersionNumber:    row.VersionNumber,
			Checksum:         row.Checksum,
			StoragePath:      row.StoragePath,
			FileSize:         row.FileSize,
			CreatedAt:        createdAt,
			IsCurrentVersion: row.IsCurrentVersion,
			VersionVector:    vv,
			CreatedByClient:  row.CreatedByClient,
		})
	}
	return out, rows.Err()
}

func (q *Queries) GetVersion(ctx context.Context, fileID string, versionNumber int64) (*FileVersion, error) {
	versions, err := q.ListVersions(ctx, fileID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.VersionNumber == versionNumber {
			return v, nil
		}
	}
	return nil, ErrNotFound
}

func (q *Queries) RecordEvent(ctx context.Context, ev *SyncEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO sync_events (event_id, user_id, file_id, event_type, timestamp,
		    client_id, sync_status, error_message, file_path, file_size, checksum)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.UserID, ev.FileID, ev.EventType,
		ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.ClientID, ev.SyncStatus,
		ev.ErrorMessage, ev.FilePath, ev.FileSize, ev.Checksum,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEventsSince backs GET /sync/changes: all of the user's events strictly
// after the given instant, oldest first.
func (q *Queries) ListEventsSince(ctx context.Context, userID string, since time.Time) ([]*SyncEvent, error) {
	type eventRow struct {
		EventID      string         `db:"event_id"`
		UserID       string         `db:"user_id"`
		FileID       sql.NullString `db:"file_id"`
		EventType    string         `db:"event_type"`
		Timestamp    string         `db:"timestamp"`
		ClientID     string         `db:"client_id"`
		SyncStatus   string         `db:"sync_status"`
		ErrorMessage sql.NullString `db:"error_message"`
		FilePath     string         `db:"file_path"`
		FileSize     sql.NullInt64  `db:"file_size"`
		Checksum     sql.NullString `db:"checksum"`
	}

	rows, err := q.ext.QueryxContext(ctx,
		`SELECT * FROM sync_events WHERE user_id = ? AND timestamp > ? ORDER BY timestamp`,
		userID, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*SyncEvent
	for rows.Next() {
		var row eventRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, row.Timestamp)
		out = append(out, &SyncEvent{
			EventID:      row.EventID,
			UserID:       row.UserID,
			FileID:       row.FileID.String,
			EventType:    row.EventType,
			Timestamp:    ts,
			ClientID:     row.ClientID,
			SyncStatus:   row.SyncStatus,
			ErrorMessage: row.ErrorMessage.String,
			FilePath:     row.FilePath,
			FileSize:     row.FileSize.Int64,
			Checksum:     row.Checksum.String,
		})
	}
	return out, rows.Err()
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
