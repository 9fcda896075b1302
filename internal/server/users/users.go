package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id        TEXT PRIMARY KEY,
    username       TEXT NOT NULL UNIQUE,
    email          TEXT NOT NULL UNIQUE,
    password_hash  TEXT NOT NULL,
    created_at     TEXT NOT NULL,
    last_login     TEXT,
    storage_quota  INTEGER NOT NULL,
    used_storage   INTEGER NOT NULL DEFAULT 0,
    account_status TEXT NOT NULL DEFAULT 'ACTIVE'
);
`

const DefaultStorageQuota = int64(10) << 30 // 10 GiB

var (
	ErrNotFound      = errors.New("users: not found")
	ErrAlreadyExists = errors.New("users: username or email already taken")
	ErrQuotaExceeded = errors.New("users: storage quota exceeded")
)

type User struct {
	UserID        string         `db:"user_id" json:"userId"`
	Username      string         `db:"username" json:"username"`
	Email         string         `db:"email" json:"email"`
	PasswordHash  string         `db:"password_hash" json:"-"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	LastLogin     sql.NullString `db:"last_login" json:"-"`
	StorageQuota  int64          `db:"storage_quota" json:"storageQuota"`
	UsedStorage   int64          `db:"used_storage" json:"usedStorage"`
	AccountStatus string         `db:"account_status" json:"accountStatus"`
}

// Store is the durable user directory.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init users schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Create(ctx context.Context, username, email, passwordHash string) (*User, error) {
	user := &User{
		UserID:        uuid.NewString(),
		Username:      username,
		Email:         email,
		PasswordHash:  passwordHash,
		CreatedAt:     time.Now().UTC(),
		StorageQuota:  DefaultStorageQuota,
		AccountStatus: "ACTIVE",
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, email, password_hash, created_at, storage_quota, used_storage, account_status)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		user.UserID, user.Username, user.Email, user.PasswordHash,
		user.CreatedAt.Format(time.RFC3339), user.StorageQuota, user.AccountStatus,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getOne(ctx, `SELECT * FROM users WHERE username = ?`, username)
}

func (s *Store) GetByID(ctx context.Context, userID string) (*User, error) {
	return s.getOne(ctx, `SELECT * FROM users WHERE user_id = ?`, userID)
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (*User, error) {
	var row struct {
		UserID        string         `db:"user_id"`
		Username      string         `db:"username"`
		Email         string         `db:"email"`
		PasswordHash  string         `db:"password_hash"`
		CreatedAt     string         `db:"created_at"`
		LastLogin     sql.NullString `db:"last_login"`
		StorageQuota  int64          `db:"storage_quota"`
		UsedStorage   int64          `db:"used_storage"`
		AccountStatus string         `db:"account_status"`
	}
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	return &User{
		UserID:        row.UserID,
		Username:      row.Username,
		Email:         row.Email,
		PasswordHash:  row.PasswordHash,
		CreatedAt:     createdAt,
		LastLogin:     row.LastLogin,
		StorageQuota:  row.StorageQuota,
		UsedStorage:   row.UsedStorage,
		AccountStatus: row.AccountStatus,
	}, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE user_id = ?`,
		time.Now().UTC().Format(time.RFC3339), userID)
	return err
}

// AddUsedStorage adjusts the user's storage accounting by delta (may be
// negative). Fails with ErrQuotaExceeded when the new total would overflow
// the quota.
func (s *Store) AddUsedStorage(ctx context.Context, userID string, delta int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET used_storage = used_storage + ?
		 WHERE user_id = ? AND used_storage + ? BETWEEN 0 AND storage_quota`,
		delta, userID, delta)
	if err != nil {
		return fmt.Errorf("update used storage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetByID(ctx, userID); err != nil {
			return err
		}
		return ErrQuotaExceeded
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// both sqlite drivers surface constraint failures in the message
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
