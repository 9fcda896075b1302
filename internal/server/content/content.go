package content

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/driftbox/driftbox/internal/utils"
)

var ErrNotFound = errors.New("content: not found")

// Store keeps file contents on local disk, sharded per user and by the
// month the blob was written: {base}/{userId}/{YYYY}/{MM}/{fileId}.
type Store struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per (user, fileId) write lock
}

func NewStore(baseDir string) (*Store, error) {
	baseDir, err := utils.ResolvePath(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve content dir: %w", err)
	}
	if err := utils.EnsureDir(baseDir); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		locks:   map[string]*sync.Mutex{},
	}, nil
}

// BlobPath returns the on-disk location for a blob written at the given
// time. The shard is fixed at write time and recorded in metadata, so reads
// must use the stored path rather than recomputing it from the clock.
func (s *Store) BlobPath(userID, fileID string, at time.Time) string {
	at = at.UTC()
	return filepath.Join(s.baseDir, userID, fmt.Sprintf("%04d", at.Year()), fmt.Sprintf("%02d", at.Month()), fileID)
}

func (s *Store) lockFor(userID, fileID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "/" + fileID
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Put writes the blob from r and returns its storage path and size. Writes
// go to a temp file in the target directory and are renamed into place, so a
// reader never observes a half-written blob.
func (s *Store) Put(userID, fileID string, r io.Reader) (string, int64, error) {
	path := s.BlobPath(userID, fileID, time.Now())
	n, err := s.writeTo(userID, fileID, path, r, 0)
	if err != nil {
		return "", 0, err
	}
	return path, n, nil
}

// PutSized behaves like Put but pre-allocates the target when the caller
// knows the final size up front (chunked assembly does).
func (s *Store) PutSized(userID, fileID string, r io.Reader, size int64) (string, int64, error) {
	path := s.BlobPath(userID, fileID, time.Now())
	n, err := s.writeTo(userID, fileID, path, r, size)
	if err != nil {
		return "", 0, err
	}
	return path, n, nil
}

func (s *Store) writeTo(userID, fileID, path string, r io.Reader, size int64) (int64, error) {
	l := s.lockFor(userID, fileID)
	l.Lock()
	defer l.Unlock()

	if err := utils.EnsureParent(path); err != nil {
		return 0, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+fileID+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if size > 0 {
		if err := tmp.Truncate(size); err != nil {
			cleanup()
			return 0, fmt.Errorf("preallocate blob: %w", err)
		}
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("commit blob: %w", err)
	}
	return n, nil
}

// Open returns a reader over the blob at the stored path. The returned file
// supports seeking, which the download handler uses for range requests.
func (s *Store) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *Store) Stat(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat blob: %w", err)
	}
	return info, nil
}

// Delete removes the blob. A missing blob is not an error so delete stays
// idempotent.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
