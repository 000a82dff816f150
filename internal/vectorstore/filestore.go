package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"image-rag/internal/helper"
	"image-rag/internal/models"
)

// FileStore keeps the whole collection in one JSON file that is rewritten on every
// change. Writers are serialized by a mutex within the process and by a lock file
// across processes; readers rely on the atomic rename.
type FileStore struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
	mu          sync.Mutex
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string, lockTimeout time.Duration) (*FileStore, error) {
	if err := helper.CreateFolder(dir); err != nil {
		return nil, err
	}
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	path := filepath.Join(dir, models.VectorStoreFileName)
	s := &FileStore{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: lockTimeout,
	}

	err := s.withLock(context.Background(), func() error {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return s.write([]models.Entry{})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Read(_ context.Context) []models.Entry {
	return s.read()
}

func (s *FileStore) read() []models.Entry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Vector store unreadable, treating as empty")
		return []models.Entry{}
	}
	var entries []models.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Vector store malformed, treating as empty")
		return []models.Entry{}
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	return entries
}

func (s *FileStore) Upsert(ctx context.Context, entry models.Entry) error {
	return s.UpsertAll(ctx, []models.Entry{entry})
}

func (s *FileStore) UpsertAll(ctx context.Context, entries []models.Entry) error {
	if err := Validate(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	return s.withLock(ctx, func() error {
		return s.write(Merge(s.read(), entries))
	})
}

func (s *FileStore) DeleteBySource(ctx context.Context, sourceDoc string) ([]models.Entry, error) {
	if sourceDoc == "" {
		return []models.Entry{}, nil
	}
	var removed []models.Entry
	err := s.withLock(ctx, func() error {
		var kept []models.Entry
		kept, removed = Partition(s.read(), sourceDoc)
		if len(removed) == 0 {
			return nil
		}
		return s.write(kept)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to lock vector store %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock vector store %s", s.path)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("Failed to release vector store lock")
		}
	}()
	return fn()
}

// write replaces the file through a temp file and rename.
func (s *FileStore) write(entries []models.Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode vector store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".image_vectors-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write vector store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace vector store: %w", err)
	}
	return nil
}
