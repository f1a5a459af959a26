package git

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"esoe-hq/pdp/pkg/config"
	"esoe-hq/pdp/pkg/policy"
	"esoe-hq/pdp/pkg/policy/store"
)

// Store implements store.Store over a Repository's working tree.
// LastModified pulls before scanning; Policies reads the tree as of the
// last sync.
type Store struct {
	repo   *Repository
	logger *slog.Logger

	mu      sync.Mutex
	files   *store.FileStore
	lastErr error
}

var _ store.Store = (*Store)(nil)

// NewStore creates a store for cfg. The first query clones the
// repository.
func NewStore(cfg config.GitStoreConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	repo, err := NewRepository(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Store{repo: repo, logger: logger}, nil
}

// Repository returns the underlying clone.
func (s *Store) Repository() *Repository {
	return s.repo
}

// LastModified pulls the branch and returns the newest document
// modification time in the working tree.
func (s *Store) LastModified(ctx context.Context) (time.Time, error) {
	files, err := s.sync(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return files.LastModified(ctx)
}

// Policies returns the documents changed after since. The repository is
// only synced here when it has never been synced.
func (s *Store) Policies(ctx context.Context, since *time.Time) (map[string][]policy.Policy, error) {
	s.mu.Lock()
	files := s.files
	s.mu.Unlock()

	if files == nil {
		var err error
		if files, err = s.sync(ctx); err != nil {
			return nil, err
		}
	}
	return files.Policies(ctx, since)
}

// Check reports the error of the most recent sync, nil once a sync has
// succeeded.
func (s *Store) Check(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) sync(ctx context.Context) (*store.FileStore, error) {
	_, err := s.repo.Sync(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastErr = &store.StorageError{Op: "sync", Err: err}
		return nil, s.lastErr
	}
	if s.files == nil {
		files, err := store.NewFileStore(s.repo.PolicyDir(), s.logger)
		if err != nil {
			s.lastErr = err
			return nil, err
		}
		s.files = files
	}
	s.lastErr = nil
	return s.files, nil
}
