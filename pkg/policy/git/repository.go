package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"esoe-hq/pdp/pkg/config"
)

const remoteName = "origin"

// CommitInfo describes the commit a working tree is at.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// SyncResult reports what a sync changed.
type SyncResult struct {
	// Cloned is set when the sync created the local clone.
	Cloned bool

	// From and To are the HEAD commits before and after the sync. From is
	// empty after a clone.
	From string
	To   string

	// Changed lists repository paths touched between From and To.
	Changed []string
}

// Updated reports whether HEAD moved.
func (r *SyncResult) Updated() bool {
	return r.Cloned || r.From != r.To
}

// Repository is a local clone tracking one branch of a remote.
type Repository struct {
	cfg    config.GitStoreConfig
	auth   transport.AuthMethod
	logger *slog.Logger

	mu   sync.Mutex
	repo *gogit.Repository
}

// NewRepository validates cfg and resolves its credentials. Nothing is
// cloned until the first Sync.
func NewRepository(cfg config.GitStoreConfig, logger *slog.Logger) (*Repository, error) {
	if cfg.Repository == "" {
		return nil, errors.New("git repository cannot be empty")
	}
	if cfg.Branch == "" {
		return nil, errors.New("git branch cannot be empty")
	}
	if cfg.LocalPath == "" {
		return nil, errors.New("git local path cannot be empty")
	}
	auth, err := AuthMethod(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		cfg:  cfg,
		auth: auth,
		logger: logger.With("component", "policy.git",
			"repository", cfg.Repository,
			"branch", cfg.Branch),
	}, nil
}

// PolicyDir is the directory of the working tree holding policy
// documents.
func (r *Repository) PolicyDir() string {
	return filepath.Join(r.cfg.LocalPath, r.cfg.Path)
}

// Sync clones the branch when no local clone exists yet and pulls it
// otherwise.
func (r *Repository) Sync(ctx context.Context) (*SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	if r.repo == nil {
		cloned, err := r.open(ctx)
		if err != nil {
			return nil, err
		}
		if cloned {
			head, err := r.head()
			if err != nil {
				return nil, err
			}
			return &SyncResult{Cloned: true, To: head}, nil
		}
	}
	return r.pull(ctx)
}

// open attaches to an existing clone at LocalPath or creates one.
func (r *Repository) open(ctx context.Context) (cloned bool, err error) {
	start := time.Now()

	repo, err := gogit.PlainOpen(r.cfg.LocalPath)
	switch {
	case err == nil:
		if err := r.checkRemote(repo); err != nil {
			return false, err
		}
		r.repo = repo
		r.logger.Debug("opened existing clone", "path", r.cfg.LocalPath)
		return false, nil
	case !errors.Is(err, gogit.ErrRepositoryNotExists):
		return false, fmt.Errorf("failed to open clone at %s: %w", r.cfg.LocalPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(r.cfg.LocalPath), 0o755); err != nil {
		return false, fmt.Errorf("failed to create clone directory: %w", err)
	}
	repo, err = gogit.PlainCloneContext(ctx, r.cfg.LocalPath, false, &gogit.CloneOptions{
		URL:           r.cfg.Repository,
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Depth:         r.cfg.Depth,
		Auth:          r.auth,
	})
	if err != nil {
		// A failed clone leaves a partial tree that PlainOpen would accept.
		_ = os.RemoveAll(r.cfg.LocalPath)
		return false, fmt.Errorf("failed to clone: %w", err)
	}
	r.repo = repo
	r.logger.Info("cloned policy repository",
		"path", r.cfg.LocalPath,
		"duration", time.Since(start))
	return true, nil
}

// checkRemote refuses a clone of some other repository sitting at
// LocalPath.
func (r *Repository) checkRemote(repo *gogit.Repository) error {
	remote, err := repo.Remote(remoteName)
	if err != nil {
		return fmt.Errorf("clone at %s has no %s remote: %w", r.cfg.LocalPath, remoteName, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 || urls[0] != r.cfg.Repository {
		return fmt.Errorf("clone at %s tracks %v, not %s", r.cfg.LocalPath, urls, r.cfg.Repository)
	}
	return nil
}

func (r *Repository) pull(ctx context.Context) (*SyncResult, error) {
	from, err := r.head()
	if err != nil {
		return nil, err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	err = wt.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Depth:         r.cfg.Depth,
		Auth:          r.auth,
		Force:         true,
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return &SyncResult{From: from, To: from}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pull: %w", err)
	}

	to, err := r.head()
	if err != nil {
		return nil, err
	}
	result := &SyncResult{From: from, To: to}
	if from != to {
		result.Changed, err = r.changedFiles(from, to)
		if err != nil {
			return nil, err
		}
		r.logger.Info("pulled policy changes",
			"from", shortSHA(from),
			"to", shortSHA(to),
			"changed_files", len(result.Changed))
	}
	return result, nil
}

func (r *Repository) changedFiles(from, to string) ([]string, error) {
	fromCommit, err := r.repo.CommitObject(plumbing.NewHash(from))
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", shortSHA(from), err)
	}
	toCommit, err := r.repo.CommitObject(plumbing.NewHash(to))
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", shortSHA(to), err)
	}
	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	files := make([]string, 0, len(changes))
	for _, c := range changes {
		if c.To.Name != "" {
			files = append(files, c.To.Name)
		} else {
			files = append(files, c.From.Name)
		}
	}
	return files, nil
}

func (r *Repository) head() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Head describes the commit the working tree is at.
func (r *Repository) Head() (*CommitInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return nil, errors.New("repository has not been synced")
	}
	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD commit: %w", err)
	}
	return &CommitInfo{
		SHA:       commit.Hash.String(),
		Author:    commit.Author.Name,
		Timestamp: commit.Author.When,
		Message:   commit.Message,
	}, nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
