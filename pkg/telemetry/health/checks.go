package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Names of the checks registered by the daemon.
const (
	CheckPolicyCache       = "policy_cache"
	CheckProcessor         = "cache_processor"
	CheckFailureRepository = "failure_repository"
	CheckPolicySource      = "policy_source"
)

// CacheSizer reports how many descriptors the policy cache holds.
type CacheSizer interface {
	Size() int
}

// ProcessorStatus is the part of the cache processor a readiness check reads.
type ProcessorStatus interface {
	IsRunning() bool
	LastRebuild() time.Time
}

// RepositorySizer answers a size query against the failure repository.
type RepositorySizer interface {
	Size(ctx context.Context) (int, error)
}

// CacheCheck fails while the policy cache is empty. Every decision made
// against an empty cache is a deny.
func CacheCheck(cache CacheSizer) CheckFunc {
	return func(context.Context) error {
		if cache.Size() == 0 {
			return errors.New("policy cache is empty")
		}
		return nil
	}
}

// ProcessorCheck fails until the cache processor is running and has
// completed at least one rebuild.
func ProcessorCheck(p ProcessorStatus) CheckFunc {
	return func(context.Context) error {
		if !p.IsRunning() {
			return errors.New("cache processor is not running")
		}
		if p.LastRebuild().IsZero() {
			return errors.New("cache processor has not completed a rebuild")
		}
		return nil
	}
}

// RepositoryCheck fails when the failure repository cannot be queried.
func RepositoryCheck(repo RepositorySizer) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := repo.Size(ctx); err != nil {
			return fmt.Errorf("failure repository unavailable: %w", err)
		}
		return nil
	}
}

// SourceStatus is a policy store that remembers whether its last sync
// with a remote source succeeded.
type SourceStatus interface {
	Check(ctx context.Context) error
}

// SourceCheck fails while the policy store cannot reach its source. The
// cache keeps serving the last policies it built.
func SourceCheck(src SourceStatus) CheckFunc {
	return func(ctx context.Context) error {
		if err := src.Check(ctx); err != nil {
			return fmt.Errorf("policy source unavailable: %w", err)
		}
		return nil
	}
}
