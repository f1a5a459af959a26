// Package endpoints resolves the cache-clear service endpoints of
// enforcement points.
package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// ErrUnknownDescriptor is returned when a descriptor has no registered
// endpoints.
var ErrUnknownDescriptor = errors.New("unknown descriptor")

// Directory maps a descriptor to its indexed cache-clear endpoints.
type Directory interface {
	ResolveCacheClearEndpoints(ctx context.Context, descriptorID string) (map[int]string, error)
}

// StaticDirectory is a Directory backed by configuration.
type StaticDirectory struct {
	mu      sync.RWMutex
	entries map[string]map[int]string
}

// NewStaticDirectory builds a directory from descriptor -> index -> URL.
// Every URL must be absolute with an http or https scheme.
func NewStaticDirectory(entries map[string]map[int]string) (*StaticDirectory, error) {
	d := &StaticDirectory{entries: make(map[string]map[int]string, len(entries))}
	for id, eps := range entries {
		if err := d.Register(id, eps); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register replaces the endpoints of one descriptor.
func (d *StaticDirectory) Register(descriptorID string, endpoints map[int]string) error {
	if descriptorID == "" {
		return fmt.Errorf("descriptor id cannot be empty")
	}
	copied := make(map[int]string, len(endpoints))
	for idx, raw := range endpoints {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("descriptor %q endpoint %d: %w", descriptorID, idx, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("descriptor %q endpoint %d: %q is not an absolute http(s) URL", descriptorID, idx, raw)
		}
		copied[idx] = raw
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[descriptorID] = copied
	return nil
}

// ResolveCacheClearEndpoints returns a copy of the descriptor's endpoints.
func (d *StaticDirectory) ResolveCacheClearEndpoints(_ context.Context, descriptorID string) (map[int]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	eps, ok := d.entries[descriptorID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDescriptor, descriptorID)
	}
	out := make(map[int]string, len(eps))
	for k, v := range eps {
		out[k] = v
	}
	return out, nil
}

// Descriptors returns the registered descriptor IDs in sorted order.
func (d *StaticDirectory) Descriptors() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.entries))
	for id := range d.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SortedIndexes returns the indexes of eps in ascending order.
func SortedIndexes(eps map[int]string) []int {
	idx := make([]int, 0, len(eps))
	for i := range eps {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}
