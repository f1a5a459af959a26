// Package cache holds the in-memory authorization policy cache: for each
// descriptor (enforcement point) the ordered list of policies that apply to
// it.
//
// The cache is copy-on-write. Every mutation builds a new snapshot and
// publishes it with a single atomic store, so a reader that obtained a
// policy list keeps a stable, fully-formed view even while the writer
// replaces or removes that descriptor. Readers never take a lock.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"esoe-hq/pdp/pkg/policy"
)

// snapshot is an immutable view of the cache. Nothing reachable from a
// published snapshot is ever modified.
type snapshot struct {
	entries  map[string][]policy.Policy
	version  string
	sequence uint64
	updated  time.Time
}

// PolicyCache maps descriptor IDs to their ordered policy lists.
//
// Any number of goroutines may read concurrently. Writes are serialized
// internally; in the running system the cache processor is the only
// writer.
type PolicyCache struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[snapshot]
}

// New creates an empty policy cache.
func New() *PolicyCache {
	c := &PolicyCache{}
	c.current.Store(newSnapshot(map[string][]policy.Policy{}, 0))
	return c
}

// Get returns the policies for descriptorID, or nil if the descriptor is
// unknown. The returned slice is shared and must be treated as read-only.
func (c *PolicyCache) Get(descriptorID string) []policy.Policy {
	return c.current.Load().entries[descriptorID]
}

// Put replaces the policy list for descriptorID. The cache stores its own
// deep copy, so later changes to policies by the caller are not visible.
func (c *PolicyCache) Put(descriptorID string, policies []policy.Policy) {
	stored := policy.ClonePolicies(policies)
	if stored == nil {
		stored = []policy.Policy{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	next := make(map[string][]policy.Policy, len(prev.entries)+1)
	for k, v := range prev.entries {
		next[k] = v
	}
	next[descriptorID] = stored
	c.current.Store(newSnapshot(next, prev.sequence+1))
}

// PutAll replaces the policy lists of several descriptors in one atomic
// step. Descriptors not named in updates are left untouched.
func (c *PolicyCache) PutAll(updates map[string][]policy.Policy) {
	if len(updates) == 0 {
		return
	}
	copies := make(map[string][]policy.Policy, len(updates))
	for id, policies := range updates {
		stored := policy.ClonePolicies(policies)
		if stored == nil {
			stored = []policy.Policy{}
		}
		copies[id] = stored
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	next := make(map[string][]policy.Policy, len(prev.entries)+len(copies))
	for k, v := range prev.entries {
		next[k] = v
	}
	for k, v := range copies {
		next[k] = v
	}
	c.current.Store(newSnapshot(next, prev.sequence+1))
}

// Remove deletes descriptorID from the cache. It reports whether the
// descriptor was present.
func (c *PolicyCache) Remove(descriptorID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	if _, ok := prev.entries[descriptorID]; !ok {
		return false
	}
	next := make(map[string][]policy.Policy, len(prev.entries))
	for k, v := range prev.entries {
		if k != descriptorID {
			next[k] = v
		}
	}
	c.current.Store(newSnapshot(next, prev.sequence+1))
	return true
}

// ReplaceAll atomically swaps the entire cache content for entries.
func (c *PolicyCache) ReplaceAll(entries map[string][]policy.Policy) {
	next := make(map[string][]policy.Policy, len(entries))
	for id, policies := range entries {
		stored := policy.ClonePolicies(policies)
		if stored == nil {
			stored = []policy.Policy{}
		}
		next[id] = stored
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	c.current.Store(newSnapshot(next, prev.sequence+1))
}

// Size returns the number of descriptors in the cache.
func (c *PolicyCache) Size() int {
	return len(c.current.Load().entries)
}

// Descriptors returns the cached descriptor IDs in sorted order.
func (c *PolicyCache) Descriptors() []string {
	entries := c.current.Load().entries
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Version returns a short content hash of the current cache state. It
// changes whenever a descriptor is added, removed or its policy IDs change.
func (c *PolicyCache) Version() string {
	return c.current.Load().version
}

// BuildSequence returns a counter incremented by every write.
func (c *PolicyCache) BuildSequence() uint64 {
	return c.current.Load().sequence
}

// Stats summarizes the cache contents.
type Stats struct {
	Descriptors int
	Policies    int
	Rules       int
	Version     string
	Sequence    uint64
	UpdatedAt   time.Time
}

// Stats returns statistics for the current snapshot.
func (c *PolicyCache) Stats() Stats {
	s := c.current.Load()
	stats := Stats{
		Descriptors: len(s.entries),
		Version:     s.version,
		Sequence:    s.sequence,
		UpdatedAt:   s.updated,
	}
	for _, policies := range s.entries {
		stats.Policies += len(policies)
		for _, p := range policies {
			stats.Rules += len(p.Rules)
		}
	}
	return stats
}

func newSnapshot(entries map[string][]policy.Policy, sequence uint64) *snapshot {
	return &snapshot{
		entries:  entries,
		version:  hashEntries(entries),
		sequence: sequence,
		updated:  time.Now(),
	}
}

// hashEntries derives a deterministic version from descriptor, policy and
// rule identifiers.
func hashEntries(entries map[string][]policy.Policy) string {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		for _, p := range entries[id] {
			h.Write([]byte(p.ID))
			h.Write([]byte{1})
			for _, r := range p.Rules {
				h.Write([]byte(r.ID))
				h.Write([]byte(r.Effect))
				h.Write([]byte{2})
			}
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
