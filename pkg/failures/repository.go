package failures

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Repository stores failure records. Implementations are safe for
// concurrent use and make no ordering guarantee beyond List's.
type Repository interface {
	Add(ctx context.Context, record Record) error
	Remove(ctx context.Context, record Record) error
	Contains(ctx context.Context, record Record) (bool, error)
	ClearFailures(ctx context.Context) error
	Size(ctx context.Context) (int, error)

	// List returns every record, oldest first.
	List(ctx context.Context) ([]Record, error)
}

// StorageError wraps a failure of a persistent repository.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("failure repository %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

// Add stores a copy of record. Adding an equal record again is a no-op.
func (m *MemoryRepository) Add(_ context.Context, record Record) error {
	record.Request = append([]byte(nil), record.Request...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Digest()] = record
	return nil
}

// Remove deletes the record equal to record, if any.
func (m *MemoryRepository) Remove(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, record.Digest())
	return nil
}

// Contains reports whether an equal record is stored.
func (m *MemoryRepository) Contains(_ context.Context, record Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[record.Digest()]
	return ok && stored.Equal(record), nil
}

// ClearFailures removes every record.
func (m *MemoryRepository) ClearFailures(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record)
	return nil
}

// Size returns the number of records.
func (m *MemoryRepository) Size(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

// List returns copies of all records, oldest first.
func (m *MemoryRepository) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		r.Request = append([]byte(nil), r.Request...)
		out = append(out, r)
	}
	m.mu.Unlock()

	sortRecords(out)
	return out, nil
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].Endpoint < records[j].Endpoint
	})
}
