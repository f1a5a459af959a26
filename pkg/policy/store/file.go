package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"esoe-hq/pdp/pkg/policy"
)

// DocumentExtensions lists the policy document extensions a FileStore
// reads.
var DocumentExtensions = []string{".yaml", ".yml", ".json", ".jsonc"}

// FileStore serves policy sets from a directory of documents, one policy
// set per file. Modification times drive change detection.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a store over dir. The directory must exist.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("policy directory cannot be empty")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policy path %q is not a directory", dir)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With("component", "policy.store", "store", "file"),
	}, nil
}

// Dir returns the directory served by the store.
func (s *FileStore) Dir() string {
	return s.dir
}

type document struct {
	path    string
	modTime time.Time
}

// LastModified returns the newest modification time of any policy
// document.
func (s *FileStore) LastModified(ctx context.Context) (time.Time, error) {
	docs, err := s.documents(ctx)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, d := range docs {
		if d.modTime.After(latest) {
			latest = d.modTime
		}
	}
	return latest, nil
}

// Policies loads every document modified after since (all documents when
// since is nil). Documents that fail to parse are skipped with a warning.
func (s *FileStore) Policies(ctx context.Context, since *time.Time) (map[string][]policy.Policy, error) {
	docs, err := s.documents(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]policy.Policy)
	for _, d := range docs {
		if since != nil && !d.modTime.After(*since) {
			continue
		}
		ps, err := LoadDocument(d.path)
		if err != nil {
			s.logger.Warn("skipping unreadable policy document",
				"path", d.path,
				"error", err)
			continue
		}
		if err := ps.Validate(); err != nil {
			s.logger.Warn("policy document has validation problems",
				"path", d.path,
				"descriptor_id", ps.DescriptorID,
				"error", err)
		}
		if ps.DescriptorID == "" {
			continue
		}
		if _, dup := result[ps.DescriptorID]; dup {
			s.logger.Warn("descriptor defined by more than one document, later file wins",
				"path", d.path,
				"descriptor_id", ps.DescriptorID)
		}
		result[ps.DescriptorID] = ps.Policies
	}
	return result, nil
}

func (s *FileStore) documents(ctx context.Context) ([]document, error) {
	var docs []document
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != s.dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsDocument(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		docs = append(docs, document{path: path, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "scan", Err: err}
	}
	return docs, nil
}

// IsDocument reports whether path has a policy document extension.
func IsDocument(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range DocumentExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// LoadDocument reads and parses a single policy document. JSONC comments
// and trailing commas are stripped before parsing.
func LoadDocument(path string) (*policy.PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".jsonc") {
		data = jsonc.ToJSON(data)
	}
	ps, err := policy.ParsePolicySet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}
