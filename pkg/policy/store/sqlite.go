package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"esoe-hq/pdp/pkg/policy"
)

const policySchema = `
CREATE TABLE IF NOT EXISTS policy_sets (
	descriptor_id TEXT PRIMARY KEY,
	document      TEXT NOT NULL,
	last_updated  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policy_sets_last_updated ON policy_sets(last_updated);
`

// SQLiteStoreConfig configures the SQLite policy store.
type SQLiteStoreConfig struct {
	// Path is the database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStore keeps one YAML policy document per descriptor in a SQLite
// table. It is used as the processor's store when an external policy
// administration system writes into the same database, and by the
// `policy import` command.
type SQLiteStore struct {
	db        *sql.DB
	logger    *slog.Logger
	now       func() time.Time
	closeOnce sync.Once

	upsertStmt *sql.Stmt
	deleteStmt *sql.Stmt
}

// NewSQLiteStore opens (and if necessary creates) the policy database.
func NewSQLiteStore(cfg SQLiteStoreConfig, logger *slog.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(policySchema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "initialize schema", Err: err}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With("component", "policy.store", "store", "sqlite"),
		now:    time.Now,
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, &StorageError{Op: "prepare statements", Err: err}
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	s.upsertStmt, err = s.db.Prepare(`
		INSERT INTO policy_sets (descriptor_id, document, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT (descriptor_id) DO UPDATE SET
			document = excluded.document,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return err
	}
	s.deleteStmt, err = s.db.Prepare(`DELETE FROM policy_sets WHERE descriptor_id = ?`)
	return err
}

// Upsert stores ps as the current policy set of its descriptor and stamps
// it with the current time.
func (s *SQLiteStore) Upsert(ctx context.Context, ps *policy.PolicySet) error {
	if ps == nil || ps.DescriptorID == "" {
		return fmt.Errorf("policy set must name a descriptor")
	}
	doc, err := policy.MarshalPolicySet(ps)
	if err != nil {
		return err
	}
	if _, err := s.upsertStmt.ExecContext(ctx, ps.DescriptorID, string(doc), s.now().UnixNano()); err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}
	s.logger.Debug("policy set stored", "descriptor_id", ps.DescriptorID, "policies", len(ps.Policies))
	return nil
}

// Delete removes a descriptor's policy set. It returns ErrNotFound when
// the descriptor is not stored.
func (s *SQLiteStore) Delete(ctx context.Context, descriptorID string) error {
	res, err := s.deleteStmt.ExecContext(ctx, descriptorID)
	if err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LastModified returns the newest last_updated stamp, or the zero time for
// an empty table.
func (s *SQLiteStore) LastModified(ctx context.Context) (time.Time, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(last_updated) FROM policy_sets`).Scan(&latest)
	if err != nil {
		return time.Time{}, &StorageError{Op: "last modified", Err: err}
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, latest.Int64), nil
}

// Policies returns the policy sets updated after since (all when nil).
// Rows whose document no longer parses are skipped with a warning.
func (s *SQLiteStore) Policies(ctx context.Context, since *time.Time) (map[string][]policy.Policy, error) {
	query := `SELECT descriptor_id, document FROM policy_sets`
	var args []any
	if since != nil {
		query += ` WHERE last_updated > ?`
		args = append(args, since.UnixNano())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	result := make(map[string][]policy.Policy)
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, &StorageError{Op: "scan", Err: err}
		}
		ps, err := policy.ParsePolicySet([]byte(doc))
		if err != nil {
			s.logger.Warn("skipping unparseable stored policy set",
				"descriptor_id", id,
				"error", err)
			continue
		}
		result[id] = ps.Policies
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}
	return result, nil
}

// Get returns the stored policy set for one descriptor.
func (s *SQLiteStore) Get(ctx context.Context, descriptorID string) (*policy.PolicySet, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM policy_sets WHERE descriptor_id = ?`, descriptorID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return policy.ParsePolicySet([]byte(doc))
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.upsertStmt != nil {
			s.upsertStmt.Close()
		}
		if s.deleteStmt != nil {
			s.deleteStmt.Close()
		}
		err = s.db.Close()
	})
	return err
}
