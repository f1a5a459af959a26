package failures

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

// zstd encoders and decoders are safe for concurrent use and are shared
// by every repository.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("failures: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("failures: zstd decoder initialization failed: " + err.Error())
	}
}

// SQLiteConfig contains configuration for the SQLite repository.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteRepository is a Repository persisted in SQLite. Request payloads
// are stored zstd-compressed.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRepository opens the ledger at cfg.Path, creating the schema
// when needed.
func NewSQLiteRepository(cfg SQLiteConfig, logger *slog.Logger) (*SQLiteRepository, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	r := &SQLiteRepository{
		db:     db,
		logger: logger.With("component", "failures.sqlite"),
	}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	r.logger.Info("failure repository opened", "path", cfg.Path)
	return r, nil
}

func (r *SQLiteRepository) initialize() error {
	if _, err := r.db.Exec(Schema); err != nil {
		return &StorageError{Op: "create_schema", Err: err}
	}

	var version int
	err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return &StorageError{Op: "check_version", Err: err}
	}
	if version < SchemaVersion {
		if _, err := r.db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
			return &StorageError{Op: "update_version", Err: err}
		}
	}
	return nil
}

// Add stores record. Adding an equal record again is a no-op.
func (r *SQLiteRepository) Add(ctx context.Context, record Record) error {
	// EncodeAll returns dst untouched for an empty request; a non-nil dst
	// keeps the column an empty blob instead of NULL.
	compressed := zstdEncoder.EncodeAll(record.Request, make([]byte, 0, len(record.Request)/2+16))
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO failures (digest, endpoint, request, request_size, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(digest) DO NOTHING`,
		record.Digest(), record.Endpoint, compressed, len(record.Request), record.Timestamp.UnixNano())
	if err != nil {
		return &StorageError{Op: "add", Err: err}
	}
	return nil
}

// Remove deletes the record equal to record, if any.
func (r *SQLiteRepository) Remove(ctx context.Context, record Record) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM failures WHERE digest = ?`, record.Digest()); err != nil {
		return &StorageError{Op: "remove", Err: err}
	}
	return nil
}

// Contains reports whether an equal record is stored.
func (r *SQLiteRepository) Contains(ctx context.Context, record Record) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures WHERE digest = ?`, record.Digest()).Scan(&n)
	if err != nil {
		return false, &StorageError{Op: "contains", Err: err}
	}
	return n > 0, nil
}

// ClearFailures removes every record.
func (r *SQLiteRepository) ClearFailures(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM failures`); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}

// Size returns the number of records.
func (r *SQLiteRepository) Size(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "size", Err: err}
	}
	return n, nil
}

// List returns every record, oldest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT endpoint, request, request_size, recorded_at
		FROM failures
		ORDER BY recorded_at ASC, endpoint ASC`)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			endpoint   string
			compressed []byte
			size       int
			recorded   int64
		)
		if err := rows.Scan(&endpoint, &compressed, &size, &recorded); err != nil {
			return nil, &StorageError{Op: "list", Err: err}
		}
		request := []byte{}
		if size > 0 {
			if request, err = zstdDecoder.DecodeAll(compressed, make([]byte, 0, size)); err != nil {
				return nil, &StorageError{Op: "decompress", Err: err}
			}
		}
		if len(request) != size {
			return nil, &StorageError{Op: "decompress", Err: fmt.Errorf("got %d bytes, expected %d", len(request), size)}
		}
		out = append(out, Record{
			Endpoint:  endpoint,
			Request:   request,
			Timestamp: time.Unix(0, recorded),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return out, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
