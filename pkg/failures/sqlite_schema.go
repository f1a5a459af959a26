package failures

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the failure ledger.
const Schema = `
-- Undelivered cache clear requests
CREATE TABLE IF NOT EXISTS failures (
    digest TEXT PRIMARY KEY,
    endpoint TEXT NOT NULL,

    -- zstd compressed signed request envelope
    request BLOB NOT NULL,
    request_size INTEGER NOT NULL,

    -- Unix nanoseconds
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_failures_recorded_at ON failures(recorded_at);
CREATE INDEX IF NOT EXISTS idx_failures_endpoint ON failures(endpoint);

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`
