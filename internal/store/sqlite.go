// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema, and applies column migrations

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is bumped whenever runMigrations gains a step.
const currentSchemaVersion = 2

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single in-memory database only exists on one connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// connPragmas are applied by the driver to every pooled connection as it opens.
var connPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// dsn builds a modernc.org/sqlite URI for path carrying connPragmas.
func dsn(path string) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(uriPathEscaper.Replace(path))
	for i, p := range connPragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_info (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS profiles (
			id            TEXT PRIMARY KEY,
			email         TEXT UNIQUE NOT NULL,
			role          TEXT NOT NULL DEFAULT 'member',
			status        TEXT NOT NULL DEFAULT 'active',
			display_name  TEXT NOT NULL DEFAULT '',
			first_name    TEXT NOT NULL DEFAULT '',
			last_name     TEXT NOT NULL DEFAULT '',
			avatar_url    TEXT NOT NULL DEFAULT '',
			password_hash TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (role IN ('owner', 'admin', 'member', 'viewer')),
			CHECK (status IN ('active', 'suspended', 'invited'))
		);

		CREATE INDEX IF NOT EXISTS idx_profiles_role ON profiles(role);

		-- Browser sessions (cookie-based)
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			user_agent   TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			refreshed_at TEXT NOT NULL,
			expires_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

		-- Server-issued, time-boxed admin elevation
		CREATE TABLE IF NOT EXISTS admin_grants (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			email      TEXT NOT NULL,
			granted_by TEXT NOT NULL,
			reason     TEXT NOT NULL,
			break_glass INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			revoked_at TEXT,
			revoked_by TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_admin_grants_user ON admin_grants(user_id, expires_at);

		CREATE TABLE IF NOT EXISTS invites (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			role       TEXT NOT NULL,
			team_id    TEXT,
			created_by TEXT,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			used_at    TEXT,
			used_by    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_invites_expires ON invites(expires_at);

		-- WebAuthn credentials for passkeys
		CREATE TABLE IF NOT EXISTS webauthn_credentials (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			credential_id    BLOB UNIQUE NOT NULL,
			public_key       BLOB NOT NULL,
			attestation_type TEXT,
			transports       TEXT,
			sign_count       INTEGER DEFAULT 0,
			created_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_webauthn_user ON webauthn_credentials(user_id);

		CREATE TABLE IF NOT EXISTS oauth_identities (
			provider   TEXT NOT NULL,
			subject    TEXT NOT NULL,
			user_id    TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			email      TEXT NOT NULL,
			created_at TEXT NOT NULL,

			PRIMARY KEY (provider, subject)
		);

		CREATE TABLE IF NOT EXISTS plans (
			id                  TEXT PRIMARY KEY,
			slug                TEXT UNIQUE NOT NULL,
			name                TEXT NOT NULL,
			description         TEXT NOT NULL DEFAULT '',
			monthly_price_cents INTEGER NOT NULL DEFAULT 0,
			yearly_price_cents  INTEGER NOT NULL DEFAULT 0,
			currency            TEXT NOT NULL DEFAULT 'USD',
			max_instances       INTEGER NOT NULL DEFAULT 0,
			max_messages        INTEGER NOT NULL DEFAULT 0,
			features_json       TEXT NOT NULL DEFAULT '[]',
			active              INTEGER NOT NULL DEFAULT 1,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,

			CHECK (monthly_price_cents >= 0),
			CHECK (yearly_price_cents >= 0)
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			name         TEXT NOT NULL,
			prefix       TEXT UNIQUE NOT NULL,
			hash         TEXT NOT NULL,
			scopes_json  TEXT NOT NULL DEFAULT '[]',
			created_at   TEXT NOT NULL,
			expires_at   TEXT,
			last_used_at TEXT,
			revoked_at   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);

		CREATE TABLE IF NOT EXISTS ai_instances (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			name          TEXT NOT NULL,
			slug          TEXT NOT NULL,
			model         TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'draft',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			UNIQUE (owner_id, slug),
			CHECK (status IN ('draft', 'deployed', 'paused'))
		);

		CREATE TABLE IF NOT EXISTS team_members (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			user_id    TEXT REFERENCES profiles(id) ON DELETE SET NULL,
			email      TEXT NOT NULL,
			role       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'pending',
			invite_id  TEXT,
			created_at TEXT NOT NULL,

			UNIQUE (owner_id, email),
			CHECK (role IN ('admin', 'editor', 'viewer')),
			CHECK (status IN ('pending', 'active'))
		);

		CREATE TABLE IF NOT EXISTS channels (
			id            TEXT PRIMARY KEY,
			instance_id   TEXT NOT NULL REFERENCES ai_instances(id) ON DELETE CASCADE,
			kind          TEXT NOT NULL,
			name          TEXT NOT NULL,
			enabled       INTEGER NOT NULL DEFAULT 1,
			settings_json TEXT NOT NULL DEFAULT '{}',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (kind IN ('web', 'whatsapp', 'shopify', 'wordpress', 'telegram'))
		);

		CREATE INDEX IF NOT EXISTS idx_channels_instance ON channels(instance_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			instance_id     TEXT NOT NULL REFERENCES ai_instances(id) ON DELETE CASCADE,
			channel_id      TEXT,
			channel_kind    TEXT NOT NULL,
			external_id     TEXT NOT NULL,
			started_at      TEXT NOT NULL,
			last_message_at TEXT NOT NULL,
			message_count   INTEGER NOT NULL DEFAULT 0,

			UNIQUE (instance_id, channel_kind, external_id)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_instance ON conversations(instance_id, started_at);

		CREATE TABLE IF NOT EXISTS usage_events (
			id            TEXT PRIMARY KEY,
			instance_id   TEXT NOT NULL REFERENCES ai_instances(id) ON DELETE CASCADE,
			channel_kind  TEXT NOT NULL,
			input_tokens  INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_instance ON usage_events(instance_id, created_at);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor_id    TEXT NOT NULL,
			action      TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_type, target_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "admin_grants",
			column: "break_glass",
			apply:  `ALTER TABLE admin_grants ADD COLUMN break_glass INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "invites",
			column: "team_id",
			apply:  `ALTER TABLE invites ADD COLUMN team_id TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	_, err := s.db.Exec(`
		INSERT INTO schema_info (id, version) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version
	`, currentSchemaVersion)
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion returns the recorded schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_info WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// countedTables lists the tables reported by TableCounts.
var countedTables = []string{
	"profiles",
	"sessions",
	"admin_grants",
	"invites",
	"plans",
	"api_keys",
	"ai_instances",
	"team_members",
	"channels",
	"conversations",
	"usage_events",
	"audit_log",
}

// TableCounts returns the row count of every application table.
func (s *SQLiteStore) TableCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(countedTables))
	for _, table := range countedTables {
		var n int
		// table names come from the fixed list above
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// isUniqueConstraintError checks if an error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	// SQLite returns "UNIQUE constraint failed" in the error message
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "unique constraint"))
}

// isForeignKeyError checks if an error is a foreign key violation.
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nowString() string {
	return formatTime(time.Now())
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullTime parses an optional timestamp column.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
