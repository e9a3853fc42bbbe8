// Package store provides persistent storage for agentdash using SQLite.
//
// # Architecture
//
// SQLiteStore implements the Store interface in a single struct. Packages
// that consume it (session, grants, console, webadmin) declare the narrow
// interface they need, so tests can substitute small fakes.
//
// # Data Models
//
// Identity:
//
//   - Profile: the application-level user record (role, status, names)
//   - Session: browser sessions keyed by an opaque cookie value
//   - AdminGrant: server-issued, time-boxed admin elevation
//   - Invite: single-use team invitation tokens
//   - WebAuthnCredential / OAuthIdentity: passkeys and linked OAuth logins
//
// Console:
//
//   - Plan, APIKey, Instance, TeamMember, Channel
//   - Conversation / UsageEvent: analytics sources
//
// Audit:
//
//   - AuditEntry: append-only record of who did what to which resource
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 UTC text so lexical comparison in SQL
// matches chronological order.
//
// # Error Handling
//
// Lookups return an entity-specific error (ErrProfileNotFound, ...) that
// wraps ErrNotFound. Unique-constraint violations surface as ErrConflict
// wrappers. Match with errors.Is.
//
// # Testing
//
// Use NewSQLiteStore with a path under t.TempDir() for integration tests.
package store
