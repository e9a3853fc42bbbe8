// ABOUTME: API key entity and store methods
// ABOUTME: Only the SHA-256 hash of the secret is stored; the prefix is the lookup key

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// APIKey is a long-lived credential for programmatic access.
type APIKey struct {
	ID         string
	UserID     string
	Name       string
	Prefix     string // public part, shown in listings
	Hash       string // hex SHA-256 of the full secret
	Scopes     []string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// Usable reports whether the key can authenticate at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// HasScope reports whether the key carries scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

const apiKeyColumns = `id, user_id, name, prefix, hash, scopes_json, created_at, expires_at, last_used_at, revoked_at`

// CreateAPIKey stores a new key.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, k *APIKey) error {
	scopes, err := encodeStrings(k.Scopes)
	if err != nil {
		return fmt.Errorf("marshaling scopes: %w", err)
	}

	query := `
		INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
	`

	_, err = s.db.ExecContext(ctx, query,
		k.ID,
		k.UserID,
		k.Name,
		k.Prefix,
		k.Hash,
		scopes,
		formatTime(k.CreatedAt),
		nullTime(k.ExpiresAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("api key prefix collision: %w", ErrConflict)
		}
		if isForeignKeyError(err) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Info("created api key", "id", k.ID, "user_id", k.UserID, "prefix", k.Prefix)
	return nil
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var k APIKey
	var scopes, createdAt string
	var expiresAt, lastUsedAt, revokedAt sql.NullString

	if err := row.Scan(
		&k.ID,
		&k.UserID,
		&k.Name,
		&k.Prefix,
		&k.Hash,
		&scopes,
		&createdAt,
		&expiresAt,
		&lastUsedAt,
		&revokedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scopes), &k.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshaling scopes: %w", err)
	}

	var err error
	if k.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if k.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if k.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, fmt.Errorf("parsing last_used_at: %w", err)
	}
	if k.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, fmt.Errorf("parsing revoked_at: %w", err)
	}
	return &k, nil
}

// GetAPIKey retrieves a key by ID.
func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return k, nil
}

// GetAPIKeyByPrefix retrieves a key by its public prefix.
func (s *SQLiteStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE prefix = ?`, prefix))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key by prefix: %w", err)
	}
	return k, nil
}

// ListAPIKeys lists a user's keys, newest first, including revoked ones.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = ? ORDER BY created_at DESC, name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key revoked. Already revoked keys return ErrAPIKeyNotFound.
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if err := requireRow(result, ErrAPIKeyNotFound); err != nil {
		return err
	}
	s.logger.Info("revoked api key", "id", id)
	return nil
}

// TouchAPIKey records the last time a key authenticated.
func (s *SQLiteStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return requireRow(result, ErrAPIKeyNotFound)
}
