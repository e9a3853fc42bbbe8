// ABOUTME: API key issuance and verification for programmatic clients
// ABOUTME: Secrets are shown once; only their SHA-256 hash is stored

package console

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/store"
)

const (
	keyAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	keyPrefixLen = 8
	keySecretLen = 32

	// touchInterval limits last_used_at writes for busy keys.
	touchInterval = time.Minute
)

// APIKeyInput describes a key to create.
type APIKeyInput struct {
	Name      string     `json:"name" validate:"required,min=1,max=64"`
	Scopes    []string   `json:"scopes" validate:"required,min=1,unique,dive,oneof=read write admin"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// NewAPIKey is a freshly created key. Secret is never retrievable again.
type NewAPIKey struct {
	Key    *store.APIKey
	Secret string
}

// CreateAPIKey issues a key for the actor. A key may carry the admin scope
// only when its creator currently holds admin rights, and keys cannot be used
// to mint further keys.
func (s *Service) CreateAPIKey(ctx context.Context, actor *auth.AuthContext, in APIKeyInput) (*NewAPIKey, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Method == auth.MethodAPIKey {
		return nil, ErrForbidden
	}

	in.Name = strings.TrimSpace(in.Name)
	if in.Scopes == nil {
		in.Scopes = []string{auth.ScopeRead}
	}
	if err := s.check(&in); err != nil {
		return nil, err
	}
	if slices.Contains(in.Scopes, auth.ScopeAdmin) && !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	now := s.now().UTC()
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(now) {
			return nil, invalid("expires_at", "must be in the future")
		}
		exp := in.ExpiresAt.UTC()
		in.ExpiresAt = &exp
	}

	var (
		k      *store.APIKey
		secret string
	)
	// Prefixes are random; retry the rare collision.
	for attempt := 0; ; attempt++ {
		prefix, sec, err := generateKey()
		if err != nil {
			return nil, fmt.Errorf("generating api key: %w", err)
		}
		k = &store.APIKey{
			ID:        uuid.New().String(),
			UserID:    actor.UserID,
			Name:      in.Name,
			Prefix:    prefix,
			Hash:      hashKey(sec),
			Scopes:    in.Scopes,
			CreatedAt: now,
			ExpiresAt: in.ExpiresAt,
		}
		err = s.store.CreateAPIKey(ctx, k)
		if err == nil {
			secret = sec
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt == 2 {
			return nil, fmt.Errorf("creating api key: %w", err)
		}
	}

	s.audit(ctx, actor, store.AuditCreateAPIKey, "api_key", k.ID, map[string]any{
		"name":   k.Name,
		"prefix": k.Prefix,
		"scopes": k.Scopes,
	})
	s.emit(events.ResourceAPIKeys, events.ActionCreated, k.ID, k.UserID)
	return &NewAPIKey{Key: k, Secret: secret}, nil
}

// ListAPIKeys returns the actor's own keys.
func (s *Service) ListAPIKeys(ctx context.Context, actor *auth.AuthContext) ([]*store.APIKey, error) {
	if err := requireScope(actor, auth.ScopeRead); err != nil {
		return nil, err
	}
	return s.store.ListAPIKeys(ctx, actor.UserID)
}

// RevokeAPIKey revokes one of the actor's keys. Admins may revoke any key.
// Other users' keys are reported as not found.
func (s *Service) RevokeAPIKey(ctx context.Context, actor *auth.AuthContext, id string) error {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return err
	}
	k, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return err
	}
	if k.UserID != actor.UserID && !actor.IsAdmin() {
		return store.ErrAPIKeyNotFound
	}
	if err := s.store.RevokeAPIKey(ctx, id, s.now().UTC()); err != nil {
		return err
	}

	s.audit(ctx, actor, store.AuditRevokeAPIKey, "api_key", id, map[string]any{"prefix": k.Prefix, "owner_id": k.UserID})
	s.emit(events.ResourceAPIKeys, events.ActionUpdated, id, k.UserID)
	return nil
}

// AuthenticateKey resolves a presented secret to its key. Unknown, revoked
// and expired keys all return store.ErrAPIKeyNotFound.
func (s *Service) AuthenticateKey(ctx context.Context, secret string) (*store.APIKey, error) {
	prefix, ok := parseKey(secret)
	if !ok {
		return nil, store.ErrAPIKeyNotFound
	}
	k, err := s.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(k.Hash), []byte(hashKey(secret))) != 1 {
		return nil, store.ErrAPIKeyNotFound
	}

	now := s.now().UTC()
	if !k.Usable(now) {
		return nil, store.ErrAPIKeyNotFound
	}

	if k.LastUsedAt == nil || now.Sub(*k.LastUsedAt) >= touchInterval {
		if err := s.store.TouchAPIKey(ctx, k.ID, now); err != nil {
			s.logger.Warn("failed to record api key use", "key_id", k.ID, "error", err)
		} else {
			k.LastUsedAt = &now
		}
	}
	return k, nil
}

// generateKey returns the public prefix and the full secret
// ad_<prefix>_<random>.
func generateKey() (string, string, error) {
	prefix, err := gonanoid.Generate(keyAlphabet, keyPrefixLen)
	if err != nil {
		return "", "", err
	}
	body, err := gonanoid.Generate(keyAlphabet, keySecretLen)
	if err != nil {
		return "", "", err
	}
	return prefix, auth.APIKeyPrefix + prefix + "_" + body, nil
}

func parseKey(secret string) (string, bool) {
	rest, ok := strings.CutPrefix(secret, auth.APIKeyPrefix)
	if !ok || len(rest) != keyPrefixLen+1+keySecretLen || rest[keyPrefixLen] != '_' {
		return "", false
	}
	return rest[:keyPrefixLen], true
}

func hashKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
