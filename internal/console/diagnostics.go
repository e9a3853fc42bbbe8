// ABOUTME: Admin diagnostics: store health, table counts, cache stats, audit log and sweeps
// ABOUTME: Read-mostly helpers for operators

package console

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/dedupe"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
)

// Diagnostics is a point-in-time health report.
type Diagnostics struct {
	Healthy       bool               `json:"healthy"`
	Error         string             `json:"error,omitempty"`
	SchemaVersion int                `json:"schema_version"`
	Tables        map[string]int     `json:"tables"`
	Sessions      session.CacheStats `json:"session_cache"`
	Idempotency   *dedupe.Stats      `json:"idempotency_cache,omitempty"`
	CheckedAt     time.Time          `json:"checked_at"`
}

// SweepResult reports what a sweep removed.
type SweepResult struct {
	Sessions int64 `json:"sessions"`
	Invites  int64 `json:"invites"`
}

// Diagnostics reports store health and cache occupancy. Admin only.
func (s *Service) Diagnostics(ctx context.Context, actor *auth.AuthContext) (*Diagnostics, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	d := &Diagnostics{Healthy: true, CheckedAt: s.now().UTC()}
	if err := s.store.Ping(ctx); err != nil {
		d.Healthy = false
		d.Error = err.Error()
		s.logger.Warn("store ping failed", "error", err)
	}
	if d.Healthy {
		var err error
		if d.SchemaVersion, err = s.store.SchemaVersion(ctx); err != nil {
			return nil, fmt.Errorf("reading schema version: %w", err)
		}
		if d.Tables, err = s.store.TableCounts(ctx); err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}
	if s.sessions != nil {
		d.Sessions = s.sessions.CacheStats()
	}
	if s.dedupe != nil {
		st := s.dedupe.Stats()
		d.Idempotency = &st
	}
	return d, nil
}

// Sweep deletes expired sessions and invites. actor nil means the
// housekeeper; otherwise the actor must be an admin.
func (s *Service) Sweep(ctx context.Context, actor *auth.AuthContext) (*SweepResult, error) {
	if actor != nil {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}

	res := &SweepResult{}
	if s.sessions != nil {
		n, err := s.sessions.SweepExpired(ctx)
		if err != nil {
			return nil, err
		}
		res.Sessions = n
	}
	n, err := s.store.DeleteExpiredInvites(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweeping invites: %w", err)
	}
	res.Invites = n

	if res.Sessions > 0 || res.Invites > 0 || actor != nil {
		s.audit(ctx, actor, store.AuditSweepSessions, "system", "sweep", map[string]any{
			"sessions": res.Sessions,
			"invites":  res.Invites,
		})
	}
	return res, nil
}

// AuditLog lists audit entries. Admin only.
func (s *Service) AuditLog(ctx context.Context, actor *auth.AuthContext, filter store.AuditFilter) ([]store.AuditEntry, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListAuditLog(ctx, filter)
}
