// ABOUTME: Analytics ingestion from API-key clients and owner-scoped summaries
// ABOUTME: Summaries default to the last 30 days

package console

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/store"
)

// DefaultSummaryWindow is the range used when a summary names no bounds.
const DefaultSummaryWindow = 30 * 24 * time.Hour

// ConversationInput reports messages exchanged in one conversation.
type ConversationInput struct {
	InstanceID  string     `json:"instance_id" validate:"required"`
	ChannelID   string     `json:"channel_id"`
	ChannelKind string     `json:"channel_kind" validate:"required,oneof=web whatsapp shopify wordpress telegram"`
	ExternalID  string     `json:"external_id" validate:"required,max=256"`
	Messages    int        `json:"messages" validate:"gte=1,lte=10000"`
	At          *time.Time `json:"at"`
}

// UsageInput reports tokens consumed by one model call.
type UsageInput struct {
	InstanceID   string     `json:"instance_id" validate:"required"`
	ChannelKind  string     `json:"channel_kind" validate:"required,oneof=web whatsapp shopify wordpress telegram"`
	InputTokens  int64      `json:"input_tokens" validate:"gte=0"`
	OutputTokens int64      `json:"output_tokens" validate:"gte=0"`
	At           *time.Time `json:"at"`
}

// SummaryRequest scopes a summary. AllOwners is honoured for admins only.
type SummaryRequest struct {
	InstanceID string
	Since      *time.Time
	Until      *time.Time
	AllOwners  bool
}

// RecordConversation ingests conversation activity for one of the actor's
// instances.
func (s *Service) RecordConversation(ctx context.Context, actor *auth.AuthContext, in ConversationInput) (*store.Conversation, error) {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return nil, err
	}
	if err := s.check(&in); err != nil {
		return nil, err
	}
	inst, err := s.ownedInstance(ctx, actor, in.InstanceID)
	if err != nil {
		return nil, err
	}

	at := s.at(in.At)
	c := &store.Conversation{
		ID:            uuid.New().String(),
		InstanceID:    inst.ID,
		ChannelID:     in.ChannelID,
		ChannelKind:   store.ChannelKind(in.ChannelKind),
		ExternalID:    in.ExternalID,
		StartedAt:     at,
		LastMessageAt: at,
		MessageCount:  in.Messages,
	}
	if err := s.store.RecordConversation(ctx, c); err != nil {
		return nil, fmt.Errorf("recording conversation: %w", err)
	}
	s.emit(events.ResourceAnalytics, events.ActionUpdated, inst.ID, inst.OwnerID)
	return c, nil
}

// RecordUsage ingests a token usage event for one of the actor's instances.
func (s *Service) RecordUsage(ctx context.Context, actor *auth.AuthContext, in UsageInput) (*store.UsageEvent, error) {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return nil, err
	}
	if err := s.check(&in); err != nil {
		return nil, err
	}
	inst, err := s.ownedInstance(ctx, actor, in.InstanceID)
	if err != nil {
		return nil, err
	}

	u := &store.UsageEvent{
		ID:           uuid.New().String(),
		InstanceID:   inst.ID,
		ChannelKind:  store.ChannelKind(in.ChannelKind),
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		CreatedAt:    s.at(in.At),
	}
	if err := s.store.RecordUsage(ctx, u); err != nil {
		return nil, fmt.Errorf("recording usage: %w", err)
	}
	s.emit(events.ResourceAnalytics, events.ActionUpdated, inst.ID, inst.OwnerID)
	return u, nil
}

// Summary aggregates the actor's analytics.
func (s *Service) Summary(ctx context.Context, actor *auth.AuthContext, req SummaryRequest) (*store.AnalyticsSummary, error) {
	if err := requireScope(actor, auth.ScopeRead); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if req.Until == nil {
		req.Until = &now
	}
	if req.Since == nil {
		since := req.Until.Add(-DefaultSummaryWindow)
		req.Since = &since
	}
	if !req.Since.Before(*req.Until) {
		return nil, invalid("since", "must be before until")
	}

	f := store.AnalyticsFilter{
		OwnerID: actor.UserID,
		Since:   req.Since,
		Until:   req.Until,
	}
	if req.AllOwners && actor.IsAdmin() {
		f.OwnerID = ""
	}
	if req.InstanceID != "" {
		if _, err := s.ownedInstance(ctx, actor, req.InstanceID); err != nil {
			return nil, err
		}
		f.InstanceID = &req.InstanceID
		f.OwnerID = ""
	}
	return s.store.AnalyticsSummary(ctx, f)
}

// at clamps reported timestamps to now; clients cannot record the future.
func (s *Service) at(t *time.Time) time.Time {
	now := s.now().UTC()
	if t == nil || t.After(now) {
		return now
	}
	return t.UTC()
}
