// ABOUTME: AI instance management: create, edit and move instances through their lifecycle
// ABOUTME: Instances belong to their owner; admins may act on any instance

package console

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/store"
)

// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists the statuses reachable from each status.
var transitions = map[store.InstanceStatus][]store.InstanceStatus{
	store.InstanceDraft:    {store.InstanceDeployed},
	store.InstanceDeployed: {store.InstancePaused},
	store.InstancePaused:   {store.InstanceDeployed},
}

// InstanceInput is the editable part of an instance.
type InstanceInput struct {
	Name         string `json:"name" validate:"required,min=2,max=64"`
	Model        string `json:"model" validate:"required,max=128"`
	SystemPrompt string `json:"system_prompt" validate:"max=20000"`
}

func (in *InstanceInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Model = strings.TrimSpace(in.Model)
}

// CreateInstance adds a draft instance owned by the actor.
func (s *Service) CreateInstance(ctx context.Context, actor *auth.AuthContext, in InstanceInput) (*store.Instance, error) {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return nil, err
	}
	in.normalize()
	if err := s.check(&in); err != nil {
		return nil, err
	}
	sl := slug.Make(in.Name)
	if sl == "" {
		return nil, invalid("name", "must contain letters or digits")
	}

	now := s.now().UTC()
	inst := &store.Instance{
		ID:           uuid.New().String(),
		OwnerID:      actor.UserID,
		Name:         in.Name,
		Slug:         sl,
		Model:        in.Model,
		SystemPrompt: in.SystemPrompt,
		Status:       store.InstanceDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("creating instance: %w", err)
	}

	s.audit(ctx, actor, store.AuditCreateInstance, "instance", inst.ID, map[string]any{"name": inst.Name, "model": inst.Model})
	s.emit(events.ResourceInstances, events.ActionCreated, inst.ID, inst.OwnerID)
	return inst, nil
}

// UpdateInstance edits name, model and prompt. The slug is kept so embed
// snippets already published keep working.
func (s *Service) UpdateInstance(ctx context.Context, actor *auth.AuthContext, id string, in InstanceInput) (*store.Instance, error) {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return nil, err
	}
	in.normalize()
	if err := s.check(&in); err != nil {
		return nil, err
	}
	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	inst.Name = in.Name
	inst.Model = in.Model
	inst.SystemPrompt = in.SystemPrompt
	inst.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("updating instance: %w", err)
	}

	s.audit(ctx, actor, store.AuditUpdateInstance, "instance", inst.ID, map[string]any{"name": inst.Name, "model": inst.Model})
	s.emit(events.ResourceInstances, events.ActionUpdated, inst.ID, inst.OwnerID)
	return inst, nil
}

// SetInstanceStatus moves an instance along draft → deployed ⇄ paused.
func (s *Service) SetInstanceStatus(ctx context.Context, actor *auth.AuthContext, id string, status store.InstanceStatus) (*store.Instance, error) {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return nil, err
	}
	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(transitions[inst.Status], status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, inst.Status, status)
	}

	from := inst.Status
	inst.Status = status
	inst.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("updating instance status: %w", err)
	}

	s.audit(ctx, actor, store.AuditUpdateInstance, "instance", inst.ID, map[string]any{"from": from, "to": status})
	s.emit(events.ResourceInstances, events.ActionUpdated, inst.ID, inst.OwnerID)
	s.logger.Info("instance status changed", "instance_id", inst.ID, "from", from, "to", status)
	return inst, nil
}

// GetInstance returns one of the actor's instances.
func (s *Service) GetInstance(ctx context.Context, actor *auth.AuthContext, id string) (*store.Instance, error) {
	if err := requireScope(actor, auth.ScopeRead); err != nil {
		return nil, err
	}
	return s.ownedInstance(ctx, actor, id)
}

// ListInstances returns the actor's instances.
func (s *Service) ListInstances(ctx context.Context, actor *auth.AuthContext) ([]*store.Instance, error) {
	if err := requireScope(actor, auth.ScopeRead); err != nil {
		return nil, err
	}
	return s.store.ListInstances(ctx, actor.UserID)
}

// DeleteInstance removes an instance and, by cascade, its channels and analytics.
func (s *Service) DeleteInstance(ctx context.Context, actor *auth.AuthContext, id string) error {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return err
	}
	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteInstance(ctx, id); err != nil {
		return err
	}

	s.audit(ctx, actor, store.AuditDeleteInstance, "instance", id, map[string]any{"name": inst.Name})
	s.emit(events.ResourceInstances, events.ActionDeleted, id, inst.OwnerID)
	return nil
}

// ownedInstance loads an instance the actor may act on. Instances owned by
// someone else are reported as not found unless the actor is an admin.
func (s *Service) ownedInstance(ctx context.Context, actor *auth.AuthContext, id string) (*store.Instance, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.OwnerID != actor.UserID && !actor.IsAdmin() {
		return nil, store.ErrInstanceNotFound
	}
	return inst, nil
}
