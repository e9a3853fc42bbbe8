// ABOUTME: Subscription plan administration
// ABOUTME: Anyone signed in can read active plans; only admins change them

package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/store"
)

// PlanInput is the editable part of a plan.
type PlanInput struct {
	Name              string   `json:"name" validate:"required,min=2,max=64"`
	Slug              string   `json:"slug" validate:"omitempty,max=64"`
	Description       string   `json:"description" validate:"max=2000"`
	MonthlyPriceCents int64    `json:"monthly_price_cents" validate:"gte=0"`
	YearlyPriceCents  int64    `json:"yearly_price_cents" validate:"gte=0"`
	Currency          string   `json:"currency" validate:"required,iso4217"`
	MaxInstances      int      `json:"max_instances" validate:"gte=0"`
	MaxMessages       int      `json:"max_messages" validate:"gte=0"`
	Features          []string `json:"features" validate:"max=50,dive,required,max=200"`
	Active            bool     `json:"active"`
}

func (in *PlanInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = strings.TrimSpace(in.Slug)
	in.Description = strings.TrimSpace(in.Description)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	for i, f := range in.Features {
		in.Features[i] = strings.TrimSpace(f)
	}
}

func planSlug(in PlanInput) (string, error) {
	src := in.Slug
	if src == "" {
		src = in.Name
	}
	sl := slug.Make(src)
	if sl == "" {
		return "", invalid("slug", "must contain letters or digits")
	}
	return sl, nil
}

// CreatePlan adds a plan. Admin only.
func (s *Service) CreatePlan(ctx context.Context, actor *auth.AuthContext, in PlanInput) (*store.Plan, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	in.normalize()
	if err := s.check(&in); err != nil {
		return nil, err
	}
	sl, err := planSlug(in)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &store.Plan{
		ID:                uuid.New().String(),
		Slug:              sl,
		Name:              in.Name,
		Description:       in.Description,
		MonthlyPriceCents: in.MonthlyPriceCents,
		YearlyPriceCents:  in.YearlyPriceCents,
		Currency:          in.Currency,
		MaxInstances:      in.MaxInstances,
		MaxMessages:       in.MaxMessages,
		Features:          in.Features,
		Active:            in.Active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreatePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("creating plan: %w", err)
	}

	s.audit(ctx, actor, store.AuditCreatePlan, "plan", p.ID, map[string]any{"slug": p.Slug, "name": p.Name})
	s.emit(events.ResourcePlans, events.ActionCreated, p.ID, "")
	return p, nil
}

// UpdatePlan replaces a plan's editable fields. The slug only changes when
// in.Slug is set. Admin only.
func (s *Service) UpdatePlan(ctx context.Context, actor *auth.AuthContext, id string, in PlanInput) (*store.Plan, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	in.normalize()
	if err := s.check(&in); err != nil {
		return nil, err
	}

	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Slug != "" {
		if p.Slug, err = planSlug(in); err != nil {
			return nil, err
		}
	}
	p.Name = in.Name
	p.Description = in.Description
	p.MonthlyPriceCents = in.MonthlyPriceCents
	p.YearlyPriceCents = in.YearlyPriceCents
	p.Currency = in.Currency
	p.MaxInstances = in.MaxInstances
	p.MaxMessages = in.MaxMessages
	p.Features = in.Features
	p.Active = in.Active
	p.UpdatedAt = s.now().UTC()

	if err := s.store.UpdatePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("updating plan: %w", err)
	}

	s.audit(ctx, actor, store.AuditUpdatePlan, "plan", p.ID, map[string]any{"slug": p.Slug})
	s.emit(events.ResourcePlans, events.ActionUpdated, p.ID, "")
	return p, nil
}

// GetPlan returns a plan. Inactive plans are visible to admins only.
func (s *Service) GetPlan(ctx context.Context, actor *auth.AuthContext, id string) (*store.Plan, error) {
	if err := requireScope(actor, auth.ScopeRead); err != nil {
		return nil, err
	}
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active && !actor.IsAdmin() {
		return nil, store.ErrPlanNotFound
	}
	return p, nil
}

// ListPlans lists plans. includeInactive is honoured for admins only.
func (s *Service) ListPlans(ctx context.Context, actor *auth.AuthContext, includeInactive bool) ([]*store.Plan, error) {
	if err := requireScope(actor, auth.ScopeRead); err != nil {
		return nil, err
	}
	return s.store.ListPlans(ctx, includeInactive && actor.IsAdmin())
}

// SetPlanActive shows or hides a plan. Admin only.
func (s *Service) SetPlanActive(ctx context.Context, actor *auth.AuthContext, id string, active bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.store.SetPlanActive(ctx, id, active); err != nil {
		return err
	}
	s.audit(ctx, actor, store.AuditUpdatePlan, "plan", id, map[string]any{"active": active})
	s.emit(events.ResourcePlans, events.ActionUpdated, id, "")
	return nil
}

// DeletePlan removes a plan. Admin only.
func (s *Service) DeletePlan(ctx context.Context, actor *auth.AuthContext, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.store.DeletePlan(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, actor, store.AuditDeletePlan, "plan", id, nil)
	s.emit(events.ResourcePlans, events.ActionDeleted, id, "")
	return nil
}
