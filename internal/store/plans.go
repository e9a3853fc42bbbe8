// ABOUTME: Subscription plan entity and store methods
// ABOUTME: Prices are integer cents; features are stored as a JSON array

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Plan is a subscription plan offered to customers.
type Plan struct {
	ID                string
	Slug              string
	Name              string
	Description       string
	MonthlyPriceCents int64
	YearlyPriceCents  int64
	Currency          string
	MaxInstances      int
	MaxMessages       int
	Features          []string
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const planColumns = `id, slug, name, description, monthly_price_cents, yearly_price_cents, currency, max_instances, max_messages, features_json, active, created_at, updated_at`

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreatePlan inserts a plan.
func (s *SQLiteStore) CreatePlan(ctx context.Context, p *Plan) error {
	features, err := encodeStrings(p.Features)
	if err != nil {
		return fmt.Errorf("marshaling plan features: %w", err)
	}

	query := `
		INSERT INTO plans (` + planColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		p.ID,
		p.Slug,
		p.Name,
		p.Description,
		p.MonthlyPriceCents,
		p.YearlyPriceCents,
		p.Currency,
		p.MaxInstances,
		p.MaxMessages,
		features,
		boolToInt(p.Active),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("inserting plan: %w", err)
	}

	s.logger.Info("created plan", "id", p.ID, "slug", p.Slug)
	return nil
}

func scanPlan(row rowScanner) (*Plan, error) {
	var p Plan
	var features, createdAt, updatedAt string
	var active int

	if err := row.Scan(
		&p.ID,
		&p.Slug,
		&p.Name,
		&p.Description,
		&p.MonthlyPriceCents,
		&p.YearlyPriceCents,
		&p.Currency,
		&p.MaxInstances,
		&p.MaxMessages,
		&features,
		&active,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	p.Active = active != 0
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return nil, fmt.Errorf("unmarshaling features: %w", err)
	}

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// GetPlan retrieves a plan by ID.
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying plan: %w", err)
	}
	return p, nil
}

// UpdatePlan overwrites every editable plan field.
func (s *SQLiteStore) UpdatePlan(ctx context.Context, p *Plan) error {
	features, err := encodeStrings(p.Features)
	if err != nil {
		return fmt.Errorf("marshaling plan features: %w", err)
	}
	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE plans
		SET slug = ?, name = ?, description = ?, monthly_price_cents = ?, yearly_price_cents = ?,
		    currency = ?, max_instances = ?, max_messages = ?, features_json = ?, active = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		p.Slug,
		p.Name,
		p.Description,
		p.MonthlyPriceCents,
		p.YearlyPriceCents,
		p.Currency,
		p.MaxInstances,
		p.MaxMessages,
		features,
		boolToInt(p.Active),
		formatTime(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("updating plan: %w", err)
	}

	return requireRow(result, ErrPlanNotFound)
}

// SetPlanActive toggles whether a plan is offered.
func (s *SQLiteStore) SetPlanActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE plans SET active = ?, updated_at = ? WHERE id = ?`, boolToInt(active), nowString(), id)
	if err != nil {
		return fmt.Errorf("updating plan active flag: %w", err)
	}
	return requireRow(result, ErrPlanNotFound)
}

// ListPlans lists plans ordered by monthly price.
func (s *SQLiteStore) ListPlans(ctx context.Context, includeInactive bool) ([]*Plan, error) {
	query := `
		SELECT ` + planColumns + `
		FROM plans
		WHERE (? = 1 OR active = 1)
		ORDER BY monthly_price_cents ASC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, boolToInt(includeInactive))
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		plans = append(plans, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plans: %w", err)
	}
	return plans, nil
}

// DeletePlan removes a plan.
func (s *SQLiteStore) DeletePlan(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting plan: %w", err)
	}
	if err := requireRow(result, ErrPlanNotFound); err != nil {
		return err
	}
	s.logger.Info("deleted plan", "id", id)
	return nil
}

// requireRow returns notFound when an UPDATE/DELETE touched no rows.
func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
