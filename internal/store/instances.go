// ABOUTME: AI instance entity and store methods
// ABOUTME: An instance is one deployed agent configuration owned by a profile

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InstanceStatus is the deployment state of an AI instance.
type InstanceStatus string

const (
	InstanceDraft    InstanceStatus = "draft"
	InstanceDeployed InstanceStatus = "deployed"
	InstancePaused   InstanceStatus = "paused"
)

// Instance is a configured AI agent.
type Instance struct {
	ID           string
	OwnerID      string
	Name         string
	Slug         string
	Model        string
	SystemPrompt string
	Status       InstanceStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const instanceColumns = `id, owner_id, name, slug, model, system_prompt, status, created_at, updated_at`

// CreateInstance inserts an instance.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *Instance) error {
	if inst.Status == "" {
		inst.Status = InstanceDraft
	}

	query := `
		INSERT INTO ai_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		inst.ID,
		inst.OwnerID,
		inst.Name,
		inst.Slug,
		inst.Model,
		inst.SystemPrompt,
		inst.Status,
		formatTime(inst.CreatedAt),
		formatTime(inst.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSlugExists
		}
		if isForeignKeyError(err) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("inserting instance: %w", err)
	}

	s.logger.Info("created instance", "id", inst.ID, "owner_id", inst.OwnerID, "slug", inst.Slug)
	return nil
}

func scanInstance(row rowScanner) (*Instance, error) {
	var inst Instance
	var createdAt, updatedAt string

	if err := row.Scan(
		&inst.ID,
		&inst.OwnerID,
		&inst.Name,
		&inst.Slug,
		&inst.Model,
		&inst.SystemPrompt,
		&inst.Status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if inst.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if inst.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &inst, nil
}

// GetInstance retrieves an instance by ID.
func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	inst, err := scanInstance(s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM ai_instances WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance overwrites name, slug, model, prompt and status.
func (s *SQLiteStore) UpdateInstance(ctx context.Context, inst *Instance) error {
	inst.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE ai_instances
		SET name = ?, slug = ?, model = ?, system_prompt = ?, status = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		inst.Name,
		inst.Slug,
		inst.Model,
		inst.SystemPrompt,
		inst.Status,
		formatTime(inst.UpdatedAt),
		inst.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("updating instance: %w", err)
	}
	return requireRow(result, ErrInstanceNotFound)
}

// ListInstances lists instances for an owner; an empty ownerID lists all.
func (s *SQLiteStore) ListInstances(ctx context.Context, ownerID string) ([]*Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM ai_instances
		WHERE (? = '' OR owner_id = ?)
		ORDER BY created_at ASC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		out = append(out, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instances: %w", err)
	}
	return out, nil
}

// DeleteInstance removes an instance and its channels and analytics rows.
func (s *SQLiteStore) DeleteInstance(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM ai_instances WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting instance: %w", err)
	}
	if err := requireRow(result, ErrInstanceNotFound); err != nil {
		return err
	}
	s.logger.Info("deleted instance", "id", id)
	return nil
}
