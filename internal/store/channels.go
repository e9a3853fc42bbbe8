// ABOUTME: Channel entity and store methods for per-instance chat widgets
// ABOUTME: Kind-specific settings are persisted as a JSON object of strings

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ChannelKind identifies where a widget is deployed.
type ChannelKind string

const (
	ChannelWeb       ChannelKind = "web"
	ChannelWhatsApp  ChannelKind = "whatsapp"
	ChannelShopify   ChannelKind = "shopify"
	ChannelWordPress ChannelKind = "wordpress"
	ChannelTelegram  ChannelKind = "telegram"
)

// ValidChannelKinds lists every supported channel kind.
var ValidChannelKinds = []ChannelKind{
	ChannelWeb,
	ChannelWhatsApp,
	ChannelShopify,
	ChannelWordPress,
	ChannelTelegram,
}

// Channel is a chat widget configuration attached to an instance.
type Channel struct {
	ID         string
	InstanceID string
	Kind       ChannelKind
	Name       string
	Enabled    bool
	Settings   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const channelColumns = `id, instance_id, kind, name, enabled, settings_json, created_at, updated_at`

func encodeSettings(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreateChannel inserts a channel.
func (s *SQLiteStore) CreateChannel(ctx context.Context, ch *Channel) error {
	settings, err := encodeSettings(ch.Settings)
	if err != nil {
		return fmt.Errorf("marshaling channel settings: %w", err)
	}

	query := `
		INSERT INTO channels (` + channelColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		ch.ID,
		ch.InstanceID,
		ch.Kind,
		ch.Name,
		boolToInt(ch.Enabled),
		settings,
		formatTime(ch.CreatedAt),
		formatTime(ch.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrInstanceNotFound
		}
		return fmt.Errorf("inserting channel: %w", err)
	}

	s.logger.Info("created channel", "id", ch.ID, "instance_id", ch.InstanceID, "kind", ch.Kind)
	return nil
}

func scanChannel(row rowScanner) (*Channel, error) {
	var ch Channel
	var enabled int
	var settings, createdAt, updatedAt string

	if err := row.Scan(
		&ch.ID,
		&ch.InstanceID,
		&ch.Kind,
		&ch.Name,
		&enabled,
		&settings,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	ch.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(settings), &ch.Settings); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}

	var err error
	if ch.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if ch.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &ch, nil
}

// GetChannel retrieves a channel by ID.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	ch, err := scanChannel(s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel: %w", err)
	}
	return ch, nil
}

// UpdateChannel overwrites name, enabled flag and settings.
func (s *SQLiteStore) UpdateChannel(ctx context.Context, ch *Channel) error {
	settings, err := encodeSettings(ch.Settings)
	if err != nil {
		return fmt.Errorf("marshaling channel settings: %w", err)
	}
	ch.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE channels SET name = ?, enabled = ?, settings_json = ?, updated_at = ? WHERE id = ?`,
		ch.Name, boolToInt(ch.Enabled), settings, formatTime(ch.UpdatedAt), ch.ID)
	if err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return requireRow(result, ErrChannelNotFound)
}

// ListChannels lists an instance's channels.
func (s *SQLiteStore) ListChannels(ctx context.Context, instanceID string) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE instance_id = ? ORDER BY created_at ASC, name ASC`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channels = append(channels, ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channels: %w", err)
	}
	return channels, nil
}

// DeleteChannel removes a channel.
func (s *SQLiteStore) DeleteChannel(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return requireRow(result, ErrChannelNotFound)
}
