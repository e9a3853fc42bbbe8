// ABOUTME: Conversation and token-usage ingestion plus aggregated analytics queries
// ABOUTME: Feeds the dashboard summary with totals, per-channel breakdown and daily series

package store

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Conversation is one end-user conversation on a channel.
type Conversation struct {
	ID            string
	InstanceID    string
	ChannelID     string
	ChannelKind   ChannelKind
	ExternalID    string // conversation id on the channel side
	StartedAt     time.Time
	LastMessageAt time.Time
	MessageCount  int // on record: number of new messages to add
}

// UsageEvent records tokens consumed by one model call.
type UsageEvent struct {
	ID           string
	InstanceID   string
	ChannelKind  ChannelKind
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time
}

// AnalyticsFilter scopes an analytics summary.
type AnalyticsFilter struct {
	OwnerID    string // empty for all owners
	InstanceID *string
	Since      *time.Time
	Until      *time.Time
}

// ChannelStat is the per-channel-kind breakdown of a summary.
type ChannelStat struct {
	Kind          ChannelKind `json:"kind"`
	Conversations int         `json:"conversations"`
	Messages      int         `json:"messages"`
	Tokens        int64       `json:"tokens"`
}

// DailyStat is one day in the summary series (UTC days).
type DailyStat struct {
	Day           string `json:"day"` // YYYY-MM-DD
	Conversations int    `json:"conversations"`
	Messages      int    `json:"messages"`
	Tokens        int64  `json:"tokens"`
}

// AnalyticsSummary aggregates conversations and usage for a filter.
type AnalyticsSummary struct {
	Conversations int           `json:"conversations"`
	Messages      int           `json:"messages"`
	InputTokens   int64         `json:"input_tokens"`
	OutputTokens  int64         `json:"output_tokens"`
	TotalTokens   int64         `json:"total_tokens"`
	ByChannel     []ChannelStat `json:"by_channel"`
	Daily         []DailyStat   `json:"daily"`
}

// RecordConversation inserts a conversation or, when the instance already
// knows (kind, external id), adds MessageCount to it and advances
// last_message_at. c is updated with the stored ID, start and count.
func (s *SQLiteStore) RecordConversation(ctx context.Context, c *Conversation) error {
	query := `
		INSERT INTO conversations (id, instance_id, channel_id, channel_kind, external_id, started_at, last_message_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, channel_kind, external_id) DO UPDATE SET
			message_count = message_count + excluded.message_count,
			last_message_at = max(last_message_at, excluded.last_message_at)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.InstanceID,
		nullString(c.ChannelID),
		c.ChannelKind,
		c.ExternalID,
		formatTime(c.StartedAt),
		formatTime(c.LastMessageAt),
		c.MessageCount,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrInstanceNotFound
		}
		return fmt.Errorf("recording conversation: %w", err)
	}

	var startedAt string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, started_at, message_count FROM conversations
		WHERE instance_id = ? AND channel_kind = ? AND external_id = ?
	`, c.InstanceID, c.ChannelKind, c.ExternalID).Scan(&c.ID, &startedAt, &c.MessageCount)
	if err != nil {
		return fmt.Errorf("reading recorded conversation: %w", err)
	}
	if c.StartedAt, err = parseTime(startedAt); err != nil {
		return fmt.Errorf("parsing started_at: %w", err)
	}
	return nil
}

// RecordUsage stores a token usage event.
func (s *SQLiteStore) RecordUsage(ctx context.Context, u *UsageEvent) error {
	query := `
		INSERT INTO usage_events (id, instance_id, channel_kind, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		u.ID,
		u.InstanceID,
		u.ChannelKind,
		u.InputTokens,
		u.OutputTokens,
		formatTime(u.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrInstanceNotFound
		}
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("recorded usage",
		"instance_id", u.InstanceID,
		"input_tokens", u.InputTokens,
		"output_tokens", u.OutputTokens,
	)
	return nil
}

// analyticsWhere builds the shared filter clause for a table aliased t whose
// time column is tsCol, joined to ai_instances as i.
func analyticsWhere(f AnalyticsFilter, tsCol string) (string, []any) {
	clause := " WHERE 1=1"
	args := []any{}

	if f.OwnerID != "" {
		clause += " AND i.owner_id = ?"
		args = append(args, f.OwnerID)
	}
	if f.InstanceID != nil {
		clause += " AND t.instance_id = ?"
		args = append(args, *f.InstanceID)
	}
	if f.Since != nil {
		clause += " AND t." + tsCol + " >= ?"
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		clause += " AND t." + tsCol + " <= ?"
		args = append(args, formatTime(*f.Until))
	}
	return clause, args
}

// AnalyticsSummary returns totals, a per-channel breakdown and a daily series.
func (s *SQLiteStore) AnalyticsSummary(ctx context.Context, f AnalyticsFilter) (*AnalyticsSummary, error) {
	sum := &AnalyticsSummary{
		ByChannel: []ChannelStat{},
		Daily:     []DailyStat{},
	}
	byKind := map[ChannelKind]*ChannelStat{}
	byDay := map[string]*DailyStat{}

	kindStat := func(k ChannelKind) *ChannelStat {
		if st, ok := byKind[k]; ok {
			return st
		}
		st := &ChannelStat{Kind: k}
		byKind[k] = st
		return st
	}
	dayStat := func(d string) *DailyStat {
		if st, ok := byDay[d]; ok {
			return st
		}
		st := &DailyStat{Day: d}
		byDay[d] = st
		return st
	}

	convWhere, convArgs := analyticsWhere(f, "started_at")
	convQuery := `
		SELECT t.channel_kind, substr(t.started_at, 1, 10) AS day,
		       COUNT(*), COALESCE(SUM(t.message_count), 0)
		FROM conversations t
		JOIN ai_instances i ON i.id = t.instance_id` + convWhere + `
		GROUP BY t.channel_kind, day
	`

	rows, err := s.db.QueryContext(ctx, convQuery, convArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying conversation analytics: %w", err)
	}
	for rows.Next() {
		var kind ChannelKind
		var day string
		var convs, msgs int
		if err := rows.Scan(&kind, &day, &convs, &msgs); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning conversation analytics: %w", err)
		}
		sum.Conversations += convs
		sum.Messages += msgs
		ks := kindStat(kind)
		ks.Conversations += convs
		ks.Messages += msgs
		ds := dayStat(day)
		ds.Conversations += convs
		ds.Messages += msgs
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterating conversation analytics: %w", err)
	}
	_ = rows.Close()

	usageWhere, usageArgs := analyticsWhere(f, "created_at")
	usageQuery := `
		SELECT t.channel_kind, substr(t.created_at, 1, 10) AS day,
		       COALESCE(SUM(t.input_tokens), 0), COALESCE(SUM(t.output_tokens), 0)
		FROM usage_events t
		JOIN ai_instances i ON i.id = t.instance_id` + usageWhere + `
		GROUP BY t.channel_kind, day
	`

	rows, err = s.db.QueryContext(ctx, usageQuery, usageArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying usage analytics: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var kind ChannelKind
		var day string
		var in, out int64
		if err := rows.Scan(&kind, &day, &in, &out); err != nil {
			return nil, fmt.Errorf("scanning usage analytics: %w", err)
		}
		sum.InputTokens += in
		sum.OutputTokens += out
		kindStat(kind).Tokens += in + out
		dayStat(day).Tokens += in + out
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage analytics: %w", err)
	}

	sum.TotalTokens = sum.InputTokens + sum.OutputTokens

	for _, st := range byKind {
		sum.ByChannel = append(sum.ByChannel, *st)
	}
	sort.Slice(sum.ByChannel, func(i, j int) bool { return sum.ByChannel[i].Kind < sum.ByChannel[j].Kind })

	for _, st := range byDay {
		sum.Daily = append(sum.Daily, *st)
	}
	sort.Slice(sum.Daily, func(i, j int) bool { return sum.Daily[i].Day < sum.Daily[j].Day })

	return sum, nil
}
