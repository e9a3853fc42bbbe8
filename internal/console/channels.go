// ABOUTME: Chat channel configuration per instance with per-kind settings validation
// ABOUTME: Secret settings are masked on read; web channels get an embed snippet and preview

package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/store"
)

// maskPrefix starts every masked secret. A submitted value starting with it
// means "keep the stored secret".
const maskPrefix = "****"

type webSettings struct {
	WelcomeMessage string `json:"welcome_message" validate:"max=2000"`
	PrimaryColor   string `json:"primary_color" validate:"omitempty,hexcolor"`
	Position       string `json:"position" validate:"omitempty,oneof=left right"`
}

type whatsappSettings struct {
	PhoneNumberID string `json:"phone_number_id" validate:"required,numeric,max=32"`
	AccessToken   string `json:"access_token" validate:"required,max=512"`
	VerifyToken   string `json:"verify_token" validate:"required,min=8,max=128"`
}

type shopifySettings struct {
	ShopDomain  string `json:"shop_domain" validate:"required,shopify_domain"`
	AccessToken string `json:"access_token" validate:"required,max=512"`
}

type wordpressSettings struct {
	SiteURL string `json:"site_url" validate:"required,http_url"`
	APIKey  string `json:"api_key" validate:"required,max=512"`
}

type telegramSettings struct {
	BotToken string `json:"bot_token" validate:"required,telegram_token"`
}

// secretSettings lists the settings of each kind that are never shown back.
var secretSettings = map[store.ChannelKind][]string{
	store.ChannelWhatsApp:  {"access_token", "verify_token"},
	store.ChannelShopify:   {"access_token"},
	store.ChannelWordPress: {"api_key"},
	store.ChannelTelegram:  {"bot_token"},
}

// ChannelInput is the editable part of a channel.
type ChannelInput struct {
	Kind     store.ChannelKind `json:"kind"`
	Name     string            `json:"name" validate:"required,min=2,max=64"`
	Enabled  bool              `json:"enabled"`
	Settings map[string]string `json:"settings"`
}

// ChannelView is a channel as shown to its owner: secrets masked, and for web
// channels the embed snippet and rendered welcome message.
type ChannelView struct {
	*store.Channel
	Embed   string `json:"embed,omitempty"`
	Preview string `json:"preview,omitempty"`
}

var embedTemplate = template.Must(template.New("embed").Parse(
	`<script src="{{.Base}}/widget.js" data-channel="{{.ID}}" data-color="{{.Color}}" data-position="{{.Position}}" async></script>`))

// CreateChannel attaches a channel to one of the actor's instances.
func (s *Service) CreateChannel(ctx context.Context, actor *auth.AuthContext, instanceID string, in ChannelInput) (*ChannelView, error) {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return nil, err
	}
	if _, err := s.ownedInstance(ctx, actor, instanceID); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if !slices.Contains(store.ValidChannelKinds, in.Kind) {
		return nil, invalid("kind", "must be one of: web, whatsapp, shopify, wordpress, telegram")
	}
	if err := s.check(&in); err != nil {
		return nil, err
	}
	settings, err := s.checkSettings(in.Kind, in.Settings)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ch := &store.Channel{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Kind:       in.Kind,
		Name:       in.Name,
		Enabled:    in.Enabled,
		Settings:   settings,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("creating channel: %w", err)
	}

	s.audit(ctx, actor, store.AuditCreateChannel, "channel", ch.ID, map[string]any{"kind": ch.Kind, "instance_id": instanceID})
	s.emit(events.ResourceChannels, events.ActionCreated, ch.ID, actor.UserID)
	return s.view(ch), nil
}

// UpdateChannel replaces a channel's name, enabled flag and settings. The
// kind cannot change. Masked secrets are kept as stored.
func (s *Service) UpdateChannel(ctx context.Context, actor *auth.AuthContext, id string, in ChannelInput) (*ChannelView, error) {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return nil, err
	}
	ch, inst, err := s.ownedChannel(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if in.Kind != "" && in.Kind != ch.Kind {
		return nil, invalid("kind", "cannot be changed")
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(&in); err != nil {
		return nil, err
	}

	merged := make(map[string]string, len(in.Settings))
	for k, v := range in.Settings {
		if strings.HasPrefix(v, maskPrefix) && slices.Contains(secretSettings[ch.Kind], k) {
			v = ch.Settings[k]
		}
		merged[k] = v
	}
	settings, err := s.checkSettings(ch.Kind, merged)
	if err != nil {
		return nil, err
	}

	ch.Name = in.Name
	ch.Enabled = in.Enabled
	ch.Settings = settings
	ch.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("updating channel: %w", err)
	}

	s.audit(ctx, actor, store.AuditUpdateChannel, "channel", ch.ID, map[string]any{"kind": ch.Kind})
	s.emit(events.ResourceChannels, events.ActionUpdated, ch.ID, inst.OwnerID)
	return s.view(ch), nil
}

// ToggleChannel enables or disables a channel.
func (s *Service) ToggleChannel(ctx context.Context, actor *auth.AuthContext, id string, enabled bool) (*ChannelView, error) {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return nil, err
	}
	ch, inst, err := s.ownedChannel(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	ch.Enabled = enabled
	ch.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("updating channel: %w", err)
	}

	s.audit(ctx, actor, store.AuditUpdateChannel, "channel", ch.ID, map[string]any{"enabled": enabled})
	s.emit(events.ResourceChannels, events.ActionUpdated, ch.ID, inst.OwnerID)
	return s.view(ch), nil
}

// GetChannel returns a channel with secrets masked.
func (s *Service) GetChannel(ctx context.Context, actor *auth.AuthContext, id string) (*ChannelView, error) {
	if err := requireScope(actor, auth.ScopeRead); err != nil {
		return nil, err
	}
	ch, _, err := s.ownedChannel(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.view(ch), nil
}

// ListChannels returns an instance's channels with secrets masked.
func (s *Service) ListChannels(ctx context.Context, actor *auth.AuthContext, instanceID string) ([]*ChannelView, error) {
	if err := requireScope(actor, auth.ScopeRead); err != nil {
		return nil, err
	}
	if _, err := s.ownedInstance(ctx, actor, instanceID); err != nil {
		return nil, err
	}
	chs, err := s.store.ListChannels(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	views := make([]*ChannelView, 0, len(chs))
	for _, ch := range chs {
		views = append(views, s.view(ch))
	}
	return views, nil
}

// DeleteChannel removes a channel.
func (s *Service) DeleteChannel(ctx context.Context, actor *auth.AuthContext, id string) error {
	if err := requireScope(actor, auth.ScopeWrite); err != nil {
		return err
	}
	ch, inst, err := s.ownedChannel(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteChannel(ctx, id); err != nil {
		return err
	}

	s.audit(ctx, actor, store.AuditDeleteChannel, "channel", id, map[string]any{"kind": ch.Kind})
	s.emit(events.ResourceChannels, events.ActionDeleted, id, inst.OwnerID)
	return nil
}

// PreviewWelcome renders welcome-message markdown as it will appear in the
// widget. Raw HTML in the source is dropped.
func PreviewWelcome(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering welcome message: %w", err)
	}
	return buf.String(), nil
}

func (s *Service) ownedChannel(ctx context.Context, actor *auth.AuthContext, id string) (*store.Channel, *store.Instance, error) {
	ch, err := s.store.GetChannel(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	inst, err := s.ownedInstance(ctx, actor, ch.InstanceID)
	if err != nil {
		return nil, nil, store.ErrChannelNotFound
	}
	return ch, inst, nil
}

// checkSettings validates raw settings against the kind's schema and
// returns them normalized. Unknown keys are rejected.
func (s *Service) checkSettings(kind store.ChannelKind, raw map[string]string) (map[string]string, error) {
	var target any
	switch kind {
	case store.ChannelWeb:
		target = &webSettings{}
	case store.ChannelWhatsApp:
		target = &whatsappSettings{}
	case store.ChannelShopify:
		target = &shopifySettings{}
	case store.ChannelWordPress:
		target = &wordpressSettings{}
	case store.ChannelTelegram:
		target = &telegramSettings{}
	default:
		return nil, invalid("kind", "is not supported")
	}

	trimmed := make(map[string]string, len(raw))
	for k, v := range raw {
		trimmed[k] = strings.TrimSpace(v)
	}
	data, err := json.Marshal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, invalid("settings", "contains unsupported keys for "+string(kind))
	}
	if err := s.check(target); err != nil {
		return nil, err
	}

	if sh, ok := target.(*shopifySettings); ok {
		sh.ShopDomain = strings.ToLower(sh.ShopDomain)
	}
	data, err = json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out, nil
}

// view masks secrets and adds the web extras.
func (s *Service) view(ch *store.Channel) *ChannelView {
	masked := *ch
	masked.Settings = make(map[string]string, len(ch.Settings))
	for k, v := range ch.Settings {
		if slices.Contains(secretSettings[ch.Kind], k) {
			v = mask(v)
		}
		masked.Settings[k] = v
	}

	v := &ChannelView{Channel: &masked}
	if ch.Kind != store.ChannelWeb {
		return v
	}

	var buf bytes.Buffer
	err := embedTemplate.Execute(&buf, map[string]string{
		"Base":     strings.TrimSuffix(s.baseURL, "/"),
		"ID":       ch.ID,
		"Color":    ch.Settings["primary_color"],
		"Position": ch.Settings["position"],
	})
	if err != nil {
		s.logger.Error("failed to render embed snippet", "channel_id", ch.ID, "error", err)
	}
	v.Embed = buf.String()

	if msg := ch.Settings["welcome_message"]; msg != "" {
		if v.Preview, err = PreviewWelcome(msg); err != nil {
			s.logger.Error("failed to render welcome preview", "channel_id", ch.ID, "error", err)
		}
	}
	return v
}

// mask keeps the last four characters of long secrets.
func mask(secret string) string {
	if len(secret) <= 8 {
		return maskPrefix
	}
	return maskPrefix + secret[len(secret)-4:]
}
