package console

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentdash/internal/store"
)

var validTelegramToken = "123456789:" + strings.Repeat("A", 35)

func TestCreateChannel_Web(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := createInstance(t, f, "alice", "Support Bot")

	v, err := f.svc.CreateChannel(ctx, member("alice"), inst.ID, ChannelInput{
		Kind:    store.ChannelWeb,
		Name:    "Website",
		Enabled: true,
		Settings: map[string]string{
			"welcome_message": "**Hi!** <script>alert(1)</script>",
			"primary_color":   "#1a2b3c",
			"position":        "right",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "#1a2b3c", v.Settings["primary_color"])
	assert.Contains(t, v.Preview, "<strong>Hi!</strong>")
	assert.NotContains(t, v.Preview, "<script>")
	assert.Contains(t, v.Embed, `src="https://dash.example.com/widget.js"`)
	assert.Contains(t, v.Embed, `data-channel="`+v.ID+`"`)
	assert.Contains(t, v.Embed, `data-position="right"`)

	assert.Equal(t, []store.AuditAction{store.AuditCreateChannel}, auditActions(t, f.store, v.ID))
}

func TestCreateChannel_SettingsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := createInstance(t, f, "alice", "Support Bot")

	tests := []struct {
		name     string
		kind     store.ChannelKind
		settings map[string]string
		fields   []string
	}{
		{"web bad colour", store.ChannelWeb, map[string]string{"primary_color": "blue"}, []string{"primary_color"}},
		{"web bad position", store.ChannelWeb, map[string]string{"position": "top"}, []string{"position"}},
		{"web welcome too long", store.ChannelWeb, map[string]string{"welcome_message": strings.Repeat("x", 2001)}, []string{"welcome_message"}},
		{"whatsapp missing", store.ChannelWhatsApp, map[string]string{"phone_number_id": "12ab"}, []string{"phone_number_id", "access_token", "verify_token"}},
		{"shopify domain", store.ChannelShopify, map[string]string{"shop_domain": "shop.example.com", "access_token": "shpat_x"}, []string{"shop_domain"}},
		{"wordpress url", store.ChannelWordPress, map[string]string{"site_url": "ftp://blog", "api_key": "k"}, []string{"site_url"}},
		{"telegram token", store.ChannelTelegram, map[string]string{"bot_token": "12345:short"}, []string{"bot_token"}},
		{"unknown key", store.ChannelTelegram, map[string]string{"bot_token": validTelegramToken, "webhook": "x"}, []string{"settings"}},
		{"unknown kind", store.ChannelKind("fax"), nil, []string{"kind"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateChannel(ctx, member("alice"), inst.ID, ChannelInput{
				Kind:     tt.kind,
				Name:     "Channel",
				Settings: tt.settings,
			})
			requireFields(t, err, tt.fields...)
		})
	}
}

func TestChannel_SecretsMasked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := createInstance(t, f, "alice", "Support Bot")

	v, err := f.svc.CreateChannel(ctx, member("alice"), inst.ID, ChannelInput{
		Kind:     store.ChannelTelegram,
		Name:     "Telegram",
		Settings: map[string]string{"bot_token": validTelegramToken},
	})
	require.NoError(t, err)
	assert.Equal(t, "****AAAA", v.Settings["bot_token"])
	assert.Empty(t, v.Embed)

	stored, err := f.store.GetChannel(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, validTelegramToken, stored.Settings["bot_token"])

	// Sending the masked value back keeps the stored secret.
	updated, err := f.svc.UpdateChannel(ctx, member("alice"), v.ID, ChannelInput{
		Name:     "Telegram bot",
		Enabled:  true,
		Settings: map[string]string{"bot_token": v.Settings["bot_token"]},
	})
	require.NoError(t, err)
	assert.Equal(t, "Telegram bot", updated.Name)

	stored, err = f.store.GetChannel(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, validTelegramToken, stored.Settings["bot_token"])
	assert.True(t, stored.Enabled)

	_, err = f.svc.UpdateChannel(ctx, member("alice"), v.ID, ChannelInput{Kind: store.ChannelWeb, Name: "Telegram"})
	requireFields(t, err, "kind")
}

func TestChannel_OwnershipAndToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := createInstance(t, f, "alice", "Support Bot")

	_, err := f.svc.CreateChannel(ctx, member("bob"), inst.ID, ChannelInput{Kind: store.ChannelWeb, Name: "Website"})
	assert.ErrorIs(t, err, store.ErrInstanceNotFound)

	v, err := f.svc.CreateChannel(ctx, member("alice"), inst.ID, ChannelInput{Kind: store.ChannelWeb, Name: "Website"})
	require.NoError(t, err)

	_, err = f.svc.GetChannel(ctx, member("bob"), v.ID)
	assert.ErrorIs(t, err, store.ErrChannelNotFound)
	assert.ErrorIs(t, f.svc.DeleteChannel(ctx, member("bob"), v.ID), store.ErrChannelNotFound)

	toggled, err := f.svc.ToggleChannel(ctx, member("alice"), v.ID, true)
	require.NoError(t, err)
	assert.True(t, toggled.Enabled)

	list, err := f.svc.ListChannels(ctx, member("alice"), inst.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Enabled)

	require.NoError(t, f.svc.DeleteChannel(ctx, member("alice"), v.ID))
	list, err = f.svc.ListChannels(ctx, member("alice"), inst.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****", mask("short"))
	assert.Equal(t, "****6789", mask("0123456789"))
}
