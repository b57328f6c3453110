// Copyright 2024-2026 Aiku AI

package discord

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/aiku/chatsync/pkg/provider"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

const (
	// FallbackAuthorName labels webhook messages whose author cannot be resolved.
	FallbackAuthorName = "Discord User"

	DefaultWebhookName = "chatsync"

	maxWebhookUsernameLength = 80
)

// WebhookStore is the persistence the webhook manager needs.
type WebhookStore interface {
	UpdateChannelLinkSettings(ctx context.Context, id string, settings store.Settings) error
	GetHostUser(ctx context.Context, id string) (*store.HostUser, error)
}

// WebhookManager provisions per-channel webhooks and sends outbound messages
// through them so they appear under the author's name and avatar.
type WebhookManager struct {
	session     *discordgo.Session
	store       WebhookStore
	log         zerolog.Logger
	webhookName string
	formatName  func(displayName string) string

	now func() time.Time
}

var _ provider.IdentityManager = (*WebhookManager)(nil)

func NewWebhookManager(session *discordgo.Session, st WebhookStore, webhookName string, log zerolog.Logger) *WebhookManager {
	if webhookName == "" {
		webhookName = DefaultWebhookName
	}
	return &WebhookManager{
		session:     session,
		store:       st,
		log:         log.With().Str("component", "discord_webhook").Logger(),
		webhookName: webhookName,
		now:         time.Now,
	}
}

// SetNameFormatter sets the function applied to author display names before
// they are used as the webhook username.
func (m *WebhookManager) SetNameFormatter(fn func(displayName string) string) {
	m.formatName = fn
}

// EnsureIdentity returns the link's webhook config, provisioning a webhook on
// first use. It returns nil when the link does not use the webhook strategy,
// when permission was denied, or when provisioning fails. Thread links never
// provision; they reuse the parent's webhook copied into their settings.
//
// Provisioning outcomes move the permission state: success sets allowed, a
// 403 sets denied and switches the strategy to fallback_bot, any other error
// keeps the strategy and records unknown with the reason.
func (m *WebhookManager) EnsureIdentity(ctx context.Context, link *store.ChannelLink) *store.WebhookConfig {
	settings := link.Settings
	if !settings.OutboundIdentity.Enabled || settings.OutboundIdentity.Strategy != store.StrategyWebhook {
		return nil
	}
	if settings.WebhookPermission.Status == store.PermissionDenied {
		return nil
	}
	if cfg := settings.Webhook(ProviderName); cfg != nil {
		return cfg
	}
	if link.IsThread() {
		return nil
	}

	log := m.log.With().Str("channel_link_id", link.ID).Str("channel_id", link.ExternalChannelID).Logger()
	hook, err := m.session.WebhookCreate(link.ExternalChannelID, m.webhookName, "", requestOptions(ctx)...)
	if err != nil {
		err = classify("discord.create_webhook", err)
		var next store.Settings
		var perr error
		if IsForbidden(err) {
			log.Warn().Err(err).Msg("Webhook permission denied, switching channel to bot identity")
			next, perr = settings.WithStrategy(store.StrategyFallbackBot)
			if perr == nil {
				next, perr = next.WithPermission(store.WebhookPermission{
					Status:    store.PermissionDenied,
					CheckedAt: m.now(),
					Reason:    "missing Manage Webhooks permission: " + err.Error(),
				})
			}
		} else {
			log.Warn().Err(err).Msg("Failed to provision webhook, using bot identity for now")
			next, perr = settings.WithPermission(store.WebhookPermission{
				Status:    store.PermissionUnknown,
				CheckedAt: m.now(),
				Reason:    err.Error(),
			})
		}
		if perr == nil {
			m.saveSettings(ctx, link, next)
		} else {
			log.Err(perr).Msg("Failed to encode webhook permission state")
		}
		return nil
	}

	cfg := store.WebhookConfig{WebhookID: hook.ID, WebhookToken: hook.Token}
	next, err := settings.WithWebhook(ProviderName, cfg)
	if err == nil {
		next, err = next.WithPermission(store.WebhookPermission{Status: store.PermissionAllowed, CheckedAt: m.now()})
	}
	if err != nil {
		log.Err(err).Msg("Failed to encode webhook config")
		return &cfg
	}
	m.saveSettings(ctx, link, next)
	log.Info().Str("webhook_id", hook.ID).Msg("Provisioned channel webhook")
	return &cfg
}

func (m *WebhookManager) saveSettings(ctx context.Context, link *store.ChannelLink, settings store.Settings) {
	if err := m.store.UpdateChannelLinkSettings(ctx, link.ID, settings); err != nil {
		m.log.Err(err).Str("channel_link_id", link.ID).Msg("Failed to persist channel link settings")
		return
	}
	link.Settings = settings
}

type author struct {
	name   string
	avatar string
}

func (m *WebhookManager) resolveAuthor(ctx context.Context, userID string) author {
	a := author{name: FallbackAuthorName}
	if userID == "" {
		return a
	}
	user, err := m.store.GetHostUser(ctx, userID)
	if err != nil {
		m.log.Debug().Err(err).Str("user_id", userID).Msg("Failed to resolve webhook author")
		return a
	}
	if user == nil {
		return a
	}
	if user.DisplayName != "" {
		name := user.DisplayName
		if m.formatName != nil {
			name = m.formatName(name)
		}
		a.name = truncateRunes(name, maxWebhookUsernameLength)
	}
	a.avatar = user.AvatarURL
	return a
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// threadOption targets a webhook message inside a thread of the webhook's channel.
func threadOption(link *store.ChannelLink) []discordgo.RequestOption {
	if !link.IsThread() {
		return nil
	}
	threadID := link.ExternalChannelID
	return []discordgo.RequestOption{func(cfg *discordgo.RequestConfig) {
		q := cfg.Request.URL.Query()
		q.Set("thread_id", threadID)
		cfg.Request.URL.RawQuery = q.Encode()
	}}
}

// Send posts msg through the webhook. It returns false on any failure.
func (m *WebhookManager) Send(ctx context.Context, link *store.ChannelLink, cfg *store.WebhookConfig, msg provider.WebhookMessage) (*provider.SentMessage, bool) {
	if cfg == nil {
		return nil, false
	}
	content := provider.ContentWithAttachments(msg.Content, msg.Attachments)
	if err := Limits.CheckContent(content); err != nil {
		m.log.Debug().Err(err).Str("channel_link_id", link.ID).Msg("Skipping webhook send for invalid content")
		return nil, false
	}
	who := m.resolveAuthor(ctx, msg.AuthorID)
	params := &discordgo.WebhookParams{
		Content:         content,
		Username:        who.name,
		AvatarURL:       who.avatar,
		AllowedMentions: noMentions(),
	}
	var sent *discordgo.Message
	var err error
	if link.IsThread() {
		sent, err = m.session.WebhookThreadExecute(cfg.WebhookID, cfg.WebhookToken, true, link.ExternalChannelID, params, requestOptions(ctx)...)
	} else {
		sent, err = m.session.WebhookExecute(cfg.WebhookID, cfg.WebhookToken, true, params, requestOptions(ctx)...)
	}
	if err != nil || sent == nil {
		m.log.Warn().
			Err(classify("discord.webhook_execute", err)).
			Str("channel_link_id", link.ID).
			Msg("Webhook send failed, falling back to bot")
		return nil, false
	}
	return sentMessage(sent, link.ExternalChannelID), true
}

// Update edits a message previously sent through the webhook.
func (m *WebhookManager) Update(ctx context.Context, link *store.ChannelLink, cfg *store.WebhookConfig, messageID, content string) bool {
	if cfg == nil || Limits.CheckContent(content) != nil {
		return false
	}
	_, err := m.session.WebhookMessageEdit(cfg.WebhookID, cfg.WebhookToken, messageID, &discordgo.WebhookEdit{
		Content:         &content,
		AllowedMentions: noMentions(),
	}, requestOptions(ctx, threadOption(link)...)...)
	if err != nil {
		m.log.Warn().
			Err(classify("discord.webhook_edit", err)).
			Str("channel_link_id", link.ID).
			Str("message_id", messageID).
			Msg("Webhook edit failed, falling back to bot")
		return false
	}
	return true
}

// Delete removes a message previously sent through the webhook.
func (m *WebhookManager) Delete(ctx context.Context, link *store.ChannelLink, cfg *store.WebhookConfig, messageID string) bool {
	if cfg == nil {
		return false
	}
	err := m.session.WebhookMessageDelete(cfg.WebhookID, cfg.WebhookToken, messageID, requestOptions(ctx, threadOption(link)...)...)
	if err != nil {
		m.log.Warn().
			Err(classify("discord.webhook_delete", err)).
			Str("channel_link_id", link.ID).
			Str("message_id", messageID).
			Msg("Webhook delete failed, falling back to bot")
		return false
	}
	return true
}
