// Copyright 2024-2026 Aiku AI

package store

import (
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.mau.fi/util/exgjson"
)

// IdentityStrategy selects how outbound messages are attributed on the provider.
type IdentityStrategy string

const (
	StrategyWebhook     IdentityStrategy = "webhook"
	StrategyFallbackBot IdentityStrategy = "fallback_bot"
)

// PermissionStatus tracks whether webhook provisioning is allowed on a channel.
type PermissionStatus string

const (
	PermissionUnknown PermissionStatus = "unknown"
	PermissionAllowed PermissionStatus = "allowed"
	PermissionDenied  PermissionStatus = "denied"
)

// WebhookPermission is the webhook provisioning state of a channel link.
type WebhookPermission struct {
	Status    PermissionStatus
	CheckedAt time.Time
	Reason    string
}

// WebhookConfig is the webhook variant of a provider identity.
type WebhookConfig struct {
	WebhookID    string
	WebhookToken string
}

// OutboundIdentity is the outbound identity configuration of a channel link.
type OutboundIdentity struct {
	Enabled  bool
	Strategy IdentityStrategy
}

// Settings is the decoded form of ChannelLink.settings. Decoding never fails:
// unknown keys are preserved in the raw document and malformed values decode
// to their zero value, which means "no identity".
type Settings struct {
	OutboundIdentity  OutboundIdentity
	WebhookPermission WebhookPermission

	raw []byte
}

const (
	pathIdentityEnabled  = "outboundIdentity.enabled"
	pathIdentityStrategy = "outboundIdentity.strategy"
	pathPermissionStatus = "webhookPermission.status"
	pathPermissionTime   = "webhookPermission.checkedAt"
	pathPermissionReason = "webhookPermission.reason"
)

// ParseSettings decodes a settings document.
func ParseSettings(raw []byte) Settings {
	if len(raw) == 0 || !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		raw = []byte("{}")
	}
	s := Settings{raw: raw}
	doc := gjson.ParseBytes(raw)
	if enabled := doc.Get(pathIdentityEnabled); enabled.IsBool() {
		s.OutboundIdentity.Enabled = enabled.Bool()
	}
	switch strategy := IdentityStrategy(doc.Get(pathIdentityStrategy).String()); strategy {
	case StrategyWebhook, StrategyFallbackBot:
		s.OutboundIdentity.Strategy = strategy
	}
	s.WebhookPermission.Status = PermissionUnknown
	switch status := PermissionStatus(doc.Get(pathPermissionStatus).String()); status {
	case PermissionAllowed, PermissionDenied:
		s.WebhookPermission.Status = status
	}
	if checkedAt, err := time.Parse(time.RFC3339Nano, doc.Get(pathPermissionTime).String()); err == nil {
		s.WebhookPermission.CheckedAt = checkedAt
	}
	s.WebhookPermission.Reason = doc.Get(pathPermissionReason).String()
	return s
}

// Raw returns the encoded settings document.
func (s Settings) Raw() []byte {
	if len(s.raw) == 0 {
		return []byte("{}")
	}
	return s.raw
}

// Webhook returns the webhook config stored for the given provider. It returns
// nil when the provider entry is absent, not an object, or incomplete.
func (s Settings) Webhook(provider string) *WebhookConfig {
	entry := gjson.GetBytes(s.Raw(), exgjson.Path("outboundIdentity", "providers", provider))
	if !entry.IsObject() {
		return nil
	}
	id, token := entry.Get("webhookId"), entry.Get("webhookToken")
	if id.Type != gjson.String || token.Type != gjson.String || id.Str == "" || token.Str == "" {
		return nil
	}
	return &WebhookConfig{WebhookID: id.Str, WebhookToken: token.Str}
}

// WithWebhook stores a webhook config for the provider.
func (s Settings) WithWebhook(provider string, cfg WebhookConfig) (Settings, error) {
	return s.set(exgjson.Path("outboundIdentity", "providers", provider), map[string]string{
		"webhookId":    cfg.WebhookID,
		"webhookToken": cfg.WebhookToken,
	})
}

// WithStrategy switches the outbound identity strategy.
func (s Settings) WithStrategy(strategy IdentityStrategy) (Settings, error) {
	return s.set(pathIdentityStrategy, string(strategy))
}

// WithPermission records a webhook permission check.
func (s Settings) WithPermission(perm WebhookPermission) (Settings, error) {
	out, err := s.set(pathPermissionStatus, string(perm.Status))
	if err != nil {
		return s, err
	}
	out, err = out.set(pathPermissionTime, perm.CheckedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return s, err
	}
	if perm.Reason == "" {
		if !gjson.GetBytes(out.Raw(), pathPermissionReason).Exists() {
			return out, nil
		}
		raw, err := sjson.DeleteBytes(out.Raw(), pathPermissionReason)
		if err != nil {
			return s, err
		}
		return ParseSettings(raw), nil
	}
	return out.set(pathPermissionReason, perm.Reason)
}

func (s Settings) set(path string, value any) (Settings, error) {
	raw, err := sjson.SetBytes(append([]byte(nil), s.Raw()...), path, value)
	if err != nil {
		return s, err
	}
	return ParseSettings(raw), nil
}
