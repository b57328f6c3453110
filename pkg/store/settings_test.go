// Copyright 2024-2026 Aiku AI

package store

import (
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestParseSettingsDefensive(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		raw        string
		enabled    bool
		strategy   IdentityStrategy
		permission PermissionStatus
		webhook    bool
	}{
		{name: "empty", raw: "", permission: PermissionUnknown},
		{name: "not json", raw: "{nope", permission: PermissionUnknown},
		{name: "array", raw: "[1,2]", permission: PermissionUnknown},
		{
			name:       "full",
			raw:        `{"outboundIdentity":{"enabled":true,"strategy":"webhook","providers":{"discord":{"webhookId":"1","webhookToken":"t"}}},"webhookPermission":{"status":"allowed"}}`,
			enabled:    true,
			strategy:   StrategyWebhook,
			permission: PermissionAllowed,
			webhook:    true,
		},
		{
			name:       "wrong types",
			raw:        `{"outboundIdentity":{"enabled":"yes","strategy":"carrier-pigeon","providers":{"discord":"x"}},"webhookPermission":{"status":42}}`,
			permission: PermissionUnknown,
		},
		{
			name:       "incomplete webhook",
			raw:        `{"outboundIdentity":{"providers":{"discord":{"webhookId":"1"}}},"webhookPermission":{"status":"denied"}}`,
			permission: PermissionDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := ParseSettings([]byte(tt.raw))
			if s.OutboundIdentity.Enabled != tt.enabled {
				t.Errorf("Enabled: got %v, want %v", s.OutboundIdentity.Enabled, tt.enabled)
			}
			if s.OutboundIdentity.Strategy != tt.strategy {
				t.Errorf("Strategy: got %q, want %q", s.OutboundIdentity.Strategy, tt.strategy)
			}
			if s.WebhookPermission.Status != tt.permission {
				t.Errorf("Permission: got %q, want %q", s.WebhookPermission.Status, tt.permission)
			}
			if got := s.Webhook("discord") != nil; got != tt.webhook {
				t.Errorf("Webhook present: got %v, want %v", got, tt.webhook)
			}
			if !gjson.ValidBytes(s.Raw()) {
				t.Errorf("Raw is not valid JSON: %s", s.Raw())
			}
		})
	}
}

func TestSettingsPatchPreservesUnknownKeys(t *testing.T) {
	t.Parallel()
	s := ParseSettings([]byte(`{"custom":{"keep":true},"outboundIdentity":{"enabled":true}}`))

	s, err := s.WithWebhook("discord", WebhookConfig{WebhookID: "123", WebhookToken: "secret"})
	if err != nil {
		t.Fatalf("WithWebhook: %v", err)
	}
	checked := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s, err = s.WithPermission(WebhookPermission{Status: PermissionDenied, CheckedAt: checked, Reason: "missing permission"})
	if err != nil {
		t.Fatalf("WithPermission: %v", err)
	}
	s, err = s.WithStrategy(StrategyFallbackBot)
	if err != nil {
		t.Fatalf("WithStrategy: %v", err)
	}

	if !gjson.GetBytes(s.Raw(), "custom.keep").Bool() {
		t.Errorf("unknown key lost: %s", s.Raw())
	}
	if !s.OutboundIdentity.Enabled || s.OutboundIdentity.Strategy != StrategyFallbackBot {
		t.Errorf("identity: got %+v", s.OutboundIdentity)
	}
	if s.WebhookPermission.Status != PermissionDenied || s.WebhookPermission.Reason != "missing permission" {
		t.Errorf("permission: got %+v", s.WebhookPermission)
	}
	if !s.WebhookPermission.CheckedAt.Equal(checked) {
		t.Errorf("CheckedAt: got %v, want %v", s.WebhookPermission.CheckedAt, checked)
	}
	if wh := s.Webhook("discord"); wh == nil || wh.WebhookID != "123" {
		t.Errorf("webhook: got %+v", wh)
	}

	s, err = s.WithPermission(WebhookPermission{Status: PermissionAllowed, CheckedAt: checked})
	if err != nil {
		t.Fatalf("WithPermission allowed: %v", err)
	}
	if gjson.GetBytes(s.Raw(), "webhookPermission.reason").Exists() {
		t.Errorf("stale reason kept: %s", s.Raw())
	}
}

func TestSettingsProviderNameWithDot(t *testing.T) {
	t.Parallel()
	s, err := ParseSettings(nil).WithWebhook("chat.example", WebhookConfig{WebhookID: "1", WebhookToken: "t"})
	if err != nil {
		t.Fatalf("WithWebhook: %v", err)
	}
	if s.Webhook("chat.example") == nil {
		t.Errorf("dotted provider not readable: %s", s.Raw())
	}
	if s.Webhook("chat") != nil {
		t.Error("dotted provider leaked into nested path")
	}
}
