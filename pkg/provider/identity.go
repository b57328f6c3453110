// Copyright 2024-2026 Aiku AI

package provider

import (
	"context"

	"github.com/aiku/chatsync/pkg/store"
)

// WebhookMessage is an outbound message sent under its author's identity.
type WebhookMessage struct {
	// AuthorID is the host user id of the message author.
	AuthorID    string
	Content     string
	Attachments []Attachment
}

// IdentityManager sends outbound messages under the original author's name
// and avatar. Every method reports failure as "not sent" instead of an
// error; the caller then uses the adapter's bot primitive.
type IdentityManager interface {
	// EnsureIdentity returns the webhook config for link, provisioning one if
	// needed, or nil when no identity is available.
	EnsureIdentity(ctx context.Context, link *store.ChannelLink) *store.WebhookConfig
	Send(ctx context.Context, link *store.ChannelLink, cfg *store.WebhookConfig, msg WebhookMessage) (*SentMessage, bool)
	Update(ctx context.Context, link *store.ChannelLink, cfg *store.WebhookConfig, messageID, content string) bool
	Delete(ctx context.Context, link *store.ChannelLink, cfg *store.WebhookConfig, messageID string) bool
}
