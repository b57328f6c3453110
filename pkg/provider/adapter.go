// Copyright 2024-2026 Aiku AI

// Package provider defines the primitive operations every external chat
// platform implements, the registry that resolves a provider name to its
// adapter, and the retry policy applied to remote calls.
package provider

import (
	"context"
)

// Adapter performs primitive operations on one external platform. Every
// method validates its input before any network I/O and fails with a
// configuration-kind error when the input violates the platform's limits.
type Adapter interface {
	Name() string

	CreateMessage(ctx context.Context, params CreateMessageParams) (*SentMessage, error)
	CreateMessageWithAttachments(ctx context.Context, params CreateMessageParams) (*SentMessage, error)
	UpdateMessage(ctx context.Context, params UpdateMessageParams) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	AddReaction(ctx context.Context, params ReactionParams) error
	RemoveReaction(ctx context.Context, params ReactionParams) error
	CreateThread(ctx context.Context, params CreateThreadParams) (*Thread, error)
}

// Attachment is a file already reachable at a public URL.
type Attachment struct {
	FileName string
	URL      string
	Size     int64
}

type CreateMessageParams struct {
	ChannelID string
	Content   string
	// ReplyToMessageID is the external id of the message being replied to, if any.
	ReplyToMessageID string
	Attachments      []Attachment
}

type UpdateMessageParams struct {
	ChannelID string
	MessageID string
	Content   string
}

type ReactionParams struct {
	ChannelID string
	MessageID string
	Emoji     string
}

type CreateThreadParams struct {
	ChannelID string
	// MessageID anchors the thread to an existing message.
	MessageID string
	Name      string
}

// SentMessage identifies a message created on the provider.
type SentMessage struct {
	ChannelID string
	MessageID string
}

// Thread identifies a thread created on the provider.
type Thread struct {
	ThreadID string
}
