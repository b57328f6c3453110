// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"time"
)

// Repository is the persistence surface used by the sync engines. Lookups
// return (nil, nil) when nothing matches.
type Repository interface {
	ConnectionRepository
	ChannelLinkRepository
	MessageLinkRepository
	ReceiptRepository
	HostRepository

	DoTxn(ctx context.Context, fn func(ctx context.Context) error) error
}

type ConnectionRepository interface {
	GetConnection(ctx context.Context, id string) (*SyncConnection, error)
	ListActiveConnections(ctx context.Context) ([]*SyncConnection, error)
	InsertConnection(ctx context.Context, conn *SyncConnection) error
	TouchConnectionSynced(ctx context.Context, id string, at time.Time) error
}

type ChannelLinkRepository interface {
	GetChannelLink(ctx context.Context, id string) (*ChannelLink, error)
	FindChannelLinkByHostChannel(ctx context.Context, connectionID, hostChannelID string) (*ChannelLink, error)
	FindChannelLinkByExternalChannel(ctx context.Context, connectionID, externalChannelID string) (*ChannelLink, error)
	FindActiveByExternalChannel(ctx context.Context, provider, externalChannelID string) ([]*ChannelLink, error)
	FindActiveBySyncConnection(ctx context.Context, connectionID string) ([]*ChannelLink, error)
	FindActiveByHostChannel(ctx context.Context, provider, hostChannelID string) ([]*ChannelLink, error)
	InsertChannelLink(ctx context.Context, link *ChannelLink) (bool, error)
	UpdateChannelLinkSettings(ctx context.Context, id string, settings Settings) error
	TouchChannelLinkSynced(ctx context.Context, id string, at time.Time) error
}

type MessageLinkRepository interface {
	FindByHostMessage(ctx context.Context, channelLinkID, hostMessageID string) (*MessageLink, error)
	FindByExternalMessage(ctx context.Context, channelLinkID, externalMessageID string) (*MessageLink, error)
	InsertMessageLink(ctx context.Context, link *MessageLink) (bool, error)
	SoftDeleteMessageLink(ctx context.Context, id string, at time.Time) error
	CountMessageLinks(ctx context.Context, channelLinkID string) (int, error)
}

type ReceiptRepository interface {
	InsertReceipt(ctx context.Context, receipt *EventReceipt) (bool, error)
	UpdateReceipt(ctx context.Context, receipt *EventReceipt) error
	GetReceipt(ctx context.Context, connectionID string, source Source, dedupeKey string) (*EventReceipt, error)
}

type HostRepository interface {
	GetHostUser(ctx context.Context, id string) (*HostUser, error)
	FindUserByIntegration(ctx context.Context, provider, externalUserID string) (*HostUser, error)
	FindUserByExternalID(ctx context.Context, externalID string) (*HostUser, error)
	InsertHostUser(ctx context.Context, user *HostUser) (bool, error)
	LinkUserIntegration(ctx context.Context, provider, externalUserID, userID string) error
	EnsureOrganizationMember(ctx context.Context, organizationID, userID string) error

	GetHostChannel(ctx context.Context, id string) (*HostChannel, error)
	InsertHostChannel(ctx context.Context, channel *HostChannel) error

	GetHostMessage(ctx context.Context, id string) (*HostMessage, error)
	InsertHostMessage(ctx context.Context, msg *HostMessage) error
	UpdateHostMessageContent(ctx context.Context, id, content string, at time.Time) error
	SoftDeleteHostMessage(ctx context.Context, id string, at time.Time) error
	SetMessageThread(ctx context.Context, messageID, threadChannelID string) error
	FindUnlinkedHostMessages(ctx context.Context, channelLinkID, hostChannelID string, limit int) ([]*HostMessage, error)

	InsertHostAttachment(ctx context.Context, att *HostAttachment) error
	ListCompletedAttachments(ctx context.Context, messageID string) ([]*HostAttachment, error)

	GetHostReaction(ctx context.Context, id string) (*HostReaction, error)
	FindHostReaction(ctx context.Context, messageID, userID, emoji string) (*HostReaction, error)
	InsertHostReaction(ctx context.Context, reaction *HostReaction) (bool, error)
	DeleteHostReaction(ctx context.Context, id string) error
	CountOtherReactions(ctx context.Context, messageID, emoji, excludeUserID, connectionID string) (int, error)
}
