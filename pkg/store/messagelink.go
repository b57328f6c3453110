// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/util/dbutil"
)

const (
	getMessageLinkBaseQuery = `
		SELECT id, channel_link_id, host_message_id, external_message_id, source, external_thread_id, created_at, deleted_at
		FROM message_link
	`
	getMessageLinkByHostQuery     = getMessageLinkBaseQuery + `WHERE channel_link_id=$1 AND host_message_id=$2 AND deleted_at IS NULL`
	getMessageLinkByExternalQuery = getMessageLinkBaseQuery + `WHERE channel_link_id=$1 AND external_message_id=$2 AND deleted_at IS NULL`
	insertMessageLinkQuery        = `
		INSERT INTO message_link (id, channel_link_id, host_message_id, external_message_id, source, external_thread_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`
	softDeleteMessageLinkQuery = `UPDATE message_link SET deleted_at=$2 WHERE id=$1 AND deleted_at IS NULL`
	countMessageLinksQuery     = `SELECT COUNT(*) FROM message_link WHERE channel_link_id=$1 AND deleted_at IS NULL`
)

func (s *Store) FindByHostMessage(ctx context.Context, channelLinkID, hostMessageID string) (*MessageLink, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.messageLinks.QueryOne(ctx, getMessageLinkByHostQuery, channelLinkID, hostMessageID)
}

func (s *Store) FindByExternalMessage(ctx context.Context, channelLinkID, externalMessageID string) (*MessageLink, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.messageLinks.QueryOne(ctx, getMessageLinkByExternalQuery, channelLinkID, externalMessageID)
}

// InsertMessageLink inserts a link and reports false when a non-deleted link
// already exists for the same host or external message on the channel link.
func (s *Store) InsertMessageLink(ctx context.Context, link *MessageLink) (bool, error) {
	if err := requireActor(ctx); err != nil {
		return false, err
	}
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now()
	}
	res, err := s.DB.Exec(ctx, insertMessageLinkQuery,
		link.ID, link.ChannelLinkID, link.HostMessageID, link.ExternalMessageID, link.Source,
		dbutil.StrPtr(link.ExternalThreadID), link.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) SoftDeleteMessageLink(ctx context.Context, id string, at time.Time) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.messageLinks.Exec(ctx, softDeleteMessageLinkQuery, id, at.UnixMilli())
}

func (s *Store) CountMessageLinks(ctx context.Context, channelLinkID string) (count int, err error) {
	if err = requireActor(ctx); err != nil {
		return 0, err
	}
	err = s.DB.QueryRow(ctx, countMessageLinksQuery, channelLinkID).Scan(&count)
	return
}
