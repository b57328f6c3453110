// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/util/dbutil"
)

const (
	channelLinkColumns = `
		l.id, l.sync_connection_id, l.host_channel_id, l.external_channel_id, l.direction, l.active,
		l.settings, l.parent_link_id, l.last_synced_at, l.created_at
	`
	getChannelLinkBaseQuery = `SELECT ` + channelLinkColumns + ` FROM channel_link l `

	getChannelLinkByIDQuery              = getChannelLinkBaseQuery + `WHERE l.id=$1`
	getChannelLinkByHostChannelQuery     = getChannelLinkBaseQuery + `WHERE l.sync_connection_id=$1 AND l.host_channel_id=$2 AND l.active ORDER BY l.created_at LIMIT 1`
	getChannelLinkByExternalChannelQuery = getChannelLinkBaseQuery + `WHERE l.sync_connection_id=$1 AND l.external_channel_id=$2 AND l.active ORDER BY l.created_at LIMIT 1`
	findActiveBySyncConnectionQuery      = getChannelLinkBaseQuery + `WHERE l.sync_connection_id=$1 AND l.active ORDER BY l.created_at, l.id`
	findActiveByExternalChannelQuery     = getChannelLinkBaseQuery + `
		INNER JOIN sync_connection c ON c.id=l.sync_connection_id
		WHERE c.provider=$1 AND l.external_channel_id=$2 AND l.active
		ORDER BY l.created_at, l.id
	`
	findActiveByHostChannelQuery = getChannelLinkBaseQuery + `
		INNER JOIN sync_connection c ON c.id=l.sync_connection_id
		WHERE c.provider=$1 AND l.host_channel_id=$2 AND l.active
		ORDER BY l.created_at, l.id
	`
	insertChannelLinkQuery = `
		INSERT INTO channel_link (
			id, sync_connection_id, host_channel_id, external_channel_id, direction, active,
			settings, parent_link_id, last_synced_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`
	updateChannelLinkSettingsQuery = `UPDATE channel_link SET settings=$2 WHERE id=$1`
	touchChannelLinkSyncedQuery    = `UPDATE channel_link SET last_synced_at=$2 WHERE id=$1`
)

func (s *Store) GetChannelLink(ctx context.Context, id string) (*ChannelLink, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.channelLinks.QueryOne(ctx, getChannelLinkByIDQuery, id)
}

func (s *Store) FindChannelLinkByHostChannel(ctx context.Context, connectionID, hostChannelID string) (*ChannelLink, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.channelLinks.QueryOne(ctx, getChannelLinkByHostChannelQuery, connectionID, hostChannelID)
}

func (s *Store) FindChannelLinkByExternalChannel(ctx context.Context, connectionID, externalChannelID string) (*ChannelLink, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.channelLinks.QueryOne(ctx, getChannelLinkByExternalChannelQuery, connectionID, externalChannelID)
}

func (s *Store) FindActiveByExternalChannel(ctx context.Context, provider, externalChannelID string) ([]*ChannelLink, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.channelLinks.QueryMany(ctx, findActiveByExternalChannelQuery, provider, externalChannelID)
}

func (s *Store) FindActiveBySyncConnection(ctx context.Context, connectionID string) ([]*ChannelLink, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.channelLinks.QueryMany(ctx, findActiveBySyncConnectionQuery, connectionID)
}

func (s *Store) FindActiveByHostChannel(ctx context.Context, provider, hostChannelID string) ([]*ChannelLink, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.channelLinks.QueryMany(ctx, findActiveByHostChannelQuery, provider, hostChannelID)
}

// InsertChannelLink inserts a link and reports false when an equivalent link
// (same connection, host channel and external channel) already exists.
func (s *Store) InsertChannelLink(ctx context.Context, link *ChannelLink) (bool, error) {
	if err := requireActor(ctx); err != nil {
		return false, err
	}
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now()
	}
	if link.Direction == "" {
		link.Direction = DirectionBoth
	}
	res, err := s.DB.Exec(ctx, insertChannelLinkQuery,
		link.ID, link.SyncConnectionID, link.HostChannelID, link.ExternalChannelID, link.Direction, link.Active,
		string(link.Settings.Raw()), dbutil.StrPtr(link.ParentLinkID), dbutil.UnixMilliPtr(link.LastSyncedAt),
		link.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) UpdateChannelLinkSettings(ctx context.Context, id string, settings Settings) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.channelLinks.Exec(ctx, updateChannelLinkSettingsQuery, id, string(settings.Raw()))
}

func (s *Store) TouchChannelLinkSynced(ctx context.Context, id string, at time.Time) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.channelLinks.Exec(ctx, touchChannelLinkSyncedQuery, id, at.UnixMilli())
}
