// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/util/dbutil"
)

const (
	getConnectionBaseQuery = `
		SELECT id, organization_id, provider, status, external_workspace_id, last_synced_at, created_at
		FROM sync_connection
	`
	getConnectionByIDQuery     = getConnectionBaseQuery + `WHERE id=$1`
	listActiveConnectionsQuery = getConnectionBaseQuery + `WHERE status='active' ORDER BY created_at, id`
	insertConnectionQuery      = `
		INSERT INTO sync_connection (id, organization_id, provider, status, external_workspace_id, last_synced_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	touchConnectionSyncedQuery = `UPDATE sync_connection SET last_synced_at=$2 WHERE id=$1`
)

func (s *Store) GetConnection(ctx context.Context, id string) (*SyncConnection, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.connections.QueryOne(ctx, getConnectionByIDQuery, id)
}

func (s *Store) ListActiveConnections(ctx context.Context) ([]*SyncConnection, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.connections.QueryMany(ctx, listActiveConnectionsQuery)
}

func (s *Store) InsertConnection(ctx context.Context, conn *SyncConnection) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = s.now()
	}
	return s.connections.Exec(ctx, insertConnectionQuery,
		conn.ID, conn.OrganizationID, conn.Provider, conn.Status, conn.ExternalWorkspaceID,
		dbutil.UnixMilliPtr(conn.LastSyncedAt), conn.CreatedAt.UnixMilli(),
	)
}

func (s *Store) TouchConnectionSynced(ctx context.Context, id string, at time.Time) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.connections.Exec(ctx, touchConnectionSyncedQuery, id, at.UnixMilli())
}
