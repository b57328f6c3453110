// Copyright 2024-2026 Aiku AI

package store

import (
	"context"

	"go.mau.fi/util/dbutil"
)

const (
	insertReceiptQuery = `
		INSERT INTO event_receipt (
			sync_connection_id, source, dedupe_key, status, channel_link_id, payload_hash, error_message, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (sync_connection_id, source, dedupe_key) DO NOTHING
	`
	updateReceiptQuery = `
		UPDATE event_receipt
		SET status=$4, channel_link_id=$5, payload_hash=$6, error_message=$7, updated_at=$8
		WHERE sync_connection_id=$1 AND source=$2 AND dedupe_key=$3
	`
	getReceiptQuery = `
		SELECT sync_connection_id, source, dedupe_key, status, channel_link_id, payload_hash, error_message, created_at, updated_at
		FROM event_receipt
		WHERE sync_connection_id=$1 AND source=$2 AND dedupe_key=$3
	`
)

// InsertReceipt creates a receipt and reports whether this call created it.
func (s *Store) InsertReceipt(ctx context.Context, r *EventReceipt) (bool, error) {
	if err := requireActor(ctx); err != nil {
		return false, err
	}
	if r.Status == "" {
		r.Status = ReceiptPending
	}
	ts := s.nowMilli()
	res, err := s.DB.Exec(ctx, insertReceiptQuery,
		r.SyncConnectionID, r.Source, r.DedupeKey, r.Status,
		dbutil.StrPtr(r.ChannelLinkID), dbutil.StrPtr(r.PayloadHash), dbutil.StrPtr(r.ErrorMessage), ts,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) UpdateReceipt(ctx context.Context, r *EventReceipt) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.receipts.Exec(ctx, updateReceiptQuery,
		r.SyncConnectionID, r.Source, r.DedupeKey, r.Status,
		dbutil.StrPtr(r.ChannelLinkID), dbutil.StrPtr(r.PayloadHash), dbutil.StrPtr(r.ErrorMessage), s.nowMilli(),
	)
}

func (s *Store) GetReceipt(ctx context.Context, connectionID string, source Source, dedupeKey string) (*EventReceipt, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.receipts.QueryOne(ctx, getReceiptQuery, connectionID, source, dedupeKey)
}
