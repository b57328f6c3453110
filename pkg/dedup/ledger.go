// Copyright 2024-2026 Aiku AI

// Package dedup implements the receipt ledger that gives every sync operation
// at-most-once processing per (connection, source, dedupe key).
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiku/chatsync/pkg/store"
	"go.mau.fi/util/exstrings"
)

// Ledger claims and settles dedupe keys.
type Ledger struct {
	repo store.ReceiptRepository
}

func NewLedger(repo store.ReceiptRepository) *Ledger {
	return &Ledger{repo: repo}
}

// Claim creates a pending receipt for the key. It returns true only to the
// caller whose insert created the receipt; every other caller must stop
// without side effects.
func (l *Ledger) Claim(ctx context.Context, connectionID string, source store.Source, key string) (bool, error) {
	created, err := l.repo.InsertReceipt(ctx, &store.EventReceipt{
		SyncConnectionID: connectionID,
		Source:           source,
		DedupeKey:        key,
		Status:           store.ReceiptPending,
	})
	if err != nil {
		return false, fmt.Errorf("failed to claim dedupe key %s: %w", key, err)
	}
	return created, nil
}

// Outcome is the settled result of a claimed key.
type Outcome struct {
	ConnectionID  string
	Source        store.Source
	DedupeKey     string
	ChannelLinkID string
	Status        store.ReceiptStatus
	ErrorMessage  string
	PayloadHash   string
}

// Update records the outcome of a claimed key.
func (l *Ledger) Update(ctx context.Context, out Outcome) error {
	err := l.repo.UpdateReceipt(ctx, &store.EventReceipt{
		SyncConnectionID: out.ConnectionID,
		Source:           out.Source,
		DedupeKey:        out.DedupeKey,
		Status:           out.Status,
		ChannelLinkID:    out.ChannelLinkID,
		PayloadHash:      out.PayloadHash,
		ErrorMessage:     out.ErrorMessage,
	})
	if err != nil {
		return fmt.Errorf("failed to update receipt %s: %w", out.DedupeKey, err)
	}
	return nil
}

// Key joins parts into a deterministic dedupe key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// contentHashWidth is the number of hex characters kept from the digest.
const contentHashWidth = 16

// ContentHash returns a short hex digest of content. Update dedupe keys use it
// when the provider does not supply an edit timestamp.
func ContentHash(content string) string {
	sum := exstrings.SHA256(content)
	return hex.EncodeToString(sum[:])[:contentHashWidth]
}

// PayloadHash returns the hex SHA-256 of v's JSON encoding, or "" if v cannot
// be encoded.
func PayloadHash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
