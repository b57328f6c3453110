// Copyright 2024-2026 Aiku AI

// Package inbound applies provider-side message, reaction and thread events
// to the host.
//
// Like the outbound engine, every method claims its dedupe key before any
// other read and settles it exactly once. Events sent by a link's own
// outbound webhook are dropped so a synced message never comes back as a
// new host message.
package inbound

import (
	"context"
	"errors"
	"time"

	"github.com/aiku/chatsync/pkg/dedup"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/aiku/chatsync/pkg/syncerr"
	"github.com/rs/zerolog"
)

// Status is the tagged outcome of an ingestion.
type Status string

const (
	StatusDeduped        Status = "deduped"
	StatusCreated        Status = "created"
	StatusUpdated        Status = "updated"
	StatusDeleted        Status = "deleted"
	StatusAlreadyLinked  Status = "already_linked"
	StatusAlreadyExists  Status = "already_exists"
	StatusAlreadyDeleted Status = "already_deleted"

	StatusIgnoredConnectionInactive Status = "ignored_connection_inactive"
	StatusIgnoredNoChannelLink      Status = "ignored_no_channel_link"
	StatusIgnoredDirection          Status = "ignored_direction"
	StatusIgnoredWebhookOrigin      Status = "ignored_webhook_origin"
	StatusIgnoredMissingLink        Status = "ignored_missing_link"
)

// Ignored reports whether nothing was written to the host.
func (s Status) Ignored() bool {
	switch s {
	case StatusCreated, StatusUpdated, StatusDeleted:
		return false
	default:
		return true
	}
}

// Result describes what an ingestion did.
type Result struct {
	Status        Status
	ChannelLinkID string
	// HostID is the id of the host message, reaction or thread channel involved.
	HostID string
}

// Target names the link an event arrived on. ChannelLinkID wins when set;
// otherwise the link is looked up by external channel on the connection.
type Target struct {
	ConnectionID      string
	ChannelLinkID     string
	ExternalChannelID string
}

// Engine is the inbound ingestion engine.
type Engine struct {
	store  store.Repository
	ledger *dedup.Ledger
	log    zerolog.Logger

	now func() time.Time
}

func NewEngine(st store.Repository, log zerolog.Logger) *Engine {
	return &Engine{
		store:  st,
		ledger: dedup.NewLedger(st),
		log:    log.With().Str("component", "inbound").Logger(),
		now:    time.Now,
	}
}

// errRaced rolls back a transaction that lost an insert race to another worker.
var errRaced = errors.New("concurrent ingestion won the race")

type operation struct {
	connectionID string
	key          string
	linkID       string
	payload      any
	log          zerolog.Logger
}

func (e *Engine) begin(ctx context.Context, name, connectionID, key string) (*operation, context.Context, error) {
	log := e.log.With().
		Str("operation", name).
		Str("connection_id", connectionID).
		Str("dedupe_key", key).
		Logger()
	ctx = log.WithContext(ctx)
	claimed, err := e.ledger.Claim(ctx, connectionID, store.SourceExternal, key)
	if err != nil {
		return nil, ctx, err
	} else if !claimed {
		log.Debug().Msg("Dedupe key already claimed")
		return nil, ctx, nil
	}
	return &operation{connectionID: connectionID, key: key, log: log}, ctx, nil
}

func (e *Engine) finish(ctx context.Context, op *operation, res Result, err error) (Result, error) {
	if res.ChannelLinkID == "" {
		res.ChannelLinkID = op.linkID
	}
	out := dedup.Outcome{
		ConnectionID:  op.connectionID,
		Source:        store.SourceExternal,
		DedupeKey:     op.key,
		ChannelLinkID: res.ChannelLinkID,
	}
	if op.payload != nil {
		out.PayloadHash = dedup.PayloadHash(op.payload)
	}
	switch {
	case err != nil:
		out.Status = store.ReceiptFailed
		out.ErrorMessage = err.Error()
		op.log.Warn().Err(err).Msg("Inbound ingestion failed")
	case res.Status.Ignored():
		out.Status = store.ReceiptIgnored
		op.log.Debug().Str("status", string(res.Status)).Msg("Inbound event ignored")
	default:
		out.Status = store.ReceiptProcessed
		op.log.Debug().Str("status", string(res.Status)).Str("host_id", res.HostID).Msg("Inbound event applied")
	}
	if uerr := e.ledger.Update(ctx, out); uerr != nil {
		op.log.Err(uerr).Msg("Failed to settle receipt")
	}
	return res, err
}

// scope is the resolved connection and link of an event.
type scope struct {
	conn *store.SyncConnection
	link *store.ChannelLink
}

// resolve applies the connection, link and direction guards. A non-empty
// status means the event stops there.
func (e *Engine) resolve(ctx context.Context, op *operation, t Target) (*scope, Status, error) {
	conn, err := e.store.GetConnection(ctx, t.ConnectionID)
	if err != nil {
		return nil, "", err
	} else if conn == nil {
		return nil, "", syncerr.NotFound("sync connection", t.ConnectionID)
	} else if !conn.IsActive() {
		return nil, StatusIgnoredConnectionInactive, nil
	}
	var link *store.ChannelLink
	if t.ChannelLinkID != "" {
		link, err = e.store.GetChannelLink(ctx, t.ChannelLinkID)
		if link != nil && (!link.Active || link.SyncConnectionID != conn.ID) {
			link = nil
		}
	} else {
		link, err = e.store.FindChannelLinkByExternalChannel(ctx, conn.ID, t.ExternalChannelID)
	}
	if err != nil {
		return nil, "", err
	} else if link == nil {
		return nil, StatusIgnoredNoChannelLink, nil
	}
	op.linkID = link.ID
	if !link.Direction.AllowsInbound() {
		return nil, StatusIgnoredDirection, nil
	}
	return &scope{conn: conn, link: link}, "", nil
}

// fromOwnWebhook reports whether webhookID is the link's own outbound webhook.
func (s *scope) fromOwnWebhook(webhookID string) bool {
	if webhookID == "" {
		return false
	}
	cfg := s.link.Settings.Webhook(s.conn.Provider)
	return cfg != nil && cfg.WebhookID == webhookID
}

func key(custom string, parts ...string) string {
	if custom != "" {
		return custom
	}
	return dedup.Key(parts...)
}
