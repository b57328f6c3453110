// Copyright 2024-2026 Aiku AI

// Package outbound pushes host message, reaction and thread mutations to the
// external providers linked to a host channel.
//
// Changes that were ingested from a link are never pushed back over the same
// link: edits and deletes of messages linked with source external, and
// reactions ingested from the target connection, end as
// StatusIgnoredExternalOrigin.
//
// Every operation claims a dedupe key first and returns StatusDeduped without
// touching anything else when the claim fails. The claimed key is settled
// exactly once with the operation's outcome. A MessageLink is written only
// after the provider accepted the remote call.
package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/aiku/chatsync/pkg/dedup"
	"github.com/aiku/chatsync/pkg/provider"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/aiku/chatsync/pkg/syncerr"
	"github.com/rs/zerolog"
)

// Status is the tagged outcome of an outbound operation.
type Status string

const (
	StatusDeduped       Status = "deduped"
	StatusCreated       Status = "created"
	StatusUpdated       Status = "updated"
	StatusDeleted       Status = "deleted"
	StatusAlreadyLinked Status = "already_linked"

	StatusIgnoredConnectionInactive Status = "ignored_connection_inactive"
	StatusIgnoredNoChannelLink      Status = "ignored_no_channel_link"
	StatusIgnoredDirection          Status = "ignored_direction"
	StatusIgnoredMissingLink        Status = "ignored_missing_link"
	StatusIgnoredMissingThreadRoot  Status = "ignored_missing_thread_root"
	StatusIgnoredMessageDeleted     Status = "ignored_message_deleted"
	StatusIgnoredRemainingReactions Status = "ignored_remaining_reactions"
	// StatusIgnoredExternalOrigin marks a host change that was ingested from
	// the target link's own provider side.
	StatusIgnoredExternalOrigin Status = "ignored_external_origin"
)

// Ignored reports whether the status is a policy skip rather than an applied change.
func (s Status) Ignored() bool {
	switch s {
	case StatusCreated, StatusUpdated, StatusDeleted:
		return false
	default:
		return true
	}
}

func (s Status) receiptStatus() store.ReceiptStatus {
	if s.Ignored() {
		return store.ReceiptIgnored
	}
	return store.ReceiptProcessed
}

// Result describes what an operation did.
type Result struct {
	Status        Status
	ChannelLinkID string
	// ExternalID is the provider id of the created message or thread.
	ExternalID string
}

// Options are per-call overrides.
type Options struct {
	// DedupeKey replaces the key derived from the operation's inputs.
	DedupeKey string
	// ChannelLinkID targets one link instead of the host channel's link on
	// the connection. For thread channels it may name the parent's link.
	ChannelLinkID string
}

// Config tunes the engine.
type Config struct {
	// AttachmentBaseURL prefixes attachment ids to build public URLs.
	AttachmentBaseURL string
	// MaxCatchUpPerChannel caps the unlinked messages sent per link by SyncConnection.
	MaxCatchUpPerChannel int
	// FanOutConcurrency bounds concurrent per-link operations.
	FanOutConcurrency int
}

const (
	DefaultMaxCatchUpPerChannel = 50
	DefaultFanOutConcurrency    = 5
)

// Engine is the outbound sync engine.
type Engine struct {
	store      store.Repository
	ledger     *dedup.Ledger
	providers  *provider.Registry
	identities map[string]provider.IdentityManager
	cfg        Config
	log        zerolog.Logger

	now func() time.Time
}

func NewEngine(st store.Repository, providers *provider.Registry, cfg Config, log zerolog.Logger) *Engine {
	if cfg.MaxCatchUpPerChannel <= 0 {
		cfg.MaxCatchUpPerChannel = DefaultMaxCatchUpPerChannel
	}
	if cfg.FanOutConcurrency <= 0 {
		cfg.FanOutConcurrency = DefaultFanOutConcurrency
	}
	return &Engine{
		store:      st,
		ledger:     dedup.NewLedger(st),
		providers:  providers,
		identities: make(map[string]provider.IdentityManager),
		cfg:        cfg,
		log:        log.With().Str("component", "outbound").Logger(),
		now:        time.Now,
	}
}

// SetIdentityManager enables author impersonation for a provider. It must be
// called before the engine is used.
func (e *Engine) SetIdentityManager(providerName string, m provider.IdentityManager) {
	e.identities[providerName] = m
}

// operation carries the claimed key and the state settled into its receipt.
type operation struct {
	connectionID string
	key          string
	linkID       string
	payload      any
	log          zerolog.Logger
}

// begin claims the key. It returns nil when the key was already claimed.
func (e *Engine) begin(ctx context.Context, name, connectionID, key string) (*operation, context.Context, error) {
	log := e.log.With().
		Str("operation", name).
		Str("connection_id", connectionID).
		Str("dedupe_key", key).
		Logger()
	ctx = log.WithContext(ctx)
	claimed, err := e.ledger.Claim(ctx, connectionID, store.SourceHost, key)
	if err != nil {
		return nil, ctx, err
	}
	if !claimed {
		log.Debug().Msg("Dedupe key already claimed")
		return nil, ctx, nil
	}
	return &operation{connectionID: connectionID, key: key, log: log}, ctx, nil
}

// finish settles the receipt for op with the outcome.
func (e *Engine) finish(ctx context.Context, op *operation, res Result, err error) (Result, error) {
	if res.ChannelLinkID == "" {
		res.ChannelLinkID = op.linkID
	}
	out := dedup.Outcome{
		ConnectionID:  op.connectionID,
		Source:        store.SourceHost,
		DedupeKey:     op.key,
		ChannelLinkID: res.ChannelLinkID,
	}
	if op.payload != nil {
		out.PayloadHash = dedup.PayloadHash(op.payload)
	}
	if err != nil {
		out.Status = store.ReceiptFailed
		out.ErrorMessage = err.Error()
		op.log.Warn().Err(err).Msg("Outbound sync failed")
	} else {
		out.Status = res.Status.receiptStatus()
		op.log.Debug().Str("status", string(res.Status)).Str("channel_link_id", res.ChannelLinkID).Msg("Outbound sync finished")
	}
	if uerr := e.ledger.Update(ctx, out); uerr != nil {
		op.log.Err(uerr).Msg("Failed to settle receipt")
	}
	return res, err
}

// connection loads an active connection. A nil connection with a nil error
// means the connection exists but is not active.
func (e *Engine) connection(ctx context.Context, id string) (*store.SyncConnection, error) {
	conn, err := e.store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	} else if conn == nil {
		return nil, syncerr.NotFound("sync connection", id)
	} else if !conn.IsActive() {
		return nil, nil
	}
	return conn, nil
}

func (e *Engine) hostMessage(ctx context.Context, id string) (*store.HostMessage, *store.HostChannel, error) {
	msg, err := e.store.GetHostMessage(ctx, id)
	if err != nil {
		return nil, nil, err
	} else if msg == nil {
		return nil, nil, syncerr.NotFound("message", id)
	}
	channel, err := e.store.GetHostChannel(ctx, msg.ChannelID)
	if err != nil {
		return nil, nil, err
	} else if channel == nil {
		return nil, nil, syncerr.NotFound("channel", msg.ChannelID)
	}
	return msg, channel, nil
}

// target bundles the resolved link with the connection's adapter and identity manager.
type target struct {
	conn     *store.SyncConnection
	link     *store.ChannelLink
	adapter  provider.Adapter
	identity provider.IdentityManager
}

// webhook returns the link's webhook config, or nil when the bot must be used.
func (t *target) webhook(ctx context.Context) *store.WebhookConfig {
	if t.identity == nil {
		return nil
	}
	return t.identity.EnsureIdentity(ctx, t.link)
}

// resolve finds the link a host channel syncs through on conn. Thread
// channels create their external thread when create is set. A non-empty
// status means the operation stops there.
func (e *Engine) resolve(ctx context.Context, op *operation, conn *store.SyncConnection, channel *store.HostChannel, opts Options, create bool) (*target, Status, error) {
	adapter, err := e.providers.Get(conn.Provider)
	if err != nil {
		return nil, "", err
	}
	var link *store.ChannelLink
	var status Status
	if channel.Type == store.ChannelThread {
		link, status, err = e.threadLink(ctx, conn, channel, adapter, opts, create)
	} else {
		link, err = e.channelLink(ctx, conn, channel.ID, opts)
	}
	if err != nil || status != "" {
		return nil, status, err
	}
	if link == nil {
		return nil, StatusIgnoredNoChannelLink, nil
	}
	op.linkID = link.ID
	if !link.Direction.AllowsOutbound() {
		return nil, StatusIgnoredDirection, nil
	}
	return &target{conn: conn, link: link, adapter: adapter, identity: e.identities[conn.Provider]}, "", nil
}

// channelLink returns the active link for hostChannelID on conn, honouring
// an explicit link id.
func (e *Engine) channelLink(ctx context.Context, conn *store.SyncConnection, hostChannelID string, opts Options) (*store.ChannelLink, error) {
	if opts.ChannelLinkID == "" {
		return e.store.FindChannelLinkByHostChannel(ctx, conn.ID, hostChannelID)
	}
	link, err := e.store.GetChannelLink(ctx, opts.ChannelLinkID)
	if err != nil {
		return nil, err
	}
	if link == nil || !link.Active || link.SyncConnectionID != conn.ID || link.HostChannelID != hostChannelID {
		return nil, nil
	}
	return link, nil
}

const (
	maxThreadNameLength = 100
	defaultThreadName   = "Thread"
)

// threadLink resolves the link of a host thread channel. An explicit link id
// may name the thread's own link or its parent channel's link.
func (e *Engine) threadLink(ctx context.Context, conn *store.SyncConnection, channel *store.HostChannel, adapter provider.Adapter, opts Options, create bool) (*store.ChannelLink, Status, error) {
	if opts.ChannelLinkID != "" {
		link, err := e.channelLink(ctx, conn, channel.ID, opts)
		if err != nil || link != nil {
			return link, "", err
		}
	}
	parent, err := e.channelLink(ctx, conn, channel.ParentChannelID, opts)
	if err != nil {
		return nil, "", err
	} else if parent == nil {
		return nil, StatusIgnoredNoChannelLink, nil
	}
	existing, err := e.store.FindChannelLinkByHostChannel(ctx, conn.ID, channel.ID)
	if err != nil {
		return nil, "", err
	} else if existing != nil && existing.ParentLinkID == parent.ID {
		return existing, "", nil
	} else if !create {
		return nil, StatusIgnoredMissingLink, nil
	}
	if !parent.Direction.AllowsOutbound() {
		return parent, "", nil
	}

	root, err := e.store.FindByHostMessage(ctx, parent.ID, channel.ThreadRootMessageID)
	if err != nil {
		return nil, "", err
	} else if root == nil {
		return nil, StatusIgnoredMissingThreadRoot, nil
	}
	name := channel.Name
	if name == "" {
		name = defaultThreadName
	}
	if runes := []rune(name); len(runes) > maxThreadNameLength {
		name = string(runes[:maxThreadNameLength])
	}
	thread, err := adapter.CreateThread(ctx, provider.CreateThreadParams{
		ChannelID: parent.ExternalChannelID,
		MessageID: root.ExternalMessageID,
		Name:      name,
	})
	if err != nil {
		return nil, "", err
	}

	// Another worker may have linked the same external thread already.
	if linked, err := e.store.FindChannelLinkByExternalChannel(ctx, conn.ID, thread.ThreadID); err != nil || linked != nil {
		return linked, "", err
	}
	link := &store.ChannelLink{
		SyncConnectionID:  conn.ID,
		HostChannelID:     channel.ID,
		ExternalChannelID: thread.ThreadID,
		Direction:         parent.Direction,
		Active:            true,
		Settings:          parent.Settings,
		ParentLinkID:      parent.ID,
	}
	created, err := e.store.InsertChannelLink(ctx, link)
	if err != nil {
		return nil, "", err
	} else if !created {
		link, err = e.store.FindChannelLinkByExternalChannel(ctx, conn.ID, thread.ThreadID)
		if err != nil {
			return nil, "", err
		} else if link == nil {
			return nil, "", errors.New("thread link vanished after conflicting insert")
		}
	}
	zerolog.Ctx(ctx).Info().
		Str("thread_channel_id", channel.ID).
		Str("external_thread_id", thread.ThreadID).
		Msg("Created external thread")
	return link, "", nil
}

// touch updates last-synced bookkeeping. Failures are logged only.
func (e *Engine) touch(ctx context.Context, t *target) {
	now := e.now()
	if err := e.store.TouchChannelLinkSynced(ctx, t.link.ID, now); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to update channel link sync time")
	}
	if err := e.store.TouchConnectionSynced(ctx, t.conn.ID, now); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to update connection sync time")
	}
}

// key returns the caller's key or the derived default, scoped to an explicit link.
func key(opts Options, parts ...string) string {
	if opts.DedupeKey != "" {
		return opts.DedupeKey
	}
	if opts.ChannelLinkID != "" {
		parts = append(parts, opts.ChannelLinkID)
	}
	return dedup.Key(parts...)
}
