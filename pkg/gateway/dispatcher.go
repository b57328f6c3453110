// Copyright 2024-2026 Aiku AI

// Package gateway turns live provider events into ingestion calls.
//
// Provider decoders validate raw payloads and drop self-authored, bot and
// malformed events. The Dispatcher then fans each event out to every active
// link of its external channel that accepts inbound traffic, with a
// deterministic dedupe key per event.
package gateway

import (
	"context"
	"time"

	"github.com/aiku/chatsync/pkg/dedup"
	"github.com/aiku/chatsync/pkg/inbound"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
)

// Ingester is the ingestion surface driven by the dispatcher.
type Ingester interface {
	IngestMessageCreate(ctx context.Context, evt inbound.MessageCreate) (inbound.Result, error)
	IngestMessageUpdate(ctx context.Context, evt inbound.MessageUpdate) (inbound.Result, error)
	IngestMessageDelete(ctx context.Context, evt inbound.MessageDelete) (inbound.Result, error)
	IngestReactionAdd(ctx context.Context, evt inbound.Reaction) (inbound.Result, error)
	IngestReactionRemove(ctx context.Context, evt inbound.Reaction) (inbound.Result, error)
	IngestThreadCreate(ctx context.Context, evt inbound.ThreadCreate) (inbound.Result, error)
}

// LinkFinder lists the active links of an external channel.
type LinkFinder interface {
	FindActiveByExternalChannel(ctx context.Context, provider, externalChannelID string) ([]*store.ChannelLink, error)
}

// Message is a decoded provider message.
type Message struct {
	ChannelID   string
	MessageID   string
	Author      inbound.Author
	Content     string
	ReplyToID   string
	WebhookID   string
	Attachments []inbound.Attachment
	SentAt      time.Time
	EditedAt    time.Time
}

// Deletion is a decoded provider message deletion.
type Deletion struct {
	ChannelID string
	MessageID string
}

// Reaction is a decoded provider reaction change.
type Reaction struct {
	ChannelID string
	MessageID string
	User      inbound.Author
	Emoji     string
}

// Thread is a decoded provider thread creation.
type Thread struct {
	ParentChannelID string
	ThreadID        string
	Name            string
	RootMessageID   string
}

// Outcome counts what happened to one event across links.
type Outcome struct {
	Dispatched int
	Skipped    int
	Failed     int
}

// Dispatcher routes decoded events of one provider into the ingestion engine.
type Dispatcher struct {
	provider string
	links    LinkFinder
	ingest   Ingester
	log      zerolog.Logger

	selfIDs *exsync.Set[string]
}

func NewDispatcher(provider string, links LinkFinder, ingest Ingester, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		links:    links,
		ingest:   ingest,
		log:      log.With().Str("component", "gateway").Str("provider", provider).Logger(),
		selfIDs:  exsync.NewSet[string](),
	}
}

func (d *Dispatcher) Provider() string {
	return d.provider
}

// AddSelfID registers one of this system's own bot user ids. Events authored
// by it are dropped.
func (d *Dispatcher) AddSelfID(id string) {
	if id != "" && d.selfIDs.Add(id) {
		d.log.Info().Str("user_id", id).Msg("Learned own bot identity")
	}
}

// IsSelf reports whether userID is one of this system's bot identities.
func (d *Dispatcher) IsSelf(userID string) bool {
	return d.selfIDs.Has(userID)
}

type linkCall func(ctx context.Context, target inbound.Target) (inbound.Result, error)

func (d *Dispatcher) forEachLink(ctx context.Context, name, externalChannelID string, call linkCall) Outcome {
	ctx = store.WithSystemActor(ctx, "gateway")
	log := d.log.With().Str("event", name).Str("external_channel_id", externalChannelID).Logger()
	var out Outcome
	links, err := d.links.FindActiveByExternalChannel(ctx, d.provider, externalChannelID)
	if err != nil {
		log.Err(err).Msg("Failed to look up channel links")
		out.Failed++
		return out
	}
	for _, link := range links {
		if !link.Direction.AllowsInbound() {
			out.Skipped++
			continue
		}
		res, err := call(log.WithContext(ctx), inbound.Target{
			ConnectionID:      link.SyncConnectionID,
			ChannelLinkID:     link.ID,
			ExternalChannelID: externalChannelID,
		})
		switch {
		case err != nil:
			log.Warn().Err(err).Str("channel_link_id", link.ID).Msg("Ingestion failed")
			out.Failed++
		case res.Status.Ignored():
			out.Skipped++
		default:
			out.Dispatched++
		}
	}
	return out
}

// MessageCreated ingests a new message.
func (d *Dispatcher) MessageCreated(ctx context.Context, msg Message) Outcome {
	if d.IsSelf(msg.Author.ID) {
		return Outcome{}
	}
	key := dedup.Key("gateway", "message", "create", msg.ChannelID, msg.MessageID)
	return d.forEachLink(ctx, "message_create", msg.ChannelID, func(ctx context.Context, target inbound.Target) (inbound.Result, error) {
		return d.ingest.IngestMessageCreate(ctx, inbound.MessageCreate{
			Target:            target,
			ExternalMessageID: msg.MessageID,
			Author:            msg.Author,
			Content:           msg.Content,
			ReplyToExternalID: msg.ReplyToID,
			WebhookID:         msg.WebhookID,
			Attachments:       msg.Attachments,
			SentAt:            msg.SentAt,
			DedupeKey:         key,
		})
	})
}

// MessageUpdated ingests an edit. Without an edit timestamp the key carries
// a hash of the new content, so distinct edits are kept apart while a
// redelivered edit is deduped.
func (d *Dispatcher) MessageUpdated(ctx context.Context, msg Message) Outcome {
	if d.IsSelf(msg.Author.ID) {
		return Outcome{}
	}
	key := dedup.Key("gateway", "message", "update", msg.ChannelID, msg.MessageID, inbound.UpdateVersion(msg.EditedAt, msg.Content))
	return d.forEachLink(ctx, "message_update", msg.ChannelID, func(ctx context.Context, target inbound.Target) (inbound.Result, error) {
		return d.ingest.IngestMessageUpdate(ctx, inbound.MessageUpdate{
			Target:            target,
			ExternalMessageID: msg.MessageID,
			Content:           msg.Content,
			WebhookID:         msg.WebhookID,
			EditedAt:          msg.EditedAt,
			DedupeKey:         key,
		})
	})
}

func (d *Dispatcher) MessageDeleted(ctx context.Context, del Deletion) Outcome {
	key := dedup.Key("gateway", "message", "delete", del.ChannelID, del.MessageID)
	return d.forEachLink(ctx, "message_delete", del.ChannelID, func(ctx context.Context, target inbound.Target) (inbound.Result, error) {
		return d.ingest.IngestMessageDelete(ctx, inbound.MessageDelete{
			Target:            target,
			ExternalMessageID: del.MessageID,
			DedupeKey:         key,
		})
	})
}

func (d *Dispatcher) ReactionAdded(ctx context.Context, r Reaction) Outcome {
	if d.IsSelf(r.User.ID) {
		return Outcome{}
	}
	key := dedup.Key("gateway", "reaction", "add", r.ChannelID, r.MessageID, r.User.ID, r.Emoji)
	return d.forEachLink(ctx, "reaction_add", r.ChannelID, func(ctx context.Context, target inbound.Target) (inbound.Result, error) {
		return d.ingest.IngestReactionAdd(ctx, d.reaction(target, r, key))
	})
}

func (d *Dispatcher) ReactionRemoved(ctx context.Context, r Reaction) Outcome {
	if d.IsSelf(r.User.ID) {
		return Outcome{}
	}
	key := dedup.Key("gateway", "reaction", "remove", r.ChannelID, r.MessageID, r.User.ID, r.Emoji)
	return d.forEachLink(ctx, "reaction_remove", r.ChannelID, func(ctx context.Context, target inbound.Target) (inbound.Result, error) {
		return d.ingest.IngestReactionRemove(ctx, d.reaction(target, r, key))
	})
}

func (d *Dispatcher) reaction(target inbound.Target, r Reaction, key string) inbound.Reaction {
	return inbound.Reaction{
		Target:            target,
		ExternalMessageID: r.MessageID,
		User:              r.User,
		Emoji:             r.Emoji,
		DedupeKey:         key,
	}
}

// ThreadCreated ingests a thread under its parent channel's links.
func (d *Dispatcher) ThreadCreated(ctx context.Context, th Thread) Outcome {
	key := dedup.Key("gateway", "thread", "create", th.ParentChannelID, th.ThreadID)
	return d.forEachLink(ctx, "thread_create", th.ParentChannelID, func(ctx context.Context, target inbound.Target) (inbound.Result, error) {
		return d.ingest.IngestThreadCreate(ctx, inbound.ThreadCreate{
			Target:                target,
			ExternalThreadID:      th.ThreadID,
			Name:                  th.Name,
			RootExternalMessageID: th.RootMessageID,
			DedupeKey:             key,
		})
	})
}
