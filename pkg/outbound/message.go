// Copyright 2024-2026 Aiku AI

package outbound

import (
	"context"
	"strconv"

	"github.com/aiku/chatsync/pkg/dedup"
	"github.com/aiku/chatsync/pkg/provider"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/rs/zerolog"
)

// SyncMessageCreate sends a host message to the provider of a connection.
// It returns StatusAlreadyLinked without calling the provider when the
// message already has a link, even if the dedupe key is new.
func (e *Engine) SyncMessageCreate(ctx context.Context, connectionID, hostMessageID string, opts Options) (Result, error) {
	op, ctx, err := e.begin(ctx, "message_create", connectionID, key(opts, "host", "message", "create", hostMessageID))
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	res, err := e.messageCreate(ctx, op, hostMessageID, opts)
	return e.finish(ctx, op, res, err)
}

func (e *Engine) messageCreate(ctx context.Context, op *operation, hostMessageID string, opts Options) (Result, error) {
	conn, err := e.connection(ctx, op.connectionID)
	if err != nil {
		return Result{}, err
	} else if conn == nil {
		return Result{Status: StatusIgnoredConnectionInactive}, nil
	}
	msg, channel, err := e.hostMessage(ctx, hostMessageID)
	if err != nil {
		return Result{}, err
	} else if msg.IsDeleted() {
		return Result{Status: StatusIgnoredMessageDeleted}, nil
	}
	t, status, err := e.resolve(ctx, op, conn, channel, opts, true)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	log := zerolog.Ctx(ctx).With().Str("channel_link_id", t.link.ID).Str("host_message_id", msg.ID).Logger()
	ctx = log.WithContext(ctx)

	existing, err := e.store.FindByHostMessage(ctx, t.link.ID, msg.ID)
	if err != nil {
		return Result{}, err
	} else if existing != nil {
		return Result{Status: StatusAlreadyLinked, ExternalID: existing.ExternalMessageID}, nil
	}

	params := provider.CreateMessageParams{
		ChannelID: t.link.ExternalChannelID,
		Content:   msg.Content,
	}
	if msg.ReplyToMessageID != "" {
		reply, err := e.store.FindByHostMessage(ctx, t.link.ID, msg.ReplyToMessageID)
		if err != nil {
			log.Debug().Err(err).Str("reply_to", msg.ReplyToMessageID).Msg("Failed to resolve reply target")
		} else if reply != nil {
			params.ReplyToMessageID = reply.ExternalMessageID
		}
	}
	if params.Attachments, err = e.attachments(ctx, msg.ID); err != nil {
		return Result{}, err
	}
	op.payload = params

	sent, err := e.send(ctx, t, msg.AuthorID, params)
	if err != nil {
		return Result{}, err
	}

	link := &store.MessageLink{
		ChannelLinkID:     t.link.ID,
		HostMessageID:     msg.ID,
		ExternalMessageID: sent.MessageID,
		Source:            store.SourceHost,
	}
	if t.link.IsThread() {
		link.ExternalThreadID = t.link.ExternalChannelID
	}
	created, err := e.store.InsertMessageLink(ctx, link)
	if err != nil {
		return Result{}, err
	} else if !created {
		log.Warn().Str("external_message_id", sent.MessageID).Msg("Message was linked concurrently, provider copy is a duplicate")
		return Result{Status: StatusAlreadyLinked, ExternalID: sent.MessageID}, nil
	}
	e.touch(ctx, t)
	return Result{Status: StatusCreated, ExternalID: sent.MessageID}, nil
}

// send creates the message through the link's webhook when one is available,
// falling back to the bot primitives.
func (e *Engine) send(ctx context.Context, t *target, authorID string, params provider.CreateMessageParams) (*provider.SentMessage, error) {
	if cfg := t.webhook(ctx); cfg != nil {
		sent, ok := t.identity.Send(ctx, t.link, cfg, provider.WebhookMessage{
			AuthorID:    authorID,
			Content:     params.Content,
			Attachments: params.Attachments,
		})
		if ok {
			return sent, nil
		}
	}
	if len(params.Attachments) > 0 {
		return t.adapter.CreateMessageWithAttachments(ctx, params)
	}
	return t.adapter.CreateMessage(ctx, params)
}

// SyncMessageUpdate pushes the current content of a linked host message.
// Attachments are not re-sent. Without a caller key the default key includes
// the edit time and content hash, so distinct edits are not conflated; the
// message is read to derive it. Fan-out derives the key once per event and
// passes it, so its per-link operations claim before any read.
func (e *Engine) SyncMessageUpdate(ctx context.Context, connectionID, hostMessageID string, opts Options) (Result, error) {
	if opts.DedupeKey == "" {
		msg, err := e.store.GetHostMessage(ctx, hostMessageID)
		if err != nil {
			return Result{}, err
		}
		// A missing message is reported by the claimed operation.
		opts.DedupeKey = updateKey(hostMessageID, msg, opts.ChannelLinkID)
	}
	op, ctx, err := e.begin(ctx, "message_update", connectionID, opts.DedupeKey)
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	res, err := e.messageUpdate(ctx, op, hostMessageID, opts)
	return e.finish(ctx, op, res, err)
}

// updateKey derives the default update key from the message's edit version.
func updateKey(hostMessageID string, msg *store.HostMessage, channelLinkID string) string {
	var version string
	if msg != nil {
		version = strconv.FormatInt(msg.UpdatedAt.UnixMilli(), 10) + "-" + dedup.ContentHash(msg.Content)
	}
	return key(Options{ChannelLinkID: channelLinkID}, "host", "message", "update", hostMessageID, version)
}

func (e *Engine) messageUpdate(ctx context.Context, op *operation, hostMessageID string, opts Options) (Result, error) {
	conn, err := e.connection(ctx, op.connectionID)
	if err != nil {
		return Result{}, err
	} else if conn == nil {
		return Result{Status: StatusIgnoredConnectionInactive}, nil
	}
	msg, channel, err := e.hostMessage(ctx, hostMessageID)
	if err != nil {
		return Result{}, err
	}
	t, status, err := e.resolve(ctx, op, conn, channel, opts, false)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	ml, status, err := e.ownedLink(ctx, t, msg.ID)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	params := provider.UpdateMessageParams{
		ChannelID: t.link.ExternalChannelID,
		MessageID: ml.ExternalMessageID,
		Content:   msg.Content,
	}
	op.payload = params
	if cfg := t.webhook(ctx); cfg == nil || !t.identity.Update(ctx, t.link, cfg, params.MessageID, params.Content) {
		if err = t.adapter.UpdateMessage(ctx, params); err != nil {
			return Result{}, err
		}
	}
	e.touch(ctx, t)
	return Result{Status: StatusUpdated, ExternalID: ml.ExternalMessageID}, nil
}

// SyncMessageDelete deletes the provider copy of a linked host message and
// soft-deletes the link. Attachments are never inspected.
func (e *Engine) SyncMessageDelete(ctx context.Context, connectionID, hostMessageID string, opts Options) (Result, error) {
	op, ctx, err := e.begin(ctx, "message_delete", connectionID, key(opts, "host", "message", "delete", hostMessageID))
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	res, err := e.messageDelete(ctx, op, hostMessageID, opts)
	return e.finish(ctx, op, res, err)
}

func (e *Engine) messageDelete(ctx context.Context, op *operation, hostMessageID string, opts Options) (Result, error) {
	conn, err := e.connection(ctx, op.connectionID)
	if err != nil {
		return Result{}, err
	} else if conn == nil {
		return Result{Status: StatusIgnoredConnectionInactive}, nil
	}
	msg, channel, err := e.hostMessage(ctx, hostMessageID)
	if err != nil {
		return Result{}, err
	}
	t, status, err := e.resolve(ctx, op, conn, channel, opts, false)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	ml, status, err := e.ownedLink(ctx, t, msg.ID)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	op.payload = ml
	if cfg := t.webhook(ctx); cfg == nil || !t.identity.Delete(ctx, t.link, cfg, ml.ExternalMessageID) {
		if err = t.adapter.DeleteMessage(ctx, t.link.ExternalChannelID, ml.ExternalMessageID); err != nil {
			return Result{}, err
		}
	}
	if err = e.store.SoftDeleteMessageLink(ctx, ml.ID, e.now()); err != nil {
		return Result{}, err
	}
	e.touch(ctx, t)
	return Result{Status: StatusDeleted, ExternalID: ml.ExternalMessageID}, nil
}

// ownedLink returns the message link of a host message the link sent out.
// Messages ingested over the link belong to the provider side, whose own
// edits and deletes reach the host through ingestion.
func (e *Engine) ownedLink(ctx context.Context, t *target, hostMessageID string) (*store.MessageLink, Status, error) {
	ml, err := e.store.FindByHostMessage(ctx, t.link.ID, hostMessageID)
	if err != nil {
		return nil, "", err
	} else if ml == nil {
		return nil, StatusIgnoredMissingLink, nil
	} else if ml.Source == store.SourceExternal {
		return nil, StatusIgnoredExternalOrigin, nil
	}
	return ml, "", nil
}
