// Copyright 2024-2026 Aiku AI

package cdc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aiku/chatsync/pkg/dedup"
	"github.com/aiku/chatsync/pkg/inbound"
	"github.com/aiku/chatsync/pkg/outbound"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Tables replayed by the router.
const (
	TableExternalMessages  = "external_messages"
	TableExternalReactions = "external_reactions"
	TableExternalThreads   = "external_threads"
	TableMessages          = "messages"
	TableMessageReactions  = "message_reactions"
)

// Ingester is the ingestion surface fed by external tables.
type Ingester interface {
	IngestMessageCreate(ctx context.Context, evt inbound.MessageCreate) (inbound.Result, error)
	IngestMessageUpdate(ctx context.Context, evt inbound.MessageUpdate) (inbound.Result, error)
	IngestMessageDelete(ctx context.Context, evt inbound.MessageDelete) (inbound.Result, error)
	IngestReactionAdd(ctx context.Context, evt inbound.Reaction) (inbound.Result, error)
	IngestReactionRemove(ctx context.Context, evt inbound.Reaction) (inbound.Result, error)
	IngestThreadCreate(ctx context.Context, evt inbound.ThreadCreate) (inbound.Result, error)
}

// FanOut is the outbound surface fed by host tables.
type FanOut interface {
	SyncMessageCreateToAllConnections(ctx context.Context, providerName, hostMessageID string) (*outbound.FanOutResult, error)
	SyncMessageUpdateToAllConnections(ctx context.Context, providerName, hostMessageID string) (*outbound.FanOutResult, error)
	SyncMessageDeleteToAllConnections(ctx context.Context, providerName, hostMessageID string) (*outbound.FanOutResult, error)
	SyncReactionCreateToAllConnections(ctx context.Context, providerName, hostReactionID string) (*outbound.FanOutResult, error)
	SyncReactionDeleteToAllConnections(ctx context.Context, providerName string, ref outbound.ReactionRef) (*outbound.FanOutResult, error)
}

// Router maps change events to engine calls. External tables feed the
// ingestion engine; host tables are fanned out once per provider.
type Router struct {
	ingest    Ingester
	fanOut    FanOut
	providers func() []string
}

var _ Handler = (*Router)(nil)

func NewRouter(ingest Ingester, fanOut FanOut, providers func() []string) *Router {
	return &Router{ingest: ingest, fanOut: fanOut, providers: providers}
}

// Handle routes one event. Events for other tables and actions without a
// sync meaning are ignored.
func (r *Router) Handle(ctx context.Context, evt Event) error {
	ctx = store.WithSystemActor(ctx, "cdc")
	row := evt.Row()
	if !row.IsObject() {
		return fmt.Errorf("%s %s event has no row", evt.Table, evt.Action)
	}
	switch evt.Table {
	case TableExternalMessages:
		return r.externalMessage(ctx, evt, row)
	case TableExternalReactions:
		return r.externalReaction(ctx, evt, row)
	case TableExternalThreads:
		return r.externalThread(ctx, evt, row)
	case TableMessages:
		return r.hostMessage(ctx, evt, row)
	case TableMessageReactions:
		return r.hostReaction(ctx, evt, row)
	default:
		zerolog.Ctx(ctx).Trace().Msg("Ignoring change on unrouted table")
		return nil
	}
}

// key scopes a dedupe key to the commit position, so replaying a batch is
// deduplicated while a later identical change is not.
func key(evt Event, parts ...string) string {
	return dedup.Key(append(append([]string{"cdc", evt.Table, string(evt.Action)}, parts...), evt.Position())...)
}

func target(row gjson.Result) (inbound.Target, error) {
	t := inbound.Target{
		ConnectionID:      row.Get("sync_connection_id").String(),
		ChannelLinkID:     row.Get("channel_link_id").String(),
		ExternalChannelID: row.Get("external_channel_id").String(),
	}
	if t.ConnectionID == "" {
		return t, errors.New("row has no sync_connection_id")
	}
	if t.ChannelLinkID == "" && t.ExternalChannelID == "" {
		return t, errors.New("row has neither channel_link_id nor external_channel_id")
	}
	return t, nil
}

func required(row gjson.Result, field string) (string, error) {
	v := row.Get(field)
	if v.Type != gjson.String || v.Str == "" {
		return "", fmt.Errorf("row field %s is missing or not a string (got %s)", field, v.Type)
	}
	return v.Str, nil
}

// timestamp accepts RFC 3339 strings and epoch milliseconds.
func timestamp(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int())
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, v.Str); err == nil {
			return t
		}
	}
	return time.Time{}
}

func logResult(ctx context.Context, res inbound.Result, err error) error {
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("status", string(res.Status)).Msg("Ingested change event")
	return nil
}

func (r *Router) externalMessage(ctx context.Context, evt Event, row gjson.Result) error {
	t, err := target(row)
	if err != nil {
		return err
	}
	msgID, err := required(row, "external_message_id")
	if err != nil {
		return err
	}
	switch {
	case evt.Action == ActionDelete, evt.Action == ActionUpdate && row.Get("deleted_at").Exists() && row.Get("deleted_at").Type != gjson.Null:
		res, err := r.ingest.IngestMessageDelete(ctx, inbound.MessageDelete{
			Target:            t,
			ExternalMessageID: msgID,
			DedupeKey:         key(evt, msgID),
		})
		return logResult(ctx, res, err)
	case evt.Action == ActionUpdate:
		res, err := r.ingest.IngestMessageUpdate(ctx, inbound.MessageUpdate{
			Target:            t,
			ExternalMessageID: msgID,
			Content:           row.Get("content").String(),
			WebhookID:         row.Get("webhook_id").String(),
			EditedAt:          timestamp(row.Get("edited_at")),
			DedupeKey:         key(evt, msgID),
		})
		return logResult(ctx, res, err)
	default:
		authorID, err := required(row, "author_id")
		if err != nil {
			return err
		}
		var atts []inbound.Attachment
		row.Get("attachments").ForEach(func(_, att gjson.Result) bool {
			atts = append(atts, inbound.Attachment{
				FileName: att.Get("file_name").String(),
				URL:      att.Get("url").String(),
				Size:     att.Get("size").Int(),
			})
			return true
		})
		res, err := r.ingest.IngestMessageCreate(ctx, inbound.MessageCreate{
			Target:            t,
			ExternalMessageID: msgID,
			Author: inbound.Author{
				ID:          authorID,
				DisplayName: row.Get("author_name").String(),
				AvatarURL:   row.Get("author_avatar_url").String(),
			},
			Content:           row.Get("content").String(),
			ReplyToExternalID: row.Get("reply_to_external_id").String(),
			WebhookID:         row.Get("webhook_id").String(),
			Attachments:       atts,
			SentAt:            timestamp(row.Get("sent_at")),
			DedupeKey:         key(evt, msgID),
		})
		return logResult(ctx, res, err)
	}
}

func (r *Router) externalReaction(ctx context.Context, evt Event, row gjson.Result) error {
	t, err := target(row)
	if err != nil {
		return err
	}
	msgID, err := required(row, "external_message_id")
	if err != nil {
		return err
	}
	userID, err := required(row, "user_id")
	if err != nil {
		return err
	}
	emoji, err := required(row, "emoji")
	if err != nil {
		return err
	}
	reaction := inbound.Reaction{
		Target:            t,
		ExternalMessageID: msgID,
		User:              inbound.Author{ID: userID, DisplayName: row.Get("user_name").String()},
		Emoji:             emoji,
		DedupeKey:         key(evt, msgID, userID, emoji),
	}
	var res inbound.Result
	switch evt.Action {
	case ActionInsert:
		res, err = r.ingest.IngestReactionAdd(ctx, reaction)
	case ActionDelete:
		res, err = r.ingest.IngestReactionRemove(ctx, reaction)
	default:
		zerolog.Ctx(ctx).Trace().Msg("Ignoring reaction row update")
		return nil
	}
	return logResult(ctx, res, err)
}

func (r *Router) externalThread(ctx context.Context, evt Event, row gjson.Result) error {
	if evt.Action != ActionInsert {
		zerolog.Ctx(ctx).Trace().Msg("Ignoring thread row change")
		return nil
	}
	t, err := target(row)
	if err != nil {
		return err
	}
	threadID, err := required(row, "external_thread_id")
	if err != nil {
		return err
	}
	res, err := r.ingest.IngestThreadCreate(ctx, inbound.ThreadCreate{
		Target:                t,
		ExternalThreadID:      threadID,
		Name:                  row.Get("name").String(),
		RootExternalMessageID: row.Get("root_external_message_id").String(),
		DedupeKey:             key(evt, threadID),
	})
	return logResult(ctx, res, err)
}

// each runs fn once per registered provider and returns the first error
// after all providers were tried.
func (r *Router) each(ctx context.Context, fn func(providerName string) (*outbound.FanOutResult, error)) error {
	var firstErr error
	for _, name := range r.providers() {
		res, err := fn(name)
		if err != nil {
			zerolog.Ctx(ctx).Err(err).Str("provider", name).Msg("Fan-out failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("%s fan-out: %w", name, err)
			}
			continue
		}
		zerolog.Ctx(ctx).Debug().
			Str("provider", name).
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Int("skipped", res.Skipped).
			Msg("Fanned out change event")
	}
	return firstErr
}

func (r *Router) hostMessage(ctx context.Context, evt Event, row gjson.Result) error {
	id, err := required(row, "id")
	if err != nil {
		return err
	}
	deleted := evt.Action == ActionDelete ||
		evt.Action == ActionUpdate && row.Get("deleted_at").Exists() && row.Get("deleted_at").Type != gjson.Null
	return r.each(ctx, func(name string) (*outbound.FanOutResult, error) {
		switch {
		case deleted:
			return r.fanOut.SyncMessageDeleteToAllConnections(ctx, name, id)
		case evt.Action == ActionUpdate:
			return r.fanOut.SyncMessageUpdateToAllConnections(ctx, name, id)
		default:
			return r.fanOut.SyncMessageCreateToAllConnections(ctx, name, id)
		}
	})
}

func (r *Router) hostReaction(ctx context.Context, evt Event, row gjson.Result) error {
	switch evt.Action {
	case ActionInsert:
		id, err := required(row, "id")
		if err != nil {
			return err
		}
		return r.each(ctx, func(name string) (*outbound.FanOutResult, error) {
			return r.fanOut.SyncReactionCreateToAllConnections(ctx, name, id)
		})
	case ActionDelete:
		var ref outbound.ReactionRef
		var err error
		if ref.MessageID, err = required(row, "message_id"); err != nil {
			return err
		}
		if ref.UserID, err = required(row, "user_id"); err != nil {
			return err
		}
		if ref.Emoji, err = required(row, "emoji"); err != nil {
			return err
		}
		ref.OriginConnectionID = row.Get("origin_connection_id").String()
		return r.each(ctx, func(name string) (*outbound.FanOutResult, error) {
			return r.fanOut.SyncReactionDeleteToAllConnections(ctx, name, ref)
		})
	default:
		zerolog.Ctx(ctx).Trace().Msg("Ignoring reaction row update")
		return nil
	}
}
