// Copyright 2024-2026 Aiku AI

package inbound

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aiku/chatsync/pkg/dedup"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/rs/zerolog"
)

// Attachment is a provider attachment descriptor.
type Attachment struct {
	FileName string
	URL      string
	Size     int64
}

// NormalizeAttachments drops descriptors without a file name or URL and
// clamps negative sizes to zero.
func NormalizeAttachments(in []Attachment) []Attachment {
	out := make([]Attachment, 0, len(in))
	for _, att := range in {
		att.FileName = strings.TrimSpace(att.FileName)
		att.URL = strings.TrimSpace(att.URL)
		if att.FileName == "" || att.URL == "" {
			continue
		}
		att.Size = max(att.Size, 0)
		out = append(out, att)
	}
	return out
}

// MessageCreate is a new provider message.
type MessageCreate struct {
	Target
	ExternalMessageID string
	Author            Author
	Content           string
	ReplyToExternalID string
	// WebhookID is set when the provider message was sent through a webhook.
	WebhookID   string
	Attachments []Attachment
	SentAt      time.Time
	DedupeKey   string
}

// IngestMessageCreate inserts the host copy of a provider message.
func (e *Engine) IngestMessageCreate(ctx context.Context, evt MessageCreate) (Result, error) {
	op, ctx, err := e.begin(ctx, "message_create", evt.ConnectionID,
		key(evt.DedupeKey, "external", "message", "create", evt.ExternalMessageID))
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	op.payload = evt
	res, err := e.messageCreate(ctx, op, evt)
	return e.finish(ctx, op, res, err)
}

func (e *Engine) messageCreate(ctx context.Context, op *operation, evt MessageCreate) (Result, error) {
	sc, status, err := e.resolve(ctx, op, evt.Target)
	if err != nil || status != "" {
		return Result{Status: status}, err
	} else if sc.fromOwnWebhook(evt.WebhookID) {
		return Result{Status: StatusIgnoredWebhookOrigin}, nil
	}
	existing, err := e.store.FindByExternalMessage(ctx, sc.link.ID, evt.ExternalMessageID)
	if err != nil {
		return Result{}, err
	} else if existing != nil {
		return Result{Status: StatusAlreadyLinked, HostID: existing.HostMessageID}, nil
	}
	author, err := e.resolveUser(ctx, sc.conn, evt.Author)
	if err != nil {
		return Result{}, err
	}

	msg := &store.HostMessage{
		ChannelID: sc.link.HostChannelID,
		AuthorID:  author.ID,
		Content:   evt.Content,
		CreatedAt: evt.SentAt,
	}
	if evt.ReplyToExternalID != "" {
		reply, err := e.store.FindByExternalMessage(ctx, sc.link.ID, evt.ReplyToExternalID)
		if err != nil {
			return Result{}, err
		} else if reply != nil {
			msg.ReplyToMessageID = reply.HostMessageID
		}
	}
	attachments := NormalizeAttachments(evt.Attachments)
	link := &store.MessageLink{
		ChannelLinkID:     sc.link.ID,
		ExternalMessageID: evt.ExternalMessageID,
		Source:            store.SourceExternal,
	}
	if sc.link.IsThread() {
		link.ExternalThreadID = sc.link.ExternalChannelID
	}

	err = e.store.DoTxn(ctx, func(ctx context.Context) error {
		if err := e.store.InsertHostMessage(ctx, msg); err != nil {
			return err
		}
		for _, att := range attachments {
			err := e.store.InsertHostAttachment(ctx, &store.HostAttachment{
				MessageID:   msg.ID,
				FileName:    att.FileName,
				FileSize:    att.Size,
				Status:      store.AttachmentComplete,
				ExternalURL: att.URL,
			})
			if err != nil {
				return err
			}
		}
		link.HostMessageID = msg.ID
		if created, err := e.store.InsertMessageLink(ctx, link); err != nil {
			return err
		} else if !created {
			return errRaced
		}
		return nil
	})
	if errors.Is(err, errRaced) {
		return Result{Status: StatusAlreadyLinked}, nil
	} else if err != nil {
		return Result{}, err
	}
	zerolog.Ctx(ctx).Debug().
		Str("host_message_id", msg.ID).
		Int("attachments", len(attachments)).
		Msg("Ingested provider message")
	return Result{Status: StatusCreated, HostID: msg.ID}, nil
}

// MessageUpdate is an edit of a provider message.
type MessageUpdate struct {
	Target
	ExternalMessageID string
	Content           string
	WebhookID         string
	// EditedAt is the provider's edit timestamp, if it supplies one.
	EditedAt  time.Time
	DedupeKey string
}

// UpdateVersion identifies one edit: the edit time when known, otherwise a
// short hash of the new content prefixed with "h".
func UpdateVersion(editedAt time.Time, content string) string {
	if !editedAt.IsZero() {
		return strconv.FormatInt(editedAt.UnixMilli(), 10)
	}
	return "h" + dedup.ContentHash(content)
}

// IngestMessageUpdate replaces the content of a linked host message.
func (e *Engine) IngestMessageUpdate(ctx context.Context, evt MessageUpdate) (Result, error) {
	op, ctx, err := e.begin(ctx, "message_update", evt.ConnectionID,
		key(evt.DedupeKey, "external", "message", "update", evt.ExternalMessageID, UpdateVersion(evt.EditedAt, evt.Content)))
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	op.payload = evt
	res, err := e.messageUpdate(ctx, op, evt)
	return e.finish(ctx, op, res, err)
}

func (e *Engine) messageUpdate(ctx context.Context, op *operation, evt MessageUpdate) (Result, error) {
	sc, status, err := e.resolve(ctx, op, evt.Target)
	if err != nil || status != "" {
		return Result{Status: status}, err
	} else if sc.fromOwnWebhook(evt.WebhookID) {
		return Result{Status: StatusIgnoredWebhookOrigin}, nil
	}
	ml, err := e.store.FindByExternalMessage(ctx, sc.link.ID, evt.ExternalMessageID)
	if err != nil {
		return Result{}, err
	} else if ml == nil {
		return Result{Status: StatusIgnoredMissingLink}, nil
	}
	at := evt.EditedAt
	if at.IsZero() {
		at = e.now()
	}
	if err = e.store.UpdateHostMessageContent(ctx, ml.HostMessageID, evt.Content, at); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusUpdated, HostID: ml.HostMessageID}, nil
}

// MessageDelete is the deletion of a provider message.
type MessageDelete struct {
	Target
	ExternalMessageID string
	DedupeKey         string
}

// IngestMessageDelete soft-deletes a linked host message and its link.
func (e *Engine) IngestMessageDelete(ctx context.Context, evt MessageDelete) (Result, error) {
	op, ctx, err := e.begin(ctx, "message_delete", evt.ConnectionID,
		key(evt.DedupeKey, "external", "message", "delete", evt.ExternalMessageID))
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	op.payload = evt
	res, err := e.messageDelete(ctx, op, evt)
	return e.finish(ctx, op, res, err)
}

func (e *Engine) messageDelete(ctx context.Context, op *operation, evt MessageDelete) (Result, error) {
	sc, status, err := e.resolve(ctx, op, evt.Target)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	ml, err := e.store.FindByExternalMessage(ctx, sc.link.ID, evt.ExternalMessageID)
	if err != nil {
		return Result{}, err
	} else if ml == nil {
		return Result{Status: StatusIgnoredMissingLink}, nil
	}
	now := e.now()
	err = e.store.DoTxn(ctx, func(ctx context.Context) error {
		if err := e.store.SoftDeleteHostMessage(ctx, ml.HostMessageID, now); err != nil {
			return err
		}
		return e.store.SoftDeleteMessageLink(ctx, ml.ID, now)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Status: StatusDeleted, HostID: ml.HostMessageID}, nil
}
