// Copyright 2024-2026 Aiku AI

package inbound

import (
	"context"
	"errors"

	"github.com/aiku/chatsync/pkg/store"
	"github.com/rs/zerolog"
)

// ThreadCreate is a new provider thread under a linked channel. Target
// names the parent channel.
type ThreadCreate struct {
	Target
	ExternalThreadID string
	Name             string
	// RootExternalMessageID is the provider message the thread starts from, if any.
	RootExternalMessageID string
	DedupeKey             string
}

// IngestThreadCreate creates the host thread channel and its link. Threads
// that already have a link on the connection return StatusAlreadyLinked.
func (e *Engine) IngestThreadCreate(ctx context.Context, evt ThreadCreate) (Result, error) {
	op, ctx, err := e.begin(ctx, "thread_create", evt.ConnectionID,
		key(evt.DedupeKey, "external", "thread", "create", evt.ExternalThreadID))
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	op.payload = evt
	res, err := e.threadCreate(ctx, op, evt)
	return e.finish(ctx, op, res, err)
}

func (e *Engine) threadCreate(ctx context.Context, op *operation, evt ThreadCreate) (Result, error) {
	sc, status, err := e.resolve(ctx, op, evt.Target)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	parent := sc.link
	if existing, err := e.store.FindChannelLinkByExternalChannel(ctx, sc.conn.ID, evt.ExternalThreadID); err != nil {
		return Result{}, err
	} else if existing != nil {
		return Result{Status: StatusAlreadyLinked, ChannelLinkID: existing.ID, HostID: existing.HostChannelID}, nil
	}
	parentChannel, err := e.store.GetHostChannel(ctx, parent.HostChannelID)
	if err != nil {
		return Result{}, err
	}
	orgID := sc.conn.OrganizationID
	if parentChannel != nil {
		orgID = parentChannel.OrganizationID
	}

	var rootMessageID string
	if evt.RootExternalMessageID != "" {
		root, err := e.store.FindByExternalMessage(ctx, parent.ID, evt.RootExternalMessageID)
		if err != nil {
			return Result{}, err
		} else if root != nil {
			rootMessageID = root.HostMessageID
		}
	}

	channel := &store.HostChannel{
		OrganizationID:      orgID,
		Name:                evt.Name,
		Type:                store.ChannelThread,
		ParentChannelID:     parent.HostChannelID,
		ThreadRootMessageID: rootMessageID,
	}
	link := &store.ChannelLink{
		SyncConnectionID:  sc.conn.ID,
		ExternalChannelID: evt.ExternalThreadID,
		Direction:         parent.Direction,
		Active:            true,
		Settings:          parent.Settings,
		ParentLinkID:      parent.ID,
	}
	err = e.store.DoTxn(ctx, func(ctx context.Context) error {
		// The outbound engine may have linked the thread since the check above.
		if linked, err := e.store.FindChannelLinkByExternalChannel(ctx, sc.conn.ID, evt.ExternalThreadID); err != nil {
			return err
		} else if linked != nil {
			return errRaced
		}
		if err := e.store.InsertHostChannel(ctx, channel); err != nil {
			return err
		}
		link.HostChannelID = channel.ID
		if created, err := e.store.InsertChannelLink(ctx, link); err != nil {
			return err
		} else if !created {
			return errRaced
		}
		if rootMessageID != "" {
			return e.store.SetMessageThread(ctx, rootMessageID, channel.ID)
		}
		return nil
	})
	if errors.Is(err, errRaced) {
		return Result{Status: StatusAlreadyLinked}, nil
	} else if err != nil {
		return Result{}, err
	}
	zerolog.Ctx(ctx).Info().
		Str("thread_channel_id", channel.ID).
		Str("external_thread_id", evt.ExternalThreadID).
		Bool("root_resolved", rootMessageID != "").
		Msg("Ingested provider thread")
	return Result{Status: StatusCreated, ChannelLinkID: link.ID, HostID: channel.ID}, nil
}
