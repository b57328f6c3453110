// Copyright 2024-2026 Aiku AI

package outbound

import (
	"context"

	"github.com/aiku/chatsync/pkg/provider"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/aiku/chatsync/pkg/syncerr"
)

// ReactionRef identifies a removed host reaction, whose row may already be gone.
type ReactionRef struct {
	MessageID string
	UserID    string
	Emoji     string
	// OriginConnectionID is the origin_connection_id of the removed row, if known.
	OriginConnectionID string
}

// SyncReactionCreate adds the provider reaction for a host reaction on a
// linked message.
func (e *Engine) SyncReactionCreate(ctx context.Context, connectionID, hostReactionID string, opts Options) (Result, error) {
	op, ctx, err := e.begin(ctx, "reaction_create", connectionID, key(opts, "host", "reaction", "create", hostReactionID))
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	res, err := e.reactionCreate(ctx, op, hostReactionID, opts)
	return e.finish(ctx, op, res, err)
}

func (e *Engine) reactionCreate(ctx context.Context, op *operation, hostReactionID string, opts Options) (Result, error) {
	conn, err := e.connection(ctx, op.connectionID)
	if err != nil {
		return Result{}, err
	} else if conn == nil {
		return Result{Status: StatusIgnoredConnectionInactive}, nil
	}
	reaction, err := e.store.GetHostReaction(ctx, hostReactionID)
	if err != nil {
		return Result{}, err
	} else if reaction == nil {
		return Result{}, syncerr.NotFound("reaction", hostReactionID)
	}
	t, ml, status, err := e.reactionTarget(ctx, op, conn, reaction.MessageID, opts)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	if reaction.OriginConnectionID == conn.ID {
		return Result{Status: StatusIgnoredExternalOrigin}, nil
	}
	params := provider.ReactionParams{
		ChannelID: t.link.ExternalChannelID,
		MessageID: ml,
		Emoji:     reaction.Emoji,
	}
	op.payload = params
	if err = t.adapter.AddReaction(ctx, params); err != nil {
		return Result{}, err
	}
	e.touch(ctx, t)
	return Result{Status: StatusCreated}, nil
}

// SyncReactionDelete removes the provider reaction for a removed host
// reaction. Providers show one aggregate reaction per emoji, so while
// another host user still reacts with the same emoji the provider is left
// alone and the result is StatusIgnoredRemainingReactions.
func (e *Engine) SyncReactionDelete(ctx context.Context, connectionID string, ref ReactionRef, opts Options) (Result, error) {
	op, ctx, err := e.begin(ctx, "reaction_delete", connectionID, key(opts, "host", "reaction", "delete", ref.MessageID, ref.Emoji, ref.UserID))
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	res, err := e.reactionDelete(ctx, op, ref, opts)
	return e.finish(ctx, op, res, err)
}

func (e *Engine) reactionDelete(ctx context.Context, op *operation, ref ReactionRef, opts Options) (Result, error) {
	conn, err := e.connection(ctx, op.connectionID)
	if err != nil {
		return Result{}, err
	} else if conn == nil {
		return Result{Status: StatusIgnoredConnectionInactive}, nil
	}
	t, ml, status, err := e.reactionTarget(ctx, op, conn, ref.MessageID, opts)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	if external, err := e.ingestedFrom(ctx, conn, ref); err != nil {
		return Result{}, err
	} else if external {
		return Result{Status: StatusIgnoredExternalOrigin}, nil
	}
	remaining, err := e.store.CountOtherReactions(ctx, ref.MessageID, ref.Emoji, ref.UserID, conn.ID)
	if err != nil {
		return Result{}, err
	} else if remaining > 0 {
		return Result{Status: StatusIgnoredRemainingReactions}, nil
	}
	params := provider.ReactionParams{
		ChannelID: t.link.ExternalChannelID,
		MessageID: ml,
		Emoji:     ref.Emoji,
	}
	op.payload = params
	if err = t.adapter.RemoveReaction(ctx, params); err != nil {
		return Result{}, err
	}
	e.touch(ctx, t)
	return Result{Status: StatusDeleted}, nil
}

// reactionTarget resolves the link and the external id of the reacted-to message.
func (e *Engine) reactionTarget(ctx context.Context, op *operation, conn *store.SyncConnection, hostMessageID string, opts Options) (*target, string, Status, error) {
	_, channel, err := e.hostMessage(ctx, hostMessageID)
	if err != nil {
		return nil, "", "", err
	}
	t, status, err := e.resolve(ctx, op, conn, channel, opts, false)
	if err != nil || status != "" {
		return nil, "", status, err
	}
	ml, err := e.store.FindByHostMessage(ctx, t.link.ID, hostMessageID)
	if err != nil {
		return nil, "", "", err
	} else if ml == nil {
		return nil, "", StatusIgnoredMissingLink, nil
	}
	return t, ml.ExternalMessageID, "", nil
}

// ingestedFrom reports whether a removed reaction came from conn. Without a
// recorded origin, a reaction by one of the provider's shadow users is taken
// to be the provider's own.
func (e *Engine) ingestedFrom(ctx context.Context, conn *store.SyncConnection, ref ReactionRef) (bool, error) {
	if ref.OriginConnectionID != "" {
		return ref.OriginConnectionID == conn.ID, nil
	}
	user, err := e.store.GetHostUser(ctx, ref.UserID)
	if err != nil || user == nil {
		return false, err
	}
	return user.IsShadowOf(conn.Provider), nil
}
