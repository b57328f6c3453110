// Copyright 2024-2026 Aiku AI

package inbound

import (
	"context"

	"github.com/aiku/chatsync/pkg/store"
)

// Reaction is a provider reaction added or removed by one user.
type Reaction struct {
	Target
	ExternalMessageID string
	User              Author
	Emoji             string
	DedupeKey         string
}

// IngestReactionAdd records the host reaction. Adding a reaction the host
// already has returns StatusAlreadyExists.
func (e *Engine) IngestReactionAdd(ctx context.Context, evt Reaction) (Result, error) {
	op, ctx, err := e.begin(ctx, "reaction_add", evt.ConnectionID,
		key(evt.DedupeKey, "external", "reaction", "add", evt.ExternalMessageID, evt.User.ID, evt.Emoji))
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	op.payload = evt
	res, err := e.reactionAdd(ctx, op, evt)
	return e.finish(ctx, op, res, err)
}

func (e *Engine) reactionAdd(ctx context.Context, op *operation, evt Reaction) (Result, error) {
	ml, user, status, err := e.reactionScope(ctx, op, evt)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	existing, err := e.store.FindHostReaction(ctx, ml.HostMessageID, user.ID, evt.Emoji)
	if err != nil {
		return Result{}, err
	} else if existing != nil {
		return Result{Status: StatusAlreadyExists, HostID: existing.ID}, nil
	}
	reaction := &store.HostReaction{
		MessageID:          ml.HostMessageID,
		UserID:             user.ID,
		Emoji:              evt.Emoji,
		OriginConnectionID: evt.ConnectionID,
	}
	created, err := e.store.InsertHostReaction(ctx, reaction)
	if err != nil {
		return Result{}, err
	} else if !created {
		return Result{Status: StatusAlreadyExists}, nil
	}
	return Result{Status: StatusCreated, HostID: reaction.ID}, nil
}

// IngestReactionRemove deletes the host reaction. Removing a reaction the
// host does not have returns StatusAlreadyDeleted.
func (e *Engine) IngestReactionRemove(ctx context.Context, evt Reaction) (Result, error) {
	op, ctx, err := e.begin(ctx, "reaction_remove", evt.ConnectionID,
		key(evt.DedupeKey, "external", "reaction", "remove", evt.ExternalMessageID, evt.User.ID, evt.Emoji))
	if err != nil || op == nil {
		return Result{Status: StatusDeduped}, err
	}
	op.payload = evt
	res, err := e.reactionRemove(ctx, op, evt)
	return e.finish(ctx, op, res, err)
}

func (e *Engine) reactionRemove(ctx context.Context, op *operation, evt Reaction) (Result, error) {
	ml, user, status, err := e.reactionScope(ctx, op, evt)
	if err != nil || status != "" {
		return Result{Status: status}, err
	}
	existing, err := e.store.FindHostReaction(ctx, ml.HostMessageID, user.ID, evt.Emoji)
	if err != nil {
		return Result{}, err
	} else if existing == nil {
		return Result{Status: StatusAlreadyDeleted}, nil
	}
	if err = e.store.DeleteHostReaction(ctx, existing.ID); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusDeleted, HostID: existing.ID}, nil
}

func (e *Engine) reactionScope(ctx context.Context, op *operation, evt Reaction) (*store.MessageLink, *store.HostUser, Status, error) {
	sc, status, err := e.resolve(ctx, op, evt.Target)
	if err != nil || status != "" {
		return nil, nil, status, err
	}
	ml, err := e.store.FindByExternalMessage(ctx, sc.link.ID, evt.ExternalMessageID)
	if err != nil {
		return nil, nil, "", err
	} else if ml == nil {
		return nil, nil, StatusIgnoredMissingLink, nil
	}
	user, err := e.resolveUser(ctx, sc.conn, evt.User)
	if err != nil {
		return nil, nil, "", err
	}
	return ml, user, "", nil
}
