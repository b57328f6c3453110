// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/aiku/chatsync/pkg/inbound"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/rs/zerolog"
)

// call is one recorded ingestion.
type call struct {
	Method string
	Target inbound.Target
	Event  any
	Key    string
}

// recorder is an Ingester that records calls and answers with created.
type recorder struct {
	mu    sync.Mutex
	calls []call
	// fail makes ingestion on the named link fail.
	fail string
	// missingActor is set when a call carried no system actor.
	missingActor bool
}

func (r *recorder) record(ctx context.Context, method string, target inbound.Target, evt any, key string) (inbound.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := store.ActorFrom(ctx); !ok {
		r.missingActor = true
	}
	r.calls = append(r.calls, call{Method: method, Target: target, Event: evt, Key: key})
	if target.ChannelLinkID == r.fail {
		return inbound.Result{}, errors.New("ingestion failed")
	}
	return inbound.Result{Status: inbound.StatusCreated, ChannelLinkID: target.ChannelLinkID}, nil
}

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *recorder) IngestMessageCreate(ctx context.Context, evt inbound.MessageCreate) (inbound.Result, error) {
	return r.record(ctx, "message_create", evt.Target, evt, evt.DedupeKey)
}

func (r *recorder) IngestMessageUpdate(ctx context.Context, evt inbound.MessageUpdate) (inbound.Result, error) {
	return r.record(ctx, "message_update", evt.Target, evt, evt.DedupeKey)
}

func (r *recorder) IngestMessageDelete(ctx context.Context, evt inbound.MessageDelete) (inbound.Result, error) {
	return r.record(ctx, "message_delete", evt.Target, evt, evt.DedupeKey)
}

func (r *recorder) IngestReactionAdd(ctx context.Context, evt inbound.Reaction) (inbound.Result, error) {
	return r.record(ctx, "reaction_add", evt.Target, evt, evt.DedupeKey)
}

func (r *recorder) IngestReactionRemove(ctx context.Context, evt inbound.Reaction) (inbound.Result, error) {
	return r.record(ctx, "reaction_remove", evt.Target, evt, evt.DedupeKey)
}

func (r *recorder) IngestThreadCreate(ctx context.Context, evt inbound.ThreadCreate) (inbound.Result, error) {
	return r.record(ctx, "thread_create", evt.Target, evt, evt.DedupeKey)
}

// staticLinks serves links by external channel id.
type staticLinks map[string][]*store.ChannelLink

func (s staticLinks) FindActiveByExternalChannel(_ context.Context, _, externalChannelID string) ([]*store.ChannelLink, error) {
	return s[externalChannelID], nil
}

func link(id, connectionID string, direction store.Direction) *store.ChannelLink {
	return &store.ChannelLink{ID: id, SyncConnectionID: connectionID, Direction: direction, Active: true}
}

func newTestDispatcher(provider string, links staticLinks) (*Dispatcher, *recorder) {
	rec := &recorder{}
	return NewDispatcher(provider, links, rec, zerolog.Nop()), rec
}
