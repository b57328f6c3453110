// Copyright 2024-2026 Aiku AI

package outbound

import (
	"context"
	"strconv"
	"sync"

	"github.com/aiku/chatsync/pkg/store"
	"github.com/aiku/chatsync/pkg/syncerr"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// FanOutResult counts per-link outcomes of a fan-out. Failed targets are
// logged and never stop their siblings.
type FanOutResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Skipped counts links that were not eligible or ended with a policy status.
	Skipped int `json:"skipped"`
}

type counter struct {
	mu  sync.Mutex
	res FanOutResult
}

func (c *counter) add(res Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case err != nil:
		c.res.Failed++
	case res.Status.Ignored():
		c.res.Skipped++
	default:
		c.res.Succeeded++
	}
}

type linkOperation func(ctx context.Context, link *store.ChannelLink) (Result, error)

// fanOut runs fn for every active link of providerName on the host channel,
// or on its parent when the channel is a thread. Links that only accept
// inbound traffic are skipped without calling fn.
func (e *Engine) fanOut(ctx context.Context, name, providerName string, channel *store.HostChannel, fn linkOperation) (*FanOutResult, error) {
	if _, err := e.providers.Get(providerName); err != nil {
		return nil, err
	}
	channelID := channel.ID
	if channel.Type == store.ChannelThread {
		channelID = channel.ParentChannelID
	}
	links, err := e.store.FindActiveByHostChannel(ctx, providerName, channelID)
	if err != nil {
		return nil, err
	}
	log := e.log.With().
		Str("operation", name).
		Str("provider", providerName).
		Str("host_channel_id", channel.ID).
		Logger()

	var c counter
	var g errgroup.Group
	g.SetLimit(e.cfg.FanOutConcurrency)
	for _, link := range links {
		if !link.Direction.AllowsOutbound() {
			c.add(Result{Status: StatusIgnoredDirection}, nil)
			continue
		}
		g.Go(func() error {
			res, err := fn(ctx, link)
			if err != nil {
				log.Warn().
					Err(err).
					Str("channel_link_id", link.ID).
					Str("connection_id", link.SyncConnectionID).
					Msg("Fan-out target failed")
			}
			c.add(res, err)
			return nil
		})
	}
	_ = g.Wait()
	log.Debug().
		Int("succeeded", c.res.Succeeded).
		Int("failed", c.res.Failed).
		Int("skipped", c.res.Skipped).
		Msg("Fan-out finished")
	return &c.res, nil
}

func (e *Engine) channelOf(ctx context.Context, hostMessageID string) (*store.HostChannel, error) {
	_, channel, err := e.hostMessage(ctx, hostMessageID)
	return channel, err
}

// SyncMessageCreateToAllConnections sends a host message over every eligible
// link of providerName.
func (e *Engine) SyncMessageCreateToAllConnections(ctx context.Context, providerName, hostMessageID string) (*FanOutResult, error) {
	channel, err := e.channelOf(ctx, hostMessageID)
	if err != nil {
		return nil, err
	}
	return e.fanOut(ctx, "message_create", providerName, channel, func(ctx context.Context, link *store.ChannelLink) (Result, error) {
		return e.SyncMessageCreate(ctx, link.SyncConnectionID, hostMessageID, Options{ChannelLinkID: link.ID})
	})
}

// SyncMessageUpdateToAllConnections pushes an edit over every eligible link
// of providerName. The edit version is read once, before fanning out.
func (e *Engine) SyncMessageUpdateToAllConnections(ctx context.Context, providerName, hostMessageID string) (*FanOutResult, error) {
	msg, channel, err := e.hostMessage(ctx, hostMessageID)
	if err != nil {
		return nil, err
	}
	return e.fanOut(ctx, "message_update", providerName, channel, func(ctx context.Context, link *store.ChannelLink) (Result, error) {
		return e.SyncMessageUpdate(ctx, link.SyncConnectionID, hostMessageID, Options{
			DedupeKey:     updateKey(hostMessageID, msg, link.ID),
			ChannelLinkID: link.ID,
		})
	})
}

func (e *Engine) SyncMessageDeleteToAllConnections(ctx context.Context, providerName, hostMessageID string) (*FanOutResult, error) {
	channel, err := e.channelOf(ctx, hostMessageID)
	if err != nil {
		return nil, err
	}
	return e.fanOut(ctx, "message_delete", providerName, channel, func(ctx context.Context, link *store.ChannelLink) (Result, error) {
		return e.SyncMessageDelete(ctx, link.SyncConnectionID, hostMessageID, Options{ChannelLinkID: link.ID})
	})
}

func (e *Engine) SyncReactionCreateToAllConnections(ctx context.Context, providerName, hostReactionID string) (*FanOutResult, error) {
	reaction, err := e.store.GetHostReaction(ctx, hostReactionID)
	if err != nil {
		return nil, err
	} else if reaction == nil {
		return nil, syncerr.NotFound("reaction", hostReactionID)
	}
	channel, err := e.channelOf(ctx, reaction.MessageID)
	if err != nil {
		return nil, err
	}
	return e.fanOut(ctx, "reaction_create", providerName, channel, func(ctx context.Context, link *store.ChannelLink) (Result, error) {
		return e.SyncReactionCreate(ctx, link.SyncConnectionID, hostReactionID, Options{ChannelLinkID: link.ID})
	})
}

func (e *Engine) SyncReactionDeleteToAllConnections(ctx context.Context, providerName string, ref ReactionRef) (*FanOutResult, error) {
	channel, err := e.channelOf(ctx, ref.MessageID)
	if err != nil {
		return nil, err
	}
	return e.fanOut(ctx, "reaction_delete", providerName, channel, func(ctx context.Context, link *store.ChannelLink) (Result, error) {
		return e.SyncReactionDelete(ctx, link.SyncConnectionID, ref, Options{ChannelLinkID: link.ID})
	})
}

// CatchUpResult counts the messages handled by SyncConnection.
type CatchUpResult struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SyncConnection sends, for every active outbound link of the connection,
// the oldest host messages that have no link yet, up to the configured cap
// per channel. Individual failures are counted, not returned.
func (e *Engine) SyncConnection(ctx context.Context, connectionID string) (*CatchUpResult, error) {
	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	} else if conn == nil {
		return nil, syncerr.NotFound("sync connection", connectionID)
	}
	log := e.log.With().Str("operation", "catch_up").Str("connection_id", conn.ID).Logger()
	if !conn.IsActive() {
		log.Debug().Str("status", string(conn.Status)).Msg("Skipping catch-up of inactive connection")
		return &CatchUpResult{}, nil
	}
	links, err := e.store.FindActiveBySyncConnection(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	// Catch-up keys are scoped to the run so a failed attempt is retried by
	// the next run; the link uniqueness guard prevents duplicates.
	run := strconv.FormatInt(e.now().UnixMilli(), 10)

	var mu sync.Mutex
	var total CatchUpResult
	var g errgroup.Group
	g.SetLimit(e.cfg.FanOutConcurrency)
	for _, link := range links {
		if !link.Direction.AllowsOutbound() {
			continue
		}
		g.Go(func() error {
			res := e.catchUpLink(ctx, log, conn, link, run)
			mu.Lock()
			total.Sent += res.Sent
			total.Skipped += res.Skipped
			total.Failed += res.Failed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err = e.store.TouchConnectionSynced(ctx, conn.ID, e.now()); err != nil {
		log.Warn().Err(err).Msg("Failed to update connection sync time")
	}
	log.Info().
		Int("sent", total.Sent).
		Int("skipped", total.Skipped).
		Int("failed", total.Failed).
		Msg("Catch-up finished")
	return &total, nil
}

func (e *Engine) catchUpLink(ctx context.Context, log zerolog.Logger, conn *store.SyncConnection, link *store.ChannelLink, run string) (res CatchUpResult) {
	log = log.With().Str("channel_link_id", link.ID).Logger()
	msgs, err := e.store.FindUnlinkedHostMessages(ctx, link.ID, link.HostChannelID, e.cfg.MaxCatchUpPerChannel)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list unlinked messages")
		res.Failed++
		return
	}
	for _, msg := range msgs {
		out, err := e.SyncMessageCreate(ctx, conn.ID, msg.ID, Options{
			ChannelLinkID: link.ID,
			DedupeKey:     key(Options{ChannelLinkID: link.ID}, "host", "catchup", run, msg.ID),
		})
		switch {
		case err != nil:
			log.Warn().Err(err).Str("host_message_id", msg.ID).Msg("Catch-up message failed")
			res.Failed++
		case out.Status == StatusCreated:
			res.Sent++
		default:
			res.Skipped++
		}
	}
	return
}
