// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aiku/chatsync/pkg/inbound"
	"github.com/aiku/chatsync/pkg/provider/mattermost"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = time.Minute
)

// Mattermost decodes Mattermost websocket events.
type Mattermost struct {
	d         *Dispatcher
	adapter   *mattermost.Adapter
	serverURL string
	botPrefix string
	log       zerolog.Logger
}

func NewMattermost(d *Dispatcher, adapter *mattermost.Adapter, serverURL, botPrefix string) *Mattermost {
	return &Mattermost{
		d:         d,
		adapter:   adapter,
		serverURL: strings.TrimRight(serverURL, "/"),
		botPrefix: botPrefix,
		log:       d.log.With().Str("decoder", "mattermost").Logger(),
	}
}

// Run listens on the websocket until ctx is done, reconnecting with backoff
// whenever the connection drops.
func (m *Mattermost) Run(ctx context.Context) error {
	selfID, err := m.adapter.SelfID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve own user: %w", err)
	}
	m.d.AddSelfID(selfID)

	delay := reconnectMinDelay
	for {
		started := time.Now()
		if err = m.listen(ctx); err != nil {
			m.log.Error().Err(err).Msg("WebSocket connection failed")
		}
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > reconnectMaxDelay {
			delay = reconnectMinDelay
		}
		m.log.Warn().Dur("delay", delay).Msg("WebSocket disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, reconnectMaxDelay)
	}
}

func (m *Mattermost) listen(ctx context.Context) error {
	wsURL := httpToWS(m.serverURL)
	ws, err := model.NewWebSocketClient4(wsURL, m.adapter.Client().AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	defer ws.Close()
	ws.Listen()
	m.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ws.EventChannel:
			if !ok {
				if ws.ListenError != nil {
					return ws.ListenError
				}
				return nil
			}
			if evt != nil {
				m.Handle(ctx, evt)
			}
		}
	}
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// Handle decodes one websocket event and forwards it.
func (m *Mattermost) Handle(ctx context.Context, evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		if post := m.post(evt); post != nil {
			m.d.MessageCreated(ctx, m.message(evt, post))
		}
	case model.WebsocketEventPostEdited:
		if post := m.post(evt); post != nil {
			msg := m.message(evt, post)
			if post.EditAt > 0 {
				msg.EditedAt = time.UnixMilli(post.EditAt)
			}
			m.d.MessageUpdated(ctx, msg)
		}
	case model.WebsocketEventPostDeleted:
		if post := m.post(evt); post != nil {
			m.d.MessageDeleted(ctx, Deletion{ChannelID: post.ChannelId, MessageID: post.Id})
		}
	case model.WebsocketEventReactionAdded:
		if r, ok := m.reaction(evt); ok {
			m.d.ReactionAdded(ctx, r)
		}
	case model.WebsocketEventReactionRemoved:
		if r, ok := m.reaction(evt); ok {
			m.d.ReactionRemoved(ctx, r)
		}
	default:
		m.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// post extracts the post of a post event and applies the echo filters. It
// returns nil when the event must be skipped.
func (m *Mattermost) post(evt *model.WebSocketEvent) *model.Post {
	raw, ok := evt.GetData()["post"].(string)
	if !ok {
		m.malformed(evt, "post")
		return nil
	}
	var post model.Post
	if err := json.Unmarshal([]byte(raw), &post); err != nil {
		m.log.Warn().Err(err).Str("event_type", string(evt.EventType())).Msg("Failed to unmarshal post")
		return nil
	}
	if !model.IsValidId(post.Id) || !model.IsValidId(post.ChannelId) || !model.IsValidId(post.UserId) {
		m.malformed(evt, "post.id")
		return nil
	}
	// System messages.
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil
	}
	if m.d.IsSelf(post.UserId) || post.GetProp(model.PostPropsFromBot) == "true" {
		return nil
	}
	if m.isRelayUsername(senderName(evt)) {
		m.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName(evt)).
			Msg("Skipping relay username post (echo prevention)")
		return nil
	}
	return &post
}

func (m *Mattermost) message(evt *model.WebSocketEvent, post *model.Post) Message {
	msg := Message{
		ChannelID: post.ChannelId,
		MessageID: post.Id,
		Author:    inbound.Author{ID: post.UserId, DisplayName: senderName(evt)},
		Content:   post.Message,
		ReplyToID: post.RootId,
		SentAt:    time.UnixMilli(post.CreateAt),
	}
	if hook, ok := post.GetProp(model.PostPropsWebhookDisplayName).(string); ok && hook != "" {
		msg.Author.DisplayName = hook
	}
	if post.Metadata != nil {
		for _, f := range post.Metadata.Files {
			msg.Attachments = append(msg.Attachments, inbound.Attachment{
				FileName: f.Name,
				URL:      m.serverURL + "/api/v4/files/" + f.Id,
				Size:     f.Size,
			})
		}
	}
	return msg
}

func (m *Mattermost) reaction(evt *model.WebSocketEvent) (Reaction, bool) {
	raw, ok := evt.GetData()["reaction"].(string)
	if !ok {
		m.malformed(evt, "reaction")
		return Reaction{}, false
	}
	var reaction model.Reaction
	if err := json.Unmarshal([]byte(raw), &reaction); err != nil {
		m.log.Warn().Err(err).Str("event_type", string(evt.EventType())).Msg("Failed to unmarshal reaction")
		return Reaction{}, false
	}
	channelID := reaction.ChannelId
	if channelID == "" {
		channelID = evt.GetBroadcast().ChannelId
	}
	if !model.IsValidId(reaction.PostId) || !model.IsValidId(reaction.UserId) || !model.IsValidId(channelID) || reaction.EmojiName == "" {
		m.malformed(evt, "reaction.post_id")
		return Reaction{}, false
	}
	if m.isRelayUsername(senderName(evt)) {
		return Reaction{}, false
	}
	return Reaction{
		ChannelID: channelID,
		MessageID: reaction.PostId,
		User:      inbound.Author{ID: reaction.UserId},
		Emoji:     mattermost.EmojiUnicode(reaction.EmojiName),
	}, true
}

// isRelayUsername reports whether username belongs to one of the accounts
// this system posts through.
func (m *Mattermost) isRelayUsername(username string) bool {
	return m.botPrefix != "" && strings.HasPrefix(username, m.botPrefix)
}

func senderName(evt *model.WebSocketEvent) string {
	name, _ := evt.GetData()["sender_name"].(string)
	return strings.TrimPrefix(name, "@")
}

func (m *Mattermost) malformed(evt *model.WebSocketEvent, field string) {
	m.log.Warn().
		Str("event_type", string(evt.EventType())).
		Str("field", field).
		Str("value_type", fmt.Sprintf("%T", evt.GetData()[strings.SplitN(field, ".", 2)[0]])).
		Msg("Dropping malformed gateway event")
}
