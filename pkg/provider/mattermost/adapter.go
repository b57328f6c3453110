// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mattermost implements the Mattermost provider adapter on top of the
// Client4 REST client.
package mattermost

import (
	"context"
	"sync"

	"github.com/aiku/chatsync/pkg/provider"
	"github.com/aiku/chatsync/pkg/syncerr"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

const ProviderName = "mattermost"

// MaxContentLength is the post length limit of a default Mattermost server.
const MaxContentLength = 16383

// Limits are Mattermost's input constraints. Threads are reply chains, so
// there is no thread name limit.
var Limits = provider.Limits{
	Provider:         ProviderName,
	MaxContentLength: MaxContentLength,
	ValidID:          model.IsValidId,
}

// NewClient returns a Client4 authenticated with a bot or personal access token.
func NewClient(serverURL, token string) *model.Client4 {
	client := model.NewAPIv4Client(serverURL)
	client.SetToken(token)
	return client
}

// Adapter is the Mattermost provider adapter.
type Adapter struct {
	client *model.Client4
	log    zerolog.Logger

	selfMu sync.Mutex
	selfID string
}

var _ provider.Adapter = (*Adapter)(nil)

func NewAdapter(client *model.Client4, log zerolog.Logger) *Adapter {
	return &Adapter{
		client: client,
		log:    log.With().Str("component", "mattermost_adapter").Logger(),
	}
}

func (a *Adapter) Name() string {
	return ProviderName
}

// Client returns the underlying REST client.
func (a *Adapter) Client() *model.Client4 {
	return a.client
}

// SelfID returns the user id of the token's account, fetched once.
func (a *Adapter) SelfID(ctx context.Context) (string, error) {
	a.selfMu.Lock()
	defer a.selfMu.Unlock()
	if a.selfID != "" {
		return a.selfID, nil
	}
	me, resp, err := a.client.GetMe(ctx, "")
	if err != nil {
		return "", classify("mattermost.get_me", resp, err)
	}
	a.selfID = me.Id
	a.log.Debug().Str("user_id", me.Id).Str("username", me.Username).Msg("Resolved own user")
	return a.selfID, nil
}

func (a *Adapter) create(ctx context.Context, tag string, p provider.CreateMessageParams) (*provider.SentMessage, error) {
	post := &model.Post{
		ChannelId: p.ChannelID,
		Message:   p.Content,
	}
	if p.ReplyToMessageID != "" {
		post.RootId = p.ReplyToMessageID
	}
	created, resp, err := a.client.CreatePost(ctx, post)
	if err != nil {
		return nil, classify(tag, resp, err)
	}
	channelID := created.ChannelId
	if channelID == "" {
		channelID = p.ChannelID
	}
	return &provider.SentMessage{ChannelID: channelID, MessageID: created.Id}, nil
}

func (a *Adapter) CreateMessage(ctx context.Context, p provider.CreateMessageParams) (*provider.SentMessage, error) {
	if err := Limits.CheckCreate(p); err != nil {
		return nil, err
	}
	return a.create(ctx, "mattermost.create_message", p)
}

// CreateMessageWithAttachments links the attachments by URL; Mattermost
// renders link previews for them.
func (a *Adapter) CreateMessageWithAttachments(ctx context.Context, p provider.CreateMessageParams) (*provider.SentMessage, error) {
	p.Content = provider.ContentWithAttachments(p.Content, p.Attachments)
	if err := Limits.CheckCreate(p); err != nil {
		return nil, err
	}
	return a.create(ctx, "mattermost.create_message_with_attachments", p)
}

func (a *Adapter) UpdateMessage(ctx context.Context, p provider.UpdateMessageParams) error {
	if err := Limits.CheckUpdate(p); err != nil {
		return err
	}
	_, resp, err := a.client.PatchPost(ctx, p.MessageID, &model.PostPatch{Message: &p.Content})
	return classify("mattermost.update_message", resp, err)
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := Limits.CheckDelete(channelID, messageID); err != nil {
		return err
	}
	resp, err := a.client.DeletePost(ctx, messageID)
	return classify("mattermost.delete_message", resp, err)
}

func (a *Adapter) reaction(ctx context.Context, p provider.ReactionParams) (*model.Reaction, error) {
	userID, err := a.SelfID(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Reaction{
		UserId:    userID,
		PostId:    p.MessageID,
		EmojiName: EmojiName(p.Emoji),
	}, nil
}

func (a *Adapter) AddReaction(ctx context.Context, p provider.ReactionParams) error {
	if err := Limits.CheckReaction(p); err != nil {
		return err
	}
	reaction, err := a.reaction(ctx, p)
	if err != nil {
		return err
	}
	_, resp, err := a.client.SaveReaction(ctx, reaction)
	return classify("mattermost.add_reaction", resp, err)
}

func (a *Adapter) RemoveReaction(ctx context.Context, p provider.ReactionParams) error {
	if err := Limits.CheckReaction(p); err != nil {
		return err
	}
	reaction, err := a.reaction(ctx, p)
	if err != nil {
		return err
	}
	resp, err := a.client.DeleteReaction(ctx, reaction)
	return classify("mattermost.remove_reaction", resp, err)
}

// CreateThread is unsupported: a Mattermost thread is a reply chain on its
// root post and has no channel of its own to link.
func (a *Adapter) CreateThread(_ context.Context, p provider.CreateThreadParams) (*provider.Thread, error) {
	if err := Limits.CheckThread(p); err != nil {
		return nil, err
	}
	return nil, syncerr.Configuration("%s: threads are reply chains and cannot be created as channels", ProviderName)
}
