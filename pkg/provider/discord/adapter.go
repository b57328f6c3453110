// Copyright 2024-2026 Aiku AI

// Package discord implements the Discord provider adapter and the webhook
// identity manager on top of discordgo.
package discord

import (
	"context"

	"github.com/aiku/chatsync/pkg/provider"
	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
)

const ProviderName = "discord"

const (
	MaxContentLength    = 2000
	MaxThreadNameLength = 100

	// threadAutoArchiveMinutes is the inactivity window after which Discord
	// archives threads created by the sync engine.
	threadAutoArchiveMinutes = 1440
)

// Limits are Discord's input constraints.
var Limits = provider.Limits{
	Provider:            ProviderName,
	MaxContentLength:    MaxContentLength,
	MaxThreadNameLength: MaxThreadNameLength,
	ValidID:             ValidSnowflake,
}

// ValidSnowflake reports whether id is a positive decimal snowflake.
func ValidSnowflake(id string) bool {
	sf, err := snowflake.ParseString(id)
	return err == nil && sf.Int64() > 0
}

// GatewayIntents are the intents the gateway listener needs.
const GatewayIntents = discordgo.IntentGuilds |
	discordgo.IntentGuildMessages |
	discordgo.IntentGuildMessageReactions |
	discordgo.IntentMessageContent

// NewSession creates a bot session for token.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = GatewayIntents
	// The sync engine owns retries and state tracking.
	session.MaxRestRetries = 0
	session.ShouldRetryOnRateLimit = false
	session.StateEnabled = false
	return session, nil
}

// Adapter is the Discord provider adapter.
type Adapter struct {
	session *discordgo.Session
	log     zerolog.Logger
}

var _ provider.Adapter = (*Adapter)(nil)

func NewAdapter(session *discordgo.Session, log zerolog.Logger) *Adapter {
	return &Adapter{
		session: session,
		log:     log.With().Str("component", "discord_adapter").Logger(),
	}
}

func (a *Adapter) Name() string {
	return ProviderName
}

// Session returns the underlying discordgo session.
func (a *Adapter) Session() *discordgo.Session {
	return a.session
}

func requestOptions(ctx context.Context, extra ...discordgo.RequestOption) []discordgo.RequestOption {
	return append([]discordgo.RequestOption{
		discordgo.WithContext(ctx),
		discordgo.WithRestRetries(0),
		discordgo.WithRetryOnRatelimit(false),
	}, extra...)
}

// noMentions keeps synced content from pinging anyone on Discord.
func noMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
}

func (a *Adapter) send(ctx context.Context, tag string, p provider.CreateMessageParams) (*provider.SentMessage, error) {
	data := &discordgo.MessageSend{
		Content:         p.Content,
		AllowedMentions: noMentions(),
	}
	if p.ReplyToMessageID != "" {
		failIfMissing := false
		data.Reference = &discordgo.MessageReference{
			MessageID:       p.ReplyToMessageID,
			ChannelID:       p.ChannelID,
			FailIfNotExists: &failIfMissing,
		}
	}
	msg, err := a.session.ChannelMessageSendComplex(p.ChannelID, data, requestOptions(ctx)...)
	if err != nil {
		return nil, classify(tag, err)
	}
	return sentMessage(msg, p.ChannelID), nil
}

func sentMessage(msg *discordgo.Message, channelID string) *provider.SentMessage {
	if msg.ChannelID != "" {
		channelID = msg.ChannelID
	}
	return &provider.SentMessage{ChannelID: channelID, MessageID: msg.ID}
}

func (a *Adapter) CreateMessage(ctx context.Context, p provider.CreateMessageParams) (*provider.SentMessage, error) {
	if err := Limits.CheckCreate(p); err != nil {
		return nil, err
	}
	return a.send(ctx, "discord.create_message", p)
}

// CreateMessageWithAttachments appends the attachment URLs to the content;
// Discord unfurls them inline.
func (a *Adapter) CreateMessageWithAttachments(ctx context.Context, p provider.CreateMessageParams) (*provider.SentMessage, error) {
	p.Content = provider.ContentWithAttachments(p.Content, p.Attachments)
	if err := Limits.CheckCreate(p); err != nil {
		return nil, err
	}
	return a.send(ctx, "discord.create_message_with_attachments", p)
}

func (a *Adapter) UpdateMessage(ctx context.Context, p provider.UpdateMessageParams) error {
	if err := Limits.CheckUpdate(p); err != nil {
		return err
	}
	edit := discordgo.NewMessageEdit(p.ChannelID, p.MessageID).SetContent(p.Content)
	edit.AllowedMentions = noMentions()
	_, err := a.session.ChannelMessageEditComplex(edit, requestOptions(ctx)...)
	return classify("discord.update_message", err)
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := Limits.CheckDelete(channelID, messageID); err != nil {
		return err
	}
	return classify("discord.delete_message", a.session.ChannelMessageDelete(channelID, messageID, requestOptions(ctx)...))
}

func (a *Adapter) AddReaction(ctx context.Context, p provider.ReactionParams) error {
	if err := Limits.CheckReaction(p); err != nil {
		return err
	}
	return classify("discord.add_reaction", a.session.MessageReactionAdd(p.ChannelID, p.MessageID, p.Emoji, requestOptions(ctx)...))
}

// RemoveReaction removes the bot's own reaction, which is the aggregate the
// sync engine added for every host user.
func (a *Adapter) RemoveReaction(ctx context.Context, p provider.ReactionParams) error {
	if err := Limits.CheckReaction(p); err != nil {
		return err
	}
	return classify("discord.remove_reaction", a.session.MessageReactionRemove(p.ChannelID, p.MessageID, p.Emoji, "@me", requestOptions(ctx)...))
}

func (a *Adapter) CreateThread(ctx context.Context, p provider.CreateThreadParams) (*provider.Thread, error) {
	if err := Limits.CheckThread(p); err != nil {
		return nil, err
	}
	ch, err := a.session.MessageThreadStartComplex(p.ChannelID, p.MessageID, &discordgo.ThreadStart{
		Name:                p.Name,
		AutoArchiveDuration: threadAutoArchiveMinutes,
	}, requestOptions(ctx)...)
	if err != nil {
		return nil, classify("discord.create_thread", err)
	}
	return &provider.Thread{ThreadID: ch.ID}, nil
}
