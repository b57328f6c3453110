// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"time"

	"github.com/aiku/chatsync/pkg/inbound"
	"github.com/aiku/chatsync/pkg/provider/discord"
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.mau.fi/util/variationselector"
)

// Discord gateway channel types that are threads.
const (
	channelTypeAnnouncementThread = 10
	channelTypePublicThread       = 11
	channelTypePrivateThread      = 12
)

// Discord decodes raw Discord gateway dispatches.
type Discord struct {
	d   *Dispatcher
	log zerolog.Logger
}

func NewDiscord(d *Dispatcher) *Discord {
	return &Discord{d: d, log: d.log.With().Str("decoder", "discord").Logger()}
}

// Attach registers the decoder on a session. Events are handled with ctx.
func (g *Discord) Attach(ctx context.Context, session *discordgo.Session) func() {
	return session.AddHandler(func(_ *discordgo.Session, evt *discordgo.Event) {
		g.Handle(ctx, evt)
	})
}

// Handle decodes one gateway dispatch and forwards it. Malformed events are
// logged and dropped.
func (g *Discord) Handle(ctx context.Context, evt *discordgo.Event) {
	if evt == nil || len(evt.RawData) == 0 {
		return
	}
	p := &payload{typ: evt.Type, doc: gjson.ParseBytes(evt.RawData), log: g.log}
	switch evt.Type {
	case "READY":
		if id, ok := p.snowflake("user.id"); ok {
			g.d.AddSelfID(id)
		}
	case "MESSAGE_CREATE":
		if msg, ok := g.message(p, true); ok {
			g.d.MessageCreated(ctx, msg)
		}
	case "MESSAGE_UPDATE":
		if msg, ok := g.message(p, false); ok {
			g.d.MessageUpdated(ctx, msg)
		}
	case "MESSAGE_DELETE":
		channelID, ok1 := p.snowflake("channel_id")
		messageID, ok2 := p.snowflake("id")
		if ok1 && ok2 {
			g.d.MessageDeleted(ctx, Deletion{ChannelID: channelID, MessageID: messageID})
		}
	case "MESSAGE_REACTION_ADD":
		if r, ok := g.reaction(p); ok {
			g.d.ReactionAdded(ctx, r)
		}
	case "MESSAGE_REACTION_REMOVE":
		if r, ok := g.reaction(p); ok {
			g.d.ReactionRemoved(ctx, r)
		}
	case "THREAD_CREATE":
		if th, ok := g.thread(p); ok {
			g.d.ThreadCreated(ctx, th)
		}
	default:
		g.log.Trace().Str("event_type", evt.Type).Msg("Unhandled gateway event")
	}
}

// message decodes MESSAGE_CREATE and MESSAGE_UPDATE. Updates without
// content, such as embed unfurls, are dropped.
func (g *Discord) message(p *payload, create bool) (Message, bool) {
	channelID, ok1 := p.snowflake("channel_id")
	messageID, ok2 := p.snowflake("id")
	if !ok1 || !ok2 {
		return Message{}, false
	}
	msg := Message{ChannelID: channelID, MessageID: messageID}
	if hook := p.doc.Get("webhook_id"); hook.Exists() {
		if msg.WebhookID, ok1 = p.snowflake("webhook_id"); !ok1 {
			return Message{}, false
		}
	}
	author := p.doc.Get("author")
	if create || author.Exists() {
		id, ok := p.snowflake("author.id")
		if !ok {
			return Message{}, false
		}
		// Webhook messages are authored by a bot user; they reach ingestion so
		// the webhook-origin guard can drop the link's own echoes.
		if author.Get("bot").Bool() && msg.WebhookID == "" {
			return Message{}, false
		}
		msg.Author = inbound.Author{
			ID:          id,
			DisplayName: displayName(author),
		}
		if avatar := author.Get("avatar").Str; avatar != "" {
			msg.Author.AvatarURL = discordgo.EndpointUserAvatar(id, avatar)
		}
	}
	content := p.doc.Get("content")
	if !create && !content.Exists() {
		return Message{}, false
	} else if content.Exists() && content.Type != gjson.String {
		p.malformed("content", content)
		return Message{}, false
	}
	msg.Content = content.Str

	if ref := p.doc.Get("message_reference.message_id"); ref.Exists() {
		if msg.ReplyToID, ok1 = p.snowflake("message_reference.message_id"); !ok1 {
			return Message{}, false
		}
	}
	for _, att := range p.doc.Get("attachments").Array() {
		msg.Attachments = append(msg.Attachments, inbound.Attachment{
			FileName: att.Get("filename").Str,
			URL:      att.Get("url").Str,
			Size:     att.Get("size").Int(),
		})
	}
	msg.SentAt = parseTime(p.doc.Get("timestamp"))
	msg.EditedAt = parseTime(p.doc.Get("edited_timestamp"))
	return msg, true
}

func (g *Discord) reaction(p *payload) (Reaction, bool) {
	channelID, ok1 := p.snowflake("channel_id")
	messageID, ok2 := p.snowflake("message_id")
	userID, ok3 := p.snowflake("user_id")
	if !ok1 || !ok2 || !ok3 {
		return Reaction{}, false
	}
	if p.doc.Get("member.user.bot").Bool() {
		return Reaction{}, false
	}
	name := p.doc.Get("emoji.name")
	if name.Type != gjson.String || name.Str == "" {
		p.malformed("emoji.name", name)
		return Reaction{}, false
	}
	emoji := variationselector.Remove(name.Str)
	if id := p.doc.Get("emoji.id"); id.Exists() && id.Type != gjson.Null {
		customID, ok := p.snowflake("emoji.id")
		if !ok {
			return Reaction{}, false
		}
		emoji = name.Str + ":" + customID
	}
	r := Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji, User: inbound.Author{ID: userID}}
	if user := p.doc.Get("member.user"); user.Exists() {
		r.User.DisplayName = displayName(user)
	}
	return r, true
}

func (g *Discord) thread(p *payload) (Thread, bool) {
	switch kind := p.doc.Get("type"); kind.Int() {
	case channelTypeAnnouncementThread, channelTypePublicThread, channelTypePrivateThread:
	default:
		g.log.Debug().Str("event_type", p.typ).Int64("channel_type", kind.Int()).Msg("Ignoring non-thread channel")
		return Thread{}, false
	}
	threadID, ok1 := p.snowflake("id")
	parentID, ok2 := p.snowflake("parent_id")
	if !ok1 || !ok2 {
		return Thread{}, false
	}
	// Threads started from a message share the message's id.
	return Thread{
		ParentChannelID: parentID,
		ThreadID:        threadID,
		Name:            p.doc.Get("name").Str,
		RootMessageID:   threadID,
	}, true
}

func displayName(user gjson.Result) string {
	if name := user.Get("global_name").Str; name != "" {
		return name
	}
	return user.Get("username").Str
}

func parseTime(res gjson.Result) time.Time {
	if res.Type != gjson.String {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, res.Str)
	if err != nil {
		return time.Time{}
	}
	return t
}

// payload is one raw dispatch under validation.
type payload struct {
	typ string
	doc gjson.Result
	log zerolog.Logger
}

// snowflake returns the id at path, logging and reporting false when it is
// missing or not a snowflake.
func (p *payload) snowflake(path string) (string, bool) {
	res := p.doc.Get(path)
	if res.Type != gjson.String || !discord.ValidSnowflake(res.Str) {
		p.malformed(path, res)
		return "", false
	}
	return res.Str, true
}

func (p *payload) malformed(field string, res gjson.Result) {
	valueType := res.Type.String()
	if !res.Exists() {
		valueType = "missing"
	}
	p.log.Warn().
		Str("event_type", p.typ).
		Str("field", field).
		Str("value_type", valueType).
		Msg("Dropping malformed gateway event")
}
