// Copyright 2024-2026 Aiku AI

package provider

import (
	"strings"
	"unicode/utf8"

	"github.com/aiku/chatsync/pkg/syncerr"
)

// Limits describes the input constraints of a provider.
type Limits struct {
	Provider string
	// MaxContentLength is the maximum message length in runes.
	MaxContentLength int
	// MaxThreadNameLength is the maximum thread name length in runes. Zero means unlimited.
	MaxThreadNameLength int
	// ValidID reports whether a channel or message id has the provider's format.
	ValidID func(id string) bool
}

func (l Limits) checkID(kind, id string) error {
	if id == "" {
		return syncerr.Configuration("%s: %s id is required", l.Provider, kind)
	}
	if l.ValidID != nil && !l.ValidID(id) {
		return syncerr.Configuration("%s: invalid %s id %q", l.Provider, kind, id)
	}
	return nil
}

// CheckContent validates message content.
func (l Limits) CheckContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return syncerr.Configuration("%s: message content is empty", l.Provider)
	}
	if n := utf8.RuneCountInString(content); l.MaxContentLength > 0 && n > l.MaxContentLength {
		return syncerr.Configuration("%s: message content is %d characters, maximum is %d", l.Provider, n, l.MaxContentLength)
	}
	return nil
}

func (l Limits) CheckCreate(p CreateMessageParams) error {
	if err := l.checkID("channel", p.ChannelID); err != nil {
		return err
	}
	if p.ReplyToMessageID != "" {
		if err := l.checkID("reply target message", p.ReplyToMessageID); err != nil {
			return err
		}
	}
	return l.CheckContent(p.Content)
}

func (l Limits) CheckUpdate(p UpdateMessageParams) error {
	if err := l.checkID("channel", p.ChannelID); err != nil {
		return err
	}
	if err := l.checkID("message", p.MessageID); err != nil {
		return err
	}
	return l.CheckContent(p.Content)
}

func (l Limits) CheckDelete(channelID, messageID string) error {
	if err := l.checkID("channel", channelID); err != nil {
		return err
	}
	return l.checkID("message", messageID)
}

func (l Limits) CheckReaction(p ReactionParams) error {
	if err := l.CheckDelete(p.ChannelID, p.MessageID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Emoji) == "" {
		return syncerr.Configuration("%s: emoji is empty", l.Provider)
	}
	return nil
}

func (l Limits) CheckThread(p CreateThreadParams) error {
	if err := l.CheckDelete(p.ChannelID, p.MessageID); err != nil {
		return err
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return syncerr.Configuration("%s: thread name is empty", l.Provider)
	}
	if n := utf8.RuneCountInString(p.Name); l.MaxThreadNameLength > 0 && n > l.MaxThreadNameLength {
		return syncerr.Configuration("%s: thread name is %d characters, maximum is %d", l.Provider, n, l.MaxThreadNameLength)
	}
	return nil
}

// ContentWithAttachments appends one attachment URL per line to content.
// Attachments without a URL are skipped.
func ContentWithAttachments(content string, attachments []Attachment) string {
	var sb strings.Builder
	sb.WriteString(content)
	for _, att := range attachments {
		if att.URL == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(att.URL)
	}
	return sb.String()
}
