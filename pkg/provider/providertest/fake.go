// Copyright 2024-2026 Aiku AI

// Package providertest provides an in-memory provider adapter for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aiku/chatsync/pkg/provider"
)

// Call records one adapter invocation.
type Call struct {
	Op        string
	ChannelID string
	MessageID string
	Content   string
	Emoji     string
	ReplyTo   string
	Name      string
	URLs      []string
}

// Fake is a recording Adapter. Errors returned by Fail are consulted before
// each call; a nil result lets the call succeed.
type Fake struct {
	ProviderName string
	// Fail decides whether a call fails.
	Fail func(call Call) error

	mu    sync.Mutex
	calls []Call
	seq   int
}

var _ provider.Adapter = (*Fake)(nil)

func New(name string) *Fake {
	return &Fake{ProviderName: name}
}

func (f *Fake) Name() string {
	return f.ProviderName
}

func (f *Fake) record(call Call) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.seq++
	id := fmt.Sprintf("ext-%d", f.seq)
	fail := f.Fail
	f.mu.Unlock()
	if fail != nil {
		if err := fail(call); err != nil {
			return "", err
		}
	}
	return id, nil
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]Call, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// Count returns how many times op was called.
func (f *Fake) Count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *Fake) CreateMessage(_ context.Context, p provider.CreateMessageParams) (*provider.SentMessage, error) {
	id, err := f.record(Call{Op: "create_message", ChannelID: p.ChannelID, Content: p.Content, ReplyTo: p.ReplyToMessageID})
	if err != nil {
		return nil, err
	}
	return &provider.SentMessage{ChannelID: p.ChannelID, MessageID: id}, nil
}

func (f *Fake) CreateMessageWithAttachments(_ context.Context, p provider.CreateMessageParams) (*provider.SentMessage, error) {
	urls := make([]string, 0, len(p.Attachments))
	for _, att := range p.Attachments {
		urls = append(urls, att.URL)
	}
	id, err := f.record(Call{Op: "create_message_with_attachments", ChannelID: p.ChannelID, Content: p.Content, ReplyTo: p.ReplyToMessageID, URLs: urls})
	if err != nil {
		return nil, err
	}
	return &provider.SentMessage{ChannelID: p.ChannelID, MessageID: id}, nil
}

func (f *Fake) UpdateMessage(_ context.Context, p provider.UpdateMessageParams) error {
	_, err := f.record(Call{Op: "update_message", ChannelID: p.ChannelID, MessageID: p.MessageID, Content: p.Content})
	return err
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID string) error {
	_, err := f.record(Call{Op: "delete_message", ChannelID: channelID, MessageID: messageID})
	return err
}

func (f *Fake) AddReaction(_ context.Context, p provider.ReactionParams) error {
	_, err := f.record(Call{Op: "add_reaction", ChannelID: p.ChannelID, MessageID: p.MessageID, Emoji: p.Emoji})
	return err
}

func (f *Fake) RemoveReaction(_ context.Context, p provider.ReactionParams) error {
	_, err := f.record(Call{Op: "remove_reaction", ChannelID: p.ChannelID, MessageID: p.MessageID, Emoji: p.Emoji})
	return err
}

func (f *Fake) CreateThread(_ context.Context, p provider.CreateThreadParams) (*provider.Thread, error) {
	id, err := f.record(Call{Op: "create_thread", ChannelID: p.ChannelID, MessageID: p.MessageID, Name: p.Name})
	if err != nil {
		return nil, err
	}
	return &provider.Thread{ThreadID: "thread-" + id}, nil
}
