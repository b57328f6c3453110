// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aiku/chatsync/pkg/provider"
	"github.com/aiku/chatsync/pkg/syncerr"
	"github.com/mattermost/mattermost/server/public/model"
)

func TestValidationBeforeNetwork(t *testing.T) {
	t.Parallel()
	fake := newFakeMM(t)
	a := fake.Adapter()
	ctx := context.Background()
	ch, msg := model.NewId(), model.NewId()

	tests := []struct {
		name string
		call func() error
	}{
		{"empty content", func() error {
			_, err := a.CreateMessage(ctx, provider.CreateMessageParams{ChannelID: ch, Content: "  "})
			return err
		}},
		{"too long", func() error {
			_, err := a.CreateMessage(ctx, provider.CreateMessageParams{ChannelID: ch, Content: strings.Repeat("é", MaxContentLength+1)})
			return err
		}},
		{"bad channel id", func() error {
			_, err := a.CreateMessage(ctx, provider.CreateMessageParams{ChannelID: "town-square", Content: "hi"})
			return err
		}},
		{"bad reply id", func() error {
			_, err := a.CreateMessage(ctx, provider.CreateMessageParams{ChannelID: ch, Content: "hi", ReplyToMessageID: "123"})
			return err
		}},
		{"update bad message id", func() error {
			return a.UpdateMessage(ctx, provider.UpdateMessageParams{ChannelID: ch, MessageID: "x", Content: "hi"})
		}},
		{"delete missing message id", func() error { return a.DeleteMessage(ctx, ch, "") }},
		{"empty emoji", func() error {
			return a.AddReaction(ctx, provider.ReactionParams{ChannelID: ch, MessageID: msg})
		}},
		{"thread unsupported", func() error {
			_, err := a.CreateThread(ctx, provider.CreateThreadParams{ChannelID: ch, MessageID: msg, Name: "topic"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !syncerr.IsConfiguration(err) {
				t.Errorf("got %v, want configuration error", err)
			}
		})
	}
	if n := len(fake.Calls()); n != 0 {
		t.Errorf("invalid input reached the network: %d calls", n)
	}
}

func TestCreateMessage(t *testing.T) {
	t.Parallel()
	fake := newFakeMM(t)
	a := fake.Adapter()
	ch, root := model.NewId(), model.NewId()

	sent, err := a.CreateMessageWithAttachments(context.Background(), provider.CreateMessageParams{
		ChannelID:        ch,
		Content:          "see files",
		ReplyToMessageID: root,
		Attachments:      []provider.Attachment{{FileName: "a.png", URL: "https://files.example/a"}},
	})
	if err != nil {
		t.Fatalf("CreateMessageWithAttachments: %v", err)
	}
	if sent.ChannelID != ch || !model.IsValidId(sent.MessageID) {
		t.Errorf("sent: %+v", sent)
	}
	calls := fake.CallsTo(http.MethodPost, "/api/v4/posts")
	if len(calls) != 1 {
		t.Fatalf("post calls: %d", len(calls))
	}
	var post model.Post
	if err = json.Unmarshal([]byte(calls[0].Body), &post); err != nil {
		t.Fatal(err)
	}
	if post.RootId != root || post.Message != "see files\nhttps://files.example/a" {
		t.Errorf("post: root=%q message=%q", post.RootId, post.Message)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	t.Parallel()
	fake := newFakeMM(t)
	a := fake.Adapter()
	ctx := context.Background()
	ch, msg := model.NewId(), model.NewId()

	if err := a.UpdateMessage(ctx, provider.UpdateMessageParams{ChannelID: ch, MessageID: msg, Content: "edited"}); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	patches := fake.CallsTo(http.MethodPut, "/api/v4/posts/"+msg+"/patch")
	if len(patches) != 1 || !strings.Contains(patches[0].Body, `"message":"edited"`) {
		t.Errorf("patch calls: %+v", patches)
	}
	if err := a.DeleteMessage(ctx, ch, msg); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if len(fake.CallsTo(http.MethodDelete, "/api/v4/posts/"+msg)) != 1 {
		t.Error("delete not called")
	}
}

func TestReactionsUseOwnUserAndEmojiName(t *testing.T) {
	t.Parallel()
	fake := newFakeMM(t)
	a := fake.Adapter()
	ctx := context.Background()
	p := provider.ReactionParams{ChannelID: model.NewId(), MessageID: model.NewId(), Emoji: "❤"}

	if err := a.AddReaction(ctx, p); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if err := a.RemoveReaction(ctx, p); err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}
	saves := fake.CallsTo(http.MethodPost, "/api/v4/reactions")
	if len(saves) != 1 || !strings.Contains(saves[0].Body, `"emoji_name":"heart"`) || !strings.Contains(saves[0].Body, fake.SelfID) {
		t.Errorf("save reaction calls: %+v", saves)
	}
	want := "/api/v4/users/" + fake.SelfID + "/posts/" + p.MessageID + "/reactions/heart"
	if len(fake.CallsTo(http.MethodDelete, want)) != 1 {
		t.Errorf("delete reaction not called at %s: %+v", want, fake.Calls())
	}
	if n := len(fake.CallsTo(http.MethodGet, "/api/v4/users/me")); n != 1 {
		t.Errorf("GetMe calls: got %d, want 1", n)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		fail       failure
		wantStatus int
		wantAfter  time.Duration
		retryable  bool
	}{
		{"rate limited", failure{Status: http.StatusTooManyRequests, RetryAfter: "2"}, http.StatusTooManyRequests, 2 * time.Second, true},
		{"forbidden", failure{Status: http.StatusForbidden}, http.StatusForbidden, 0, false},
		{"server error", failure{Status: http.StatusServiceUnavailable}, http.StatusServiceUnavailable, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := newFakeMM(t)
			fake.Fail["/api/v4/posts"] = tt.fail
			_, err := fake.Adapter().CreateMessage(context.Background(), provider.CreateMessageParams{ChannelID: model.NewId(), Content: "hi"})
			if !syncerr.IsProviderAPI(err) {
				t.Fatalf("got %v, want provider API error", err)
			}
			if got := syncerr.StatusCode(err); got != tt.wantStatus {
				t.Errorf("status: got %d, want %d", got, tt.wantStatus)
			}
			if got := syncerr.RetryAfter(err); got != tt.wantAfter {
				t.Errorf("retry after: got %v, want %v", got, tt.wantAfter)
			}
			if got := syncerr.Retryable(err); got != tt.retryable {
				t.Errorf("retryable: got %v, want %v", got, tt.retryable)
			}
			if !strings.Contains(err.Error(), "mattermost.create_message") {
				t.Errorf("tag missing from %q", err)
			}
		})
	}
}

func TestEmojiConversion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		unicode string
		name    string
	}{
		{"\U0001f44d", "+1"},
		{"❤️", "heart"},
		{"❤", "heart"},
		{":parrot:", "parrot"},
		{"\U0001f9c0", "\U0001f9c0"},
	}
	for _, tt := range tests {
		if got := EmojiName(tt.unicode); got != tt.name {
			t.Errorf("EmojiName(%q) = %q, want %q", tt.unicode, got, tt.name)
		}
	}
	if got := EmojiUnicode("thumbsup"); got != "\U0001f44d" {
		t.Errorf("EmojiUnicode(thumbsup) = %q", got)
	}
	if got := EmojiUnicode("parrot"); got != ":parrot:" {
		t.Errorf("EmojiUnicode(parrot) = %q", got)
	}
}
