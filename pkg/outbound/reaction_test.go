// Copyright 2024-2026 Aiku AI

package outbound

import (
	"testing"

	"github.com/aiku/chatsync/pkg/store"
	"github.com/aiku/chatsync/pkg/syncerr"
)

func (h *harness) react(t *testing.T, messageID, userID, emoji string) *store.HostReaction {
	t.Helper()
	r := &store.HostReaction{MessageID: messageID, UserID: userID, Emoji: emoji}
	if ok, err := h.st.InsertHostReaction(h.ctx, r); err != nil || !ok {
		t.Fatalf("InsertHostReaction: %v, %v", ok, err)
	}
	return r
}

func TestReactionAggregateRemoval(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	msg := h.message(t, "nice")
	h.create(t, msg)

	first := h.react(t, msg.ID, "user-a", "🔥")
	second := h.react(t, msg.ID, "user-b", "🔥")
	for _, r := range []*store.HostReaction{first, second} {
		res, err := h.engine.SyncReactionCreate(h.ctx, h.fx.Connection.ID, r.ID, Options{})
		if err != nil || res.Status != StatusCreated {
			t.Fatalf("reaction create: %+v, %v", res, err)
		}
	}
	if n := h.fake.Count("add_reaction"); n != 2 {
		t.Errorf("add_reaction calls: got %d, want 2", n)
	}

	if err := h.st.DeleteHostReaction(h.ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	res, err := h.engine.SyncReactionDelete(h.ctx, h.fx.Connection.ID, ReactionRef{MessageID: msg.ID, UserID: "user-a", Emoji: "🔥"}, Options{})
	if err != nil || res.Status != StatusIgnoredRemainingReactions {
		t.Fatalf("first removal: %+v, %v", res, err)
	}
	if n := h.fake.Count("remove_reaction"); n != 0 {
		t.Fatalf("provider reaction removed while another user still reacts")
	}

	if err = h.st.DeleteHostReaction(h.ctx, second.ID); err != nil {
		t.Fatal(err)
	}
	res, err = h.engine.SyncReactionDelete(h.ctx, h.fx.Connection.ID, ReactionRef{MessageID: msg.ID, UserID: "user-b", Emoji: "🔥"}, Options{})
	if err != nil || res.Status != StatusDeleted {
		t.Fatalf("last removal: %+v, %v", res, err)
	}
	calls := h.fake.Calls()
	if last := calls[len(calls)-1]; last.Op != "remove_reaction" || last.MessageID != "ext-1" || last.Emoji != "🔥" {
		t.Errorf("remove call: %+v", last)
	}
	if h.fake.Count("remove_reaction") != 1 {
		t.Error("remove_reaction should be called exactly once")
	}
}

func TestReactionPolicy(t *testing.T) {
	t.Parallel()
	t.Run("unlinked message", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		msg := h.message(t, "never sent")
		r := h.react(t, msg.ID, "user-a", "👍")
		res, err := h.engine.SyncReactionCreate(h.ctx, h.fx.Connection.ID, r.ID, Options{})
		if err != nil || res.Status != StatusIgnoredMissingLink {
			t.Errorf("got %+v, %v", res, err)
		}
		if len(h.fake.Calls()) != 0 {
			t.Error("provider called for unlinked message")
		}
	})
	t.Run("missing reaction", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.engine.SyncReactionCreate(h.ctx, h.fx.Connection.ID, "gone", Options{})
		if !syncerr.IsNotFound(err) {
			t.Errorf("got %v, want not found", err)
		}
	})
	t.Run("redelivered removal", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		msg := h.message(t, "x")
		h.create(t, msg)
		ref := ReactionRef{MessageID: msg.ID, UserID: "user-a", Emoji: "👍"}
		for i, want := range []Status{StatusDeleted, StatusDeduped} {
			res, err := h.engine.SyncReactionDelete(h.ctx, h.fx.Connection.ID, ref, Options{})
			if err != nil || res.Status != want {
				t.Errorf("attempt %d: got %+v, %v, want %s", i, res, err, want)
			}
		}
		if r := h.receipt(t, "host:reaction:delete:"+msg.ID+":👍:user-a"); r.Status != store.ReceiptProcessed {
			t.Errorf("receipt: %+v", r)
		}
	})
}

func TestReactionExternalOrigin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	msg := h.message(t, "hello")
	h.create(t, msg)

	ingested := &store.HostReaction{MessageID: msg.ID, UserID: "shadow-1", Emoji: "🔥", OriginConnectionID: h.fx.Connection.ID}
	if ok, err := h.st.InsertHostReaction(h.ctx, ingested); err != nil || !ok {
		t.Fatalf("InsertHostReaction: %v, %v", ok, err)
	}
	res, err := h.engine.SyncReactionCreate(h.ctx, h.fx.Connection.ID, ingested.ID, Options{})
	if err != nil || res.Status != StatusIgnoredExternalOrigin {
		t.Fatalf("ingested reaction: %+v, %v", res, err)
	}

	// The host user's reaction is the bot's on the provider; the ingested one is not.
	local := h.react(t, msg.ID, "user-a", "🔥")
	if res, err = h.engine.SyncReactionCreate(h.ctx, h.fx.Connection.ID, local.ID, Options{}); err != nil || res.Status != StatusCreated {
		t.Fatalf("host reaction: %+v, %v", res, err)
	}
	if err = h.st.DeleteHostReaction(h.ctx, local.ID); err != nil {
		t.Fatal(err)
	}
	res, err = h.engine.SyncReactionDelete(h.ctx, h.fx.Connection.ID, ReactionRef{MessageID: msg.ID, UserID: "user-a", Emoji: "🔥"}, Options{})
	if err != nil || res.Status != StatusDeleted {
		t.Fatalf("host reaction removal: %+v, %v", res, err)
	}

	if err = h.st.DeleteHostReaction(h.ctx, ingested.ID); err != nil {
		t.Fatal(err)
	}
	ref := ReactionRef{MessageID: msg.ID, UserID: "shadow-1", Emoji: "🔥", OriginConnectionID: h.fx.Connection.ID}
	if res, err = h.engine.SyncReactionDelete(h.ctx, h.fx.Connection.ID, ref, Options{}); err != nil || res.Status != StatusIgnoredExternalOrigin {
		t.Fatalf("ingested removal: %+v, %v", res, err)
	}
	if add, remove := h.fake.Count("add_reaction"), h.fake.Count("remove_reaction"); add != 1 || remove != 1 {
		t.Errorf("provider calls: add %d, remove %d, want 1 and 1", add, remove)
	}
}
