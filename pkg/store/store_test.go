// Copyright 2024-2026 Aiku AI

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aiku/chatsync/pkg/store"
	"github.com/aiku/chatsync/pkg/store/storetest"
)

func TestStoreRequiresSystemActor(t *testing.T) {
	t.Parallel()
	st, _ := storetest.New(t)
	bare := context.Background()

	if _, err := st.GetConnection(bare, "x"); !errors.Is(err, store.ErrUntrustedCaller) {
		t.Errorf("GetConnection: got %v, want ErrUntrustedCaller", err)
	}
	if _, err := st.InsertReceipt(bare, &store.EventReceipt{SyncConnectionID: "c", Source: store.SourceHost, DedupeKey: "k"}); !errors.Is(err, store.ErrUntrustedCaller) {
		t.Errorf("InsertReceipt: got %v, want ErrUntrustedCaller", err)
	}
	if err := st.DoTxn(bare, func(context.Context) error { return nil }); !errors.Is(err, store.ErrUntrustedCaller) {
		t.Errorf("DoTxn: got %v, want ErrUntrustedCaller", err)
	}

	actor, ok := store.ActorFrom(store.WithSystemActor(bare, "outbound"))
	if !ok || actor.Reason != "outbound" {
		t.Errorf("ActorFrom: got %+v, %v", actor, ok)
	}
}

func TestConnectionRoundTrip(t *testing.T) {
	t.Parallel()
	st, ctx := storetest.New(t)
	fx := storetest.Seed(t, st, ctx, "discord", "ext-1")

	got, err := st.GetConnection(ctx, fx.Connection.ID)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got == nil || got.Provider != "discord" || !got.IsActive() {
		t.Fatalf("GetConnection: got %+v", got)
	}
	if !got.LastSyncedAt.IsZero() {
		t.Errorf("LastSyncedAt should be zero, got %v", got.LastSyncedAt)
	}

	at := time.UnixMilli(1_700_000_000_000)
	if err = st.TouchConnectionSynced(ctx, got.ID, at); err != nil {
		t.Fatalf("TouchConnectionSynced: %v", err)
	}
	got, _ = st.GetConnection(ctx, got.ID)
	if !got.LastSyncedAt.Equal(at) {
		t.Errorf("LastSyncedAt: got %v, want %v", got.LastSyncedAt, at)
	}

	missing, err := st.GetConnection(ctx, "missing")
	if err != nil || missing != nil {
		t.Errorf("missing connection: got %+v, %v", missing, err)
	}

	paused := &store.SyncConnection{OrganizationID: "org-2", Provider: "discord", Status: store.ConnectionPaused, ExternalWorkspaceID: "w"}
	if err = st.InsertConnection(ctx, paused); err != nil {
		t.Fatalf("InsertConnection: %v", err)
	}
	active, err := st.ListActiveConnections(ctx)
	if err != nil {
		t.Fatalf("ListActiveConnections: %v", err)
	}
	if len(active) != 1 || active[0].ID != fx.Connection.ID {
		t.Errorf("ListActiveConnections: got %d connections", len(active))
	}
}

func TestChannelLinkLookups(t *testing.T) {
	t.Parallel()
	st, ctx := storetest.New(t)
	fx := storetest.Seed(t, st, ctx, "discord", "ext-1")

	dup := &store.ChannelLink{
		SyncConnectionID:  fx.Connection.ID,
		HostChannelID:     fx.HostChannel.ID,
		ExternalChannelID: "ext-1",
		Active:            true,
	}
	inserted, err := st.InsertChannelLink(ctx, dup)
	if err != nil {
		t.Fatalf("InsertChannelLink: %v", err)
	}
	if inserted {
		t.Error("duplicate channel link should not be inserted")
	}

	byExt, err := st.FindActiveByExternalChannel(ctx, "discord", "ext-1")
	if err != nil {
		t.Fatalf("FindActiveByExternalChannel: %v", err)
	}
	if len(byExt) != 1 || byExt[0].ID != fx.Link.ID {
		t.Fatalf("FindActiveByExternalChannel: got %d links", len(byExt))
	}
	if other, _ := st.FindActiveByExternalChannel(ctx, "mattermost", "ext-1"); len(other) != 0 {
		t.Errorf("provider filter: got %d links, want 0", len(other))
	}
	byHost, err := st.FindActiveByHostChannel(ctx, "discord", fx.HostChannel.ID)
	if err != nil || len(byHost) != 1 {
		t.Errorf("FindActiveByHostChannel: got %d, %v", len(byHost), err)
	}
	byConn, err := st.FindActiveBySyncConnection(ctx, fx.Connection.ID)
	if err != nil || len(byConn) != 1 {
		t.Errorf("FindActiveBySyncConnection: got %d, %v", len(byConn), err)
	}
	one, err := st.FindChannelLinkByExternalChannel(ctx, fx.Connection.ID, "ext-1")
	if err != nil || one == nil || one.HostChannelID != fx.HostChannel.ID {
		t.Errorf("FindChannelLinkByExternalChannel: got %+v, %v", one, err)
	}

	thread := &store.ChannelLink{
		SyncConnectionID:  fx.Connection.ID,
		HostChannelID:     "host-thread",
		ExternalChannelID: "ext-thread",
		Active:            false,
		ParentLinkID:      fx.Link.ID,
	}
	if _, err = st.InsertChannelLink(ctx, thread); err != nil {
		t.Fatalf("InsertChannelLink thread: %v", err)
	}
	got, err := st.GetChannelLink(ctx, thread.ID)
	if err != nil || got == nil {
		t.Fatalf("GetChannelLink: %+v, %v", got, err)
	}
	if !got.IsThread() || got.Direction != store.DirectionBoth {
		t.Errorf("thread link: got %+v", got)
	}
	if inactive, _ := st.FindActiveByExternalChannel(ctx, "discord", "ext-thread"); len(inactive) != 0 {
		t.Errorf("inactive link returned by FindActiveByExternalChannel")
	}
}

func TestChannelLinkSettingsPersist(t *testing.T) {
	t.Parallel()
	st, ctx := storetest.New(t)
	fx := storetest.Seed(t, st, ctx, "discord", "ext-1")

	settings, err := fx.Link.Settings.WithWebhook("discord", store.WebhookConfig{WebhookID: "wh", WebhookToken: "tok"})
	if err != nil {
		t.Fatalf("WithWebhook: %v", err)
	}
	if err = st.UpdateChannelLinkSettings(ctx, fx.Link.ID, settings); err != nil {
		t.Fatalf("UpdateChannelLinkSettings: %v", err)
	}
	got, _ := st.GetChannelLink(ctx, fx.Link.ID)
	wh := got.Settings.Webhook("discord")
	if wh == nil || wh.WebhookID != "wh" || wh.WebhookToken != "tok" {
		t.Errorf("persisted webhook: got %+v", wh)
	}
}

func TestMessageLinkUniqueness(t *testing.T) {
	t.Parallel()
	st, ctx := storetest.New(t)
	fx := storetest.Seed(t, st, ctx, "discord", "ext-1")

	first := &store.MessageLink{ChannelLinkID: fx.Link.ID, HostMessageID: "h1", ExternalMessageID: "e1", Source: store.SourceHost}
	ok, err := st.InsertMessageLink(ctx, first)
	if err != nil || !ok {
		t.Fatalf("InsertMessageLink: %v, %v", ok, err)
	}

	tests := []struct {
		name string
		link *store.MessageLink
	}{
		{"same host message", &store.MessageLink{ChannelLinkID: fx.Link.ID, HostMessageID: "h1", ExternalMessageID: "e2", Source: store.SourceHost}},
		{"same external message", &store.MessageLink{ChannelLinkID: fx.Link.ID, HostMessageID: "h2", ExternalMessageID: "e1", Source: store.SourceExternal}},
	}
	for _, tt := range tests {
		ok, err = st.InsertMessageLink(ctx, tt.link)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if ok {
			t.Errorf("%s: duplicate link was inserted", tt.name)
		}
	}

	if err = st.SoftDeleteMessageLink(ctx, first.ID, time.Now()); err != nil {
		t.Fatalf("SoftDeleteMessageLink: %v", err)
	}
	if got, _ := st.FindByHostMessage(ctx, fx.Link.ID, "h1"); got != nil {
		t.Errorf("soft-deleted link still returned: %+v", got)
	}
	relink := &store.MessageLink{ChannelLinkID: fx.Link.ID, HostMessageID: "h1", ExternalMessageID: "e3", Source: store.SourceHost}
	if ok, err = st.InsertMessageLink(ctx, relink); err != nil || !ok {
		t.Errorf("relink after soft delete: %v, %v", ok, err)
	}
	got, err := st.FindByExternalMessage(ctx, fx.Link.ID, "e3")
	if err != nil || got == nil || got.HostMessageID != "h1" {
		t.Errorf("FindByExternalMessage: got %+v, %v", got, err)
	}
	if n, _ := st.CountMessageLinks(ctx, fx.Link.ID); n != 1 {
		t.Errorf("CountMessageLinks: got %d, want 1", n)
	}
}

func TestReceiptClaimIsExclusive(t *testing.T) {
	t.Parallel()
	st, ctx := storetest.New(t)

	r := &store.EventReceipt{SyncConnectionID: "conn", Source: store.SourceExternal, DedupeKey: "external:message:create:1"}
	ok, err := st.InsertReceipt(ctx, r)
	if err != nil || !ok {
		t.Fatalf("first InsertReceipt: %v, %v", ok, err)
	}
	ok, err = st.InsertReceipt(ctx, &store.EventReceipt{SyncConnectionID: "conn", Source: store.SourceExternal, DedupeKey: r.DedupeKey})
	if err != nil || ok {
		t.Fatalf("second InsertReceipt: %v, %v", ok, err)
	}
	// Same key from the other source is an independent claim.
	ok, err = st.InsertReceipt(ctx, &store.EventReceipt{SyncConnectionID: "conn", Source: store.SourceHost, DedupeKey: r.DedupeKey})
	if err != nil || !ok {
		t.Fatalf("other source InsertReceipt: %v, %v", ok, err)
	}

	got, err := st.GetReceipt(ctx, "conn", store.SourceExternal, r.DedupeKey)
	if err != nil || got == nil || got.Status != store.ReceiptPending {
		t.Fatalf("GetReceipt: %+v, %v", got, err)
	}
	r.Status = store.ReceiptFailed
	r.ErrorMessage = "boom"
	if err = st.UpdateReceipt(ctx, r); err != nil {
		t.Fatalf("UpdateReceipt: %v", err)
	}
	got, _ = st.GetReceipt(ctx, "conn", store.SourceExternal, r.DedupeKey)
	if got.Status != store.ReceiptFailed || got.ErrorMessage != "boom" {
		t.Errorf("updated receipt: got %+v", got)
	}
}

func TestHostUsersAndIntegrations(t *testing.T) {
	t.Parallel()
	st, ctx := storetest.New(t)

	u := &store.HostUser{ExternalID: "discord-user-42", DisplayName: "Alice", Type: store.UserShadow}
	ok, err := st.InsertHostUser(ctx, u)
	if err != nil || !ok {
		t.Fatalf("InsertHostUser: %v, %v", ok, err)
	}
	ok, err = st.InsertHostUser(ctx, &store.HostUser{ExternalID: "discord-user-42", DisplayName: "Alice"})
	if err != nil || ok {
		t.Errorf("duplicate external id: %v, %v", ok, err)
	}
	if err = st.LinkUserIntegration(ctx, "discord", "42", u.ID); err != nil {
		t.Fatalf("LinkUserIntegration: %v", err)
	}
	if err = st.LinkUserIntegration(ctx, "discord", "42", u.ID); err != nil {
		t.Fatalf("LinkUserIntegration twice: %v", err)
	}
	if err = st.EnsureOrganizationMember(ctx, "org-1", u.ID); err != nil {
		t.Fatalf("EnsureOrganizationMember: %v", err)
	}
	if err = st.EnsureOrganizationMember(ctx, "org-1", u.ID); err != nil {
		t.Fatalf("EnsureOrganizationMember twice: %v", err)
	}

	byIntegration, err := st.FindUserByIntegration(ctx, "discord", "42")
	if err != nil || byIntegration == nil || byIntegration.ID != u.ID {
		t.Errorf("FindUserByIntegration: %+v, %v", byIntegration, err)
	}
	byExternal, err := st.FindUserByExternalID(ctx, "discord-user-42")
	if err != nil || byExternal == nil || byExternal.Type != store.UserShadow {
		t.Errorf("FindUserByExternalID: %+v, %v", byExternal, err)
	}
	if none, _ := st.FindUserByIntegration(ctx, "mattermost", "42"); none != nil {
		t.Errorf("integration leaked across providers: %+v", none)
	}
}

func TestFindUnlinkedHostMessages(t *testing.T) {
	t.Parallel()
	st, ctx := storetest.New(t)
	fx := storetest.Seed(t, st, ctx, "discord", "ext-1")

	base := time.UnixMilli(1_700_000_000_000)
	var ids []string
	for i := range 4 {
		msg := &store.HostMessage{
			ChannelID: fx.HostChannel.ID,
			AuthorID:  "u1",
			Content:   "hello",
			CreatedAt: base.Add(time.Duration(3-i) * time.Minute),
		}
		if err := st.InsertHostMessage(ctx, msg); err != nil {
			t.Fatalf("InsertHostMessage: %v", err)
		}
		ids = append(ids, msg.ID)
	}
	// ids[3] is the oldest; link it so it drops out.
	if _, err := st.InsertMessageLink(ctx, &store.MessageLink{
		ChannelLinkID: fx.Link.ID, HostMessageID: ids[3], ExternalMessageID: "e", Source: store.SourceHost,
	}); err != nil {
		t.Fatalf("InsertMessageLink: %v", err)
	}
	if err := st.SoftDeleteHostMessage(ctx, ids[0], time.Now()); err != nil {
		t.Fatalf("SoftDeleteHostMessage: %v", err)
	}

	got, err := st.FindUnlinkedHostMessages(ctx, fx.Link.ID, fx.HostChannel.ID, 10)
	if err != nil {
		t.Fatalf("FindUnlinkedHostMessages: %v", err)
	}
	if len(got) != 2 || got[0].ID != ids[2] || got[1].ID != ids[1] {
		t.Fatalf("FindUnlinkedHostMessages: got %d messages, want [ids[2], ids[1]]", len(got))
	}
	limited, _ := st.FindUnlinkedHostMessages(ctx, fx.Link.ID, fx.HostChannel.ID, 1)
	if len(limited) != 1 || limited[0].ID != ids[2] {
		t.Errorf("limit: got %d messages", len(limited))
	}
}

func TestHostMessageMutations(t *testing.T) {
	t.Parallel()
	st, ctx := storetest.New(t)
	fx := storetest.Seed(t, st, ctx, "discord", "ext-1")
	msg := storetest.Message(t, st, ctx, fx.HostChannel.ID, "u1", "before")

	at := time.UnixMilli(1_800_000_000_000)
	if err := st.UpdateHostMessageContent(ctx, msg.ID, "after", at); err != nil {
		t.Fatalf("UpdateHostMessageContent: %v", err)
	}
	if err := st.SetMessageThread(ctx, msg.ID, "thread-ch"); err != nil {
		t.Fatalf("SetMessageThread: %v", err)
	}
	got, err := st.GetHostMessage(ctx, msg.ID)
	if err != nil || got == nil {
		t.Fatalf("GetHostMessage: %+v, %v", got, err)
	}
	if got.Content != "after" || !got.UpdatedAt.Equal(at) || got.ThreadChannelID != "thread-ch" {
		t.Errorf("mutated message: got %+v", got)
	}
	if got.IsDeleted() {
		t.Error("message should not be deleted")
	}
}

func TestReactionsAndAttachments(t *testing.T) {
	t.Parallel()
	st, ctx := storetest.New(t)
	fx := storetest.Seed(t, st, ctx, "discord", "ext-1")
	msg := storetest.Message(t, st, ctx, fx.HostChannel.ID, "u1", "hi")

	for _, user := range []string{"u1", "u2"} {
		ok, err := st.InsertHostReaction(ctx, &store.HostReaction{MessageID: msg.ID, UserID: user, Emoji: "👍"})
		if err != nil || !ok {
			t.Fatalf("InsertHostReaction %s: %v, %v", user, ok, err)
		}
	}
	if ok, _ := st.InsertHostReaction(ctx, &store.HostReaction{MessageID: msg.ID, UserID: "u1", Emoji: "👍"}); ok {
		t.Error("duplicate reaction was inserted")
	}
	if n, _ := st.CountOtherReactions(ctx, msg.ID, "👍", "u1", fx.Connection.ID); n != 1 {
		t.Errorf("CountOtherReactions: got %d, want 1", n)
	}
	ingested := &store.HostReaction{MessageID: msg.ID, UserID: "u3", Emoji: "👍", OriginConnectionID: fx.Connection.ID}
	if ok, err := st.InsertHostReaction(ctx, ingested); err != nil || !ok {
		t.Fatalf("InsertHostReaction u3: %v, %v", ok, err)
	}
	if got, _ := st.GetHostReaction(ctx, ingested.ID); got == nil || got.OriginConnectionID != fx.Connection.ID {
		t.Errorf("origin connection not persisted: %+v", got)
	}
	if n, _ := st.CountOtherReactions(ctx, msg.ID, "👍", "u1", fx.Connection.ID); n != 1 {
		t.Errorf("reaction ingested from the connection was counted: got %d, want 1", n)
	}
	if n, _ := st.CountOtherReactions(ctx, msg.ID, "👍", "u1", "other-connection"); n != 2 {
		t.Errorf("CountOtherReactions for another connection: got %d, want 2", n)
	}
	if err := st.DeleteHostReaction(ctx, ingested.ID); err != nil {
		t.Fatal(err)
	}
	r, err := st.FindHostReaction(ctx, msg.ID, "u2", "👍")
	if err != nil || r == nil {
		t.Fatalf("FindHostReaction: %+v, %v", r, err)
	}
	if err = st.DeleteHostReaction(ctx, r.ID); err != nil {
		t.Fatalf("DeleteHostReaction: %v", err)
	}
	if n, _ := st.CountOtherReactions(ctx, msg.ID, "👍", "u1", fx.Connection.ID); n != 0 {
		t.Errorf("CountOtherReactions after delete: got %d, want 0", n)
	}

	for _, att := range []*store.HostAttachment{
		{MessageID: msg.ID, FileName: "a.png", FileSize: 10, Status: store.AttachmentComplete},
		{MessageID: msg.ID, FileName: "b.png", FileSize: 10, Status: store.AttachmentUploading},
	} {
		if err = st.InsertHostAttachment(ctx, att); err != nil {
			t.Fatalf("InsertHostAttachment: %v", err)
		}
	}
	atts, err := st.ListCompletedAttachments(ctx, msg.ID)
	if err != nil || len(atts) != 1 || atts[0].FileName != "a.png" {
		t.Errorf("ListCompletedAttachments: got %d, %v", len(atts), err)
	}
}

func TestDoTxnRollsBack(t *testing.T) {
	t.Parallel()
	st, ctx := storetest.New(t)
	errBoom := errors.New("boom")

	err := st.DoTxn(ctx, func(ctx context.Context) error {
		if _, err := st.InsertReceipt(ctx, &store.EventReceipt{SyncConnectionID: "c", Source: store.SourceHost, DedupeKey: "k"}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("DoTxn: got %v", err)
	}
	if got, _ := st.GetReceipt(ctx, "c", store.SourceHost, "k"); got != nil {
		t.Errorf("receipt survived rollback: %+v", got)
	}
}
