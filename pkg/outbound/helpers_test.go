// Copyright 2024-2026 Aiku AI

package outbound

import (
	"context"
	"sync"
	"testing"

	"github.com/aiku/chatsync/pkg/provider"
	"github.com/aiku/chatsync/pkg/provider/providertest"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/aiku/chatsync/pkg/store/storetest"
	"github.com/rs/zerolog"
)

const (
	testProvider = "chat"
	testChannel  = "ext-channel"
	testBaseURL  = "https://files.example.com/att/"
)

type harness struct {
	st     *store.Store
	ctx    context.Context
	fx     *storetest.Fixture
	fake   *providertest.Fake
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, ctx := storetest.New(t)
	fake := providertest.New(testProvider)
	h := &harness{
		st:     st,
		ctx:    ctx,
		fx:     storetest.Seed(t, st, ctx, testProvider, testChannel),
		fake:   fake,
		engine: NewEngine(st, provider.NewRegistry(fake), Config{AttachmentBaseURL: testBaseURL}, zerolog.Nop()),
	}
	return h
}

func (h *harness) message(t *testing.T, content string) *store.HostMessage {
	t.Helper()
	return storetest.Message(t, h.st, h.ctx, h.fx.HostChannel.ID, "author-1", content)
}

// create syncs msg over the seeded connection and fails the test on error.
func (h *harness) create(t *testing.T, msg *store.HostMessage) Result {
	t.Helper()
	res, err := h.engine.SyncMessageCreate(h.ctx, h.fx.Connection.ID, msg.ID, Options{})
	if err != nil {
		t.Fatalf("SyncMessageCreate: %v", err)
	}
	return res
}

func (h *harness) receipt(t *testing.T, key string) *store.EventReceipt {
	t.Helper()
	r, err := h.st.GetReceipt(h.ctx, h.fx.Connection.ID, store.SourceHost, key)
	if err != nil || r == nil {
		t.Fatalf("GetReceipt(%s): %+v, %v", key, r, err)
	}
	return r
}

// addLink links the seeded host channel to another external channel on a
// new connection.
func (h *harness) addLink(t *testing.T, externalChannelID string, direction store.Direction) *store.ChannelLink {
	t.Helper()
	conn := &store.SyncConnection{
		OrganizationID:      h.fx.Connection.OrganizationID,
		Provider:            testProvider,
		Status:              store.ConnectionActive,
		ExternalWorkspaceID: "workspace-" + externalChannelID,
	}
	if err := h.st.InsertConnection(h.ctx, conn); err != nil {
		t.Fatalf("InsertConnection: %v", err)
	}
	link := &store.ChannelLink{
		SyncConnectionID:  conn.ID,
		HostChannelID:     h.fx.HostChannel.ID,
		ExternalChannelID: externalChannelID,
		Direction:         direction,
		Active:            true,
	}
	if _, err := h.st.InsertChannelLink(h.ctx, link); err != nil {
		t.Fatalf("InsertChannelLink: %v", err)
	}
	return link
}

// fakeIdentity is a scripted IdentityManager.
type fakeIdentity struct {
	cfg    *store.WebhookConfig
	sendOK bool

	mu    sync.Mutex
	sends []provider.WebhookMessage
}

func (f *fakeIdentity) EnsureIdentity(context.Context, *store.ChannelLink) *store.WebhookConfig {
	return f.cfg
}

func (f *fakeIdentity) Send(_ context.Context, link *store.ChannelLink, _ *store.WebhookConfig, msg provider.WebhookMessage) (*provider.SentMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, msg)
	if !f.sendOK {
		return nil, false
	}
	return &provider.SentMessage{ChannelID: link.ExternalChannelID, MessageID: "webhook-msg"}, true
}

func (f *fakeIdentity) Update(context.Context, *store.ChannelLink, *store.WebhookConfig, string, string) bool {
	return f.sendOK
}

func (f *fakeIdentity) Delete(context.Context, *store.ChannelLink, *store.WebhookConfig, string) bool {
	return f.sendOK
}
