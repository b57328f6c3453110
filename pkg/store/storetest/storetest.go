// Copyright 2024-2026 Aiku AI

// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/aiku/chatsync/pkg/store"
	"go.mau.fi/util/dbutil"
	_ "modernc.org/sqlite"
)

// New returns an upgraded store backed by a fresh SQLite file, and a context
// carrying a system actor.
func New(tb testing.TB) (*store.Store, context.Context) {
	tb.Helper()
	dsn := "file:" + filepath.Join(tb.TempDir(), "chatsync.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	raw, err := sql.Open("sqlite", dsn)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	raw.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = raw.Close() })

	db, err := dbutil.NewWithDB(raw, "sqlite")
	if err != nil {
		tb.Fatalf("wrap db: %v", err)
	}
	st := store.New(db)
	ctx := store.WithSystemActor(context.Background(), "test")
	if err = st.Upgrade(ctx); err != nil {
		tb.Fatalf("upgrade: %v", err)
	}
	return st, ctx
}

// Fixture is a connection with one bidirectional channel link.
type Fixture struct {
	Connection  *store.SyncConnection
	HostChannel *store.HostChannel
	Link        *store.ChannelLink
}

// Seed inserts an active connection for provider, a host channel and an
// active link between the host channel and externalChannelID.
func Seed(tb testing.TB, st *store.Store, ctx context.Context, provider, externalChannelID string) *Fixture {
	tb.Helper()
	conn := &store.SyncConnection{
		OrganizationID:      "org-1",
		Provider:            provider,
		Status:              store.ConnectionActive,
		ExternalWorkspaceID: "workspace-1",
	}
	if err := st.InsertConnection(ctx, conn); err != nil {
		tb.Fatalf("insert connection: %v", err)
	}
	ch := &store.HostChannel{OrganizationID: conn.OrganizationID, Name: "general"}
	if err := st.InsertHostChannel(ctx, ch); err != nil {
		tb.Fatalf("insert host channel: %v", err)
	}
	link := &store.ChannelLink{
		SyncConnectionID:  conn.ID,
		HostChannelID:     ch.ID,
		ExternalChannelID: externalChannelID,
		Direction:         store.DirectionBoth,
		Active:            true,
	}
	if _, err := st.InsertChannelLink(ctx, link); err != nil {
		tb.Fatalf("insert channel link: %v", err)
	}
	return &Fixture{Connection: conn, HostChannel: ch, Link: link}
}

// Message inserts a host message authored by authorID into the channel.
func Message(tb testing.TB, st *store.Store, ctx context.Context, channelID, authorID, content string) *store.HostMessage {
	tb.Helper()
	msg := &store.HostMessage{ChannelID: channelID, AuthorID: authorID, Content: content}
	if err := st.InsertHostMessage(ctx, msg); err != nil {
		tb.Fatalf("insert host message: %v", err)
	}
	return msg
}
