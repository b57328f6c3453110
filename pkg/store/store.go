// Copyright 2024-2026 Aiku AI

// Package store persists sync connections, links, dedup receipts and the host
// records the sync engines mutate.
//
// Every call requires a trusted system actor in the context, attached with
// [WithSystemActor]. Calls without one fail with [ErrUntrustedCaller]; the
// store never assumes the caller is trusted.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aiku/chatsync/pkg/store/upgrades"
	"go.mau.fi/util/dbutil"
)

// ErrUntrustedCaller is returned when a persistence call carries no system actor.
var ErrUntrustedCaller = errors.New("persistence call without a trusted system actor")

type actorContextKey struct{}

// SystemActor identifies an internal caller that bypasses host authorization.
type SystemActor struct {
	// Reason names the subsystem acting, for example "outbound" or "gateway".
	Reason string
}

// WithSystemActor marks ctx as coming from a trusted internal caller.
func WithSystemActor(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, SystemActor{Reason: reason})
}

// ActorFrom returns the system actor carried by ctx.
func ActorFrom(ctx context.Context) (SystemActor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(SystemActor)
	return actor, ok
}

func requireActor(ctx context.Context) error {
	if _, ok := ActorFrom(ctx); !ok {
		return ErrUntrustedCaller
	}
	return nil
}

// Store is the SQL implementation of Repository.
type Store struct {
	DB *dbutil.Database

	connections  *dbutil.QueryHelper[*SyncConnection]
	channelLinks *dbutil.QueryHelper[*ChannelLink]
	messageLinks *dbutil.QueryHelper[*MessageLink]
	receipts     *dbutil.QueryHelper[*EventReceipt]
	users        *dbutil.QueryHelper[*HostUser]
	channels     *dbutil.QueryHelper[*HostChannel]
	messages     *dbutil.QueryHelper[*HostMessage]
	attachments  *dbutil.QueryHelper[*HostAttachment]
	reactions    *dbutil.QueryHelper[*HostReaction]

	now func() time.Time
}

var _ Repository = (*Store)(nil)

// New wraps a database and registers the schema upgrades on it.
func New(db *dbutil.Database) *Store {
	db.UpgradeTable = upgrades.Table
	return &Store{
		DB: db,

		connections:  dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*SyncConnection]) *SyncConnection { return &SyncConnection{} }),
		channelLinks: dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*ChannelLink]) *ChannelLink { return &ChannelLink{} }),
		messageLinks: dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*MessageLink]) *MessageLink { return &MessageLink{} }),
		receipts:     dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*EventReceipt]) *EventReceipt { return &EventReceipt{} }),
		users:        dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*HostUser]) *HostUser { return &HostUser{} }),
		channels:     dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*HostChannel]) *HostChannel { return &HostChannel{} }),
		messages:     dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*HostMessage]) *HostMessage { return &HostMessage{} }),
		attachments:  dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*HostAttachment]) *HostAttachment { return &HostAttachment{} }),
		reactions:    dbutil.MakeQueryHelper(db, func(_ *dbutil.QueryHelper[*HostReaction]) *HostReaction { return &HostReaction{} }),

		now: time.Now,
	}
}

// Upgrade brings the schema to the latest revision.
func (s *Store) Upgrade(ctx context.Context) error {
	if err := s.DB.Upgrade(ctx); err != nil {
		return fmt.Errorf("failed to upgrade database: %w", err)
	}
	return nil
}

// DoTxn runs fn in a transaction. Store calls made with the ctx passed to fn
// join the transaction.
func (s *Store) DoTxn(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.DB.DoTxn(ctx, nil, fn)
}

func (s *Store) nowMilli() int64 {
	return s.now().UnixMilli()
}

// affected reports whether an exec touched at least one row.
func affected(res interface{ RowsAffected() (int64, error) }) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
