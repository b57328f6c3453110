// Copyright 2024-2026 Aiku AI

package store

import (
	"database/sql"
	"strings"
	"time"

	"go.mau.fi/util/dbutil"
)

// ConnectionStatus gates all sync activity of a SyncConnection.
type ConnectionStatus string

const (
	ConnectionActive   ConnectionStatus = "active"
	ConnectionPaused   ConnectionStatus = "paused"
	ConnectionError    ConnectionStatus = "error"
	ConnectionDisabled ConnectionStatus = "disabled"
)

// Direction limits which half of the pipeline may act on a ChannelLink.
type Direction string

const (
	DirectionBoth           Direction = "both"
	DirectionHostToExternal Direction = "host_to_external"
	DirectionExternalToHost Direction = "external_to_host"
)

// AllowsOutbound reports whether host mutations may be pushed over the link.
func (d Direction) AllowsOutbound() bool {
	return d != DirectionExternalToHost
}

// AllowsInbound reports whether provider events may be ingested over the link.
func (d Direction) AllowsInbound() bool {
	return d != DirectionHostToExternal
}

// Source names the side that originated an event or link.
type Source string

const (
	SourceHost     Source = "host"
	SourceExternal Source = "external"
)

// ReceiptStatus is the recorded outcome of a claimed dedupe key.
type ReceiptStatus string

const (
	// ReceiptPending marks a claimed key whose outcome is not yet known.
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptProcessed ReceiptStatus = "processed"
	ReceiptIgnored   ReceiptStatus = "ignored"
	ReceiptFailed    ReceiptStatus = "failed"
)

type ChannelType string

const (
	ChannelPublic ChannelType = "public"
	ChannelThread ChannelType = "thread"
)

type UserType string

const (
	UserRegular UserType = "user"
	UserShadow  UserType = "shadow"
)

type AttachmentStatus string

const (
	AttachmentUploading AttachmentStatus = "uploading"
	AttachmentComplete  AttachmentStatus = "complete"
	AttachmentFailed    AttachmentStatus = "failed"
)

// SyncConnection pairs one host organization with one external workspace.
type SyncConnection struct {
	ID                  string
	OrganizationID      string
	Provider            string
	Status              ConnectionStatus
	ExternalWorkspaceID string
	LastSyncedAt        time.Time
	CreatedAt           time.Time
}

func (c *SyncConnection) Scan(row dbutil.Scannable) (*SyncConnection, error) {
	var lastSynced sql.NullInt64
	var createdAt int64
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Provider, &c.Status, &c.ExternalWorkspaceID, &lastSynced, &createdAt)
	if err != nil {
		return nil, err
	}
	c.LastSyncedAt = fromMilli(lastSynced)
	c.CreatedAt = time.UnixMilli(createdAt)
	return c, nil
}

// IsActive reports whether the connection may process events.
func (c *SyncConnection) IsActive() bool {
	return c.Status == ConnectionActive
}

// ChannelLink maps one host channel to one external channel or thread.
type ChannelLink struct {
	ID                string
	SyncConnectionID  string
	HostChannelID     string
	ExternalChannelID string
	Direction         Direction
	Active            bool
	Settings          Settings
	// ParentLinkID is set on thread links and names the parent channel's link.
	ParentLinkID string
	LastSyncedAt time.Time
	CreatedAt    time.Time
}

func (l *ChannelLink) Scan(row dbutil.Scannable) (*ChannelLink, error) {
	var settings string
	var parent sql.NullString
	var lastSynced sql.NullInt64
	var createdAt int64
	err := row.Scan(
		&l.ID, &l.SyncConnectionID, &l.HostChannelID, &l.ExternalChannelID, &l.Direction, &l.Active,
		&settings, &parent, &lastSynced, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	l.Settings = ParseSettings([]byte(settings))
	l.ParentLinkID = parent.String
	l.LastSyncedAt = fromMilli(lastSynced)
	l.CreatedAt = time.UnixMilli(createdAt)
	return l, nil
}

func (l *ChannelLink) IsThread() bool {
	return l.ParentLinkID != ""
}

// MessageLink maps one host message to one external message under a ChannelLink.
type MessageLink struct {
	ID                string
	ChannelLinkID     string
	HostMessageID     string
	ExternalMessageID string
	Source            Source
	ExternalThreadID  string
	CreatedAt         time.Time
	DeletedAt         time.Time
}

func (m *MessageLink) Scan(row dbutil.Scannable) (*MessageLink, error) {
	var thread sql.NullString
	var createdAt int64
	var deletedAt sql.NullInt64
	err := row.Scan(&m.ID, &m.ChannelLinkID, &m.HostMessageID, &m.ExternalMessageID, &m.Source, &thread, &createdAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	m.ExternalThreadID = thread.String
	m.CreatedAt = time.UnixMilli(createdAt)
	m.DeletedAt = fromMilli(deletedAt)
	return m, nil
}

// EventReceipt is a dedup ledger row.
type EventReceipt struct {
	SyncConnectionID string
	Source           Source
	DedupeKey        string
	Status           ReceiptStatus
	ChannelLinkID    string
	PayloadHash      string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (r *EventReceipt) Scan(row dbutil.Scannable) (*EventReceipt, error) {
	var link, hash, errMsg sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&r.SyncConnectionID, &r.Source, &r.DedupeKey, &r.Status, &link, &hash, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.ChannelLinkID = link.String
	r.PayloadHash = hash.String
	r.ErrorMessage = errMsg.String
	r.CreatedAt = time.UnixMilli(createdAt)
	r.UpdatedAt = time.UnixMilli(updatedAt)
	return r, nil
}

// HostUser is a host account, either a real user or a shadow user.
type HostUser struct {
	ID          string
	ExternalID  string
	DisplayName string
	AvatarURL   string
	Type        UserType
	CreatedAt   time.Time
}

// ShadowExternalID is the deterministic external id of the shadow user for
// an external account.
func ShadowExternalID(provider, externalUserID string) string {
	return provider + "-user-" + externalUserID
}

// IsShadowOf reports whether u is a shadow user created for an account of provider.
func (u *HostUser) IsShadowOf(provider string) bool {
	return u.Type == UserShadow && strings.HasPrefix(u.ExternalID, ShadowExternalID(provider, ""))
}

func (u *HostUser) Scan(row dbutil.Scannable) (*HostUser, error) {
	var externalID sql.NullString
	var createdAt int64
	err := row.Scan(&u.ID, &externalID, &u.DisplayName, &u.AvatarURL, &u.Type, &createdAt)
	if err != nil {
		return nil, err
	}
	u.ExternalID = externalID.String
	u.CreatedAt = time.UnixMilli(createdAt)
	return u, nil
}

type HostChannel struct {
	ID                  string
	OrganizationID      string
	Name                string
	Type                ChannelType
	ParentChannelID     string
	ThreadRootMessageID string
	CreatedAt           time.Time
}

func (c *HostChannel) Scan(row dbutil.Scannable) (*HostChannel, error) {
	var parent, root sql.NullString
	var createdAt int64
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Type, &parent, &root, &createdAt)
	if err != nil {
		return nil, err
	}
	c.ParentChannelID = parent.String
	c.ThreadRootMessageID = root.String
	c.CreatedAt = time.UnixMilli(createdAt)
	return c, nil
}

type HostMessage struct {
	ID               string
	ChannelID        string
	AuthorID         string
	Content          string
	ReplyToMessageID string
	ThreadChannelID  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        time.Time
}

func (m *HostMessage) Scan(row dbutil.Scannable) (*HostMessage, error) {
	var replyTo, thread sql.NullString
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64
	err := row.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &replyTo, &thread, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	m.ReplyToMessageID = replyTo.String
	m.ThreadChannelID = thread.String
	m.CreatedAt = time.UnixMilli(createdAt)
	m.UpdatedAt = time.UnixMilli(updatedAt)
	m.DeletedAt = fromMilli(deletedAt)
	return m, nil
}

func (m *HostMessage) IsDeleted() bool {
	return !m.DeletedAt.IsZero()
}

type HostAttachment struct {
	ID          string
	MessageID   string
	FileName    string
	FileSize    int64
	Status      AttachmentStatus
	ExternalURL string
	CreatedAt   time.Time
}

func (a *HostAttachment) Scan(row dbutil.Scannable) (*HostAttachment, error) {
	var externalURL sql.NullString
	var createdAt int64
	err := row.Scan(&a.ID, &a.MessageID, &a.FileName, &a.FileSize, &a.Status, &externalURL, &createdAt)
	if err != nil {
		return nil, err
	}
	a.ExternalURL = externalURL.String
	a.CreatedAt = time.UnixMilli(createdAt)
	return a, nil
}

type HostReaction struct {
	ID        string
	MessageID string
	UserID    string
	Emoji     string
	// OriginConnectionID names the connection the reaction was ingested
	// from. It is empty for reactions made on the host.
	OriginConnectionID string
	CreatedAt          time.Time
}

func (r *HostReaction) Scan(row dbutil.Scannable) (*HostReaction, error) {
	var origin sql.NullString
	var createdAt int64
	err := row.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &origin, &createdAt)
	if err != nil {
		return nil, err
	}
	r.OriginConnectionID = origin.String
	r.CreatedAt = time.UnixMilli(createdAt)
	return r, nil
}

func fromMilli(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}
