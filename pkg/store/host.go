// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/util/dbutil"
)

const (
	getHostUserBaseQuery = `
		SELECT u.id, u.external_id, u.display_name, u.avatar_url, u.user_type, u.created_at
		FROM host_user u
	`
	getHostUserByIDQuery          = getHostUserBaseQuery + `WHERE u.id=$1`
	getHostUserByExternalIDQuery  = getHostUserBaseQuery + `WHERE u.external_id=$1`
	getHostUserByIntegrationQuery = getHostUserBaseQuery + `
		INNER JOIN user_integration i ON i.user_id=u.id
		WHERE i.provider=$1 AND i.external_user_id=$2
	`
	insertHostUserQuery = `
		INSERT INTO host_user (id, external_id, display_name, avatar_url, user_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`
	linkUserIntegrationQuery = `
		INSERT INTO user_integration (provider, external_user_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, external_user_id) DO NOTHING
	`
	ensureOrganizationMemberQuery = `
		INSERT INTO organization_member (organization_id, user_id, role, created_at)
		VALUES ($1, $2, 'member', $3)
		ON CONFLICT (organization_id, user_id) DO NOTHING
	`

	getHostChannelByIDQuery = `
		SELECT id, organization_id, name, channel_type, parent_channel_id, thread_root_message_id, created_at
		FROM host_channel WHERE id=$1
	`
	insertHostChannelQuery = `
		INSERT INTO host_channel (id, organization_id, name, channel_type, parent_channel_id, thread_root_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	hostMessageColumns = `
		m.id, m.channel_id, m.author_id, m.content, m.reply_to_message_id, m.thread_channel_id,
		m.created_at, m.updated_at, m.deleted_at
	`
	getHostMessageByIDQuery = `SELECT ` + hostMessageColumns + ` FROM host_message m WHERE m.id=$1`
	insertHostMessageQuery  = `
		INSERT INTO host_message (id, channel_id, author_id, content, reply_to_message_id, thread_channel_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	updateHostMessageContentQuery = `UPDATE host_message SET content=$2, updated_at=$3 WHERE id=$1`
	softDeleteHostMessageQuery    = `UPDATE host_message SET deleted_at=$2 WHERE id=$1 AND deleted_at IS NULL`
	setMessageThreadQuery         = `UPDATE host_message SET thread_channel_id=$2 WHERE id=$1`
	findUnlinkedHostMessagesQuery = `
		SELECT ` + hostMessageColumns + `
		FROM host_message m
		LEFT JOIN message_link ml
			ON ml.channel_link_id=$1 AND ml.host_message_id=m.id AND ml.deleted_at IS NULL
		WHERE m.channel_id=$2 AND m.deleted_at IS NULL AND ml.id IS NULL
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $3
	`

	insertHostAttachmentQuery = `
		INSERT INTO host_attachment (id, message_id, file_name, file_size, status, external_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	listCompletedAttachmentsQuery = `
		SELECT id, message_id, file_name, file_size, status, external_url, created_at
		FROM host_attachment
		WHERE message_id=$1 AND status='complete'
		ORDER BY created_at, id
	`

	getHostReactionBaseQuery = `
		SELECT id, message_id, user_id, emoji, origin_connection_id, created_at FROM host_reaction
	`
	getHostReactionByIDQuery  = getHostReactionBaseQuery + `WHERE id=$1`
	getHostReactionByKeyQuery = getHostReactionBaseQuery + `WHERE message_id=$1 AND user_id=$2 AND emoji=$3`
	insertHostReactionQuery   = `
		INSERT INTO host_reaction (id, message_id, user_id, emoji, origin_connection_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
	`
	deleteHostReactionQuery  = `DELETE FROM host_reaction WHERE id=$1`
	countOtherReactionsQuery = `
		SELECT COUNT(*) FROM host_reaction
		WHERE message_id=$1 AND emoji=$2 AND user_id<>$3
			AND (origin_connection_id IS NULL OR origin_connection_id<>$4)
	`
)

func (s *Store) GetHostUser(ctx context.Context, id string) (*HostUser, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.users.QueryOne(ctx, getHostUserByIDQuery, id)
}

func (s *Store) FindUserByIntegration(ctx context.Context, provider, externalUserID string) (*HostUser, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.users.QueryOne(ctx, getHostUserByIntegrationQuery, provider, externalUserID)
}

func (s *Store) FindUserByExternalID(ctx context.Context, externalID string) (*HostUser, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.users.QueryOne(ctx, getHostUserByExternalIDQuery, externalID)
}

// InsertHostUser inserts a user and reports false when the id or external id
// is already taken.
func (s *Store) InsertHostUser(ctx context.Context, user *HostUser) (bool, error) {
	if err := requireActor(ctx); err != nil {
		return false, err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	if user.Type == "" {
		user.Type = UserRegular
	}
	res, err := s.DB.Exec(ctx, insertHostUserQuery,
		user.ID, dbutil.StrPtr(user.ExternalID), user.DisplayName, user.AvatarURL, user.Type, user.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) LinkUserIntegration(ctx context.Context, provider, externalUserID, userID string) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.users.Exec(ctx, linkUserIntegrationQuery, provider, externalUserID, userID)
}

func (s *Store) EnsureOrganizationMember(ctx context.Context, organizationID, userID string) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.users.Exec(ctx, ensureOrganizationMemberQuery, organizationID, userID, s.nowMilli())
}

func (s *Store) GetHostChannel(ctx context.Context, id string) (*HostChannel, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.channels.QueryOne(ctx, getHostChannelByIDQuery, id)
}

func (s *Store) InsertHostChannel(ctx context.Context, ch *HostChannel) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = s.now()
	}
	if ch.Type == "" {
		ch.Type = ChannelPublic
	}
	return s.channels.Exec(ctx, insertHostChannelQuery,
		ch.ID, ch.OrganizationID, ch.Name, ch.Type,
		dbutil.StrPtr(ch.ParentChannelID), dbutil.StrPtr(ch.ThreadRootMessageID), ch.CreatedAt.UnixMilli(),
	)
}

func (s *Store) GetHostMessage(ctx context.Context, id string) (*HostMessage, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.messages.QueryOne(ctx, getHostMessageByIDQuery, id)
}

func (s *Store) InsertHostMessage(ctx context.Context, msg *HostMessage) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	return s.messages.Exec(ctx, insertHostMessageQuery,
		msg.ID, msg.ChannelID, msg.AuthorID, msg.Content,
		dbutil.StrPtr(msg.ReplyToMessageID), dbutil.StrPtr(msg.ThreadChannelID),
		msg.CreatedAt.UnixMilli(), msg.UpdatedAt.UnixMilli(),
	)
}

func (s *Store) UpdateHostMessageContent(ctx context.Context, id, content string, at time.Time) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.messages.Exec(ctx, updateHostMessageContentQuery, id, content, at.UnixMilli())
}

func (s *Store) SoftDeleteHostMessage(ctx context.Context, id string, at time.Time) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.messages.Exec(ctx, softDeleteHostMessageQuery, id, at.UnixMilli())
}

func (s *Store) SetMessageThread(ctx context.Context, messageID, threadChannelID string) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.messages.Exec(ctx, setMessageThreadQuery, messageID, threadChannelID)
}

// FindUnlinkedHostMessages returns up to limit non-deleted messages of the host
// channel that have no live message link on the channel link, oldest first.
func (s *Store) FindUnlinkedHostMessages(ctx context.Context, channelLinkID, hostChannelID string, limit int) ([]*HostMessage, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.messages.QueryMany(ctx, findUnlinkedHostMessagesQuery, channelLinkID, hostChannelID, limit)
}

func (s *Store) InsertHostAttachment(ctx context.Context, att *HostAttachment) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = s.now()
	}
	return s.attachments.Exec(ctx, insertHostAttachmentQuery,
		att.ID, att.MessageID, att.FileName, att.FileSize, att.Status,
		dbutil.StrPtr(att.ExternalURL), att.CreatedAt.UnixMilli(),
	)
}

func (s *Store) ListCompletedAttachments(ctx context.Context, messageID string) ([]*HostAttachment, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.attachments.QueryMany(ctx, listCompletedAttachmentsQuery, messageID)
}

func (s *Store) GetHostReaction(ctx context.Context, id string) (*HostReaction, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.reactions.QueryOne(ctx, getHostReactionByIDQuery, id)
}

func (s *Store) FindHostReaction(ctx context.Context, messageID, userID, emoji string) (*HostReaction, error) {
	if err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.reactions.QueryOne(ctx, getHostReactionByKeyQuery, messageID, userID, emoji)
}

// InsertHostReaction inserts a reaction and reports false when the same user
// already reacted to the message with the same emoji.
func (s *Store) InsertHostReaction(ctx context.Context, reaction *HostReaction) (bool, error) {
	if err := requireActor(ctx); err != nil {
		return false, err
	}
	if reaction.ID == "" {
		reaction.ID = uuid.NewString()
	}
	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = s.now()
	}
	res, err := s.DB.Exec(ctx, insertHostReactionQuery,
		reaction.ID, reaction.MessageID, reaction.UserID, reaction.Emoji,
		dbutil.StrPtr(reaction.OriginConnectionID), reaction.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) DeleteHostReaction(ctx context.Context, id string) error {
	if err := requireActor(ctx); err != nil {
		return err
	}
	return s.reactions.Exec(ctx, deleteHostReactionQuery, id)
}

// CountOtherReactions counts reactions with the given emoji on the message
// left by anyone other than excludeUserID. Reactions ingested from
// connectionID are not counted: that provider shows them as the reacting
// user's own, not as the sync bot's.
func (s *Store) CountOtherReactions(ctx context.Context, messageID, emoji, excludeUserID, connectionID string) (count int, err error) {
	if err = requireActor(ctx); err != nil {
		return 0, err
	}
	err = s.DB.QueryRow(ctx, countOtherReactionsQuery, messageID, emoji, excludeUserID, connectionID).Scan(&count)
	return
}
