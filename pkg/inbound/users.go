// Copyright 2024-2026 Aiku AI

package inbound

import (
	"context"
	"fmt"

	"github.com/aiku/chatsync/pkg/store"
	"github.com/rs/zerolog"
)

// Author is an external user as seen in a provider event.
type Author struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// resolveUser returns the host account linked to the external author, or
// the author's shadow user, creating it on first sight. The user is always
// made a member of the connection's organization.
func (e *Engine) resolveUser(ctx context.Context, conn *store.SyncConnection, author Author) (*store.HostUser, error) {
	user, err := e.store.FindUserByIntegration(ctx, conn.Provider, author.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user integration: %w", err)
	}
	if user == nil {
		if user, err = e.shadowUser(ctx, conn.Provider, author); err != nil {
			return nil, err
		}
	}
	if err = e.store.EnsureOrganizationMember(ctx, conn.OrganizationID, user.ID); err != nil {
		return nil, fmt.Errorf("failed to add %s to organization: %w", user.ID, err)
	}
	return user, nil
}

func (e *Engine) shadowUser(ctx context.Context, provider string, author Author) (*store.HostUser, error) {
	externalID := store.ShadowExternalID(provider, author.ID)
	user, err := e.store.FindUserByExternalID(ctx, externalID)
	if err != nil || user != nil {
		return user, err
	}
	name := author.DisplayName
	if name == "" {
		name = author.ID
	}
	user = &store.HostUser{
		ExternalID:  externalID,
		DisplayName: name,
		AvatarURL:   author.AvatarURL,
		Type:        store.UserShadow,
	}
	created, err := e.store.InsertHostUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create shadow user: %w", err)
	} else if created {
		zerolog.Ctx(ctx).Info().
			Str("user_id", user.ID).
			Str("external_id", externalID).
			Msg("Created shadow user")
		return user, nil
	}
	// Another event created the same shadow user first.
	user, err = e.store.FindUserByExternalID(ctx, externalID)
	if err == nil && user == nil {
		err = fmt.Errorf("shadow user %s vanished after conflicting insert", externalID)
	}
	return user, err
}
