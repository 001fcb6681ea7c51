// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wavelength-chat/wavelength/lib/ref"
)

// Authenticated REST operations. Every wrapper reads the current
// session token and funnels the result through checkExpiry, so any
// call observing a server-side session expiry triggers one
// re-authentication cycle regardless of which operation noticed it
// first. The call itself still fails with the original error; the
// caller retries once the session has reconnected.

// checkExpiry inspects a REST error for the server's session-expiry
// signal and, on a match, nudges the run loop into re-authentication.
// Returns the error unchanged.
func (s *Session) checkExpiry(err error) error {
	if isSessionExpired(err) {
		s.post(controlEvent{epoch: epochAny, kind: ctrlExpired})
	}
	return err
}

// GetMe fetches the authenticated identity's current user record.
func (s *Session) GetMe(ctx context.Context) (*User, error) {
	user, err := s.client.getMe(ctx, s.currentToken())
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return user, nil
}

// GetUser fetches one user record by ID.
func (s *Session) GetUser(ctx context.Context, id ref.UserID) (*User, error) {
	user, err := s.client.getUser(ctx, s.currentToken(), id)
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return user, nil
}

// GetUserByUsername fetches one user record by username.
func (s *Session) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	user, err := s.client.getUserByUsername(ctx, s.currentToken(), username)
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return user, nil
}

// ListUsers fetches one page of the server's user roster.
func (s *Session) ListUsers(ctx context.Context, page, perPage int) ([]*User, error) {
	users, err := s.client.listUsers(ctx, s.currentToken(), page, perPage)
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return users, nil
}

// FetchUser implements UserFetcher for the session's directory.
func (s *Session) FetchUser(ctx context.Context, id ref.UserID) (*User, error) {
	return s.GetUser(ctx, id)
}

// FetchUserPage implements UserFetcher for the session's directory.
func (s *Session) FetchUserPage(ctx context.Context, page, perPage int) ([]*User, error) {
	return s.ListUsers(ctx, page, perPage)
}

// GetTeamByName resolves a team by its machine name.
func (s *Session) GetTeamByName(ctx context.Context, name string) (*Team, error) {
	team, err := s.client.getTeamByName(ctx, s.currentToken(), name)
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return team, nil
}

// ChannelsForUser enumerates a user's channel memberships on a team.
func (s *Session) ChannelsForUser(ctx context.Context, userID ref.UserID, teamID ref.TeamID) ([]Channel, error) {
	channels, err := s.client.channelsForUser(ctx, s.currentToken(), userID, teamID)
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return channels, nil
}

// GetChannelByName resolves a channel by its machine name on a team.
func (s *Session) GetChannelByName(ctx context.Context, teamID ref.TeamID, name string) (*Channel, error) {
	channel, err := s.client.getChannelByName(ctx, s.currentToken(), teamID, name)
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return channel, nil
}

// CreateChannel creates a channel on a team.
func (s *Session) CreateChannel(ctx context.Context, teamID ref.TeamID, name, displayName string, channelType ChannelType) (*Channel, error) {
	channel, err := s.client.createChannel(ctx, s.currentToken(), createChannelRequest{
		TeamID:      teamID,
		Name:        name,
		DisplayName: displayName,
		Type:        channelType,
	})
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return channel, nil
}

// GetPostsForChannel fetches the most recent page of a channel's
// posts.
func (s *Session) GetPostsForChannel(ctx context.Context, channelID ref.ChannelID) (*PostList, error) {
	posts, err := s.client.postsForChannel(ctx, s.currentToken(), channelID)
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return posts, nil
}

// SendMessage posts a message to a channel. Each call carries a fresh
// client-generated idempotency key, so a retry after an ambiguous
// failure of the same call would need the caller to reuse the
// returned post, not resend.
func (s *Session) SendMessage(ctx context.Context, channelID ref.ChannelID, text string) (*Post, error) {
	identity := s.Identity()
	if identity == nil {
		return nil, fmt.Errorf("messaging: not authenticated")
	}
	post, err := s.client.createPost(ctx, s.currentToken(), createPostRequest{
		ChannelID:     channelID,
		Message:       text,
		PendingPostID: fmt.Sprintf("%s:%s", identity.ID, uuid.NewString()),
	})
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return post, nil
}

// ReplyTo posts a threaded reply under a root post.
func (s *Session) ReplyTo(ctx context.Context, channelID ref.ChannelID, rootID ref.PostID, text string) (*Post, error) {
	identity := s.Identity()
	if identity == nil {
		return nil, fmt.Errorf("messaging: not authenticated")
	}
	post, err := s.client.createPost(ctx, s.currentToken(), createPostRequest{
		ChannelID:     channelID,
		Message:       text,
		RootID:        rootID,
		PendingPostID: fmt.Sprintf("%s:%s", identity.ID, uuid.NewString()),
	})
	if err != nil {
		return nil, s.checkExpiry(err)
	}
	return post, nil
}

// DeletePost deletes a post by ID.
func (s *Session) DeletePost(ctx context.Context, id ref.PostID) error {
	if err := s.client.deletePost(ctx, s.currentToken(), id); err != nil {
		return s.checkExpiry(err)
	}
	return nil
}
