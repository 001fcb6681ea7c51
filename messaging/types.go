// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/wavelength-chat/wavelength/lib/ref"
)

// User is a server user account. Inside the directory a User may be a
// placeholder — only ID set, with an optional display hint in
// Nickname — whose remaining fields are filled in asynchronously.
// Callers must tolerate a record whose username becomes available
// only later; DisplayName degrades gracefully in the meantime.
type User struct {
	ID        ref.UserID `json:"id"`
	Username  string     `json:"username"`
	Nickname  string     `json:"nickname"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
}

// DisplayName returns the best human-readable name currently known:
// nickname, then username, then the raw ID for placeholders still
// awaiting fill-in.
func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	if u.Username != "" {
		return u.Username
	}
	return u.ID.String()
}

// Team is a team (workspace) on the server.
type Team struct {
	ID          ref.TeamID `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
}

// ChannelType discriminates conversation surfaces.
type ChannelType string

// Channel types as the server encodes them.
const (
	ChannelOpen    ChannelType = "O" // public channel
	ChannelPrivate ChannelType = "P" // private channel
	ChannelDirect  ChannelType = "D" // two-party direct conversation
	ChannelGroup   ChannelType = "G" // multi-party direct conversation
)

// Channel is a conversation surface as the server describes it. For
// direct channels, TeamID is zero and Name is the machine name
// "<idA>__<idB>" joining the two member IDs.
type Channel struct {
	ID          ref.ChannelID `json:"id"`
	TeamID      ref.TeamID    `json:"team_id"`
	Type        ChannelType   `json:"type"`
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
}

// Post is one posted message as the server encodes it. CreateAt is
// the server-assigned creation timestamp in milliseconds since the
// epoch, and is the sole ordering key for room history. An empty Type
// marks a user-authored message; any other value is a system notice
// (joins, leaves, header changes) that is not surfaced as a chat
// message.
type Post struct {
	ID            ref.PostID    `json:"id"`
	ChannelID     ref.ChannelID `json:"channel_id"`
	UserID        ref.UserID    `json:"user_id"`
	RootID        ref.PostID    `json:"root_id"`
	Message       string        `json:"message"`
	Type          string        `json:"type"`
	CreateAt      int64         `json:"create_at"`
	PendingPostID string        `json:"pending_post_id,omitempty"`
}

// PostList is the server's channel history page: Order lists post IDs
// newest first, Posts maps each ID to its post.
type PostList struct {
	Order []ref.PostID         `json:"order"`
	Posts map[ref.PostID]*Post `json:"posts"`
}

// loginRequest is the body of POST /users/login.
type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

// createChannelRequest is the body of POST /channels.
type createChannelRequest struct {
	TeamID      ref.TeamID  `json:"team_id"`
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Type        ChannelType `json:"type"`
}

// createPostRequest is the body of POST /posts. PendingPostID is a
// client-generated idempotency key: the server deduplicates retries
// of the same logical post.
type createPostRequest struct {
	ChannelID     ref.ChannelID `json:"channel_id"`
	Message       string        `json:"message"`
	RootID        ref.PostID    `json:"root_id,omitempty"`
	PendingPostID string        `json:"pending_post_id"`
}

// Envelope is the outer structure of one inbound stream frame. Event
// frames carry Event, Data, Broadcast, and Seq. Command-response
// acknowledgments carry Status and SeqReply instead, with no Event.
type Envelope struct {
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Broadcast *Broadcast      `json:"broadcast,omitempty"`
	Seq       int64           `json:"seq,omitempty"`

	// Acknowledgment fields.
	Status   string    `json:"status,omitempty"`
	SeqReply int64     `json:"seq_reply,omitempty"`
	Error    *AppError `json:"error,omitempty"`
}

// isAck reports whether the envelope looks like a command-response
// acknowledgment rather than an event: no event discriminator, but a
// status or reply sequence present.
func (e *Envelope) isAck() bool {
	return e.Event == "" && (e.Status != "" || e.SeqReply != 0)
}

// Broadcast describes which connections a stream event was fanned out
// to. The channel ID is the routing key for posted and typing events.
type Broadcast struct {
	ChannelID ref.ChannelID `json:"channel_id,omitempty"`
	UserID    ref.UserID    `json:"user_id,omitempty"`
	TeamID    ref.TeamID    `json:"team_id,omitempty"`
}

// postedData is the Data payload of a "posted" event. The post itself
// arrives double-encoded: a JSON string containing the post object.
type postedData struct {
	Post               string `json:"post"`
	ChannelDisplayName string `json:"channel_display_name,omitempty"`
	ChannelName        string `json:"channel_name,omitempty"`
	ChannelType        string `json:"channel_type,omitempty"`
	SenderName         string `json:"sender_name,omitempty"`
}

// typingData is the Data payload of a "typing" event. The channel is
// carried in the envelope broadcast, not here.
type typingData struct {
	UserID   ref.UserID `json:"user_id"`
	ParentID string     `json:"parent_id,omitempty"`
}

// TypingEvent is the narrow semantic translation of a "typing" stream
// event: who is typing, and where.
type TypingEvent struct {
	ChannelID ref.ChannelID
	UserID    ref.UserID
}

// actionFrame is an outbound WebSocket request (e.g. user_typing).
// Seq correlates the server's acknowledgment with the request.
type actionFrame struct {
	Action string         `json:"action"`
	Seq    int64          `json:"seq"`
	Data   map[string]any `json:"data,omitempty"`
}
