// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wavelength-chat/wavelength/lib/clock"
	"github.com/wavelength-chat/wavelength/lib/ref"
)

// historyRetryDelay is the pause between attempts of a failed history
// fetch. Like the directory fill-in, the retry is unconditional with
// no backoff; the fetch state stays loading until a page arrives.
const historyRetryDelay = 250 * time.Millisecond

// FetchState is the per-room history fetch state.
type FetchState int

const (
	// FetchIdle: no history has been requested yet. Live messages
	// still append; backfill starts on the first TriggerFetch.
	FetchIdle FetchState = iota
	// FetchLoading: a history page is being fetched (initial load or
	// reconnect backfill).
	FetchLoading
	// FetchListening: history is loaded; the room is tracking live
	// events only.
	FetchListening
)

// String returns the lowercase state name.
func (s FetchState) String() string {
	switch s {
	case FetchIdle:
		return "idle"
	case FetchLoading:
		return "loading"
	case FetchListening:
		return "listening"
	default:
		return "unknown"
	}
}

// Message is one chat message in a room's history. Messages are
// immutable after creation and owned by their room's ordered store.
type Message struct {
	ID        ref.PostID
	ChannelID ref.ChannelID
	// Speaker is the directory record for the author. It may still be
	// a placeholder when the message arrives; the record fills in
	// later in place.
	Speaker *User
	Text    string
	// CreateAt is the server-assigned creation timestamp in
	// milliseconds — the sole ordering key within a room.
	CreateAt int64
}

// historyFetch fetches the room's history page. Bound by the session
// to the expiry-checked REST wrapper.
type historyFetch func(ctx context.Context) (*PostList, error)

// Room is one conversation surface: a channel or a direct
// conversation. It owns an ordered message history, maintained in
// non-decreasing creation-timestamp order regardless of arrival
// order, and a lazily-triggered history fetch.
//
// Rooms are created once, when the session first enumerates the
// identity's conversations after connecting, and live for the rest of
// the session.
type Room struct {
	id          ref.ChannelID
	channelType ChannelType
	name        string
	displayName string
	// counterpart is the directory record of the other party of a
	// direct conversation; nil for every other room kind.
	counterpart *User

	directory *Directory
	fetch     historyFetch
	clock     clock.Clock
	logger    *slog.Logger

	mu          sync.Mutex
	state       FetchState
	history     []*Message
	seen        map[ref.PostID]struct{}
	subscribers []func(*Message)
}

// newRoom builds a Room from the server's channel description. For a
// direct conversation the counterpart record is created (or found) in
// the directory immediately — possibly as a placeholder — so that
// alias resolution always has a record to consult.
func newRoom(ctx context.Context, channel Channel, self ref.UserID, directory *Directory, fetch historyFetch, clk clock.Clock, logger *slog.Logger) *Room {
	room := &Room{
		id:          channel.ID,
		channelType: channel.Type,
		name:        channel.Name,
		displayName: channel.DisplayName,
		directory:   directory,
		fetch:       fetch,
		clock:       clk,
		logger:      logger,
		seen:        make(map[ref.PostID]struct{}),
	}
	if channel.Type == ChannelDirect {
		if counterpart, ok := ref.SplitDirectName(channel.Name, self); ok {
			room.counterpart = directory.GetOrCreate(ctx, counterpart, "")
		} else {
			logger.Warn("direct channel with unparseable name",
				"channel_id", channel.ID,
				"name", channel.Name,
			)
		}
	}
	return room
}

// ID returns the channel identifier.
func (r *Room) ID() ref.ChannelID { return r.id }

// Type returns the channel kind.
func (r *Room) Type() ChannelType { return r.channelType }

// Counterpart returns the directory record of the other party of a
// direct conversation, or nil for group channels. The record may
// still be a placeholder.
func (r *Room) Counterpart() *User { return r.counterpart }

// Name returns the machine-usable short name. For direct
// conversations it is synthesized from the counterpart's username at
// call time — not cached — so it reflects the latest directory state
// even if the counterpart was a placeholder when the room was
// created.
func (r *Room) Name() string {
	if r.channelType == ChannelDirect && r.counterpart != nil {
		if r.counterpart.Username != "" {
			return r.counterpart.Username
		}
		return r.counterpart.ID.String()
	}
	return r.name
}

// DisplayName returns the human-readable name, resolved at call time
// for direct conversations.
func (r *Room) DisplayName() string {
	if r.channelType == ChannelDirect && r.counterpart != nil {
		return r.counterpart.DisplayName()
	}
	return r.displayName
}

// State returns the current fetch state.
func (r *Room) State() FetchState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscribe registers fn to be called for every message appended to
// this room, both live posts and history backfill (backfill notifies
// oldest first). Callbacks run on the goroutine performing the append
// and must not block.
func (r *Room) Subscribe(fn func(*Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// History returns a snapshot of the room's messages in non-decreasing
// creation-timestamp order.
func (r *Room) History() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]*Message, len(r.history))
	copy(snapshot, r.history)
	return snapshot
}

// TriggerFetch starts the history fetch on first call (idle →
// loading). Idempotent: subsequent calls are no-ops. Reconnect
// backfill (listening → loading) is re-triggered by the session's
// reconnect signal, not by external callers.
func (r *Room) TriggerFetch(ctx context.Context) {
	r.mu.Lock()
	if r.state != FetchIdle {
		r.mu.Unlock()
		return
	}
	r.state = FetchLoading
	r.mu.Unlock()

	go r.loadHistory(ctx)
}

// refetch moves a listening room back to loading to backfill whatever
// was missed while disconnected. Called by the session on every
// reconnect. Rooms that are idle (never fetched) or already loading
// are left alone.
func (r *Room) refetch(ctx context.Context) {
	r.mu.Lock()
	if r.state != FetchListening {
		r.mu.Unlock()
		return
	}
	r.state = FetchLoading
	r.mu.Unlock()

	go r.loadHistory(ctx)
}

// loadHistory fetches the channel's message page and inserts the
// returned messages oldest first, preserving emission order for
// subscribers that care about arrival order. A single page is treated
// as authoritative — there is no pagination loop. A fetch error keeps
// the state at loading and retries unconditionally.
func (r *Room) loadHistory(ctx context.Context) {
	for {
		list, err := r.fetch(ctx)
		if err == nil {
			r.insertHistory(ctx, list)
			r.mu.Lock()
			r.state = FetchListening
			r.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("room history fetch failed, retrying",
			"channel_id", r.id,
			"error", err,
		)
		r.clock.Sleep(historyRetryDelay)
	}
}

// insertHistory appends a history page oldest-to-newest. The server
// orders the page newest first, so it is walked backwards.
func (r *Room) insertHistory(ctx context.Context, list *PostList) {
	for i := len(list.Order) - 1; i >= 0; i-- {
		post, ok := list.Posts[list.Order[i]]
		if !ok {
			continue
		}
		if post.UserID.IsZero() {
			// No author to attribute the entry to; skip rather than
			// store a speakerless message.
			continue
		}
		speaker := r.directory.GetOrCreate(ctx, post.UserID, "")
		r.append(&Message{
			ID:        post.ID,
			ChannelID: post.ChannelID,
			Speaker:   speaker,
			Text:      post.Message,
			CreateAt:  post.CreateAt,
		})
	}
}

// append inserts a message into the ordered store keyed by creation
// timestamp and notifies subscribers. Messages already present (by
// post ID) are skipped, which makes reconnect backfill — a full page
// re-fetch — idempotent. Insertion among equal timestamps preserves
// arrival order; only timestamp order is guaranteed.
func (r *Room) append(message *Message) {
	r.mu.Lock()
	if !message.ID.IsZero() {
		if _, dup := r.seen[message.ID]; dup {
			r.mu.Unlock()
			return
		}
		r.seen[message.ID] = struct{}{}
	}

	at := sort.Search(len(r.history), func(i int) bool {
		return r.history[i].CreateAt > message.CreateAt
	})
	r.history = append(r.history, nil)
	copy(r.history[at+1:], r.history[at:])
	r.history[at] = message

	subscribers := make([]func(*Message), len(r.subscribers))
	copy(subscribers, r.subscribers)
	r.mu.Unlock()

	for _, fn := range subscribers {
		fn(message)
	}
}
