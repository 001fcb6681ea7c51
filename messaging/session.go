// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wavelength-chat/wavelength/lib/clock"
	"github.com/wavelength-chat/wavelength/lib/ref"
)

// State is the session lifecycle state.
type State int

const (
	// StateAuthenticating: verifying a long-lived token or submitting
	// credentials to the login endpoint.
	StateAuthenticating State = iota
	// StateConnecting: performing the WebSocket upgrade with the
	// current token. Any prior socket has been discarded.
	StateConnecting
	// StateConnected: the event stream is live.
	StateConnected
	// StateConnectedFailed: a socket error was observed while
	// connected. The state exists to make the decision to always
	// retry explicit and observable; it is left for StateConnecting
	// immediately and unconditionally.
	StateConnectedFailed
	// StateFailed: terminal. Authentication or upgrade failed; the
	// recorded error has been surfaced to subscribers. The session
	// never self-heals from here.
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConnectedFailed:
		return "connected.failed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Credentials is the authentication material for one session:
// a username plus exactly one of password or long-lived token.
// Token authentication is verified by resolving the identity by
// username; password authentication submits to the login endpoint
// and captures the issued short-lived token.
type Credentials struct {
	Username string
	Password string
	Token    string
}

func (c Credentials) validate() error {
	if c.Username == "" {
		return fmt.Errorf("messaging: username is required")
	}
	if c.Password == "" && c.Token == "" {
		return fmt.Errorf("messaging: one of password or token is required")
	}
	if c.Password != "" && c.Token != "" {
		return fmt.Errorf("messaging: password and token are mutually exclusive")
	}
	return nil
}

// defaultPingInterval is the keepalive ping period while connected.
const defaultPingInterval = 30 * time.Second

// bootstrapRetryDelay is the pause before re-running a failed
// conversation enumeration, the same flat cadence as the directory
// fill-in and room history retries.
const bootstrapRetryDelay = 250 * time.Millisecond

// SessionConfig holds configuration for creating a Session.
type SessionConfig struct {
	// Client performs all HTTP and WebSocket traffic. Required.
	Client *Client
	// Credentials is the authentication material. Required.
	Credentials Credentials
	// Team is the machine name of the team whose conversations the
	// session enumerates. Required.
	Team string
	// Clock drives the keepalive ticker and retry delays. If nil,
	// the real clock is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
	// PingInterval overrides the keepalive period. Zero means the
	// default.
	PingInterval time.Duration
}

// controlKind tags one internal control event.
type controlKind int

const (
	ctrlAuthOK controlKind = iota
	ctrlAuthFailed
	ctrlUpgradeOK
	ctrlUpgradeFailed
	ctrlSocket
	ctrlExpired
	ctrlBootstrap
)

// epochAny marks control events that are not bound to a particular
// connection attempt: the session-expiry signal, which can arrive
// from any REST call at any time, and bootstrap completions, whose
// result is valid whichever connection is current when they land.
const epochAny = -1

// controlEvent is one item on the session's control queue. Only the
// fields relevant to the kind are set. The epoch identifies the
// connection attempt the event belongs to; the run loop discards
// events from superseded attempts.
type controlEvent struct {
	epoch int
	kind  controlKind

	token     string
	identity  *User
	transport *transport
	socket    socketEvent
	err       error
	team      *Team
	channels  []Channel
}

// Session owns one authenticated identity's connection lifecycle:
// authentication, the event stream, reconnection, re-authentication
// on expiry, and the two derived caches (user directory, room
// stores).
//
// All state transitions, cache routing, and handler invocations
// happen on the single run-loop goroutine, strictly sequentially.
// Asynchronous work (authentication, upgrade, fetches) runs on its
// own goroutines and reports back through the control queue, tagged
// with the connection epoch so a completion from a superseded attempt
// is detected and ignored.
//
// Handlers are registered before Run and invoked from the run loop in
// strict transition order; they must not block.
type Session struct {
	client       *Client
	creds        Credentials
	teamName     string
	clock        clock.Clock
	logger       *slog.Logger
	pingInterval time.Duration

	control chan controlEvent
	started atomic.Bool
	done    chan struct{}
	seq     atomic.Int64

	onConnected func(*User)
	onReconnect func()
	onError     func(error)
	onEvent     func(*Envelope)
	onTyping    func(TypingEvent)
	onViolation func(*ProtocolError)

	// directory is created once and never replaced.
	directory *Directory

	// mu guards the fields below: written by the run loop, read by
	// accessor methods and the REST wrappers.
	mu            sync.Mutex
	state         State
	epoch         int
	token         string
	identity      *User
	lastErr       error
	everConnected bool
	transport     *transport
	team          *Team
	rooms         map[ref.ChannelID]*Room
	bootstrapping bool

	// keepalive ticker; owned exclusively by the run loop. pingC is
	// nil outside the connected state, which disables its select arm.
	keepalive *clock.Ticker
	pingC     <-chan time.Time
}

// NewSession creates a Session. The session does nothing until Run is
// called.
func NewSession(config SessionConfig) (*Session, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("messaging: Client is required")
	}
	if err := config.Credentials.validate(); err != nil {
		return nil, err
	}
	if config.Team == "" {
		return nil, fmt.Errorf("messaging: Team is required")
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pingInterval := config.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}

	session := &Session{
		client:       config.Client,
		creds:        config.Credentials,
		teamName:     config.Team,
		clock:        clk,
		logger:       logger,
		pingInterval: pingInterval,
		control:      make(chan controlEvent, 256),
		done:         make(chan struct{}),
		state:        StateAuthenticating,
	}
	session.directory = NewDirectory(session, clk, logger)
	return session, nil
}

// Handler registration. All of these must be called before Run.

// OnConnected registers a handler for the first successful entry into
// the connected state, carrying the authenticated identity.
func (s *Session) OnConnected(fn func(*User)) { s.onConnected = fn }

// OnReconnected registers a handler for every subsequent entry into
// the connected state.
func (s *Session) OnReconnected(fn func()) { s.onReconnect = fn }

// OnError registers a handler for the terminal failure.
func (s *Session) OnError(fn func(error)) { s.onError = fn }

// OnEvent registers a handler for the generic raw-event notification:
// every known inbound event kind is delivered here with its full
// envelope, for consumers that need fields not otherwise modeled.
func (s *Session) OnEvent(fn func(*Envelope)) { s.onEvent = fn }

// OnTyping registers a handler for the narrow typing translation.
func (s *Session) OnTyping(fn func(TypingEvent)) { s.onTyping = fn }

// OnProtocolViolation registers a handler for unrecognized inbound
// event kinds. These indicate the server speaks a protocol revision
// the client does not understand; they are surfaced here and logged
// at error level, distinct from ordinary errors.
func (s *Session) OnProtocolViolation(fn func(*ProtocolError)) { s.onViolation = fn }

// Run drives the session until the terminal failed state or context
// cancellation. It authenticates, connects the event stream, and
// thereafter reconnects on every socket-level failure and
// re-authenticates on session expiry. Returns the terminal error, or
// ctx.Err() on cancellation.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("messaging: session already run")
	}
	defer close(s.done)

	s.transitionAuthenticating(ctx)

	for {
		select {
		case <-ctx.Done():
			s.releaseSocket()
			return ctx.Err()

		case <-s.pingC:
			if transport := s.currentTransport(); transport != nil {
				transport.ping()
			}

		case event := <-s.control:
			if !s.eventCurrent(event) {
				// A completion from a superseded connection attempt.
				// A late successful upgrade still carries a socket
				// that must be released.
				if event.transport != nil {
					event.transport.close()
				}
				s.logger.Debug("dropping stale completion",
					"kind", event.kind,
					"epoch", event.epoch,
				)
				continue
			}
			s.handle(ctx, event)
			if s.State() == StateFailed {
				return s.Err()
			}
		}
	}
}

// eventCurrent reports whether the event belongs to the current
// connection attempt (or is not attempt-bound).
func (s *Session) eventCurrent(event controlEvent) bool {
	if event.epoch == epochAny {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return event.epoch == s.epoch
}

// post delivers a control event to the run loop. Never blocks the
// caller: if the queue is momentarily full, delivery falls back to a
// goroutine. Events may not be dropped — an expiry signal or socket
// notification that vanished would strand the state machine.
func (s *Session) post(event controlEvent) {
	select {
	case s.control <- event:
	default:
		go func() { s.control <- event }()
	}
}

// handle processes one current control event on the run loop.
func (s *Session) handle(ctx context.Context, event controlEvent) {
	switch event.kind {
	case ctrlAuthOK:
		s.mu.Lock()
		s.token = event.token
		s.identity = event.identity
		s.mu.Unlock()
		s.logger.Info("authenticated",
			"user_id", event.identity.ID,
			"username", event.identity.Username,
		)
		s.transitionConnecting(ctx)

	case ctrlAuthFailed:
		s.fail(fmt.Errorf("messaging: authentication failed: %w", event.err))

	case ctrlUpgradeFailed:
		s.fail(fmt.Errorf("messaging: event stream upgrade failed: %w", event.err))

	case ctrlUpgradeOK:
		s.enterConnected(ctx, event.transport)

	case ctrlSocket:
		s.handleSocket(ctx, event.socket)

	case ctrlExpired:
		switch s.State() {
		case StateAuthenticating, StateFailed:
			// Already re-authenticating, or past recovery; a second
			// expiry report changes nothing.
			return
		}
		s.logger.Info("session token expired, re-authenticating")
		s.transitionAuthenticating(ctx)

	case ctrlBootstrap:
		s.mu.Lock()
		s.bootstrapping = false
		s.mu.Unlock()
		if event.err != nil {
			s.logger.Warn("conversation enumeration failed, retrying", "error", event.err)
			s.retryBootstrap(ctx)
			return
		}
		s.installRooms(ctx, event.team, event.channels)
	}
}

// transitionAuthenticating enters the authenticating state: the
// current token is invalidated, any live socket is released, the
// epoch advances (orphaning outstanding completions), and the
// authentication branch for the configured credential kind starts.
func (s *Session) transitionAuthenticating(ctx context.Context) {
	s.releaseSocket()

	s.mu.Lock()
	s.state = StateAuthenticating
	s.token = ""
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	go s.authenticate(ctx, epoch)
}

// authenticate runs off the run loop. With a long-lived token, the
// token is verified by resolving the identity by username; otherwise
// credentials go to the login endpoint, which issues the short-lived
// session token.
func (s *Session) authenticate(ctx context.Context, epoch int) {
	if s.creds.Token != "" {
		identity, err := s.client.getUserByUsername(ctx, s.creds.Token, s.creds.Username)
		if err != nil {
			s.post(controlEvent{epoch: epoch, kind: ctrlAuthFailed, err: err})
			return
		}
		s.post(controlEvent{epoch: epoch, kind: ctrlAuthOK, token: s.creds.Token, identity: identity})
		return
	}

	token, identity, err := s.client.Login(ctx, s.creds.Username, s.creds.Password)
	if err != nil {
		s.post(controlEvent{epoch: epoch, kind: ctrlAuthFailed, err: err})
		return
	}
	s.post(controlEvent{epoch: epoch, kind: ctrlAuthOK, token: token, identity: identity})
}

// transitionConnecting enters the connecting state: any prior socket
// is discarded first, the epoch advances, and the WebSocket upgrade
// starts with the current token.
func (s *Session) transitionConnecting(ctx context.Context) {
	s.releaseSocket()

	s.mu.Lock()
	s.state = StateConnecting
	s.epoch++
	epoch := s.epoch
	token := s.token
	s.mu.Unlock()

	go func() {
		transport, err := dialStream(ctx, s.client.baseURL, token)
		if err != nil {
			s.post(controlEvent{epoch: epoch, kind: ctrlUpgradeFailed, err: err})
			return
		}
		s.post(controlEvent{epoch: epoch, kind: ctrlUpgradeOK, transport: transport})
	}()
}

// enterConnected attaches the freshly upgraded transport: socket
// listeners, keepalive ticker, and the connected/reconnected
// emission. First entry additionally starts the directory bulk load.
// The bootstrap (conversation enumeration) is armed on every entry
// until rooms are installed, so an enumeration interrupted by a
// disconnect or server error is picked up again.
func (s *Session) enterConnected(ctx context.Context, transport *transport) {
	s.mu.Lock()
	s.state = StateConnected
	s.transport = transport
	epoch := s.epoch
	first := !s.everConnected
	s.everConnected = true
	identity := s.identity
	s.mu.Unlock()

	s.keepalive = s.clock.NewTicker(s.pingInterval)
	s.pingC = s.keepalive.C

	go transport.readLoop(func(event socketEvent) {
		s.post(controlEvent{epoch: epoch, kind: ctrlSocket, socket: event})
	})

	if first {
		s.logger.Info("connected", "user_id", identity.ID)
		if s.onConnected != nil {
			s.onConnected(identity)
		}
		go func() {
			if err := s.directory.BulkLoad(ctx); err != nil {
				// Not fatal: the directory stays sparse and fills in
				// on demand.
				s.logger.Warn("directory bulk load failed", "error", err)
			}
		}()
	} else {
		s.logger.Info("reconnected", "user_id", identity.ID)
		if s.onReconnect != nil {
			s.onReconnect()
		}
		for _, room := range s.Rooms() {
			room.refetch(ctx)
		}
	}

	s.mu.Lock()
	needBootstrap := s.rooms == nil && !s.bootstrapping
	if needBootstrap {
		s.bootstrapping = true
	}
	s.mu.Unlock()
	if needBootstrap {
		go s.bootstrap(ctx, identity.ID)
	}
}

// bootstrap resolves the team and enumerates the identity's
// conversations, off the run loop. The completion is not bound to a
// connection attempt: rooms install exactly once, whichever
// connection is current when the enumeration lands. Conversations
// created after installation are never picked up — there is no
// re-enumeration.
func (s *Session) bootstrap(ctx context.Context, self ref.UserID) {
	team, err := s.GetTeamByName(ctx, s.teamName)
	if err != nil {
		s.post(controlEvent{epoch: epochAny, kind: ctrlBootstrap, err: err})
		return
	}
	channels, err := s.ChannelsForUser(ctx, self, team.ID)
	if err != nil {
		s.post(controlEvent{epoch: epochAny, kind: ctrlBootstrap, err: err})
		return
	}
	s.post(controlEvent{epoch: epochAny, kind: ctrlBootstrap, team: team, channels: channels})
}

// retryBootstrap schedules another enumeration attempt after a flat
// delay. Indefinite, like the other fetch retries; only context
// cancellation stops it.
func (s *Session) retryBootstrap(ctx context.Context) {
	s.mu.Lock()
	s.bootstrapping = true
	identity := s.identity
	s.mu.Unlock()

	go func() {
		s.clock.Sleep(bootstrapRetryDelay)
		if ctx.Err() != nil {
			return
		}
		s.bootstrap(ctx, identity.ID)
	}()
}

// installRooms creates the room stores from the enumerated channels.
// Runs at most once per session.
func (s *Session) installRooms(ctx context.Context, team *Team, channels []Channel) {
	s.mu.Lock()
	if s.rooms != nil {
		s.mu.Unlock()
		return
	}
	self := s.identity.ID
	s.team = team
	s.rooms = make(map[ref.ChannelID]*Room, len(channels))
	s.mu.Unlock()

	for _, channel := range channels {
		channelID := channel.ID
		fetch := func(ctx context.Context) (*PostList, error) {
			return s.GetPostsForChannel(ctx, channelID)
		}
		room := newRoom(ctx, channel, self, s.directory, fetch, s.clock, s.logger)

		s.mu.Lock()
		s.rooms[channel.ID] = room
		s.mu.Unlock()
	}
	s.logger.Info("conversations enumerated",
		"team", team.Name,
		"rooms", len(channels),
	)
}

// handleSocket reacts to one transport observation while connected.
func (s *Session) handleSocket(ctx context.Context, event socketEvent) {
	switch event.kind {
	case socketFrame:
		s.handleFrame(ctx, event.data)

	case socketEnd, socketReset:
		// Transient by policy: no backoff, no retry ceiling, no
		// distinction between a clean and an abrupt disconnect.
		s.logger.Info("stream connection lost, reconnecting", "error", event.err)
		s.transitionConnecting(ctx)

	case socketError:
		s.mu.Lock()
		s.state = StateConnectedFailed
		s.lastErr = event.err
		s.mu.Unlock()
		s.logger.Error("stream connection error", "error", event.err)
		// connected.failed always continues to connecting.
		s.transitionConnecting(ctx)
	}
}

// handleFrame dispatches one inbound frame per the classifier's
// verdict.
func (s *Session) handleFrame(ctx context.Context, data []byte) {
	result := classifyFrame(data)
	switch result.kind {
	case frameMalformed:
		s.logger.Warn("dropping malformed frame", "error", result.err)

	case frameAck:
		s.logger.Debug("command acknowledgment",
			"seq_reply", result.envelope.SeqReply,
			"status", result.envelope.Status,
		)

	case frameViolation:
		violation := result.err.(*ProtocolError)
		s.logger.Error("protocol violation: unrecognized event kind",
			"event", violation.Event,
		)
		if s.onViolation != nil {
			s.onViolation(violation)
		}

	case frameEvent:
		if result.typing != nil && s.onTyping != nil {
			s.onTyping(*result.typing)
		}
		s.emitRaw(result.envelope)

	case framePosted:
		if result.userMessage {
			s.routePost(ctx, result.post)
		}
		// System notices and user messages alike are covered by the
		// generic emission.
		s.emitRaw(result.envelope)
	}
}

// emitRaw delivers the generic raw-event notification.
func (s *Session) emitRaw(envelope *Envelope) {
	if s.onEvent != nil {
		s.onEvent(envelope)
	}
}

// routePost routes a user-authored post into its room store,
// resolving the speaker through the directory.
func (s *Session) routePost(ctx context.Context, post *Post) {
	room := s.RoomByID(post.ChannelID)
	if room == nil {
		// A conversation created after the initial enumeration; the
		// session never re-enumerates, so such posts have no room.
		s.logger.Debug("post for unknown channel", "channel_id", post.ChannelID)
		return
	}
	speaker := s.directory.GetOrCreate(ctx, post.UserID, "")
	room.append(&Message{
		ID:        post.ID,
		ChannelID: post.ChannelID,
		Speaker:   speaker,
		Text:      post.Message,
		CreateAt:  post.CreateAt,
	})
}

// fail enters the terminal failed state and surfaces the error.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastErr = err
	s.mu.Unlock()

	s.releaseSocket()
	s.logger.Error("session failed", "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// releaseSocket closes the live transport, if any, and stops the
// keepalive ticker. Every transition away from connected comes
// through here, so exactly one socket is live at a time.
func (s *Session) releaseSocket() {
	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	s.mu.Unlock()

	if transport != nil {
		transport.close()
	}
	if s.keepalive != nil {
		s.keepalive.Stop()
		s.keepalive = nil
		s.pingC = nil
	}
	// Socket-level trouble tends to poison pooled HTTP connections
	// to the same host as well.
	s.client.CloseIdleConnections()
}

// Accessors. Safe to call from any goroutine.

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the authenticated user record, or nil before the
// first successful authentication.
func (s *Session) Identity() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Team returns the resolved team, or nil before bootstrap completes.
func (s *Session) Team() *Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team
}

// Err returns the recorded terminal error, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Directory returns the session's user directory.
func (s *Session) Directory() *Directory { return s.directory }

// Rooms returns the enumerated conversation stores, ordered by
// channel ID. Empty before bootstrap completes.
func (s *Session) Rooms() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].id.String() < rooms[j].id.String()
	})
	return rooms
}

// RoomByID returns the room for a channel ID, or nil.
func (s *Session) RoomByID(id ref.ChannelID) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[id]
}

// RoomByName returns the room whose current name matches, or nil.
// Direct-room names resolve through the directory at call time, so
// this scans rather than indexing by a name that can change.
func (s *Session) RoomByName(name string) *Room {
	for _, room := range s.Rooms() {
		if room.Name() == name {
			return room
		}
	}
	return nil
}

// SendTyping announces that the identity is typing in a channel, via
// the event stream. Returns an error when the stream is not
// connected; typing indicators are not worth queuing across a
// reconnect.
func (s *Session) SendTyping(channelID ref.ChannelID) error {
	transport := s.currentTransport()
	if transport == nil {
		return fmt.Errorf("messaging: not connected")
	}
	return transport.send(actionFrame{
		Action: "user_typing",
		Seq:    s.seq.Add(1),
		Data:   map[string]any{"channel_id": channelID.String()},
	})
}

func (s *Session) currentTransport() *transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

func (s *Session) currentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}
