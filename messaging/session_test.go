// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wavelength-chat/wavelength/lib/ref"
	"github.com/wavelength-chat/wavelength/lib/testutil"
)

// chatServer is an in-process chat server covering the REST surface
// and the event stream the session needs. Sockets accepted from the
// client land on the conns channel so tests can inject frames or
// drop the connection.
type chatServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	conns chan *websocket.Conn

	mu           sync.Mutex
	loginCount   int
	tokenSerial  int
	validTokens  map[string]bool
	rejectLogin  bool
	failUpgrade  bool
	expireNext   bool
	pageRequests int
	users        []User
	team         Team
	channels     []Channel
	posts        map[ref.ChannelID]*PostList
	created      []createPostRequest

	// channelsGate, when non-nil, blocks channel listings until the
	// channel is closed. channelsFailures makes that many listings
	// fail with a server error before succeeding.
	channelsGate     chan struct{}
	channelsFailures int
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	cs := &chatServer{
		t:           t,
		conns:       make(chan *websocket.Conn, 4),
		validTokens: make(map[string]bool),
		posts:       make(map[ref.ChannelID]*PostList),
		users: []User{
			{ID: ref.MustParseUserID("uid-alice"), Username: "alice", Nickname: "Alice"},
			{ID: ref.MustParseUserID("uid-bob"), Username: "bob"},
		},
		team: Team{ID: ref.MustParseTeamID("team-1"), Name: "wavelength", DisplayName: "Wavelength"},
		channels: []Channel{
			{
				ID:          ref.MustParseChannelID("chan-town"),
				TeamID:      ref.MustParseTeamID("team-1"),
				Type:        ChannelOpen,
				Name:        "town-square",
				DisplayName: "Town Square",
			},
			{
				ID:   ref.MustParseChannelID("chan-dm"),
				Type: ChannelDirect,
				Name: ref.DirectChannelName(
					ref.MustParseUserID("uid-alice"),
					ref.MustParseUserID("uid-bob"),
				),
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v4/users/login", cs.handleLogin)
	mux.HandleFunc("GET /api/v4/users", cs.handleListUsers)
	mux.HandleFunc("GET /api/v4/users/me", cs.handleMe)
	mux.HandleFunc("GET /api/v4/users/username/{username}", cs.handleUserByUsername)
	mux.HandleFunc("GET /api/v4/users/{id}", cs.handleUserByID)
	mux.HandleFunc("GET /api/v4/users/{id}/teams/{team}/channels", cs.handleChannels)
	mux.HandleFunc("GET /api/v4/teams/name/{name}", cs.handleTeam)
	mux.HandleFunc("GET /api/v4/channels/{id}/posts", cs.handlePosts)
	mux.HandleFunc("POST /api/v4/posts", cs.handleCreatePost)
	mux.HandleFunc("GET /api/v4/websocket", cs.handleStream)

	cs.server = httptest.NewServer(mux)
	t.Cleanup(cs.server.Close)
	return cs
}

func (cs *chatServer) appError(writer http.ResponseWriter, status int, id, message string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(AppError{ID: id, Message: message})
}

// authorize checks the bearer token and the one-shot expiry switch.
// Returns false after writing the error response.
func (cs *chatServer) authorize(writer http.ResponseWriter, request *http.Request) bool {
	token := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")

	cs.mu.Lock()
	expired := cs.expireNext
	cs.expireNext = false
	valid := cs.validTokens[token]
	cs.mu.Unlock()

	if expired {
		cs.appError(writer, http.StatusUnauthorized, ErrIDSessionExpired, "session expired")
		return false
	}
	if !valid {
		cs.appError(writer, http.StatusUnauthorized, ErrIDInvalidToken, "invalid token")
		return false
	}
	return true
}

func (cs *chatServer) handleLogin(writer http.ResponseWriter, request *http.Request) {
	cs.mu.Lock()
	cs.loginCount++
	reject := cs.rejectLogin
	cs.tokenSerial++
	token := fmt.Sprintf("tok-%d", cs.tokenSerial)
	if !reject {
		cs.validTokens[token] = true
	}
	cs.mu.Unlock()

	if reject {
		cs.appError(writer, http.StatusUnauthorized, ErrIDLoginInvalid, "bad credentials")
		return
	}
	writer.Header().Set("Token", token)
	writeJSON(cs.t, writer, cs.users[0])
}

func (cs *chatServer) handleListUsers(writer http.ResponseWriter, request *http.Request) {
	if !cs.authorize(writer, request) {
		return
	}
	cs.mu.Lock()
	cs.pageRequests++
	cs.mu.Unlock()
	if request.URL.Query().Get("page") != "0" {
		writeJSON(cs.t, writer, []User{})
		return
	}
	writeJSON(cs.t, writer, cs.users)
}

func (cs *chatServer) handleMe(writer http.ResponseWriter, request *http.Request) {
	if !cs.authorize(writer, request) {
		return
	}
	writeJSON(cs.t, writer, cs.users[0])
}

func (cs *chatServer) handleUserByUsername(writer http.ResponseWriter, request *http.Request) {
	if !cs.authorize(writer, request) {
		return
	}
	username := request.PathValue("username")
	for _, user := range cs.users {
		if user.Username == username {
			writeJSON(cs.t, writer, user)
			return
		}
	}
	cs.appError(writer, http.StatusNotFound, "api.user.missing.app_error", "no such user")
}

func (cs *chatServer) handleUserByID(writer http.ResponseWriter, request *http.Request) {
	if !cs.authorize(writer, request) {
		return
	}
	id := request.PathValue("id")
	for _, user := range cs.users {
		if user.ID.String() == id {
			writeJSON(cs.t, writer, user)
			return
		}
	}
	cs.appError(writer, http.StatusNotFound, "api.user.missing.app_error", "no such user")
}

func (cs *chatServer) handleChannels(writer http.ResponseWriter, request *http.Request) {
	if !cs.authorize(writer, request) {
		return
	}
	cs.mu.Lock()
	gate := cs.channelsGate
	fail := cs.channelsFailures > 0
	if fail {
		cs.channelsFailures--
	}
	cs.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail {
		cs.appError(writer, http.StatusInternalServerError, "api.channel.list.app_error", "listing unavailable")
		return
	}
	writeJSON(cs.t, writer, cs.channels)
}

func (cs *chatServer) handleTeam(writer http.ResponseWriter, request *http.Request) {
	if !cs.authorize(writer, request) {
		return
	}
	if request.PathValue("name") != cs.team.Name {
		cs.appError(writer, http.StatusNotFound, "api.team.missing.app_error", "no such team")
		return
	}
	writeJSON(cs.t, writer, cs.team)
}

func (cs *chatServer) handlePosts(writer http.ResponseWriter, request *http.Request) {
	if !cs.authorize(writer, request) {
		return
	}
	channelID := ref.MustParseChannelID(request.PathValue("id"))
	cs.mu.Lock()
	list := cs.posts[channelID]
	cs.mu.Unlock()
	if list == nil {
		list = &PostList{Posts: map[ref.PostID]*Post{}}
	}
	writeJSON(cs.t, writer, list)
}

func (cs *chatServer) handleCreatePost(writer http.ResponseWriter, request *http.Request) {
	if !cs.authorize(writer, request) {
		return
	}
	var body createPostRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		cs.appError(writer, http.StatusBadRequest, "api.post.invalid.app_error", err.Error())
		return
	}
	cs.mu.Lock()
	cs.created = append(cs.created, body)
	serial := len(cs.created)
	cs.mu.Unlock()

	writeJSON(cs.t, writer, Post{
		ID:        ref.MustParsePostID(fmt.Sprintf("post-%d", serial)),
		ChannelID: body.ChannelID,
		UserID:    cs.users[0].ID,
		Message:   body.Message,
		CreateAt:  time.Now().UnixMilli(),
	})
}

func (cs *chatServer) handleStream(writer http.ResponseWriter, request *http.Request) {
	cs.mu.Lock()
	fail := cs.failUpgrade
	cs.mu.Unlock()
	if fail {
		cs.appError(writer, http.StatusForbidden, "api.web_socket.upgrade.app_error", "upgrade refused")
		return
	}

	token := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")
	cs.mu.Lock()
	valid := cs.validTokens[token]
	cs.mu.Unlock()
	if !valid {
		cs.appError(writer, http.StatusUnauthorized, ErrIDInvalidToken, "invalid token")
		return
	}

	conn, err := cs.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		cs.t.Errorf("upgrade failed: %v", err)
		return
	}
	conn.WriteJSON(map[string]any{
		"event": "hello",
		"data":  map[string]any{"server_version": "9.5.0"},
		"seq":   0,
	})
	cs.conns <- conn
}

// seedToken registers a long-lived token as valid without a login.
func (cs *chatServer) seedToken(token string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.validTokens[token] = true
}

func (cs *chatServer) logins() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.loginCount
}

// sendPosted delivers a posted event for a user-authored message over
// the given server-side socket.
func (cs *chatServer) sendPosted(conn *websocket.Conn, post Post) {
	cs.t.Helper()
	nested, err := json.Marshal(post)
	if err != nil {
		cs.t.Fatalf("encoding post: %v", err)
	}
	err = conn.WriteJSON(map[string]any{
		"event": "posted",
		"data":  map[string]any{"post": string(nested)},
		"broadcast": map[string]any{
			"channel_id": post.ChannelID.String(),
		},
		"seq": 1,
	})
	if err != nil {
		cs.t.Fatalf("writing posted frame: %v", err)
	}
}

// startSession builds a session against the server and runs it on a
// goroutine. Cleanup cancels the context and waits for Run to return.
func startSession(t *testing.T, cs *chatServer, creds Credentials) *Session {
	t.Helper()
	client, err := NewClient(ClientConfig{ServerURL: cs.server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := NewSession(SessionConfig{
		Client:      client,
		Credentials: creds,
		Team:        "wavelength",
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return session
}

func runSession(t *testing.T, session *Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go session.Run(ctx)
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, session.Done(), 5*time.Second, "session shutdown")
	})
}

func passwordCreds() Credentials {
	return Credentials{Username: "alice", Password: "hunter2"}
}

func TestSessionConnect(t *testing.T) {
	cs := newChatServer(t)
	session := startSession(t, cs, passwordCreds())

	connected := make(chan *User, 1)
	session.OnConnected(func(identity *User) { connected <- identity })

	runSession(t, session)

	identity := testutil.RequireReceive(t, connected, 5*time.Second, "waiting for connected")
	if identity.Username != "alice" {
		t.Errorf("identity = %+v", identity)
	}
	if session.State() != StateConnected {
		t.Errorf("state = %v", session.State())
	}

	// Bootstrap populates the team and the room set.
	waitFor(t, "rooms", func() bool { return len(session.Rooms()) == 2 })
	if session.Team() == nil || session.Team().Name != "wavelength" {
		t.Errorf("team = %+v", session.Team())
	}
	if room := session.RoomByID(ref.MustParseChannelID("chan-town")); room == nil {
		t.Error("missing town-square room")
	}

	// The direct room's counterpart fills in from the directory bulk
	// load, after which name lookup works.
	waitFor(t, "direct room name", func() bool {
		return session.RoomByName("bob") != nil
	})
}

func TestSessionTokenAuth(t *testing.T) {
	cs := newChatServer(t)
	cs.seedToken("personal-access-token")
	session := startSession(t, cs, Credentials{Username: "alice", Token: "personal-access-token"})

	connected := make(chan *User, 1)
	session.OnConnected(func(identity *User) { connected <- identity })

	runSession(t, session)

	testutil.RequireReceive(t, connected, 5*time.Second, "waiting for connected")
	if cs.logins() != 0 {
		t.Errorf("login endpoint called %d times for token auth", cs.logins())
	}
}

func TestSessionAuthFailure(t *testing.T) {
	cs := newChatServer(t)
	cs.rejectLogin = true
	session := startSession(t, cs, passwordCreds())

	failed := make(chan error, 1)
	session.OnError(func(err error) { failed <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	err := testutil.RequireReceive(t, failed, 5*time.Second, "waiting for failure")
	if !IsAppError(err, ErrIDLoginInvalid) {
		t.Errorf("err = %v", err)
	}
	if got := testutil.RequireReceive(t, runErr, 5*time.Second, "waiting for Run"); got == nil {
		t.Error("Run returned nil after auth failure")
	}
	if session.State() != StateFailed {
		t.Errorf("state = %v", session.State())
	}
}

func TestSessionUpgradeFailure(t *testing.T) {
	cs := newChatServer(t)
	cs.failUpgrade = true
	session := startSession(t, cs, passwordCreds())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	err := testutil.RequireReceive(t, runErr, 5*time.Second, "waiting for Run")
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want upgrade error", err)
	}
	if session.State() != StateFailed {
		t.Errorf("state = %v", session.State())
	}
}

func TestSessionReconnect(t *testing.T) {
	cs := newChatServer(t)
	session := startSession(t, cs, passwordCreds())

	reconnected := make(chan struct{}, 1)
	session.OnReconnected(func() { reconnected <- struct{}{} })

	runSession(t, session)

	first := testutil.RequireReceive(t, cs.conns, 5*time.Second, "first socket")
	first.Close()

	testutil.RequireReceive(t, cs.conns, 5*time.Second, "second socket")
	testutil.RequireReceive(t, reconnected, 5*time.Second, "reconnected signal")

	// The existing token was reused: no second login.
	if cs.logins() != 1 {
		t.Errorf("logins = %d, want 1", cs.logins())
	}
	waitFor(t, "connected state", func() bool { return session.State() == StateConnected })
}

// A disconnect while the conversation enumeration is still in flight
// must not strand the session without rooms: the listing that finally
// lands installs them regardless of which connection started it.
func TestSessionBootstrapSurvivesDisconnect(t *testing.T) {
	cs := newChatServer(t)
	gate := make(chan struct{})
	cs.channelsGate = gate

	session := startSession(t, cs, passwordCreds())
	reconnected := make(chan struct{}, 1)
	session.OnReconnected(func() { reconnected <- struct{}{} })
	runSession(t, session)

	first := testutil.RequireReceive(t, cs.conns, 5*time.Second, "first socket")
	// The listing is parked on the gate; drop the socket so its
	// completion arrives on a later connection.
	first.Close()
	testutil.RequireReceive(t, cs.conns, 5*time.Second, "second socket")
	testutil.RequireReceive(t, reconnected, 5*time.Second, "reconnected signal")

	close(gate)
	waitFor(t, "rooms after reconnect", func() bool {
		return len(session.Rooms()) == 2
	})
	if session.Team() == nil {
		t.Error("team not installed")
	}
}

func TestSessionBootstrapRetriesAfterFailure(t *testing.T) {
	cs := newChatServer(t)
	cs.channelsFailures = 1
	session := startSession(t, cs, passwordCreds())
	runSession(t, session)

	// The first listing fails server-side; the session stays
	// connected and tries again until it succeeds.
	waitFor(t, "rooms after retry", func() bool {
		return len(session.Rooms()) == 2
	})
	waitFor(t, "connected state", func() bool { return session.State() == StateConnected })
}

func TestSessionExpiry(t *testing.T) {
	cs := newChatServer(t)
	session := startSession(t, cs, passwordCreds())

	reconnected := make(chan struct{}, 1)
	session.OnReconnected(func() { reconnected <- struct{}{} })

	runSession(t, session)

	testutil.RequireReceive(t, cs.conns, 5*time.Second, "first socket")
	// Let the background directory traffic (bulk load, counterpart
	// fill-in) drain before arming the expiry switch, so our own call
	// is the one that trips it.
	waitFor(t, "bulk load", func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.pageRequests >= 2
	})
	waitFor(t, "counterpart fill-in", func() bool {
		return session.Directory().LookupByName("bob") != nil
	})

	cs.mu.Lock()
	cs.expireNext = true
	cs.mu.Unlock()

	// The call that observes the expiry still fails; recovery happens
	// behind it.
	if _, err := session.GetMe(context.Background()); !isSessionExpired(err) {
		t.Fatalf("Me returned %v, want session expired", err)
	}

	testutil.RequireReceive(t, cs.conns, 5*time.Second, "socket after re-auth")
	testutil.RequireReceive(t, reconnected, 5*time.Second, "reconnected signal")
	if cs.logins() != 2 {
		t.Errorf("logins = %d, want 2", cs.logins())
	}

	// The fresh token works for REST again.
	waitFor(t, "recovered REST", func() bool {
		_, err := session.GetMe(context.Background())
		return err == nil
	})
}

func TestSessionPostedRouting(t *testing.T) {
	cs := newChatServer(t)
	session := startSession(t, cs, passwordCreds())

	rawEvents := make(chan *Envelope, 16)
	session.OnEvent(func(envelope *Envelope) { rawEvents <- envelope })

	runSession(t, session)
	conn := testutil.RequireReceive(t, cs.conns, 5*time.Second, "socket")
	waitFor(t, "rooms", func() bool { return len(session.Rooms()) == 2 })

	// The hello frame arrives as a raw event.
	hello := testutil.RequireReceive(t, rawEvents, 5*time.Second, "hello event")
	if hello.Event != EventHello {
		t.Errorf("first event = %q", hello.Event)
	}

	room := session.RoomByID(ref.MustParseChannelID("chan-town"))
	messages := make(chan *Message, 16)
	room.Subscribe(func(msg *Message) { messages <- msg })

	cs.sendPosted(conn, Post{
		ID:        ref.MustParsePostID("post-live-1"),
		ChannelID: ref.MustParseChannelID("chan-town"),
		UserID:    ref.MustParseUserID("uid-bob"),
		Message:   "hello from bob",
		CreateAt:  1700000000000,
	})

	msg := testutil.RequireReceive(t, messages, 5*time.Second, "routed message")
	if msg.Text != "hello from bob" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Speaker == nil || msg.Speaker.ID.String() != "uid-bob" {
		t.Errorf("speaker = %+v", msg.Speaker)
	}
	raw := testutil.RequireReceive(t, rawEvents, 5*time.Second, "raw posted event")
	if raw.Event != EventPosted {
		t.Errorf("raw event = %q", raw.Event)
	}

	// A system notice is emitted raw but never routed into the room.
	cs.sendPosted(conn, Post{
		ID:        ref.MustParsePostID("post-sys-1"),
		ChannelID: ref.MustParseChannelID("chan-town"),
		UserID:    ref.MustParseUserID("uid-bob"),
		Message:   "bob joined the channel",
		Type:      "system_join_channel",
		CreateAt:  1700000001000,
	})
	testutil.RequireReceive(t, rawEvents, 5*time.Second, "raw system notice")
	testutil.RequireNoReceive(t, messages, 100*time.Millisecond, "system notice must not route")

	// A post for a channel enumerated after startup has no room and
	// is dropped without disturbing the session.
	cs.sendPosted(conn, Post{
		ID:        ref.MustParsePostID("post-orphan"),
		ChannelID: ref.MustParseChannelID("chan-unknown"),
		UserID:    ref.MustParseUserID("uid-bob"),
		Message:   "into the void",
		CreateAt:  1700000002000,
	})
	testutil.RequireReceive(t, rawEvents, 5*time.Second, "raw orphan posted event")
	if session.State() != StateConnected {
		t.Errorf("state = %v", session.State())
	}
}

func TestSessionHistoryThroughRoom(t *testing.T) {
	cs := newChatServer(t)
	cs.posts[ref.MustParseChannelID("chan-town")] = &PostList{
		Order: []ref.PostID{ref.MustParsePostID("p2"), ref.MustParsePostID("p1")},
		Posts: map[ref.PostID]*Post{
			ref.MustParsePostID("p1"): {
				ID:        ref.MustParsePostID("p1"),
				ChannelID: ref.MustParseChannelID("chan-town"),
				UserID:    ref.MustParseUserID("uid-bob"),
				Message:   "older",
				CreateAt:  100,
			},
			ref.MustParsePostID("p2"): {
				ID:        ref.MustParsePostID("p2"),
				ChannelID: ref.MustParseChannelID("chan-town"),
				UserID:    ref.MustParseUserID("uid-alice"),
				Message:   "newer",
				CreateAt:  200,
			},
		},
	}
	session := startSession(t, cs, passwordCreds())
	runSession(t, session)

	waitFor(t, "rooms", func() bool { return len(session.Rooms()) == 2 })
	room := session.RoomByID(ref.MustParseChannelID("chan-town"))

	room.TriggerFetch(context.Background())
	waitFor(t, "history", func() bool { return room.State() == FetchListening })

	history := room.History()
	if len(history) != 2 || history[0].Text != "older" || history[1].Text != "newer" {
		t.Fatalf("history = %v", historyTexts(room))
	}
}

func TestSessionTypingAndViolations(t *testing.T) {
	cs := newChatServer(t)
	session := startSession(t, cs, passwordCreds())

	typing := make(chan TypingEvent, 4)
	session.OnTyping(func(event TypingEvent) { typing <- event })
	violations := make(chan *ProtocolError, 4)
	session.OnProtocolViolation(func(err *ProtocolError) { violations <- err })

	runSession(t, session)
	conn := testutil.RequireReceive(t, cs.conns, 5*time.Second, "socket")

	conn.WriteJSON(map[string]any{
		"event":     "typing",
		"broadcast": map[string]any{"channel_id": "chan-town"},
		"data":      map[string]any{"user_id": "uid-bob"},
		"seq":       2,
	})
	event := testutil.RequireReceive(t, typing, 5*time.Second, "typing translation")
	if event.ChannelID.String() != "chan-town" || event.UserID.String() != "uid-bob" {
		t.Errorf("typing = %+v", event)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"telepathy","seq":3}`))
	violation := testutil.RequireReceive(t, violations, 5*time.Second, "protocol violation")
	if violation.Event != "telepathy" {
		t.Errorf("violation = %+v", violation)
	}

	// A malformed frame is dropped; the stream keeps working.
	conn.WriteMessage(websocket.TextMessage, []byte(`{broken`))
	conn.WriteJSON(map[string]any{
		"event":     "typing",
		"broadcast": map[string]any{"channel_id": "chan-town"},
		"data":      map[string]any{"user_id": "uid-bob"},
		"seq":       4,
	})
	testutil.RequireReceive(t, typing, 5*time.Second, "typing after malformed frame")
	if session.State() != StateConnected {
		t.Errorf("state = %v", session.State())
	}
}

func TestSessionSend(t *testing.T) {
	cs := newChatServer(t)
	session := startSession(t, cs, passwordCreds())
	runSession(t, session)

	conn := testutil.RequireReceive(t, cs.conns, 5*time.Second, "socket")
	waitFor(t, "rooms", func() bool { return len(session.Rooms()) == 2 })

	t.Run("message over REST", func(t *testing.T) {
		post, err := session.SendMessage(context.Background(), ref.MustParseChannelID("chan-town"), "hi all")
		if err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
		if post.Message != "hi all" || post.CreateAt == 0 {
			t.Errorf("post = %+v", post)
		}

		cs.mu.Lock()
		defer cs.mu.Unlock()
		if len(cs.created) != 1 {
			t.Fatalf("server saw %d posts", len(cs.created))
		}
		if cs.created[0].PendingPostID == "" {
			t.Error("missing idempotency key")
		}
		if !strings.HasPrefix(cs.created[0].PendingPostID, "uid-alice:") {
			t.Errorf("pending_post_id = %q", cs.created[0].PendingPostID)
		}
	})

	t.Run("typing over the stream", func(t *testing.T) {
		if err := session.SendTyping(ref.MustParseChannelID("chan-town")); err != nil {
			t.Fatalf("SendTyping failed: %v", err)
		}

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var frame actionFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("reading typing frame: %v", err)
		}
		if frame.Action != "user_typing" {
			t.Errorf("action = %q", frame.Action)
		}
		if frame.Data["channel_id"] != "chan-town" {
			t.Errorf("data = %v", frame.Data)
		}
	})
}
