// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// socketEventKind classifies what the transport observed on the wire.
type socketEventKind int

const (
	// socketFrame: one inbound text frame.
	socketFrame socketEventKind = iota
	// socketReset: the peer dropped the connection abruptly
	// (unexpected close, connection reset).
	socketReset
	// socketError: a read failed for a reason other than the
	// connection closing.
	socketError
	// socketEnd: the peer closed the connection cleanly.
	socketEnd
)

// socketEvent is one transport observation delivered to the session
// run loop.
type socketEvent struct {
	kind socketEventKind
	data []byte
	err  error
}

// writeWait bounds each socket write; a peer that cannot accept a
// frame within this window is as good as gone and the read loop will
// report it.
const writeWait = 10 * time.Second

// outboundFrame is one item on the transport's send queue: either a
// data frame or a keepalive ping.
type outboundFrame struct {
	ping bool
	data []byte
}

// transport owns one WebSocket connection: a single reader delivering
// socket events and a single writer goroutine draining the send
// queue, so no two writes ever interleave on the wire. Exactly one
// transport is live per session at a time; the session discards the
// previous one before dialing again.
type transport struct {
	conn      *websocket.Conn
	outbound  chan outboundFrame
	done      chan struct{}
	closeOnce sync.Once
}

// streamURL converts the REST base URL into the WebSocket upgrade URL
// (http → ws, https → wss, path /api/v4/websocket).
func streamURL(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("messaging: invalid base URL %q: %w", baseURL, err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("messaging: base URL %q must use http or https", baseURL)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + apiRoot + "/websocket"
	return parsed.String(), nil
}

// dialStream performs the WebSocket upgrade, authenticated with the
// current session token, and starts the writer goroutine. The caller
// owns the returned transport and must run readLoop to drain inbound
// frames.
func dialStream(ctx context.Context, baseURL, token string) (*transport, error) {
	target, err := streamURL(baseURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, response, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("messaging: stream upgrade failed (%d): %w", response.StatusCode, err)
		}
		return nil, fmt.Errorf("messaging: stream upgrade failed: %w", err)
	}

	t := &transport{
		conn:     conn,
		outbound: make(chan outboundFrame, 64),
		done:     make(chan struct{}),
	}
	go t.writePump()
	return t, nil
}

// readLoop reads frames until the connection dies, delivering each
// observation through deliver. It always terminates with exactly one
// of socketReset, socketError, or socketEnd, then returns. Runs on
// its own goroutine, one per connection attempt; the session's epoch
// tagging discards deliveries from a superseded attempt.
func (t *transport) readLoop(deliver func(socketEvent)) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			deliver(socketEvent{kind: classifyReadError(err), err: err})
			return
		}
		deliver(socketEvent{kind: socketFrame, data: data})
	}
}

// classifyReadError maps a read failure onto the socket event kinds
// the session distinguishes. Every kind leads back to connecting; the
// distinction only decides whether the connected.failed sub-state is
// visited on the way.
func classifyReadError(err error) socketEventKind {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return socketEnd
	}
	if websocket.IsUnexpectedCloseError(err) {
		return socketReset
	}
	return socketError
}

// writePump is the single writer goroutine. All frames — data and
// keepalive pings — funnel through the outbound queue, because the
// WebSocket implementation permits only one concurrent writer.
func (t *transport) writePump() {
	for {
		select {
		case frame := <-t.outbound:
			deadline := time.Now().Add(writeWait)
			var err error
			if frame.ping {
				err = t.conn.WriteControl(websocket.PingMessage, nil, deadline)
			} else {
				t.conn.SetWriteDeadline(deadline)
				err = t.conn.WriteMessage(websocket.TextMessage, frame.data)
			}
			if err != nil {
				// The read loop observes the broken connection and
				// reports it; the writer just stops.
				return
			}
		case <-t.done:
			return
		}
	}
}

// send encodes v as JSON and queues it for the writer. Returns an
// error if the transport is closed or the queue is full (a peer that
// slow is indistinguishable from a dead one).
func (t *transport) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("messaging: failed to encode frame: %w", err)
	}
	select {
	case t.outbound <- outboundFrame{data: data}:
		return nil
	case <-t.done:
		return fmt.Errorf("messaging: stream connection closed")
	default:
		return fmt.Errorf("messaging: stream send queue full")
	}
}

// ping queues a keepalive ping. Dropped silently if the queue is
// full — the next tick will try again.
func (t *transport) ping() {
	select {
	case t.outbound <- outboundFrame{ping: true}:
	case <-t.done:
	default:
	}
}

// close releases the socket. Idempotent. The read loop, if still
// running, observes the closure and terminates.
func (t *transport) close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.Close()
	})
}
