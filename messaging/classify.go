// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"fmt"
)

// frameKind is the classifier's verdict on one inbound frame.
type frameKind int

const (
	// frameMalformed: the payload did not parse as an envelope (or a
	// posted event's nested post did not parse). Logged and dropped;
	// nothing is surfaced.
	frameMalformed frameKind = iota

	// frameAck: a command-response acknowledgment with no event
	// discriminator. Logged at low severity.
	frameAck

	// frameEvent: a known administrative kind. Emitted as a generic
	// raw event; typing additionally gets a semantic translation.
	frameEvent

	// framePosted: a posted event with its nested post decoded.
	// Emitted as a raw event; user-authored posts (empty subtype)
	// are additionally routed into the room store.
	framePosted

	// frameViolation: an event kind the client does not recognize.
	// Surfaced loudly as a *ProtocolError.
	frameViolation
)

// classification is the classifier's full output for one frame. Only
// the fields relevant to the kind are set.
type classification struct {
	kind     frameKind
	envelope *Envelope

	// framePosted
	post        *Post
	userMessage bool

	// frameEvent, typing translation
	typing *TypingEvent

	// frameMalformed (for the log line) and frameViolation (the
	// *ProtocolError to surface).
	err error
}

// classifyFrame parses one inbound frame and decides its disposition
// per the dispatch contract. It performs no I/O and never mutates
// session state — the session run loop acts on the returned
// classification.
func classifyFrame(data []byte) classification {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return classification{
			kind: frameMalformed,
			err:  fmt.Errorf("messaging: unparseable frame: %w", err),
		}
	}

	if envelope.Event == "" {
		if envelope.isAck() {
			return classification{kind: frameAck, envelope: &envelope}
		}
		// No event and no acknowledgment shape: nothing the client
		// can act on.
		return classification{
			kind: frameMalformed,
			err:  fmt.Errorf("messaging: frame with neither event nor acknowledgment shape"),
		}
	}

	if _, known := knownEvents[envelope.Event]; !known {
		return classification{
			kind:     frameViolation,
			envelope: &envelope,
			err:      &ProtocolError{Event: envelope.Event, Frame: data},
		}
	}

	switch envelope.Event {
	case EventPosted:
		return classifyPosted(&envelope)
	case EventTyping:
		return classifyTyping(&envelope)
	default:
		return classification{kind: frameEvent, envelope: &envelope}
	}
}

// classifyPosted decodes the double-encoded post payload of a posted
// event. The post's subtype decides routing: empty means a
// user-authored chat message, anything else is a system notice that
// stays raw-event only.
func classifyPosted(envelope *Envelope) classification {
	var data postedData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return classification{
			kind: frameMalformed,
			err:  fmt.Errorf("messaging: unparseable posted data: %w", err),
		}
	}
	var post Post
	if err := json.Unmarshal([]byte(data.Post), &post); err != nil {
		return classification{
			kind: frameMalformed,
			err:  fmt.Errorf("messaging: unparseable nested post: %w", err),
		}
	}
	if post.ChannelID.IsZero() || post.UserID.IsZero() {
		return classification{
			kind: frameMalformed,
			err:  fmt.Errorf("messaging: posted frame missing channel or author"),
		}
	}
	return classification{
		kind:        framePosted,
		envelope:    envelope,
		post:        &post,
		userMessage: post.Type == "",
	}
}

// classifyTyping translates a typing event into its narrow semantic
// form. A typing frame without a routable channel is still a valid
// known event — it just carries no translation.
func classifyTyping(envelope *Envelope) classification {
	result := classification{kind: frameEvent, envelope: envelope}

	var data typingData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return result
	}
	if envelope.Broadcast == nil || envelope.Broadcast.ChannelID.IsZero() || data.UserID.IsZero() {
		return result
	}
	result.typing = &TypingEvent{
		ChannelID: envelope.Broadcast.ChannelID,
		UserID:    data.UserID,
	}
	return result
}
