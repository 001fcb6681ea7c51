// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// validateID checks that raw is usable as a server object identifier:
// non-empty and safe to embed in a URL path segment without escaping
// surprises. kind names the ID type for error messages.
func validateID(kind, raw string) error {
	if raw == "" {
		return fmt.Errorf("ref: empty %s", kind)
	}
	if strings.ContainsAny(raw, "/?#% \t\r\n") {
		return fmt.Errorf("ref: invalid %s %q", kind, raw)
	}
	return nil
}

// UserID identifies a server user account.
//
// UserID is an immutable value type. The zero value is not valid; use
// IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw user ID string.
func ParseUserID(raw string) (UserID, error) {
	if err := validateID("user ID", raw); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseUserID(raw string) UserID {
	id, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return id
}

// String returns the raw ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string
// decodes to the zero value: the server omits or empties ID fields
// that do not apply (a direct channel's team, a top-level post's
// root), and those must not fail decoding.
func (u *UserID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ChannelID identifies a channel or direct-message conversation.
//
// ChannelID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type ChannelID struct {
	id string
}

// ParseChannelID validates and wraps a raw channel ID string.
func ParseChannelID(raw string) (ChannelID, error) {
	if err := validateID("channel ID", raw); err != nil {
		return ChannelID{}, err
	}
	return ChannelID{id: raw}, nil
}

// MustParseChannelID is like ParseChannelID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseChannelID(raw string) ChannelID {
	id, err := ParseChannelID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseChannelID(%q): %v", raw, err))
	}
	return id
}

// String returns the raw ID string.
func (c ChannelID) String() string { return c.id }

// IsZero reports whether the ChannelID is the zero value.
func (c ChannelID) IsZero() bool { return c.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (c ChannelID) MarshalText() ([]byte, error) {
	return []byte(c.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string
// decodes to the zero value: the server omits or empties ID fields
// that do not apply (a direct channel's team, a top-level post's
// root), and those must not fail decoding.
func (c *ChannelID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = ChannelID{}
		return nil
	}
	parsed, err := ParseChannelID(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TeamID identifies a team (workspace).
//
// TeamID is an immutable value type. The zero value is not valid; use
// IsZero to check.
type TeamID struct {
	id string
}

// ParseTeamID validates and wraps a raw team ID string.
func ParseTeamID(raw string) (TeamID, error) {
	if err := validateID("team ID", raw); err != nil {
		return TeamID{}, err
	}
	return TeamID{id: raw}, nil
}

// MustParseTeamID is like ParseTeamID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseTeamID(raw string) TeamID {
	id, err := ParseTeamID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseTeamID(%q): %v", raw, err))
	}
	return id
}

// String returns the raw ID string.
func (t TeamID) String() string { return t.id }

// IsZero reports whether the TeamID is the zero value.
func (t TeamID) IsZero() bool { return t.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (t TeamID) MarshalText() ([]byte, error) {
	return []byte(t.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string
// decodes to the zero value: the server omits or empties ID fields
// that do not apply (a direct channel's team, a top-level post's
// root), and those must not fail decoding.
func (t *TeamID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = TeamID{}
		return nil
	}
	parsed, err := ParseTeamID(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// PostID identifies a posted message.
//
// PostID is an immutable value type. The zero value is not valid; use
// IsZero to check.
type PostID struct {
	id string
}

// ParsePostID validates and wraps a raw post ID string.
func ParsePostID(raw string) (PostID, error) {
	if err := validateID("post ID", raw); err != nil {
		return PostID{}, err
	}
	return PostID{id: raw}, nil
}

// MustParsePostID is like ParsePostID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParsePostID(raw string) PostID {
	id, err := ParsePostID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParsePostID(%q): %v", raw, err))
	}
	return id
}

// String returns the raw ID string.
func (p PostID) String() string { return p.id }

// IsZero reports whether the PostID is the zero value.
func (p PostID) IsZero() bool { return p.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (p PostID) MarshalText() ([]byte, error) {
	return []byte(p.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string
// decodes to the zero value: the server omits or empties ID fields
// that do not apply (a direct channel's team, a top-level post's
// root), and those must not fail decoding.
func (p *PostID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = PostID{}
		return nil
	}
	parsed, err := ParsePostID(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// directNameSeparator joins the two member IDs in the server-assigned
// machine name of a direct-message channel ("<idA>__<idB>", members
// sorted lexicographically by the server).
const directNameSeparator = "__"

// DirectChannelName returns the server's machine name for the direct
// channel between two users. The server sorts the member IDs, so the
// result is independent of argument order.
func DirectChannelName(a, b UserID) string {
	if a.id <= b.id {
		return a.id + directNameSeparator + b.id
	}
	return b.id + directNameSeparator + a.id
}

// SplitDirectName extracts the counterpart user ID from a direct
// channel's machine name, given the ID of the local user. For a
// self-conversation (both members equal), the counterpart is self.
// Returns false if name is not a well-formed direct channel name or
// self is not one of its members.
func SplitDirectName(name string, self UserID) (UserID, bool) {
	first, second, found := strings.Cut(name, directNameSeparator)
	if !found || first == "" || second == "" {
		return UserID{}, false
	}
	switch self.id {
	case first:
		counterpart, err := ParseUserID(second)
		if err != nil {
			return UserID{}, false
		}
		return counterpart, true
	case second:
		counterpart, err := ParseUserID(first)
		if err != nil {
			return UserID{}, false
		}
		return counterpart, true
	default:
		return UserID{}, false
	}
}
