// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identity references
// for chat server objects: users, channels, teams, and posts.
//
// The server assigns every object an opaque identifier. Ref types wrap
// those identifiers in distinct value types so that a channel ID can
// never be passed where a user ID is expected, and so that IDs are
// validated once, at the trust boundary where they enter the process
// (JSON decoding or explicit Parse calls), rather than at every use.
//
// Validation is deliberately minimal: an ID must be non-empty and must
// be safe to embed in a URL path segment. The server generates 26
// character alphanumeric IDs, but the client does not enforce that
// format — it would reject nothing the server actually sends and would
// make test fixtures needlessly rigid.
//
// All types marshal to and from JSON as plain strings via
// encoding.TextMarshaler, so wire structs can use them directly.
package ref
