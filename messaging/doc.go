// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging implements the client-side session layer for a
// Wavelength chat server: authentication, the persistent event
// stream, and the caches derived from it.
//
// The entry point is Session. Given credentials and a team name,
// Session.Run authenticates, upgrades to the WebSocket event stream,
// enumerates the identity's conversations into per-channel Room
// stores, and keeps a lazily populated user Directory. Socket loss is
// always survived by reconnecting with the existing token; a
// server-reported session expiry triggers full re-authentication.
// Authentication and upgrade failures are terminal.
//
// Client is the lower layer: a thin REST binding over the server's
// HTTP API plus the WebSocket dialer, with no state beyond the base
// URL. Session methods wrap it with the current token and uniform
// expiry interception.
package messaging
