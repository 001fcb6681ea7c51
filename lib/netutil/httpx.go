// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides small HTTP I/O helpers shared by the REST
// client and tests.
//
// The response helpers bound every body read at MaxResponseSize so a
// misbehaving server cannot make the client allocate without limit.
// They are intended for JSON API responses, not streaming transfers.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response body reads: 64 MB. Real
// responses from a chat server are orders of magnitude smaller; the
// limit exists only to stop a pathological response from exhausting
// memory.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll for HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API response body (bounded at
// MaxResponseSize) and decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}
