// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wavelength-chat/wavelength/lib/clock"
	"github.com/wavelength-chat/wavelength/lib/ref"
)

// bulkPageSize is the fixed page size for the directory bulk load.
const bulkPageSize = 200

// fillInRetryDelay is the pause between attempts of a failed fill-in
// fetch. The retry is indefinite — no backoff, no cap — because a
// record that cannot be filled in is unusable to the rest of the
// system and fill-in failures are expected to be transient.
const fillInRetryDelay = 250 * time.Millisecond

// UserFetcher is the directory's view of the REST layer: a single
// user by ID for fill-in, and a page of the full listing for bulk
// load. The session implements it with the expiry-checked wrappers.
type UserFetcher interface {
	FetchUser(ctx context.Context, id ref.UserID) (*User, error)
	FetchUserPage(ctx context.Context, page, perPage int) ([]*User, error)
}

// Directory is the lazily-populated user directory. It maintains two
// consistent orderings over its records — by identifier and by
// username — and fills in placeholder records asynchronously.
//
// A record inserted into the identifier index is visible to lookups
// immediately, even while its username is still unknown. Once the
// username arrives (fill-in or bulk load), the record enters the name
// index exactly once. Records are mutated in place and never removed
// for the life of the session, so a *User obtained early stays valid
// and becomes more complete over time.
type Directory struct {
	fetcher UserFetcher
	clock   clock.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	byID    map[ref.UserID]*User
	byName  map[string]*User
	filling map[ref.UserID]bool
}

// NewDirectory creates an empty directory.
func NewDirectory(fetcher UserFetcher, clk clock.Clock, logger *slog.Logger) *Directory {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		fetcher: fetcher,
		clock:   clk,
		logger:  logger,
		byID:    make(map[ref.UserID]*User),
		byName:  make(map[string]*User),
		filling: make(map[ref.UserID]bool),
	}
}

// LookupByID returns the record for id, or nil if the directory has
// never seen it. No I/O.
func (d *Directory) LookupByID(id ref.UserID) *User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byID[id]
}

// LookupByName returns the record with the given username, or nil.
// Placeholders whose username is still unknown are not in the name
// index. No I/O.
func (d *Directory) LookupByName(username string) *User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byName[username]
}

// Users returns all records ordered by identifier.
func (d *Directory) Users() []*User {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := make([]*User, 0, len(d.byID))
	for _, user := range d.byID {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID.String() < users[j].ID.String()
	})
	return users
}

// UsersByName returns the filled-in records ordered by username.
func (d *Directory) UsersByName() []*User {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := make([]*User, 0, len(d.byName))
	for _, user := range d.byName {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users
}

// GetOrCreate returns the record for id, creating a placeholder if
// the directory has never seen it. The placeholder carries only the
// identifier (plus hintName as a provisional display name) and is
// returned immediately; a fill-in fetch is scheduled asynchronously.
// Repeated calls before fill-in completes return the same record
// instance — never a duplicate placeholder. A zero id yields nil: a
// placeholder without an identifier could never be filled in.
func (d *Directory) GetOrCreate(ctx context.Context, id ref.UserID, hintName string) *User {
	if id.IsZero() {
		return nil
	}
	d.mu.Lock()
	if existing, ok := d.byID[id]; ok {
		d.mu.Unlock()
		return existing
	}
	placeholder := &User{ID: id, Nickname: hintName}
	d.byID[id] = placeholder
	d.filling[id] = true
	d.mu.Unlock()

	go d.fillIn(ctx, id)
	return placeholder
}

// fillIn fetches one record until it succeeds, then completes the
// placeholder. Retried indefinitely; only context cancellation stops
// it.
func (d *Directory) fillIn(ctx context.Context, id ref.UserID) {
	for {
		user, err := d.fetcher.FetchUser(ctx, id)
		if err == nil {
			d.complete(user)
			return
		}
		if ctx.Err() != nil {
			return
		}
		d.logger.Debug("directory fill-in failed, retrying",
			"user_id", id,
			"error", err,
		)
		d.clock.Sleep(fillInRetryDelay)
	}
}

// complete merges a fully-populated server record into the directory.
// The existing instance is mutated in place so references handed out
// while it was a placeholder observe the update; the record enters
// the name index exactly once.
func (d *Directory) complete(fetched *User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	record, ok := d.byID[fetched.ID]
	if !ok {
		record = &User{ID: fetched.ID}
		d.byID[fetched.ID] = record
	}
	record.Username = fetched.Username
	if fetched.Nickname != "" {
		record.Nickname = fetched.Nickname
	}
	record.FirstName = fetched.FirstName
	record.LastName = fetched.LastName
	delete(d.filling, fetched.ID)

	if record.Username != "" {
		if _, indexed := d.byName[record.Username]; !indexed {
			d.byName[record.Username] = record
		}
	}
}

// BulkLoad pages through the full user listing until a page comes
// back empty, inserting each fully-populated record into both
// indices. An error aborts the load and is returned to the caller,
// but records inserted before the failure remain — the directory
// simply stays sparse and relies on on-demand fill-in.
func (d *Directory) BulkLoad(ctx context.Context) error {
	for page := 0; ; page++ {
		users, err := d.fetcher.FetchUserPage(ctx, page, bulkPageSize)
		if err != nil {
			return fmt.Errorf("messaging: directory bulk load (page %d): %w", page, err)
		}
		if len(users) == 0 {
			break
		}
		for _, user := range users {
			d.complete(user)
		}
	}
	d.mu.Lock()
	total := len(d.byID)
	d.mu.Unlock()
	d.logger.Info("directory bulk load complete", "users", total)
	return nil
}
