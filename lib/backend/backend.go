/*
 * Workspace
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package backend provides the storage abstraction the workspace services
// are built on: a flat revisioned key/value space with conditional
// multi-key writes.
package backend

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// NoLimit disables the limit of a range read.
const NoLimit = 0

// Backend abstracts the key/value store. Implementations must generate a
// fresh revision for every write and guarantee that AtomicWrite applies all
// of its actions or none of them.
type Backend interface {
	// Create creates the item. Returns an AlreadyExists error when an item
	// is already stored under the key.
	Create(ctx context.Context, i Item) (*Lease, error)

	// Put stores the item, overwriting an existing one.
	Put(ctx context.Context, i Item) (*Lease, error)

	// Update overwrites an existing item. Returns a NotFound error when no
	// item is stored under the key.
	Update(ctx context.Context, i Item) (*Lease, error)

	// Get returns a single item or a NotFound error.
	Get(ctx context.Context, key Key) (*Item, error)

	// GetRange returns items with startKey <= key < endKey, ordered by
	// key, up to limit items (NoLimit for all).
	GetRange(ctx context.Context, startKey, endKey Key, limit int) (*GetResult, error)

	// Delete deletes the item under the key, returning a NotFound error
	// when there is none.
	Delete(ctx context.Context, key Key) error

	// DeleteRange deletes all items with startKey <= key < endKey.
	DeleteRange(ctx context.Context, startKey, endKey Key) error

	// AtomicWrite evaluates every condition and, only if all hold, applies
	// every action as a single atomic unit. A failed condition aborts the
	// whole write with ErrConditionFailed. Returns the revision assigned
	// to the written items, or an empty string if no action was a put.
	AtomicWrite(ctx context.Context, condacts []ConditionalAction) (revision string, err error)

	// Clock returns the clock used by this backend to evaluate expiry.
	Clock() clockwork.Clock

	// Close releases all resources held by the backend.
	Close() error
}

// Lease identifies a stored item version.
type Lease struct {
	// Key is the item key.
	Key Key
	// Revision is the revision assigned by the write.
	Revision string
}

// Item is a single key/value record.
type Item struct {
	// Key is the item key.
	Key Key
	// Value is the stored payload.
	Value []byte
	// Expires is an optional expiry time. Expired items are invisible to
	// reads and may be removed at any point.
	Expires time.Time
	// Revision identifies the stored version of the item. Assigned by the
	// backend on write; writers use it to detect concurrent modification.
	Revision string
}

// GetResult is the result of a range read.
type GetResult struct {
	// Items are the matching items in key order.
	Items []Item
}

// CreateRevision returns a new item revision.
func CreateRevision() string {
	return uuid.NewString()
}
