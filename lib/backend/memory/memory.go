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

// Package memory implements the backend interface on top of an in-memory
// btree. It is the backend used by tests and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/workspace/lib/backend"
)

// btreeDegree is a good default for the small trees the services keep.
const btreeDegree = 8

// Config holds memory backend options.
type Config struct {
	// Clock is the clock used to evaluate item expiry. Tests inject a
	// fake clock here.
	Clock clockwork.Clock
}

// CheckAndSetDefaults fills in a real clock when none is configured.
func (c *Config) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Memory is an in-memory backend. All operations are guarded by a single
// mutex, which is what makes AtomicWrite trivially atomic here.
type Memory struct {
	cfg Config

	mu   sync.Mutex
	tree *btree.BTreeG[*btreeItem]
}

type btreeItem struct {
	backend.Item
}

func (i *btreeItem) less(other *btreeItem) bool {
	return i.Key.Compare(other.Key) < 0
}

// New returns a new memory backend.
func New(cfg Config) (*Memory, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Memory{
		cfg: cfg,
		tree: btree.NewG(btreeDegree, func(a, b *btreeItem) bool {
			return a.less(b)
		}),
	}, nil
}

// Clock returns the backend clock.
func (m *Memory) Clock() clockwork.Clock {
	return m.cfg.Clock
}

// Close releases the tree.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Clear(false)
	return nil
}

// Create creates the item if no live item exists under its key.
func (m *Memory) Create(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getLocked(i.Key) != nil {
		return nil, trace.AlreadyExists("key %q already exists", i.Key)
	}
	return m.putLocked(i), nil
}

// Put stores the item unconditionally.
func (m *Memory) Put(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(i), nil
}

// Update overwrites an existing item.
func (m *Memory) Update(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getLocked(i.Key) == nil {
		return nil, trace.NotFound("key %q is not found", i.Key)
	}
	return m.putLocked(i), nil
}

// Get returns the live item under the key.
func (m *Memory) Get(ctx context.Context, key backend.Key) (*backend.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.getLocked(key)
	if item == nil {
		return nil, trace.NotFound("key %q is not found", key)
	}
	copied := item.Item
	return &copied, nil
}

// GetRange returns live items in [startKey, endKey).
func (m *Memory) GetRange(ctx context.Context, startKey, endKey backend.Key, limit int) (*backend.GetResult, error) {
	if startKey.IsZero() || endKey.IsZero() {
		return nil, trace.BadParameter("missing range key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var result backend.GetResult
	now := m.cfg.Clock.Now()
	m.tree.AscendRange(&btreeItem{Item: backend.Item{Key: startKey}}, &btreeItem{Item: backend.Item{Key: endKey}}, func(item *btreeItem) bool {
		if !item.Expires.IsZero() && now.After(item.Expires) {
			return true
		}
		result.Items = append(result.Items, item.Item)
		return limit == backend.NoLimit || len(result.Items) < limit
	})
	return &result, nil
}

// Delete removes the item under the key.
func (m *Memory) Delete(ctx context.Context, key backend.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getLocked(key) == nil {
		return trace.NotFound("key %q is not found", key)
	}
	m.tree.Delete(&btreeItem{Item: backend.Item{Key: key}})
	return nil
}

// DeleteRange removes all items in [startKey, endKey).
func (m *Memory) DeleteRange(ctx context.Context, startKey, endKey backend.Key) error {
	if startKey.IsZero() || endKey.IsZero() {
		return trace.BadParameter("missing range key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var doomed []*btreeItem
	m.tree.AscendRange(&btreeItem{Item: backend.Item{Key: startKey}}, &btreeItem{Item: backend.Item{Key: endKey}}, func(item *btreeItem) bool {
		doomed = append(doomed, item)
		return true
	})
	for _, item := range doomed {
		m.tree.Delete(item)
	}
	return nil
}

// AtomicWrite checks every condition under the lock and applies every
// action only when all of them hold.
func (m *Memory) AtomicWrite(ctx context.Context, condacts []backend.ConditionalAction) (string, error) {
	if err := backend.ValidateAtomicWrite(condacts); err != nil {
		return "", trace.Wrap(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ca := range condacts {
		item := m.getLocked(ca.Key)
		switch ca.Condition.Kind {
		case backend.KindWhatever:
		case backend.KindExists:
			if item == nil {
				return "", trace.Wrap(backend.ErrConditionFailed)
			}
		case backend.KindNotExists:
			if item != nil {
				return "", trace.Wrap(backend.ErrConditionFailed)
			}
		case backend.KindRevision:
			if item == nil || item.Revision != ca.Condition.Revision {
				return "", trace.Wrap(backend.ErrConditionFailed)
			}
		default:
			return "", trace.BadParameter("unexpected condition kind %v against key %q", ca.Condition.Kind, ca.Key)
		}
	}

	revision := backend.CreateRevision()
	var includesPut bool
	for _, ca := range condacts {
		switch ca.Action.Kind {
		case backend.KindNop:
		case backend.KindPut:
			includesPut = true
			item := ca.Action.Item
			item.Key = ca.Key
			item.Revision = revision
			m.tree.ReplaceOrInsert(&btreeItem{Item: item})
		case backend.KindDelete:
			m.tree.Delete(&btreeItem{Item: backend.Item{Key: ca.Key}})
		default:
			return "", trace.BadParameter("unexpected action kind %v against key %q", ca.Action.Kind, ca.Key)
		}
	}

	if !includesPut {
		return "", nil
	}
	return revision, nil
}

// getLocked returns the live item under the key or nil. Expired items are
// treated as absent and removed opportunistically.
func (m *Memory) getLocked(key backend.Key) *btreeItem {
	item, ok := m.tree.Get(&btreeItem{Item: backend.Item{Key: key}})
	if !ok {
		return nil
	}
	if !item.Expires.IsZero() && m.cfg.Clock.Now().After(item.Expires) {
		m.tree.Delete(item)
		return nil
	}
	return item
}

// putLocked stores the item with a fresh revision.
func (m *Memory) putLocked(i backend.Item) *backend.Lease {
	i.Revision = backend.CreateRevision()
	m.tree.ReplaceOrInsert(&btreeItem{Item: i})
	return &backend.Lease{Key: i.Key, Revision: i.Revision}
}
