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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/workspace/lib/backend"
)

func newMemory(t *testing.T) (*Memory, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	bk, err := New(Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bk.Close()) })
	return bk, clock
}

func TestCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bk, _ := newMemory(t)
	key := backend.NewKey("test", "item")

	_, err := bk.Get(ctx, key)
	require.True(t, trace.IsNotFound(err))

	lease, err := bk.Create(ctx, backend.Item{Key: key, Value: []byte("one")})
	require.NoError(t, err)
	require.NotEmpty(t, lease.Revision)

	_, err = bk.Create(ctx, backend.Item{Key: key, Value: []byte("dup")})
	require.True(t, trace.IsAlreadyExists(err))

	item, err := bk.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), item.Value)
	require.Equal(t, lease.Revision, item.Revision)

	updated, err := bk.Update(ctx, backend.Item{Key: key, Value: []byte("two")})
	require.NoError(t, err)
	require.NotEqual(t, lease.Revision, updated.Revision)

	require.NoError(t, bk.Delete(ctx, key))
	require.True(t, trace.IsNotFound(bk.Delete(ctx, key)))

	_, err = bk.Update(ctx, backend.Item{Key: key, Value: []byte("three")})
	require.True(t, trace.IsNotFound(err))
}

func TestGetRange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bk, _ := newMemory(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := bk.Put(ctx, backend.Item{Key: backend.NewKey("docs", id), Value: []byte(id)})
		require.NoError(t, err)
	}
	_, err := bk.Put(ctx, backend.Item{Key: backend.NewKey("other", "x"), Value: []byte("x")})
	require.NoError(t, err)

	start := backend.ExactKey("docs")
	result, err := bk.GetRange(ctx, start, backend.RangeEnd(start), backend.NoLimit)
	require.NoError(t, err)
	require.Len(t, result.Items, 3)
	require.Equal(t, "/docs/a", result.Items[0].Key.String())
	require.Equal(t, "/docs/c", result.Items[2].Key.String())

	limited, err := bk.GetRange(ctx, start, backend.RangeEnd(start), 2)
	require.NoError(t, err)
	require.Len(t, limited.Items, 2)

	require.NoError(t, bk.DeleteRange(ctx, start, backend.RangeEnd(start)))
	empty, err := bk.GetRange(ctx, start, backend.RangeEnd(start), backend.NoLimit)
	require.NoError(t, err)
	require.Empty(t, empty.Items)
}

func TestExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bk, clock := newMemory(t)
	key := backend.NewKey("test", "ttl")

	_, err := bk.Put(ctx, backend.Item{
		Key:     key,
		Value:   []byte("v"),
		Expires: clock.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = bk.Get(ctx, key)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = bk.Get(ctx, key)
	require.True(t, trace.IsNotFound(err))

	// The key can be recreated once the previous item expired.
	_, err = bk.Create(ctx, backend.Item{Key: key, Value: []byte("v2")})
	require.NoError(t, err)
}

func TestAtomicWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bk, _ := newMemory(t)
	keyA := backend.NewKey("test", "a")
	keyB := backend.NewKey("test", "b")

	leaseA, err := bk.Create(ctx, backend.Item{Key: keyA, Value: []byte("a1")})
	require.NoError(t, err)

	// Conditions hold: both actions apply with one shared revision.
	revision, err := bk.AtomicWrite(ctx, []backend.ConditionalAction{
		{Key: keyA, Condition: backend.Revision(leaseA.Revision), Action: backend.Put(backend.Item{Value: []byte("a2")})},
		{Key: keyB, Condition: backend.NotExists(), Action: backend.Put(backend.Item{Value: []byte("b1")})},
	})
	require.NoError(t, err)
	require.NotEmpty(t, revision)

	itemA, err := bk.Get(ctx, keyA)
	require.NoError(t, err)
	require.Equal(t, []byte("a2"), itemA.Value)
	require.Equal(t, revision, itemA.Revision)

	itemB, err := bk.Get(ctx, keyB)
	require.NoError(t, err)
	require.Equal(t, revision, itemB.Revision)

	// A stale revision aborts the whole write: keyB must keep its value.
	_, err = bk.AtomicWrite(ctx, []backend.ConditionalAction{
		{Key: keyA, Condition: backend.Revision(leaseA.Revision), Action: backend.Put(backend.Item{Value: []byte("a3")})},
		{Key: keyB, Condition: backend.Whatever(), Action: backend.Delete()},
	})
	require.ErrorIs(t, err, backend.ErrConditionFailed)

	itemB, err = bk.Get(ctx, keyB)
	require.NoError(t, err)
	require.Equal(t, []byte("b1"), itemB.Value)

	// Nop actions assert without writing.
	revision, err = bk.AtomicWrite(ctx, []backend.ConditionalAction{
		{Key: keyA, Condition: backend.Exists(), Action: backend.Nop()},
		{Key: backend.NewKey("test", "missing"), Condition: backend.NotExists(), Action: backend.Nop()},
	})
	require.NoError(t, err)
	require.Empty(t, revision)
}
