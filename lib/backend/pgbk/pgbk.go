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

// Package pgbk implements the backend interface on PostgreSQL. All records
// live in a single key/value table; conditional writes run as serializable
// transactions.
package pgbk

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/workspace"
	"github.com/gravitational/workspace/lib/backend"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	expires TIMESTAMPTZ,
	revision TEXT NOT NULL
)`

// txRetries is how many times a serialization failure is retried before it
// is surfaced to the caller.
const txRetries = 3

// Config holds postgres backend options.
type Config struct {
	// ConnString is the pgx connection string.
	ConnString string
	// Clock is the clock used to evaluate item expiry.
	Clock clockwork.Clock
	// Logger emits backend diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ConnString == "" {
		return trace.BadParameter("missing postgres connection string")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(workspace.ComponentKey, workspace.ComponentBackend)
	}
	return nil
}

// Backend is a PostgreSQL-backed implementation of backend.Backend.
type Backend struct {
	cfg  Config
	pool *pgxpool.Pool
}

// New connects to postgres and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, trace.Wrap(err)
	}
	return &Backend{cfg: cfg, pool: pool}, nil
}

// Clock returns the backend clock.
func (b *Backend) Clock() clockwork.Clock {
	return b.cfg.Clock
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func expiresParam(expires time.Time) any {
	if expires.IsZero() {
		return nil
	}
	return expires
}

// Create creates the item if no live item exists under its key.
func (b *Backend) Create(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	revision := backend.CreateRevision()
	tag, err := b.pool.Exec(ctx,
		`INSERT INTO kv (key, value, expires, revision) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET value = $2, expires = $3, revision = $4
		 WHERE kv.expires IS NOT NULL AND kv.expires <= $5`,
		i.Key.String(), i.Value, expiresParam(i.Expires), revision, b.cfg.Clock.Now())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, trace.AlreadyExists("key %q already exists", i.Key)
	}
	return &backend.Lease{Key: i.Key, Revision: revision}, nil
}

// Put stores the item unconditionally.
func (b *Backend) Put(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	revision := backend.CreateRevision()
	_, err := b.pool.Exec(ctx,
		`INSERT INTO kv (key, value, expires, revision) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET value = $2, expires = $3, revision = $4`,
		i.Key.String(), i.Value, expiresParam(i.Expires), revision)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &backend.Lease{Key: i.Key, Revision: revision}, nil
}

// Update overwrites an existing live item.
func (b *Backend) Update(ctx context.Context, i backend.Item) (*backend.Lease, error) {
	revision := backend.CreateRevision()
	tag, err := b.pool.Exec(ctx,
		`UPDATE kv SET value = $2, expires = $3, revision = $4
		 WHERE key = $1 AND (expires IS NULL OR expires > $5)`,
		i.Key.String(), i.Value, expiresParam(i.Expires), revision, b.cfg.Clock.Now())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, trace.NotFound("key %q is not found", i.Key)
	}
	return &backend.Lease{Key: i.Key, Revision: revision}, nil
}

// Get returns the live item under the key.
func (b *Backend) Get(ctx context.Context, key backend.Key) (*backend.Item, error) {
	item, err := getTx(ctx, b.pool, key, b.cfg.Clock.Now())
	return item, trace.Wrap(err)
}

// GetRange returns live items in [startKey, endKey).
func (b *Backend) GetRange(ctx context.Context, startKey, endKey backend.Key, limit int) (*backend.GetResult, error) {
	if startKey.IsZero() || endKey.IsZero() {
		return nil, trace.BadParameter("missing range key")
	}
	query := `SELECT key, value, expires, revision FROM kv
		 WHERE key >= $1 AND key < $2 AND (expires IS NULL OR expires > $3)
		 ORDER BY key`
	args := []any{startKey.String(), endKey.String(), b.cfg.Clock.Now()}
	if limit != backend.NoLimit {
		query += ` LIMIT $4`
		args = append(args, limit)
	}
	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var result backend.GetResult
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result.Items = append(result.Items, *item)
	}
	return &result, trace.Wrap(rows.Err())
}

// Delete removes the item under the key.
func (b *Backend) Delete(ctx context.Context, key backend.Key) error {
	tag, err := b.pool.Exec(ctx,
		`DELETE FROM kv WHERE key = $1 AND (expires IS NULL OR expires > $2)`,
		key.String(), b.cfg.Clock.Now())
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("key %q is not found", key)
	}
	return nil
}

// DeleteRange removes all items in [startKey, endKey).
func (b *Backend) DeleteRange(ctx context.Context, startKey, endKey backend.Key) error {
	if startKey.IsZero() || endKey.IsZero() {
		return trace.BadParameter("missing range key")
	}
	_, err := b.pool.Exec(ctx,
		`DELETE FROM kv WHERE key >= $1 AND key < $2`,
		startKey.String(), endKey.String())
	return trace.Wrap(err)
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getTx(ctx context.Context, q pgxQuerier, key backend.Key, now time.Time) (*backend.Item, error) {
	row := q.QueryRow(ctx,
		`SELECT key, value, expires, revision FROM kv
		 WHERE key = $1 AND (expires IS NULL OR expires > $2)`,
		key.String(), now)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trace.NotFound("key %q is not found", key)
		}
		return nil, trace.Wrap(err)
	}
	return item, nil
}

func scanItem(row pgx.Row) (*backend.Item, error) {
	var (
		key      string
		value    []byte
		expires  *time.Time
		revision string
	)
	if err := row.Scan(&key, &value, &expires, &revision); err != nil {
		return nil, err
	}
	item := backend.Item{
		Key:      backend.KeyFromString(key),
		Value:    value,
		Revision: revision,
	}
	if expires != nil {
		item.Expires = *expires
	}
	return &item, nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected)
}
