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

package pgbk

import (
	"context"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"

	"github.com/gravitational/workspace/lib/backend"
)

// AtomicWrite runs the conditional actions inside one serializable
// transaction: conditions are re-checked against committed state, so a
// concurrent writer that invalidates one aborts this write rather than
// letting it commit over the race.
func (b *Backend) AtomicWrite(ctx context.Context, condacts []backend.ConditionalAction) (string, error) {
	if err := backend.ValidateAtomicWrite(condacts); err != nil {
		return "", trace.Wrap(err)
	}

	revision := backend.CreateRevision()
	var includesPut bool

	apply := func(tx pgx.Tx) error {
		now := b.cfg.Clock.Now()
		for _, ca := range condacts {
			switch ca.Condition.Kind {
			case backend.KindWhatever:
			case backend.KindExists:
				if _, err := getTx(ctx, tx, ca.Key, now); err != nil {
					if trace.IsNotFound(err) {
						return trace.Wrap(backend.ErrConditionFailed)
					}
					return trace.Wrap(err)
				}
			case backend.KindNotExists:
				_, err := getTx(ctx, tx, ca.Key, now)
				if !trace.IsNotFound(err) {
					if err == nil {
						return trace.Wrap(backend.ErrConditionFailed)
					}
					return trace.Wrap(err)
				}
			case backend.KindRevision:
				item, err := getTx(ctx, tx, ca.Key, now)
				if err != nil {
					if trace.IsNotFound(err) {
						return trace.Wrap(backend.ErrConditionFailed)
					}
					return trace.Wrap(err)
				}
				if item.Revision != ca.Condition.Revision {
					return trace.Wrap(backend.ErrConditionFailed)
				}
			default:
				return trace.BadParameter("unexpected condition kind %v against key %q", ca.Condition.Kind, ca.Key)
			}
		}

		for _, ca := range condacts {
			switch ca.Action.Kind {
			case backend.KindNop:
			case backend.KindPut:
				includesPut = true
				item := ca.Action.Item
				if _, err := tx.Exec(ctx,
					`INSERT INTO kv (key, value, expires, revision) VALUES ($1, $2, $3, $4)
					 ON CONFLICT (key) DO UPDATE SET value = $2, expires = $3, revision = $4`,
					ca.Key.String(), item.Value, expiresParam(item.Expires), revision); err != nil {
					return trace.Wrap(err)
				}
			case backend.KindDelete:
				if _, err := tx.Exec(ctx, `DELETE FROM kv WHERE key = $1`, ca.Key.String()); err != nil {
					return trace.Wrap(err)
				}
			default:
				return trace.BadParameter("unexpected action kind %v against key %q", ca.Action.Kind, ca.Key)
			}
		}
		return nil
	}

	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		err = pgx.BeginTxFunc(ctx, b.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, apply)
		if err == nil || !isSerializationFailure(err) {
			break
		}
		b.cfg.Logger.DebugContext(ctx, "retrying atomic write after serialization failure", "attempt", attempt+1)
	}
	if err != nil {
		return "", trace.Wrap(err)
	}

	if !includesPut {
		return "", nil
	}
	return revision, nil
}
