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

package local

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/gravitational/workspace/api/types"
	"github.com/gravitational/workspace/lib/backend"
	"github.com/gravitational/workspace/lib/services"
)

const grantsPrefix = "grants"

// grantKey keys grants by document and grantee, which makes the at most
// one grant per (document, user) invariant structural: re-granting lands
// on the same key.
func grantKey(documentID, user string) backend.Key {
	return backend.NewKey(grantsPrefix, documentID, user)
}

// PermissionService manages explicit permission grants in the backend.
type PermissionService struct {
	bk backend.Backend
}

// NewPermissionService returns a new permission grant store.
func NewPermissionService(bk backend.Backend) *PermissionService {
	return &PermissionService{bk: bk}
}

// UpsertGrant creates the grant or updates the existing one in place. On
// re-grant the original ID and granted-at time survive; level, grantor and
// the updated timestamp move.
func (s *PermissionService) UpsertGrant(ctx context.Context, grant *types.PermissionGrant) (*types.PermissionGrant, error) {
	if err := grant.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	now := s.bk.Clock().Now().UTC()
	existing, err := s.GetGrant(ctx, grant.DocumentID, grant.User)
	switch {
	case err == nil:
		grant.ID = existing.ID
		grant.Created = existing.Created
	case trace.IsNotFound(err):
		grant.Created = now
	default:
		return nil, trace.Wrap(err)
	}
	grant.Updated = now

	value, err := services.MarshalGrant(grant)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	lease, err := s.bk.Put(ctx, backend.Item{
		Key:   grantKey(grant.DocumentID, grant.User),
		Value: value,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	grant.Revision = lease.Revision
	return grant, nil
}

// GetGrant returns the explicit grant for the user on the document.
func (s *PermissionService) GetGrant(ctx context.Context, documentID, user string) (*types.PermissionGrant, error) {
	if documentID == "" {
		return nil, trace.BadParameter("missing document ID")
	}
	if user == "" {
		return nil, trace.BadParameter("missing user")
	}
	item, err := s.bk.Get(ctx, grantKey(documentID, user))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("no grant for user %q on document %q", user, documentID)
		}
		return nil, trace.Wrap(err)
	}
	grant, err := services.UnmarshalGrant(item.Value, services.WithRevision(item.Revision))
	return grant, trace.Wrap(err)
}

// DeleteGrant removes the grant. Deleting an absent grant succeeds: the
// caller wanted it gone and it is.
func (s *PermissionService) DeleteGrant(ctx context.Context, documentID, user string) error {
	if documentID == "" {
		return trace.BadParameter("missing document ID")
	}
	if user == "" {
		return trace.BadParameter("missing user")
	}
	if err := s.bk.Delete(ctx, grantKey(documentID, user)); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return nil
}

// ListGrants returns all explicit grants on the document, ordered by
// grantee.
func (s *PermissionService) ListGrants(ctx context.Context, documentID string) ([]types.PermissionGrant, error) {
	if documentID == "" {
		return nil, trace.BadParameter("missing document ID")
	}
	start := backend.ExactKey(grantsPrefix, documentID)
	result, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]types.PermissionGrant, 0, len(result.Items))
	for _, item := range result.Items {
		grant, err := services.UnmarshalGrant(item.Value, services.WithRevision(item.Revision))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *grant)
	}
	return out, nil
}

// DeleteAllGrants removes every grant on the document.
func (s *PermissionService) DeleteAllGrants(ctx context.Context, documentID string) error {
	if documentID == "" {
		return trace.BadParameter("missing document ID")
	}
	start := backend.ExactKey(grantsPrefix, documentID)
	return trace.Wrap(s.bk.DeleteRange(ctx, start, backend.RangeEnd(start)))
}
