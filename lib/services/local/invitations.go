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
	"errors"

	"github.com/gravitational/trace"

	"github.com/gravitational/workspace/api/types"
	"github.com/gravitational/workspace/lib/backend"
	"github.com/gravitational/workspace/lib/services"
)

// Invitations are stored twice: the record itself under its ID and a token
// index entry mapping the single-use token back to the ID. The index entry
// carries a backend TTL equal to the invitation expiry, so unredeemed
// tokens age out of the index on their own; the record is kept until the
// janitor collects it.
const (
	invitationsPrefix      = "invitations"
	invitationTokensPrefix = "invitation_tokens"
)

func invitationKey(id string) backend.Key {
	return backend.NewKey(invitationsPrefix, id)
}

func invitationTokenKey(token string) backend.Key {
	return backend.NewKey(invitationTokensPrefix, token)
}

// InvitationService manages sharing invitations in the backend.
type InvitationService struct {
	bk backend.Backend
}

// NewInvitationService returns a new invitation store.
func NewInvitationService(bk backend.Backend) *InvitationService {
	return &InvitationService{bk: bk}
}

// CreateInvitation stores a new invitation and its token index entry in one
// atomic write.
func (s *InvitationService) CreateInvitation(ctx context.Context, inv *types.Invitation) (*types.Invitation, error) {
	value, err := services.MarshalInvitation(inv)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	revision, err := s.bk.AtomicWrite(ctx, []backend.ConditionalAction{
		{
			Key:       invitationKey(inv.ID),
			Condition: backend.NotExists(),
			Action:    backend.Put(backend.Item{Value: value}),
		},
		{
			Key:       invitationTokenKey(inv.Token),
			Condition: backend.NotExists(),
			Action: backend.Put(backend.Item{
				Value:   []byte(inv.ID),
				Expires: inv.Expires,
			}),
		},
	})
	if err != nil {
		if errors.Is(err, backend.ErrConditionFailed) {
			return nil, trace.AlreadyExists("invitation %q already exists", inv.ID)
		}
		return nil, trace.Wrap(err)
	}
	inv.Revision = revision
	return inv, nil
}

// GetInvitation returns an invitation by ID.
func (s *InvitationService) GetInvitation(ctx context.Context, id string) (*types.Invitation, error) {
	if id == "" {
		return nil, trace.BadParameter("missing invitation ID")
	}
	item, err := s.bk.Get(ctx, invitationKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("invitation %q not found", id)
		}
		return nil, trace.Wrap(err)
	}
	inv, err := services.UnmarshalInvitation(item.Value, services.WithRevision(item.Revision))
	return inv, trace.Wrap(err)
}

// GetInvitationByToken returns an invitation by its single-use token.
func (s *InvitationService) GetInvitationByToken(ctx context.Context, token string) (*types.Invitation, error) {
	if token == "" {
		return nil, trace.BadParameter("missing invitation token")
	}
	item, err := s.bk.Get(ctx, invitationTokenKey(token))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("invitation token not found")
		}
		return nil, trace.Wrap(err)
	}
	inv, err := s.GetInvitation(ctx, string(item.Value))
	return inv, trace.Wrap(err)
}

// ConsumeInvitation marks the invitation accepted and stores the resulting
// grant in one atomic write conditioned on the invitation revision. Two
// concurrent accepts of the same token commit exactly one grant: the loser
// fails with a compare-failed error and must re-read to see who won.
func (s *InvitationService) ConsumeInvitation(ctx context.Context, inv *types.Invitation, grant *types.PermissionGrant) error {
	if inv.Revision == "" {
		return trace.BadParameter("invitation %q missing revision", inv.ID)
	}
	if !inv.IsAccepted() {
		return trace.BadParameter("invitation %q is not marked accepted", inv.ID)
	}
	invValue, err := services.MarshalInvitation(inv)
	if err != nil {
		return trace.Wrap(err)
	}
	grantValue, err := services.MarshalGrant(grant)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.AtomicWrite(ctx, []backend.ConditionalAction{
		{
			Key:       invitationKey(inv.ID),
			Condition: backend.Revision(inv.Revision),
			Action:    backend.Put(backend.Item{Value: invValue}),
		},
		{
			Key:       grantKey(grant.DocumentID, grant.User),
			Condition: backend.Whatever(),
			Action:    backend.Put(backend.Item{Value: grantValue}),
		},
	})
	if err != nil {
		if errors.Is(err, backend.ErrConditionFailed) {
			return trace.CompareFailed("invitation %q was concurrently consumed", inv.ID)
		}
		return trace.Wrap(err)
	}
	return nil
}

// DeleteInvitation removes an invitation and its token index entry.
func (s *InvitationService) DeleteInvitation(ctx context.Context, id string) error {
	inv, err := s.GetInvitation(ctx, id)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.bk.AtomicWrite(ctx, []backend.ConditionalAction{
		{
			Key:       invitationKey(inv.ID),
			Condition: backend.Whatever(),
			Action:    backend.Delete(),
		},
		{
			Key:       invitationTokenKey(inv.Token),
			Condition: backend.Whatever(),
			Action:    backend.Delete(),
		},
	})
	return trace.Wrap(err)
}

// DeleteExpiredInvitations garbage-collects invitations past their expiry.
// Deletes are revision-conditioned and condition failures are skipped, so
// concurrent janitor runs stay safe: whoever loses the race simply leaves
// the record to the winner.
func (s *InvitationService) DeleteExpiredInvitations(ctx context.Context) (int, error) {
	start := backend.ExactKey(invitationsPrefix)
	result, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), backend.NoLimit)
	if err != nil {
		return 0, trace.Wrap(err)
	}

	now := s.bk.Clock().Now()
	deleted := 0
	for _, item := range result.Items {
		inv, err := services.UnmarshalInvitation(item.Value, services.WithRevision(item.Revision))
		if err != nil {
			return deleted, trace.Wrap(err)
		}
		if !inv.IsExpired(now) {
			continue
		}
		_, err = s.bk.AtomicWrite(ctx, []backend.ConditionalAction{
			{
				Key:       invitationKey(inv.ID),
				Condition: backend.Revision(inv.Revision),
				Action:    backend.Delete(),
			},
			{
				Key:       invitationTokenKey(inv.Token),
				Condition: backend.Whatever(),
				Action:    backend.Delete(),
			},
		})
		if err != nil {
			if errors.Is(err, backend.ErrConditionFailed) {
				continue
			}
			return deleted, trace.Wrap(err)
		}
		deleted++
	}
	return deleted, nil
}
