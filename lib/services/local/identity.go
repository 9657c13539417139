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
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/workspace/api/types"
	"github.com/gravitational/workspace/lib/backend"
	"github.com/gravitational/workspace/lib/services"
)

const (
	usersPrefix      = "users"
	userEmailsPrefix = "user_emails"
)

func userKey(id string) backend.Key {
	return backend.NewKey(usersPrefix, id)
}

func userEmailKey(email string) backend.Key {
	return backend.NewKey(userEmailsPrefix, email)
}

// IdentityService implements the user lookup contract over the backend.
// It stores only what the sharing core consumes: the ID and the email an
// invitation is matched against.
type IdentityService struct {
	bk backend.Backend
}

// NewIdentityService returns a new identity lookup service.
func NewIdentityService(bk backend.Backend) *IdentityService {
	return &IdentityService{bk: bk}
}

// UpsertUser stores a user record and its email index entry. A changed
// email drops the old index entry in the same atomic write.
func (s *IdentityService) UpsertUser(ctx context.Context, user *types.User) (*types.User, error) {
	value, err := services.MarshalUser(user)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	condacts := []backend.ConditionalAction{
		{
			Key:       userKey(user.ID),
			Condition: backend.Whatever(),
			Action:    backend.Put(backend.Item{Value: value}),
		},
		{
			Key:       userEmailKey(user.Email),
			Condition: backend.Whatever(),
			Action:    backend.Put(backend.Item{Value: []byte(user.ID)}),
		},
	}
	existing, err := s.GetUser(ctx, user.ID)
	switch {
	case err == nil:
		if existing.Email != user.Email {
			condacts = append(condacts, backend.ConditionalAction{
				Key:       userEmailKey(existing.Email),
				Condition: backend.Whatever(),
				Action:    backend.Delete(),
			})
		}
	case !trace.IsNotFound(err):
		return nil, trace.Wrap(err)
	}

	if _, err := s.bk.AtomicWrite(ctx, condacts); err != nil {
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// GetUser returns a user by ID.
func (s *IdentityService) GetUser(ctx context.Context, id string) (*types.User, error) {
	if id == "" {
		return nil, trace.BadParameter("missing user ID")
	}
	item, err := s.bk.Get(ctx, userKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user %q not found", id)
		}
		return nil, trace.Wrap(err)
	}
	user, err := services.UnmarshalUser(item.Value)
	return user, trace.Wrap(err)
}

// GetUserByEmail returns a user by email.
func (s *IdentityService) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, trace.BadParameter("missing email")
	}
	item, err := s.bk.Get(ctx, userEmailKey(email))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user with email %q not found", email)
		}
		return nil, trace.Wrap(err)
	}
	user, err := s.GetUser(ctx, string(item.Value))
	return user, trace.Wrap(err)
}
