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

// Package services defines the storage contracts of the sharing core and
// the permission resolution logic built on top of them.
package services

import (
	"context"

	"github.com/gravitational/workspace/api/types"
)

// Documents is the document hierarchy store: persisted documents with owner
// and nullable parent reference, plus the structural mutations. Move and
// DeleteDocument are the hierarchy mutator surface; both are atomic with
// respect to the acyclicity invariant.
type Documents interface {
	// CreateDocument stores a new document. The parent, when set, must
	// exist.
	CreateDocument(ctx context.Context, doc *types.Document) (*types.Document, error)

	// GetDocument returns a document by ID.
	GetDocument(ctx context.Context, id string) (*types.Document, error)

	// UpdateDocument updates title and content reference. Owner and parent
	// are immutable here: ownership never changes, re-parenting goes
	// through Move.
	UpdateDocument(ctx context.Context, doc *types.Document) (*types.Document, error)

	// Move re-parents a document. An empty newParentID detaches it to top
	// level. Cycles are rejected and the check is re-validated at commit
	// time, so two racing moves can never weave one.
	Move(ctx context.Context, id, newParentID string) (*types.Document, error)

	// DeleteDocument deletes a document, promotes its direct children to
	// top level and removes every explicit grant attached to it. Children
	// are never cascade-deleted.
	DeleteDocument(ctx context.Context, id string) error

	// DeleteAllDocumentsForOwner removes every document owned by the user
	// together with attached grants, promoting children owned by other
	// users. This is the full cascade run when an account is deleted.
	DeleteAllDocumentsForOwner(ctx context.Context, owner string) error

	// ListDocuments returns all documents of an owner.
	ListDocuments(ctx context.Context, owner string) ([]types.Document, error)

	// GetChildren returns the direct children of a document.
	GetChildren(ctx context.Context, parentID string) ([]types.Document, error)

	// GetAncestors returns the parent chain of a document from its parent
	// up to the root. A missing ancestor terminates the chain.
	GetAncestors(ctx context.Context, id string) ([]types.Document, error)
}

// Permissions is the explicit grant store. Grants are unique per
// (document, user) pair.
type Permissions interface {
	// UpsertGrant creates the grant or updates the existing one for the
	// same (document, user) pair, preserving its original granted-at time.
	UpsertGrant(ctx context.Context, grant *types.PermissionGrant) (*types.PermissionGrant, error)

	// GetGrant returns the explicit grant for the user on the document.
	GetGrant(ctx context.Context, documentID, user string) (*types.PermissionGrant, error)

	// DeleteGrant removes the grant. Removing an absent grant is a no-op
	// success: the effect is already achieved.
	DeleteGrant(ctx context.Context, documentID, user string) error

	// ListGrants returns all explicit grants on the document itself.
	ListGrants(ctx context.Context, documentID string) ([]types.PermissionGrant, error)

	// DeleteAllGrants removes every grant on the document.
	DeleteAllGrants(ctx context.Context, documentID string) error
}

// Invitations is the sharing invitation store.
type Invitations interface {
	// CreateInvitation stores a new invitation and its token index.
	CreateInvitation(ctx context.Context, inv *types.Invitation) (*types.Invitation, error)

	// GetInvitation returns an invitation by ID.
	GetInvitation(ctx context.Context, id string) (*types.Invitation, error)

	// GetInvitationByToken returns an invitation by its single-use token.
	GetInvitationByToken(ctx context.Context, token string) (*types.Invitation, error)

	// ConsumeInvitation marks the invitation accepted and stores the
	// resulting grant in one atomic unit, conditioned on the invitation
	// revision: of two concurrent accepts exactly one commits, the other
	// fails with a compare-failed error.
	ConsumeInvitation(ctx context.Context, inv *types.Invitation, grant *types.PermissionGrant) error

	// DeleteInvitation removes an invitation and its token index.
	DeleteInvitation(ctx context.Context, id string) error

	// DeleteExpiredInvitations garbage-collects invitations past their
	// expiry, returning how many were removed. Safe to run concurrently
	// with itself.
	DeleteExpiredInvitations(ctx context.Context) (int, error)
}

// Identity is the user lookup contract the sharing core consumes. The user
// system itself (registration, authentication) is owned elsewhere.
type Identity interface {
	// UpsertUser stores a user record.
	UpsertUser(ctx context.Context, user *types.User) (*types.User, error)

	// GetUser returns a user by ID.
	GetUser(ctx context.Context, id string) (*types.User, error)

	// GetUserByEmail returns a user by email.
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
}
