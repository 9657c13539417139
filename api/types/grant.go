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

package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// PermissionGrant is an explicit access grant for one user on one document.
// At most one grant exists per (document, user) pair; granting again at a
// different level updates the record in place. Whether a grant is inherited
// by descendants is never stored, it is computed by the resolver from the
// hierarchy at read time.
type PermissionGrant struct {
	// ID uniquely identifies the grant.
	ID string `json:"id"`
	// DocumentID is the document the grant is attached to.
	DocumentID string `json:"document_id"`
	// User is the grantee.
	User string `json:"user"`
	// Level is the granted access level.
	Level AccessLevel `json:"level"`
	// GrantedBy is the user who issued the grant.
	GrantedBy string `json:"granted_by"`
	// Created is when the grant was first issued.
	Created time.Time `json:"created"`
	// Updated is when the grant was last re-issued at a different level.
	Updated time.Time `json:"updated"`
	// Revision is the backend concurrency token of the stored record.
	Revision string `json:"-"`
}

// CheckAndSetDefaults validates the grant and fills in a generated ID when
// one is not supplied.
func (g *PermissionGrant) CheckAndSetDefaults() error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.DocumentID == "" {
		return trace.BadParameter("missing grant document")
	}
	if g.User == "" {
		return trace.BadParameter("missing grant user")
	}
	if !g.Level.IsGrantable() {
		return trace.BadParameter("access level %q cannot be granted", g.Level)
	}
	if g.GrantedBy == "" {
		return trace.BadParameter("missing grantor")
	}
	return nil
}
