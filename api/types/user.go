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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// User is the minimal account shape the sharing core needs from the user
// system: an identifier and the email sharing invitations are matched
// against. Registration, authentication and profile data live elsewhere.
type User struct {
	// ID uniquely identifies the user.
	ID string `json:"id"`
	// Email is the account email, lower-cased.
	Email string `json:"email"`
}

// CheckAndSetDefaults validates the user and normalizes the email.
func (u *User) CheckAndSetDefaults() error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return trace.BadParameter("missing user email")
	}
	return nil
}

// Collaborator is one row of a document's collaborator listing: either the
// owner or a user holding an explicit grant on the document itself.
// Inherited access is not enumerated here, it is visible through effective
// permission resolution.
type Collaborator struct {
	// User is the collaborator's user ID.
	User string `json:"user"`
	// Level is the collaborator's access level on the document.
	Level AccessLevel `json:"level"`
	// IsOwner marks the document owner, who holds full access implicitly.
	IsOwner bool `json:"is_owner,omitempty"`
	// GrantedBy is the user who issued the grant, empty for the owner.
	GrantedBy string `json:"granted_by,omitempty"`
	// GrantedAt is when the grant was issued, zero for the owner.
	GrantedAt time.Time `json:"granted_at,omitempty"`
}
