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

// Invitation is a pending share with an email address that does not map to
// a registered user yet. It is consumed exactly once: accepting it creates
// a permission grant at the stored level.
type Invitation struct {
	// ID uniquely identifies the invitation.
	ID string `json:"id"`
	// DocumentID is the shared document.
	DocumentID string `json:"document_id"`
	// Email is the invited address, lower-cased.
	Email string `json:"email"`
	// InvitedUser is the resolved user ID when the email matched an
	// account at invitation time, empty otherwise.
	InvitedUser string `json:"invited_user,omitempty"`
	// Level is the access level a grant created on acceptance will carry.
	Level AccessLevel `json:"level"`
	// InvitedBy is the user who issued the invitation.
	InvitedBy string `json:"invited_by"`
	// Token is the single-use secret the invitee presents to accept.
	Token string `json:"token"`
	// Expires is when the invitation stops being acceptable.
	Expires time.Time `json:"expires"`
	// Accepted is when the invitation was consumed, zero while pending.
	Accepted time.Time `json:"accepted,omitempty"`
	// AcceptedBy is the user who consumed the invitation.
	AcceptedBy string `json:"accepted_by,omitempty"`
	// Revision is the backend concurrency token of the stored record.
	Revision string `json:"-"`
}

// CheckAndSetDefaults validates the invitation, normalizes the email and
// fills in a generated ID when one is not supplied.
func (i *Invitation) CheckAndSetDefaults() error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	i.Email = strings.ToLower(strings.TrimSpace(i.Email))
	if i.DocumentID == "" {
		return trace.BadParameter("missing invitation document")
	}
	if i.Email == "" {
		return trace.BadParameter("missing invitation email")
	}
	if !i.Level.IsGrantable() {
		return trace.BadParameter("access level %q cannot be granted", i.Level)
	}
	if i.InvitedBy == "" {
		return trace.BadParameter("missing inviter")
	}
	if i.Token == "" {
		return trace.BadParameter("missing invitation token")
	}
	if i.Expires.IsZero() {
		return trace.BadParameter("missing invitation expiry")
	}
	return nil
}

// IsAccepted reports whether the invitation has been consumed.
func (i *Invitation) IsAccepted() bool {
	return !i.Accepted.IsZero()
}

// IsExpired reports whether the invitation is past its expiry at the given
// time.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.Expires)
}

// IsPending reports whether the invitation can still be accepted at the
// given time.
func (i *Invitation) IsPending(now time.Time) bool {
	return !i.IsAccepted() && !i.IsExpired(now)
}
