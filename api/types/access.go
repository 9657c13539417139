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
	"encoding/json"

	"github.com/gravitational/trace"
)

// AccessLevel is the strength of access a user holds on a document. The
// ordering is an explicit contract: a level grants every capability of the
// levels below it.
type AccessLevel int

const (
	// AccessLevelNone means no access at all. It is not a grantable level;
	// it only ever appears as the result of permission resolution.
	AccessLevelNone AccessLevel = -1

	// AccessLevelViewer allows reading a document.
	AccessLevelViewer AccessLevel = 0

	// AccessLevelCommenter allows reading and commenting.
	AccessLevelCommenter AccessLevel = 1

	// AccessLevelEditor allows reading, commenting and editing. It is also
	// the level at which a user may share the document with others.
	AccessLevelEditor AccessLevel = 2
)

const (
	accessLevelNoneName      = "none"
	accessLevelViewerName    = "viewer"
	accessLevelCommenterName = "commenter"
	accessLevelEditorName    = "editor"
)

// ParseAccessLevel converts the wire representation of an access level to an
// AccessLevel. "none" is rejected: callers grant levels, they do not grant
// the absence of one.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch s {
	case accessLevelViewerName:
		return AccessLevelViewer, nil
	case accessLevelCommenterName:
		return AccessLevelCommenter, nil
	case accessLevelEditorName:
		return AccessLevelEditor, nil
	}
	return AccessLevelNone, trace.BadParameter("unsupported access level %q", s)
}

// String returns the wire representation of the access level.
func (l AccessLevel) String() string {
	switch l {
	case AccessLevelViewer:
		return accessLevelViewerName
	case AccessLevelCommenter:
		return accessLevelCommenterName
	case AccessLevelEditor:
		return accessLevelEditorName
	}
	return accessLevelNoneName
}

// IsGrantable reports whether the level can be attached to a permission
// grant or an invitation.
func (l AccessLevel) IsGrantable() bool {
	switch l {
	case AccessLevelViewer, AccessLevelCommenter, AccessLevelEditor:
		return true
	}
	return false
}

// AtLeast reports whether the level is at least as strong as other.
func (l AccessLevel) AtLeast(other AccessLevel) bool {
	return l >= other
}

// MaxAccessLevel returns the stronger of two levels. Permission resolution
// combines grants along the ancestor chain with this: strongest wins.
func MaxAccessLevel(a, b AccessLevel) AccessLevel {
	if a >= b {
		return a
	}
	return b
}

// MarshalJSON encodes the level as its wire name.
func (l AccessLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level from its wire name. "none" round-trips so
// resolved levels can cross a serialization boundary.
func (l *AccessLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return trace.Wrap(err)
	}
	if s == accessLevelNoneName {
		*l = AccessLevelNone
		return nil
	}
	parsed, err := ParseAccessLevel(s)
	if err != nil {
		return trace.Wrap(err)
	}
	*l = parsed
	return nil
}
