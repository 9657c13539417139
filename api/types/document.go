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

// Document is a node in a user's document tree. Documents form a forest per
// owner: ParentID is empty for top-level documents and otherwise refers to
// another document of the same tree. Content itself lives with an external
// collaborator; ContentRef is an opaque pointer to it.
type Document struct {
	// ID uniquely identifies the document.
	ID string `json:"id"`
	// Owner is the user who created the document. Immutable.
	Owner string `json:"owner"`
	// ParentID refers to the parent document, empty for top-level
	// documents. The parent chain is always acyclic.
	ParentID string `json:"parent_id,omitempty"`
	// Title is the display title.
	Title string `json:"title"`
	// ContentRef is an opaque reference to the document content held by
	// the content store.
	ContentRef string `json:"content_ref,omitempty"`
	// Created is the creation timestamp.
	Created time.Time `json:"created"`
	// Updated is the last modification timestamp.
	Updated time.Time `json:"updated"`
	// Revision is the backend concurrency token of the stored record.
	Revision string `json:"-"`
}

// CheckAndSetDefaults validates the document and fills in a generated ID
// when one is not supplied.
func (d *Document) CheckAndSetDefaults() error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Owner == "" {
		return trace.BadParameter("missing document owner")
	}
	if d.Title == "" {
		return trace.BadParameter("missing document title")
	}
	if d.ParentID == d.ID {
		return trace.BadParameter("document %v cannot be its own parent", d.ID)
	}
	return nil
}

// IsRoot reports whether the document is top-level.
func (d *Document) IsRoot() bool {
	return d.ParentID == ""
}
