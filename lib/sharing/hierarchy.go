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

package sharing

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/gravitational/workspace/api/types"
)

// moveAttempts is how many times a move is tried when it loses a
// structural race: the conflict is transient, a single retry re-validates
// against the new chain.
const moveAttempts = 2

// Move re-parents the document. The acting user must hold editor access on
// the document and, unless detaching to top level, on the new parent. A
// commit-time structural race is retried once before the conflict is
// surfaced to the caller.
func (s *Service) Move(ctx context.Context, documentID, newParentID, actingUser string) (*types.Document, error) {
	var moved *types.Document
	var err error
	for attempt := 0; attempt < moveAttempts; attempt++ {
		if err = s.authorize(ctx, documentID, actingUser, types.AccessLevelEditor); err != nil {
			return nil, trace.Wrap(err)
		}
		if newParentID != "" {
			if err = s.authorize(ctx, newParentID, actingUser, types.AccessLevelEditor); err != nil {
				return nil, trace.Wrap(err)
			}
		}
		moved, err = s.cfg.Documents.Move(ctx, documentID, newParentID)
		if err == nil {
			break
		}
		if !trace.IsCompareFailed(err) {
			return nil, trace.Wrap(err)
		}
		s.cfg.Logger.DebugContext(ctx, "retrying move after structural race",
			"document", documentID, "new_parent", newParentID)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.cfg.Resolver.Flush()
	s.cfg.Logger.InfoContext(ctx, "moved document",
		"document", documentID, "new_parent", newParentID, "moved_by", actingUser)
	return moved, nil
}

// Delete removes the document, promoting its children to top level and
// dropping its explicit grants. The acting user must hold editor access.
// Callers should know the cascade is deliberately shallow: descendants
// survive as top-level documents, only the grants of the deleted document
// itself disappear.
func (s *Service) Delete(ctx context.Context, documentID, actingUser string) error {
	if err := s.authorize(ctx, documentID, actingUser, types.AccessLevelEditor); err != nil {
		return trace.Wrap(err)
	}
	if err := s.cfg.Documents.DeleteDocument(ctx, documentID); err != nil {
		return trace.Wrap(err)
	}
	s.cfg.Resolver.Flush()
	s.cfg.Logger.InfoContext(ctx, "deleted document",
		"document", documentID, "deleted_by", actingUser)
	return nil
}
