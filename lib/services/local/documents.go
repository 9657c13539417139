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

// Package local implements the service contracts on top of the backend
// key/value abstraction.
package local

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gravitational/trace"

	"github.com/gravitational/workspace"
	"github.com/gravitational/workspace/api/types"
	"github.com/gravitational/workspace/lib/backend"
	"github.com/gravitational/workspace/lib/services"
)

// Document hierarchy state is modeled with the following key ranges:
//
//   - `/documents/<document-id>`       (the document record, parent pointer included)
//   - `/grants/<document-id>/<user>`   (explicit permission grants, see permissions.go)
//
// The flat `/documents/` range is the hierarchy index: traversal is
// iterative parent-pointer walking over it, bounded by the total document
// count, which keeps cycle detection trivially terminating and avoids
// recursive object graphs entirely.
const (
	documentsPrefix = "documents"
)

func documentKey(id string) backend.Key {
	return backend.NewKey(documentsPrefix, id)
}

// DocumentService manages the document hierarchy in the backend and
// enforces its structural invariants during mutation.
type DocumentService struct {
	bk     backend.Backend
	logger *slog.Logger
}

// NewDocumentService returns a new document hierarchy service.
func NewDocumentService(bk backend.Backend) *DocumentService {
	return &DocumentService{
		bk:     bk,
		logger: slog.With(workspace.ComponentKey, workspace.ComponentHierarchy),
	}
}

// CreateDocument stores a new document.
func (s *DocumentService) CreateDocument(ctx context.Context, doc *types.Document) (*types.Document, error) {
	if err := doc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if doc.ParentID != "" {
		if _, err := s.GetDocument(ctx, doc.ParentID); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	now := s.bk.Clock().Now().UTC()
	doc.Created = now
	doc.Updated = now

	value, err := services.MarshalDocument(doc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	lease, err := s.bk.Create(ctx, backend.Item{
		Key:   documentKey(doc.ID),
		Value: value,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	doc.Revision = lease.Revision
	return doc, nil
}

// GetDocument returns a document by ID.
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	if id == "" {
		return nil, trace.BadParameter("missing document ID")
	}
	item, err := s.bk.Get(ctx, documentKey(id))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("document %q not found", id)
		}
		return nil, trace.Wrap(err)
	}
	doc, err := services.UnmarshalDocument(item.Value, services.WithRevision(item.Revision))
	return doc, trace.Wrap(err)
}

// UpdateDocument updates a document's title and content reference. The
// owner is immutable and parent changes are rejected: re-parenting has
// structural consequences and must go through Move.
func (s *DocumentService) UpdateDocument(ctx context.Context, doc *types.Document) (*types.Document, error) {
	if err := doc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	existing, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if doc.Owner != existing.Owner {
		return nil, trace.BadParameter("document owner is immutable")
	}
	if doc.ParentID != existing.ParentID {
		return nil, trace.BadParameter("document parent cannot be changed by an update, use Move")
	}

	updated := *existing
	updated.Title = doc.Title
	updated.ContentRef = doc.ContentRef
	updated.Updated = s.bk.Clock().Now().UTC()

	revision := doc.Revision
	if revision == "" {
		revision = existing.Revision
	}
	value, err := services.MarshalDocument(&updated)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	newRevision, err := s.bk.AtomicWrite(ctx, []backend.ConditionalAction{{
		Key:       documentKey(updated.ID),
		Condition: backend.Revision(revision),
		Action:    backend.Put(backend.Item{Value: value}),
	}})
	if err != nil {
		if errors.Is(err, backend.ErrConditionFailed) {
			return nil, trace.CompareFailed("document %q was concurrently modified", updated.ID)
		}
		return nil, trace.Wrap(err)
	}
	updated.Revision = newRevision
	return &updated, nil
}

// Move re-parents a document. The cycle check walks up from the new parent:
// if the moved document is encountered the move is rejected. The write then
// asserts the revision of the moved document and of every node on the new
// parent's ancestor chain, so the validated chain is exactly the chain the
// commit happens against; any racing structural change fails the write
// instead of weaving a cycle. Chains too deep for one conditional write
// fall back to commit-then-revalidate, see moveStaged. Explicit grants
// stay attached to their
// original documents: moving a subtree changes what its descendants
// inherit, by the sharing semantics, not the grants themselves.
func (s *DocumentService) Move(ctx context.Context, id, newParentID string) (*types.Document, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if newParentID == id {
		return nil, trace.BadParameter("cannot move document %q under itself", id)
	}
	if doc.ParentID == newParentID {
		return doc, nil
	}

	updated := *doc
	updated.ParentID = newParentID
	updated.Updated = s.bk.Clock().Now().UTC()

	value, err := services.MarshalDocument(&updated)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	condacts := []backend.ConditionalAction{{
		Key:       documentKey(id),
		Condition: backend.Revision(doc.Revision),
		Action:    backend.Put(backend.Item{Value: value}),
	}}

	if newParentID != "" {
		parent, err := s.GetDocument(ctx, newParentID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		chain, err := s.ancestorChain(ctx, parent)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		chain = append([]types.Document{*parent}, chain...)
		for _, node := range chain {
			if node.ID == id {
				return nil, trace.BadParameter("cannot move document %q under its own descendant %q", id, newParentID)
			}
		}
		if len(chain)+1 > backend.MaxAtomicWriteSize {
			return s.moveStaged(ctx, doc, &updated, parent, value)
		}
		for _, node := range chain {
			condacts = append(condacts, backend.ConditionalAction{
				Key:       documentKey(node.ID),
				Condition: backend.Revision(node.Revision),
				Action:    backend.Nop(),
			})
		}
	}

	newRevision, err := s.bk.AtomicWrite(ctx, condacts)
	if err != nil {
		if errors.Is(err, backend.ErrConditionFailed) {
			return nil, trace.CompareFailed("document hierarchy changed concurrently while moving %q", id)
		}
		return nil, trace.Wrap(err)
	}
	updated.Revision = newRevision
	return &updated, nil
}

// moveStaged commits a move whose ancestor-chain assertions would not fit
// one conditional write. The parent pointer is committed asserting only the
// moved document and the new parent, then the chain is re-walked against
// committed state. A racing move that wove a cycle through the new edge
// asserted the full chain of its own destination, which passes through the
// moved document, so at most the race window separates commit from
// detection; the cycle is undone by detaching the moved document to top
// level, which is acyclic against any chain, and the conflict is surfaced
// for the caller to retry. Readers treat the repeated node as a chain
// terminator in the interim.
func (s *DocumentService) moveStaged(ctx context.Context, doc, updated, parent *types.Document, value []byte) (*types.Document, error) {
	s.logger.DebugContext(ctx, "staged document move", "document", doc.ID, "new_parent", parent.ID)
	newRevision, err := s.bk.AtomicWrite(ctx, []backend.ConditionalAction{
		{
			Key:       documentKey(doc.ID),
			Condition: backend.Revision(doc.Revision),
			Action:    backend.Put(backend.Item{Value: value}),
		},
		{
			Key:       documentKey(parent.ID),
			Condition: backend.Revision(parent.Revision),
			Action:    backend.Nop(),
		},
	})
	if err != nil {
		if errors.Is(err, backend.ErrConditionFailed) {
			return nil, trace.CompareFailed("document hierarchy changed concurrently while moving %q", doc.ID)
		}
		return nil, trace.Wrap(err)
	}
	updated.Revision = newRevision

	parentNow, err := s.GetDocument(ctx, parent.ID)
	if err != nil {
		if trace.IsNotFound(err) {
			// Parent deleted concurrently; the chain terminates there.
			return updated, nil
		}
		return nil, trace.Wrap(err)
	}
	chain, err := s.ancestorChain(ctx, parentNow)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	chain = append([]types.Document{*parentNow}, chain...)
	for _, node := range chain {
		if node.ID != doc.ID {
			continue
		}
		detached := *updated
		detached.ParentID = ""
		detached.Updated = s.bk.Clock().Now().UTC()
		detachedValue, err := services.MarshalDocument(&detached)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if _, err := s.bk.AtomicWrite(ctx, []backend.ConditionalAction{{
			Key:       documentKey(doc.ID),
			Condition: backend.Revision(updated.Revision),
			Action:    backend.Put(backend.Item{Value: detachedValue}),
		}}); err != nil && !errors.Is(err, backend.ErrConditionFailed) {
			return nil, trace.Wrap(err)
		}
		return nil, trace.CompareFailed("document hierarchy changed concurrently while moving %q", doc.ID)
	}
	return updated, nil
}

// DeleteDocument deletes a document. Direct children are promoted to top
// level, never cascade-deleted, and every explicit grant on the document is
// removed. When everything fits a single conditional write the whole delete
// is one atomic unit; larger fan-outs promote children in
// revision-conditioned batches first and delete last, which can expose
// promoted children early but never a cycle or a fabricated link.
func (s *DocumentService) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return trace.Wrap(err)
	}
	children, err := s.GetChildren(ctx, id)
	if err != nil {
		return trace.Wrap(err)
	}
	grantItems, err := s.bk.GetRange(ctx, backend.ExactKey(grantsPrefix, id), backend.RangeEnd(backend.ExactKey(grantsPrefix, id)), backend.NoLimit)
	if err != nil {
		return trace.Wrap(err)
	}

	condacts := []backend.ConditionalAction{{
		Key:       documentKey(id),
		Condition: backend.Revision(doc.Revision),
		Action:    backend.Delete(),
	}}
	promotions, err := s.promotionActions(children)
	if err != nil {
		return trace.Wrap(err)
	}
	condacts = append(condacts, promotions...)
	for _, item := range grantItems.Items {
		condacts = append(condacts, backend.ConditionalAction{
			Key:       item.Key,
			Condition: backend.Whatever(),
			Action:    backend.Delete(),
		})
	}

	if len(condacts) <= backend.MaxAtomicWriteSize {
		if _, err := s.bk.AtomicWrite(ctx, condacts); err != nil {
			if errors.Is(err, backend.ErrConditionFailed) {
				return trace.CompareFailed("document %q changed concurrently during delete", id)
			}
			return trace.Wrap(err)
		}
		return nil
	}
	return trace.Wrap(s.deleteStaged(ctx, doc, promotions))
}

// deleteStaged handles deletes whose fan-out exceeds a single conditional
// write: children are promoted in batches asserting the document still
// exists, then the document is deleted, then its grants are dropped. Grants
// on a deleted document are unreachable, so the trailing range delete is
// pure cleanup.
func (s *DocumentService) deleteStaged(ctx context.Context, doc *types.Document, promotions []backend.ConditionalAction) error {
	s.logger.DebugContext(ctx, "staged document delete", "document", doc.ID, "children", len(promotions))
	guard := backend.ConditionalAction{
		Key:       documentKey(doc.ID),
		Condition: backend.Revision(doc.Revision),
		Action:    backend.Nop(),
	}
	for len(promotions) > 0 {
		batch := promotions
		if len(batch) > backend.MaxAtomicWriteSize-1 {
			batch = batch[:backend.MaxAtomicWriteSize-1]
		}
		promotions = promotions[len(batch):]
		if _, err := s.bk.AtomicWrite(ctx, append([]backend.ConditionalAction{guard}, batch...)); err != nil {
			if errors.Is(err, backend.ErrConditionFailed) {
				return trace.CompareFailed("document %q changed concurrently during delete", doc.ID)
			}
			return trace.Wrap(err)
		}
	}
	if _, err := s.bk.AtomicWrite(ctx, []backend.ConditionalAction{{
		Key:       documentKey(doc.ID),
		Condition: backend.Revision(doc.Revision),
		Action:    backend.Delete(),
	}}); err != nil {
		if errors.Is(err, backend.ErrConditionFailed) {
			return trace.CompareFailed("document %q changed concurrently during delete", doc.ID)
		}
		return trace.Wrap(err)
	}
	start := backend.ExactKey(grantsPrefix, doc.ID)
	return trace.Wrap(s.bk.DeleteRange(ctx, start, backend.RangeEnd(start)))
}

func (s *DocumentService) promotionActions(children []types.Document) ([]backend.ConditionalAction, error) {
	var condacts []backend.ConditionalAction
	for _, child := range children {
		promoted := child
		promoted.ParentID = ""
		promoted.Updated = s.bk.Clock().Now().UTC()
		value, err := services.MarshalDocument(&promoted)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		condacts = append(condacts, backend.ConditionalAction{
			Key:       documentKey(child.ID),
			Condition: backend.Revision(child.Revision),
			Action:    backend.Put(backend.Item{Value: value}),
		})
	}
	return condacts, nil
}

// DeleteAllDocumentsForOwner removes every document of the owner together
// with its grants. Children owned by someone else are promoted to top
// level; children of the same owner go down with the rest. This is the full
// cascade run when the owning account is deleted, intentionally harsher
// than single-document delete.
func (s *DocumentService) DeleteAllDocumentsForOwner(ctx context.Context, owner string) error {
	if owner == "" {
		return trace.BadParameter("missing owner")
	}
	docs, err := s.ListDocuments(ctx, owner)
	if err != nil {
		return trace.Wrap(err)
	}
	doomed := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		doomed[doc.ID] = struct{}{}
	}
	for _, doc := range docs {
		children, err := s.GetChildren(ctx, doc.ID)
		if err != nil {
			return trace.Wrap(err)
		}
		var foreign []types.Document
		for _, child := range children {
			if _, gone := doomed[child.ID]; !gone {
				foreign = append(foreign, child)
			}
		}
		promotions, err := s.promotionActions(foreign)
		if err != nil {
			return trace.Wrap(err)
		}
		for _, ca := range promotions {
			if _, err := s.bk.AtomicWrite(ctx, []backend.ConditionalAction{ca}); err != nil && !errors.Is(err, backend.ErrConditionFailed) {
				return trace.Wrap(err)
			}
		}
		start := backend.ExactKey(grantsPrefix, doc.ID)
		if err := s.bk.DeleteRange(ctx, start, backend.RangeEnd(start)); err != nil {
			return trace.Wrap(err)
		}
		if err := s.bk.Delete(ctx, documentKey(doc.ID)); err != nil && !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
	}
	return nil
}

// ListDocuments returns all documents of an owner, ordered by ID.
func (s *DocumentService) ListDocuments(ctx context.Context, owner string) ([]types.Document, error) {
	if owner == "" {
		return nil, trace.BadParameter("missing owner")
	}
	all, err := s.getAllDocuments(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []types.Document
	for _, doc := range all {
		if doc.Owner == owner {
			out = append(out, doc)
		}
	}
	return out, nil
}

// GetChildren returns the direct children of a document, ordered by ID.
func (s *DocumentService) GetChildren(ctx context.Context, parentID string) ([]types.Document, error) {
	if parentID == "" {
		return nil, trace.BadParameter("missing parent ID")
	}
	all, err := s.getAllDocuments(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []types.Document
	for _, doc := range all {
		if doc.ParentID == parentID {
			out = append(out, doc)
		}
	}
	return out, nil
}

// GetAncestors returns the parent chain of a document, closest parent
// first. A missing ancestor terminates the chain.
func (s *DocumentService) GetAncestors(ctx context.Context, id string) ([]types.Document, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	chain, err := s.ancestorChain(ctx, doc)
	return chain, trace.Wrap(err)
}

// ancestorChain walks parent pointers from the document's parent to the
// root. The walk is iterative and terminates on the root, a missing link,
// or a repeated node.
func (s *DocumentService) ancestorChain(ctx context.Context, doc *types.Document) ([]types.Document, error) {
	var chain []types.Document
	visited := map[string]struct{}{doc.ID: {}}
	cur := doc
	for cur.ParentID != "" {
		if _, seen := visited[cur.ParentID]; seen {
			break
		}
		parent, err := s.GetDocument(ctx, cur.ParentID)
		if err != nil {
			if trace.IsNotFound(err) {
				break
			}
			return nil, trace.Wrap(err)
		}
		visited[parent.ID] = struct{}{}
		chain = append(chain, *parent)
		cur = parent
	}
	return chain, nil
}

func (s *DocumentService) getAllDocuments(ctx context.Context) ([]types.Document, error) {
	start := backend.ExactKey(documentsPrefix)
	result, err := s.bk.GetRange(ctx, start, backend.RangeEnd(start), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]types.Document, 0, len(result.Items))
	for _, item := range result.Items {
		doc, err := services.UnmarshalDocument(item.Value, services.WithRevision(item.Revision))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *doc)
	}
	return out, nil
}
