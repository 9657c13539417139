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

package services

import (
	"context"
	"strings"
	"time"

	"github.com/gravitational/trace"
	gocache "github.com/patrickmn/go-cache"

	"github.com/gravitational/workspace/api/types"
)

// DocumentGetter reads single documents out of the hierarchy store.
type DocumentGetter interface {
	GetDocument(ctx context.Context, id string) (*types.Document, error)
}

// PermissionGetter reads single explicit grants out of the permission
// store.
type PermissionGetter interface {
	GetGrant(ctx context.Context, documentID, user string) (*types.PermissionGrant, error)
}

// AccessResolverConfig holds resolver parameters.
type AccessResolverConfig struct {
	// Documents reads documents.
	Documents DocumentGetter
	// Permissions reads explicit grants.
	Permissions PermissionGetter
	// CacheTTL enables a read cache of resolved levels when positive.
	// Whoever enables it owns invalidation: every path that mutates
	// grants or the hierarchy must invalidate the affected users or
	// flush, which the sharing orchestrator does.
	CacheTTL time.Duration
}

// CheckAndSetDefaults validates the config.
func (c *AccessResolverConfig) CheckAndSetDefaults() error {
	if c.Documents == nil {
		return trace.BadParameter("missing parameter Documents")
	}
	if c.Permissions == nil {
		return trace.BadParameter("missing parameter Permissions")
	}
	return nil
}

// AccessResolver computes the effective access level of a user on a
// document: the owner holds full access implicitly, everyone else gets the
// strongest explicit grant found on the document or any of its ancestors.
// The resolver has no state beyond an optional read cache and never writes.
type AccessResolver struct {
	cfg   AccessResolverConfig
	cache *gocache.Cache
}

// NewAccessResolver returns a new resolver.
func NewAccessResolver(cfg AccessResolverConfig) (*AccessResolver, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	r := &AccessResolver{cfg: cfg}
	if cfg.CacheTTL > 0 {
		r.cache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return r, nil
}

// EffectivePermission returns the effective access level of the user on the
// document, AccessLevelNone when there is none. It fails with a NotFound
// error only when the starting document does not exist; a missing ancestor
// terminates the walk instead, so resolution stays race-tolerant against
// concurrent deletes higher up the tree.
func (r *AccessResolver) EffectivePermission(ctx context.Context, documentID, userID string) (types.AccessLevel, error) {
	if documentID == "" {
		return types.AccessLevelNone, trace.BadParameter("missing document ID")
	}
	if userID == "" {
		return types.AccessLevelNone, trace.BadParameter("missing user ID")
	}

	if level, ok := r.cacheGet(documentID, userID); ok {
		return level, nil
	}

	doc, err := r.cfg.Documents.GetDocument(ctx, documentID)
	if err != nil {
		return types.AccessLevelNone, trace.Wrap(err)
	}

	level, err := r.resolve(ctx, doc, userID, nil)
	if err != nil {
		return types.AccessLevelNone, trace.Wrap(err)
	}
	r.cachePut(documentID, userID, level)
	return level, nil
}

// BatchEffectivePermission resolves the effective level of one user on a
// set of documents. Levels derived from grants are memoized per visited
// node, so documents sharing ancestors cost one walk, not one per document.
func (r *AccessResolver) BatchEffectivePermission(ctx context.Context, documentIDs []string, userID string) (map[string]types.AccessLevel, error) {
	if userID == "" {
		return nil, trace.BadParameter("missing user ID")
	}

	memo := make(map[string]types.AccessLevel)
	result := make(map[string]types.AccessLevel, len(documentIDs))
	for _, id := range documentIDs {
		if _, done := result[id]; done {
			continue
		}
		if level, ok := r.cacheGet(id, userID); ok {
			result[id] = level
			continue
		}
		doc, err := r.cfg.Documents.GetDocument(ctx, id)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		level, err := r.resolve(ctx, doc, userID, memo)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		result[id] = level
		r.cachePut(id, userID, level)
	}
	return result, nil
}

// CanView reports whether the user has any access to the document.
func (r *AccessResolver) CanView(ctx context.Context, documentID, userID string) (bool, error) {
	level, err := r.EffectivePermission(ctx, documentID, userID)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return level.AtLeast(types.AccessLevelViewer), nil
}

// CanComment reports whether the user may comment on the document.
func (r *AccessResolver) CanComment(ctx context.Context, documentID, userID string) (bool, error) {
	level, err := r.EffectivePermission(ctx, documentID, userID)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return level.AtLeast(types.AccessLevelCommenter), nil
}

// CanEdit reports whether the user may edit the document.
func (r *AccessResolver) CanEdit(ctx context.Context, documentID, userID string) (bool, error) {
	level, err := r.EffectivePermission(ctx, documentID, userID)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return level.AtLeast(types.AccessLevelEditor), nil
}

// CanShare reports whether the user may share the document: editors and the
// owner may, everyone else may not.
func (r *AccessResolver) CanShare(ctx context.Context, documentID, userID string) (bool, error) {
	return r.CanEdit(ctx, documentID, userID)
}

// Flush drops the entire read cache. Called by the orchestrator after
// structural mutations, whose inheritance effects cut across users.
func (r *AccessResolver) Flush() {
	if r.cache != nil {
		r.cache.Flush()
	}
}

// InvalidateUser drops every cached level of one user. Called by the
// orchestrator after grant mutations, where only the grantee is affected.
func (r *AccessResolver) InvalidateUser(userID string) {
	if r.cache == nil {
		return
	}
	prefix := userID + "/"
	for key := range r.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Delete(key)
		}
	}
}

// resolve computes the effective level for a loaded document. The memo, when
// non-nil, caches the grant-derived level from every visited node up to its
// root across calls within one batch. Owner access is resolved per document
// and never memoized: it depends on the document, not the chain.
func (r *AccessResolver) resolve(ctx context.Context, doc *types.Document, userID string, memo map[string]types.AccessLevel) (types.AccessLevel, error) {
	if doc.Owner == userID {
		return types.AccessLevelEditor, nil
	}

	// Collect the path from the document to the first memoized node, the
	// root, or a missing/repeated ancestor, whichever comes first.
	var path []string
	base := types.AccessLevelNone
	visited := make(map[string]struct{})
	cur := doc
	for {
		if memo != nil {
			if level, ok := memo[cur.ID]; ok {
				base = level
				break
			}
		}
		visited[cur.ID] = struct{}{}
		path = append(path, cur.ID)

		if cur.ParentID == "" {
			break
		}
		if _, seen := visited[cur.ParentID]; seen {
			// A repeated ancestor can only be observed on corrupted state;
			// treat it as a path terminator rather than walking forever.
			break
		}
		parent, err := r.cfg.Documents.GetDocument(ctx, cur.ParentID)
		if err != nil {
			if trace.IsNotFound(err) {
				// Ancestor deleted concurrently: the chain ends here.
				break
			}
			return types.AccessLevelNone, trace.Wrap(err)
		}
		cur = parent
	}

	// Walk the collected path top-down so each node's memoized level
	// includes everything above it.
	level := base
	for i := len(path) - 1; i >= 0; i-- {
		grant, err := r.cfg.Permissions.GetGrant(ctx, path[i], userID)
		switch {
		case err == nil:
			level = types.MaxAccessLevel(level, grant.Level)
		case !trace.IsNotFound(err):
			return types.AccessLevelNone, trace.Wrap(err)
		}
		if memo != nil {
			memo[path[i]] = level
		}
	}
	return level, nil
}

func (r *AccessResolver) cacheGet(documentID, userID string) (types.AccessLevel, bool) {
	if r.cache == nil {
		return types.AccessLevelNone, false
	}
	v, ok := r.cache.Get(userID + "/" + documentID)
	if !ok {
		return types.AccessLevelNone, false
	}
	return v.(types.AccessLevel), true
}

func (r *AccessResolver) cachePut(documentID, userID string, level types.AccessLevel) {
	if r.cache == nil {
		return
	}
	r.cache.SetDefault(userID+"/"+documentID, level)
}
