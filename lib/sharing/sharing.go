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

// Package sharing implements the public-facing sharing workflow: every
// operation authorizes the acting user through the permission resolver
// before touching state.
package sharing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/workspace"
	"github.com/gravitational/workspace/api/types"
	"github.com/gravitational/workspace/lib/services"
	"github.com/gravitational/workspace/lib/utils"
)

const (
	// defaultInvitationTTL is how long a sharing invitation stays
	// acceptable. Short-lived on purpose: a token in a mailbox is a
	// credential.
	defaultInvitationTTL = 24 * time.Hour

	// defaultJanitorInterval is how often expired invitations are
	// collected.
	defaultJanitorInterval = time.Hour

	// tokenLengthBytes is the entropy of an invitation token. 32 bytes
	// makes brute-forcing a token within its expiry window infeasible.
	tokenLengthBytes = 32
)

// Config holds sharing service parameters.
type Config struct {
	// Documents is the document hierarchy store.
	Documents services.Documents
	// Permissions is the explicit grant store.
	Permissions services.Permissions
	// Invitations is the invitation store.
	Invitations services.Invitations
	// Identity resolves users by ID and email.
	Identity services.Identity
	// Resolver computes effective permissions. Built from Documents and
	// Permissions when not set.
	Resolver *services.AccessResolver
	// Clock is the time source. Defaults to the real clock.
	Clock clockwork.Clock
	// Logger emits service diagnostics.
	Logger *slog.Logger
	// InvitationTTL is the validity window of new invitations.
	InvitationTTL time.Duration
	// JanitorInterval is the pause between expired-invitation sweeps.
	JanitorInterval time.Duration
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Documents == nil {
		return trace.BadParameter("missing parameter Documents")
	}
	if c.Permissions == nil {
		return trace.BadParameter("missing parameter Permissions")
	}
	if c.Invitations == nil {
		return trace.BadParameter("missing parameter Invitations")
	}
	if c.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if c.Resolver == nil {
		resolver, err := services.NewAccessResolver(services.AccessResolverConfig{
			Documents:   c.Documents,
			Permissions: c.Permissions,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		c.Resolver = resolver
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(workspace.ComponentKey, workspace.ComponentSharing)
	}
	if c.InvitationTTL <= 0 {
		c.InvitationTTL = defaultInvitationTTL
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = defaultJanitorInterval
	}
	return nil
}

// Service is the sharing orchestrator.
type Service struct {
	cfg Config
}

// New returns a new sharing service.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// Resolver returns the permission resolver the service authorizes with.
func (s *Service) Resolver() *services.AccessResolver {
	return s.cfg.Resolver
}

// ShareResult is the outcome of a Share call: a direct grant when the
// email belongs to a registered user, an invitation otherwise.
type ShareResult struct {
	// Grant is the created or updated grant, nil when an invitation was
	// issued instead.
	Grant *types.PermissionGrant
	// Invitation is the pending invitation, nil when a grant was issued.
	Invitation *types.Invitation
}

// Share grants access on the document to the user behind granteeEmail, or
// issues a single-use invitation when the email is not registered. The
// acting user must be allowed to share the document.
func (s *Service) Share(ctx context.Context, documentID, granteeEmail string, level types.AccessLevel, actingUser string) (*ShareResult, error) {
	if !level.IsGrantable() {
		return nil, trace.BadParameter("access level %q cannot be granted", level)
	}
	granteeEmail = strings.ToLower(strings.TrimSpace(granteeEmail))
	if granteeEmail == "" {
		return nil, trace.BadParameter("missing grantee email")
	}
	if err := s.authorize(ctx, documentID, actingUser, types.AccessLevelEditor); err != nil {
		return nil, trace.Wrap(err)
	}

	grantee, err := s.cfg.Identity.GetUserByEmail(ctx, granteeEmail)
	switch {
	case err == nil:
		if grantee.ID == actingUser {
			return nil, trace.BadParameter("cannot share a document with yourself")
		}
		grant, err := s.cfg.Permissions.UpsertGrant(ctx, &types.PermissionGrant{
			DocumentID: documentID,
			User:       grantee.ID,
			Level:      level,
			GrantedBy:  actingUser,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		s.cfg.Resolver.InvalidateUser(grantee.ID)
		s.cfg.Logger.InfoContext(ctx, "shared document",
			"document", documentID, "grantee", grantee.ID, "level", level.String(), "granted_by", actingUser)
		return &ShareResult{Grant: grant}, nil

	case trace.IsNotFound(err):
		token, err := utils.CryptoRandomHex(tokenLengthBytes)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		inv, err := s.cfg.Invitations.CreateInvitation(ctx, &types.Invitation{
			DocumentID: documentID,
			Email:      granteeEmail,
			Level:      level,
			InvitedBy:  actingUser,
			Token:      token,
			Expires:    s.cfg.Clock.Now().UTC().Add(s.cfg.InvitationTTL),
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		s.cfg.Logger.InfoContext(ctx, "invited email to document",
			"document", documentID, "invitation", inv.ID, "level", level.String(), "invited_by", actingUser)
		return &ShareResult{Invitation: inv}, nil

	default:
		return nil, trace.Wrap(err)
	}
}

// Revoke removes the explicit grant of granteeUser on the document.
// Revoking a grant that does not exist is a no-op success.
func (s *Service) Revoke(ctx context.Context, documentID, granteeUser, actingUser string) error {
	if granteeUser == "" {
		return trace.BadParameter("missing grantee user")
	}
	if err := s.authorize(ctx, documentID, actingUser, types.AccessLevelEditor); err != nil {
		return trace.Wrap(err)
	}
	if err := s.cfg.Permissions.DeleteGrant(ctx, documentID, granteeUser); err != nil {
		return trace.Wrap(err)
	}
	s.cfg.Resolver.InvalidateUser(granteeUser)
	s.cfg.Logger.InfoContext(ctx, "revoked grant",
		"document", documentID, "grantee", granteeUser, "revoked_by", actingUser)
	return nil
}

// AcceptInvitation consumes a single-use invitation token and creates the
// permission grant it carries. Re-accepting a token the same user already
// consumed returns the existing grant; anything else about a used, unknown
// or expired token is a bad request.
func (s *Service) AcceptInvitation(ctx context.Context, token, acceptingUser string) (*types.PermissionGrant, error) {
	if token == "" {
		return nil, trace.BadParameter("missing invitation token")
	}
	if _, err := s.cfg.Identity.GetUser(ctx, acceptingUser); err != nil {
		return nil, trace.Wrap(err)
	}

	inv, err := s.cfg.Invitations.GetInvitationByToken(ctx, token)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.BadParameter("invitation token is invalid or expired")
		}
		return nil, trace.Wrap(err)
	}
	if grant, err := s.checkConsumed(ctx, inv, acceptingUser); grant != nil || err != nil {
		return grant, trace.Wrap(err)
	}
	if inv.IsExpired(s.cfg.Clock.Now()) {
		return nil, trace.BadParameter("invitation token is invalid or expired")
	}

	accepted := *inv
	accepted.Accepted = s.cfg.Clock.Now().UTC()
	accepted.AcceptedBy = acceptingUser
	grant := &types.PermissionGrant{
		DocumentID: inv.DocumentID,
		User:       acceptingUser,
		Level:      inv.Level,
		GrantedBy:  inv.InvitedBy,
		Created:    accepted.Accepted,
		Updated:    accepted.Accepted,
	}
	if err := s.cfg.Invitations.ConsumeInvitation(ctx, &accepted, grant); err != nil {
		if trace.IsCompareFailed(err) {
			// Lost the race against a concurrent accept; re-read to find
			// out who won.
			inv, rerr := s.cfg.Invitations.GetInvitationByToken(ctx, token)
			if rerr != nil {
				return nil, trace.BadParameter("invitation token is invalid or expired")
			}
			grant, rerr := s.checkConsumed(ctx, inv, acceptingUser)
			if grant != nil || rerr != nil {
				return grant, trace.Wrap(rerr)
			}
			return nil, trace.Wrap(err)
		}
		return nil, trace.Wrap(err)
	}
	s.cfg.Resolver.InvalidateUser(acceptingUser)
	s.cfg.Logger.InfoContext(ctx, "invitation accepted",
		"document", inv.DocumentID, "invitation", inv.ID, "accepted_by", acceptingUser)
	return grant, nil
}

// checkConsumed inspects an already-loaded invitation: (nil, nil) when it
// is still pending, the existing grant when the same user consumed it
// before, an error when someone else did.
func (s *Service) checkConsumed(ctx context.Context, inv *types.Invitation, acceptingUser string) (*types.PermissionGrant, error) {
	if !inv.IsAccepted() {
		return nil, nil
	}
	if inv.AcceptedBy != acceptingUser {
		return nil, trace.BadParameter("invitation has already been accepted")
	}
	grant, err := s.cfg.Permissions.GetGrant(ctx, inv.DocumentID, acceptingUser)
	if err != nil {
		if trace.IsNotFound(err) {
			// Accepted but the grant was revoked since: nothing to return.
			return nil, trace.BadParameter("invitation has already been accepted")
		}
		return nil, trace.Wrap(err)
	}
	return grant, nil
}

// ListCollaborators returns the owner plus every user holding an explicit
// grant on the document itself. Inherited access from ancestors is not
// enumerated; it is visible through CheckAccess.
func (s *Service) ListCollaborators(ctx context.Context, documentID, requestingUser string) ([]types.Collaborator, error) {
	if err := s.authorize(ctx, documentID, requestingUser, types.AccessLevelViewer); err != nil {
		return nil, trace.Wrap(err)
	}
	doc, err := s.cfg.Documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	grants, err := s.cfg.Permissions.ListGrants(ctx, documentID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	out := []types.Collaborator{{
		User:    doc.Owner,
		Level:   types.AccessLevelEditor,
		IsOwner: true,
	}}
	for _, grant := range grants {
		if grant.User == doc.Owner {
			continue
		}
		out = append(out, types.Collaborator{
			User:      grant.User,
			Level:     grant.Level,
			GrantedBy: grant.GrantedBy,
			GrantedAt: grant.Created,
		})
	}
	return out, nil
}

// CheckAccess returns the effective access level of the user on the
// document, AccessLevelNone when there is none.
func (s *Service) CheckAccess(ctx context.Context, documentID, userID string) (types.AccessLevel, error) {
	level, err := s.cfg.Resolver.EffectivePermission(ctx, documentID, userID)
	return level, trace.Wrap(err)
}

// BatchCheckAccess returns the effective access level of one user on a set
// of documents.
func (s *Service) BatchCheckAccess(ctx context.Context, documentIDs []string, userID string) (map[string]types.AccessLevel, error) {
	levels, err := s.cfg.Resolver.BatchEffectivePermission(ctx, documentIDs, userID)
	return levels, trace.Wrap(err)
}

// authorize fails unless the acting user holds the required effective level
// on the document. Lacking access is always reported as access denied,
// never disguised as not-found; actual not-found surfaces as such.
func (s *Service) authorize(ctx context.Context, documentID, actingUser string, required types.AccessLevel) error {
	if actingUser == "" {
		return trace.BadParameter("missing acting user")
	}
	level, err := s.cfg.Resolver.EffectivePermission(ctx, documentID, actingUser)
	if err != nil {
		return trace.Wrap(err)
	}
	if !level.AtLeast(required) {
		return trace.AccessDenied("user %q requires %q access to document %q", actingUser, required, documentID)
	}
	return nil
}
