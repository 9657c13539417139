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

package sharing_test

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/workspace/api/types"
	"github.com/gravitational/workspace/lib/backend/memory"
	"github.com/gravitational/workspace/lib/services"
	"github.com/gravitational/workspace/lib/services/local"
	"github.com/gravitational/workspace/lib/sharing"
)

type fixture struct {
	clock   *clockwork.FakeClock
	docs    *local.DocumentService
	perms   *local.PermissionService
	invs    *local.InvitationService
	users   *local.IdentityService
	service *sharing.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	bk, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bk.Close()) })

	f := &fixture{
		clock: clock,
		docs:  local.NewDocumentService(bk),
		perms: local.NewPermissionService(bk),
		invs:  local.NewInvitationService(bk),
		users: local.NewIdentityService(bk),
	}
	f.service, err = sharing.New(sharing.Config{
		Documents:   f.docs,
		Permissions: f.perms,
		Invitations: f.invs,
		Identity:    f.users,
		Clock:       clock,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) addUser(t *testing.T, id, email string) *types.User {
	t.Helper()
	user, err := f.users.UpsertUser(context.Background(), &types.User{ID: id, Email: email})
	require.NoError(t, err)
	return user
}

func (f *fixture) createDocument(t *testing.T, owner, title, parentID string) *types.Document {
	t.Helper()
	doc, err := f.docs.CreateDocument(context.Background(), &types.Document{
		Owner:    owner,
		Title:    title,
		ParentID: parentID,
	})
	require.NoError(t, err)
	return doc
}

func TestShareWithRegisteredUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	f.addUser(t, "bob", "bob@example.com")
	doc := f.createDocument(t, "alice", "notes", "")

	result, err := f.service.Share(ctx, doc.ID, "Bob@Example.com", types.AccessLevelViewer, "alice")
	require.NoError(t, err)
	require.Nil(t, result.Invitation)
	require.NotNil(t, result.Grant)
	require.Equal(t, "bob", result.Grant.User)
	require.Equal(t, types.AccessLevelViewer, result.Grant.Level)

	level, err := f.service.CheckAccess(ctx, doc.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelViewer, level)

	// Re-sharing at a stronger level updates the grant in place.
	result, err = f.service.Share(ctx, doc.ID, "bob@example.com", types.AccessLevelEditor, "alice")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelEditor, result.Grant.Level)

	level, err = f.service.CheckAccess(ctx, doc.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelEditor, level)
}

func TestShareAuthorization(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	f.addUser(t, "bob", "bob@example.com")
	f.addUser(t, "carol", "carol@example.com")
	doc := f.createDocument(t, "alice", "notes", "")

	// A stranger cannot share.
	_, err := f.service.Share(ctx, doc.ID, "carol@example.com", types.AccessLevelViewer, "bob")
	require.True(t, trace.IsAccessDenied(err))

	// Neither can a viewer or a commenter.
	_, err = f.service.Share(ctx, doc.ID, "bob@example.com", types.AccessLevelCommenter, "alice")
	require.NoError(t, err)
	_, err = f.service.Share(ctx, doc.ID, "carol@example.com", types.AccessLevelViewer, "bob")
	require.True(t, trace.IsAccessDenied(err))

	// An editor can.
	_, err = f.service.Share(ctx, doc.ID, "bob@example.com", types.AccessLevelEditor, "alice")
	require.NoError(t, err)
	_, err = f.service.Share(ctx, doc.ID, "carol@example.com", types.AccessLevelViewer, "bob")
	require.NoError(t, err)

	// Self-share is rejected.
	_, err = f.service.Share(ctx, doc.ID, "alice@example.com", types.AccessLevelViewer, "alice")
	require.True(t, trace.IsBadParameter(err))

	// "none" is not a grantable level.
	_, err = f.service.Share(ctx, doc.ID, "carol@example.com", types.AccessLevelNone, "alice")
	require.True(t, trace.IsBadParameter(err))
}

func TestShareUnknownEmailCreatesInvitation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	doc := f.createDocument(t, "alice", "notes", "")

	result, err := f.service.Share(ctx, doc.ID, "newcomer@example.com", types.AccessLevelCommenter, "alice")
	require.NoError(t, err)
	require.Nil(t, result.Grant)
	require.NotNil(t, result.Invitation)
	require.NotEmpty(t, result.Invitation.Token)
	require.Equal(t, "newcomer@example.com", result.Invitation.Email)
	require.Equal(t, f.clock.Now().UTC().Add(24*time.Hour), result.Invitation.Expires)
}

func TestAcceptInvitation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	doc := f.createDocument(t, "alice", "notes", "")

	result, err := f.service.Share(ctx, doc.ID, "newcomer@example.com", types.AccessLevelCommenter, "alice")
	require.NoError(t, err)
	token := result.Invitation.Token

	// The accepting user must exist.
	_, err = f.service.AcceptInvitation(ctx, token, "ghost")
	require.True(t, trace.IsNotFound(err))

	f.addUser(t, "newcomer", "newcomer@example.com")
	grant, err := f.service.AcceptInvitation(ctx, token, "newcomer")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelCommenter, grant.Level)

	level, err := f.service.CheckAccess(ctx, doc.ID, "newcomer")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelCommenter, level)

	// Re-accepting by the same user returns the existing grant.
	again, err := f.service.AcceptInvitation(ctx, token, "newcomer")
	require.NoError(t, err)
	require.Equal(t, grant.DocumentID, again.DocumentID)
	require.Equal(t, grant.User, again.User)

	// Anyone else gets a hard error.
	f.addUser(t, "other", "other@example.com")
	_, err = f.service.AcceptInvitation(ctx, token, "other")
	require.True(t, trace.IsBadParameter(err))

	// Unknown tokens are indistinguishable from expired ones.
	_, err = f.service.AcceptInvitation(ctx, "bogus", "newcomer")
	require.True(t, trace.IsBadParameter(err))
}

func TestAcceptExpiredInvitation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	doc := f.createDocument(t, "alice", "notes", "")

	result, err := f.service.Share(ctx, doc.ID, "late@example.com", types.AccessLevelViewer, "alice")
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	f.addUser(t, "late", "late@example.com")

	_, err = f.service.AcceptInvitation(ctx, result.Invitation.Token, "late")
	require.True(t, trace.IsBadParameter(err))

	level, err := f.service.CheckAccess(ctx, doc.ID, "late")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelNone, level)
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	f.addUser(t, "bob", "bob@example.com")
	doc := f.createDocument(t, "alice", "notes", "")

	_, err := f.service.Share(ctx, doc.ID, "bob@example.com", types.AccessLevelEditor, "alice")
	require.NoError(t, err)

	require.NoError(t, f.service.Revoke(ctx, doc.ID, "bob", "alice"))

	level, err := f.service.CheckAccess(ctx, doc.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelNone, level)

	// Revoking an absent grant succeeds.
	require.NoError(t, f.service.Revoke(ctx, doc.ID, "bob", "alice"))

	// Non-editors cannot revoke.
	err = f.service.Revoke(ctx, doc.ID, "alice", "bob")
	require.True(t, trace.IsAccessDenied(err))
}

func TestListCollaborators(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	f.addUser(t, "bob", "bob@example.com")
	f.addUser(t, "carol", "carol@example.com")
	doc := f.createDocument(t, "alice", "notes", "")

	_, err := f.service.Share(ctx, doc.ID, "bob@example.com", types.AccessLevelViewer, "alice")
	require.NoError(t, err)
	_, err = f.service.Share(ctx, doc.ID, "carol@example.com", types.AccessLevelCommenter, "alice")
	require.NoError(t, err)

	// Any collaborator may list, strangers may not.
	_, err = f.service.ListCollaborators(ctx, doc.ID, "stranger")
	require.True(t, trace.IsAccessDenied(err))

	collabs, err := f.service.ListCollaborators(ctx, doc.ID, "bob")
	require.NoError(t, err)
	require.Len(t, collabs, 3)
	require.True(t, collabs[0].IsOwner)
	require.Equal(t, "alice", collabs[0].User)
	require.Equal(t, types.AccessLevelEditor, collabs[0].Level)

	byUser := map[string]types.AccessLevel{}
	for _, c := range collabs[1:] {
		byUser[c.User] = c.Level
	}
	require.Equal(t, map[string]types.AccessLevel{
		"bob":   types.AccessLevelViewer,
		"carol": types.AccessLevelCommenter,
	}, byUser)
}

func TestInheritedAccessAfterMove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	f.addUser(t, "bob", "bob@example.com")

	a := f.createDocument(t, "alice", "a", "")
	b := f.createDocument(t, "alice", "b", "")
	c := f.createDocument(t, "alice", "c", b.ID)

	_, err := f.service.Share(ctx, a.ID, "bob@example.com", types.AccessLevelViewer, "alice")
	require.NoError(t, err)
	_, err = f.service.Share(ctx, b.ID, "bob@example.com", types.AccessLevelEditor, "alice")
	require.NoError(t, err)

	level, err := f.service.CheckAccess(ctx, c.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelEditor, level)

	// Moving c under a downgrades bob on the next check.
	_, err = f.service.Move(ctx, c.ID, a.ID, "alice")
	require.NoError(t, err)

	level, err = f.service.CheckAccess(ctx, c.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelViewer, level)
}

func TestMoveAuthorization(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	f.addUser(t, "bob", "bob@example.com")

	src := f.createDocument(t, "alice", "src", "")
	dst := f.createDocument(t, "alice", "dst", "")

	// Editor on the document alone is not enough: the destination needs
	// editor access too.
	_, err := f.service.Share(ctx, src.ID, "bob@example.com", types.AccessLevelEditor, "alice")
	require.NoError(t, err)
	_, err = f.service.Move(ctx, src.ID, dst.ID, "bob")
	require.True(t, trace.IsAccessDenied(err))

	_, err = f.service.Share(ctx, dst.ID, "bob@example.com", types.AccessLevelEditor, "alice")
	require.NoError(t, err)
	moved, err := f.service.Move(ctx, src.ID, dst.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, dst.ID, moved.ParentID)

	// Detaching to top level needs access to the document only.
	moved, err = f.service.Move(ctx, src.ID, "", "bob")
	require.NoError(t, err)
	require.True(t, moved.IsRoot())

	// Cycles surface as bad requests through the orchestrator as well.
	child := f.createDocument(t, "alice", "child", src.ID)
	_, err = f.service.Move(ctx, src.ID, child.ID, "alice")
	require.True(t, trace.IsBadParameter(err))
}

func TestDeleteAuthorizationAndCascade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	f.addUser(t, "bob", "bob@example.com")

	parent := f.createDocument(t, "alice", "parent", "")
	child := f.createDocument(t, "alice", "child", parent.ID)

	_, err := f.service.Share(ctx, parent.ID, "bob@example.com", types.AccessLevelCommenter, "alice")
	require.NoError(t, err)

	require.True(t, trace.IsAccessDenied(f.service.Delete(ctx, parent.ID, "bob")))
	require.NoError(t, f.service.Delete(ctx, parent.ID, "alice"))

	// Bob's inherited access died with the parent.
	level, err := f.service.CheckAccess(ctx, child.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelNone, level)

	promoted, err := f.docs.GetDocument(ctx, child.ID)
	require.NoError(t, err)
	require.True(t, promoted.IsRoot())
}

// losingInvitations makes the first consume lose to a concurrent accept by
// winner: the winner's accept is committed through the wrapped store and
// the caller sees the compare-failed conflict the loser of such a race
// gets.
type losingInvitations struct {
	services.Invitations
	winner string
	raced  bool
}

func (r *losingInvitations) ConsumeInvitation(ctx context.Context, inv *types.Invitation, grant *types.PermissionGrant) error {
	if r.raced {
		return r.Invitations.ConsumeInvitation(ctx, inv, grant)
	}
	r.raced = true
	won := *inv
	won.AcceptedBy = r.winner
	wonGrant := *grant
	wonGrant.User = r.winner
	if err := r.Invitations.ConsumeInvitation(ctx, &won, &wonGrant); err != nil {
		return trace.Wrap(err)
	}
	return trace.CompareFailed("invitation %q was concurrently consumed", inv.ID)
}

func newLosingFixture(t *testing.T, winner string) *fixture {
	t.Helper()
	f := newFixture(t)
	svc, err := sharing.New(sharing.Config{
		Documents:   f.docs,
		Permissions: f.perms,
		Invitations: &losingInvitations{Invitations: f.invs, winner: winner},
		Identity:    f.users,
		Clock:       f.clock,
	})
	require.NoError(t, err)
	f.service = svc
	return f
}

func TestAcceptInvitationLostToOtherUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newLosingFixture(t, "carol")
	f.addUser(t, "alice", "alice@example.com")
	f.addUser(t, "bob", "bob@example.com")
	f.addUser(t, "carol", "carol@example.com")
	doc := f.createDocument(t, "alice", "notes", "")

	result, err := f.service.Share(ctx, doc.ID, "invitee@example.com", types.AccessLevelCommenter, "alice")
	require.NoError(t, err)

	// Bob loses the race to carol and must not end up with a grant.
	_, err = f.service.AcceptInvitation(ctx, result.Invitation.Token, "bob")
	require.True(t, trace.IsBadParameter(err))

	_, err = f.perms.GetGrant(ctx, doc.ID, "bob")
	require.True(t, trace.IsNotFound(err))
	grant, err := f.perms.GetGrant(ctx, doc.ID, "carol")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelCommenter, grant.Level)
}

func TestAcceptInvitationLostToSelf(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newLosingFixture(t, "bob")
	f.addUser(t, "alice", "alice@example.com")
	f.addUser(t, "bob", "bob@example.com")
	doc := f.createDocument(t, "alice", "notes", "")

	result, err := f.service.Share(ctx, doc.ID, "invitee@example.com", types.AccessLevelViewer, "alice")
	require.NoError(t, err)

	// A double submit that loses to its own first accept still returns
	// the grant.
	grant, err := f.service.AcceptInvitation(ctx, result.Invitation.Token, "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", grant.User)
	require.Equal(t, types.AccessLevelViewer, grant.Level)
}

func TestMutationsInvalidateResolverCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	bk, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bk.Close()) })

	docs := local.NewDocumentService(bk)
	perms := local.NewPermissionService(bk)
	resolver, err := services.NewAccessResolver(services.AccessResolverConfig{
		Documents:   docs,
		Permissions: perms,
		CacheTTL:    time.Minute,
	})
	require.NoError(t, err)
	svc, err := sharing.New(sharing.Config{
		Documents:   docs,
		Permissions: perms,
		Invitations: local.NewInvitationService(bk),
		Identity:    local.NewIdentityService(bk),
		Resolver:    resolver,
		Clock:       clock,
	})
	require.NoError(t, err)

	users := local.NewIdentityService(bk)
	_, err = users.UpsertUser(ctx, &types.User{ID: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = users.UpsertUser(ctx, &types.User{ID: "bob", Email: "bob@example.com"})
	require.NoError(t, err)
	doc, err := docs.CreateDocument(ctx, &types.Document{Owner: "alice", Title: "notes"})
	require.NoError(t, err)

	// Prime the cache, then make sure each mutation invalidates it.
	_, err = svc.Share(ctx, doc.ID, "bob@example.com", types.AccessLevelViewer, "alice")
	require.NoError(t, err)
	level, err := svc.CheckAccess(ctx, doc.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelViewer, level)

	_, err = svc.Share(ctx, doc.ID, "bob@example.com", types.AccessLevelEditor, "alice")
	require.NoError(t, err)
	level, err = svc.CheckAccess(ctx, doc.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelEditor, level)

	require.NoError(t, svc.Revoke(ctx, doc.ID, "bob", "alice"))
	level, err = svc.CheckAccess(ctx, doc.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelNone, level)

	// Structural mutations flush across users.
	root2, err := docs.CreateDocument(ctx, &types.Document{Owner: "alice", Title: "other"})
	require.NoError(t, err)
	_, err = svc.Share(ctx, root2.ID, "bob@example.com", types.AccessLevelEditor, "alice")
	require.NoError(t, err)
	level, err = svc.CheckAccess(ctx, doc.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelNone, level)

	_, err = svc.Move(ctx, doc.ID, root2.ID, "alice")
	require.NoError(t, err)
	level, err = svc.CheckAccess(ctx, doc.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, types.AccessLevelEditor, level)
}

func TestInvitationJanitor(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t)
	f.addUser(t, "alice", "alice@example.com")
	doc := f.createDocument(t, "alice", "notes", "")

	result, err := f.service.Share(ctx, doc.ID, "slow@example.com", types.AccessLevelViewer, "alice")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- f.service.RunInvitationJanitor(ctx)
	}()

	// Let the janitor park on its ticker, then advance past both the
	// invitation expiry and the next sweep.
	f.clock.BlockUntilContext(ctx, 1)
	f.clock.Advance(26 * time.Hour)

	require.Eventually(t, func() bool {
		_, err := f.invs.GetInvitation(context.Background(), result.Invitation.ID)
		return trace.IsNotFound(err)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
