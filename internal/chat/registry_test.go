package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/apperrors"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

func TestCreateGroupDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	name := "  Chem 101  "
	off := false
	g, err := f.svc.CreateGroup(ctx, "A", models.GroupAttrs{Name: &name, AllowVideo: &off})
	require.NoError(t, err)
	assert.Equal(t, "Chem 101", *g.Name)
	assert.True(t, g.AllowMedia)
	assert.False(t, g.AllowVideo)

	m, err := f.svc.GetMember(ctx, g.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, models.RoleCreator, m.Role)

	ok, err := f.svc.IsPrivileged(ctx, g.ID, "A")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.IsPrivileged(ctx, g.ID, "Z")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddMembersDedupesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A")

	results, err := f.svc.AddMembers(ctx, g.ID, "A", []string{"B", " B ", "", "C"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	events := f.rec.ofType(EventMembership)
	require.Len(t, events, 2)
	change := events[0].event.Data.(MembershipChange)
	assert.Equal(t, "B", change.UserID)
	assert.Equal(t, models.StatusActive, change.Status)
	assert.Equal(t, []string{"A", "B", "C"}, events[0].userIDs)

	_, err = f.svc.AddMembers(ctx, g.ID, "A", []string{" "})
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	_, err = f.svc.AddMembers(ctx, g.ID, "B", []string{"D"})
	assert.ErrorIs(t, err, apperrors.ErrNotPrivileged)
}

func TestReAddRemovedMemberConverges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B")

	require.NoError(t, f.svc.RemoveMember(ctx, g.ID, "A", "B"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddMembers(ctx, g.ID, "A", []string{"B"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	members, err := f.svc.ListMembers(ctx, g.ID, "A")
	require.NoError(t, err)
	count := 0
	for _, m := range members {
		if m.UserID == "B" {
			count++
			assert.Equal(t, models.StatusActive, m.Status)
		}
	}
	assert.Equal(t, 1, count)
}

func TestReAddReportsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B")
	require.NoError(t, f.svc.RemoveMember(ctx, g.ID, "A", "B"))

	results, err := f.svc.AddMembers(ctx, g.ID, "A", []string{"B"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.OutcomeReactivated, results[0].Outcome)
	assert.True(t, results[0].Conflict)
}

func TestRemoveMemberRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B", "C", "D")
	require.NoError(t, f.svc.SetRole(ctx, g.ID, "A", "B", models.RoleAdmin))
	require.NoError(t, f.svc.SetRole(ctx, g.ID, "A", "C", models.RoleAdmin))

	assert.ErrorIs(t, f.svc.RemoveMember(ctx, g.ID, "D", "B"), apperrors.ErrNotPrivileged)
	assert.ErrorIs(t, f.svc.RemoveMember(ctx, g.ID, "B", "A"), apperrors.ErrCreatorImmutable)
	assert.ErrorIs(t, f.svc.RemoveMember(ctx, g.ID, "B", "C"), apperrors.ErrAdminNeedsCreator)
	assert.ErrorIs(t, f.svc.RemoveMember(ctx, g.ID, "B", "Z"), apperrors.ErrMemberNotFound)
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(f.svc.RemoveMember(ctx, g.ID, "B", "B")))
	assert.ErrorIs(t, f.svc.RemoveMember(ctx, "nope", "A", "B"), apperrors.ErrChatNotFound)

	require.NoError(t, f.svc.RemoveMember(ctx, g.ID, "B", "D"))
	require.NoError(t, f.svc.RemoveMember(ctx, g.ID, "A", "C"))

	assert.ErrorIs(t, f.svc.RemoveMember(ctx, g.ID, "A", "D"), apperrors.ErrTerminalStatus)

	d, err := f.svc.GetMember(ctx, g.ID, "D")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRemoved, d.Status)
	assert.NotNil(t, d.DepartedAt)
}

func TestMutedAdminLosesPrivilege(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B", "C")
	require.NoError(t, f.svc.SetRole(ctx, g.ID, "A", "B", models.RoleAdmin))
	require.NoError(t, f.svc.MuteMember(ctx, g.ID, "A", "B"))

	_, err := f.svc.AddMembers(ctx, g.ID, "B", []string{"E"})
	assert.ErrorIs(t, err, apperrors.ErrNotPrivileged)
	assert.ErrorIs(t, f.svc.MuteMember(ctx, g.ID, "B", "C"), apperrors.ErrNotPrivileged)
}

func TestLeaveGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B")

	assert.ErrorIs(t, f.svc.LeaveGroup(ctx, g.ID, "A"), apperrors.ErrCreatorCannotLeave)
	assert.ErrorIs(t, f.svc.LeaveGroup(ctx, g.ID, "Z"), apperrors.ErrNotMember)

	require.NoError(t, f.svc.LeaveGroup(ctx, g.ID, "B"))
	assert.ErrorIs(t, f.svc.LeaveGroup(ctx, g.ID, "B"), apperrors.ErrTerminalStatus)

	convs, err := f.svc.ListGroupConversations(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, convs)

	events := f.rec.ofType(EventMembership)
	last := events[len(events)-1]
	assert.Equal(t, models.StatusLeft, last.event.Data.(MembershipChange).Status)
	assert.Contains(t, last.userIDs, "B", "the leaver hears about their own departure")
}

func TestMuteTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B")

	assert.ErrorIs(t, f.svc.UnmuteMember(ctx, g.ID, "A", "B"), apperrors.ErrBadTransition)
	require.NoError(t, f.svc.MuteMember(ctx, g.ID, "A", "B"))
	assert.ErrorIs(t, f.svc.MuteMember(ctx, g.ID, "A", "B"), apperrors.ErrBadTransition)
	assert.ErrorIs(t, f.svc.MuteMember(ctx, g.ID, "A", "A"), apperrors.ErrCreatorImmutable)

	// Muted members may still leave.
	require.NoError(t, f.svc.LeaveGroup(ctx, g.ID, "B"))
	assert.ErrorIs(t, f.svc.UnmuteMember(ctx, g.ID, "A", "B"), apperrors.ErrTerminalStatus)
}

func TestSetRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B", "C")

	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(f.svc.SetRole(ctx, g.ID, "A", "B", models.RoleCreator)))
	assert.ErrorIs(t, f.svc.SetRole(ctx, g.ID, "B", "C", models.RoleAdmin), apperrors.ErrNotCreator)
	assert.ErrorIs(t, f.svc.SetRole(ctx, g.ID, "A", "A", models.RoleMember), apperrors.ErrCreatorImmutable)

	require.NoError(t, f.svc.SetRole(ctx, g.ID, "A", "B", models.RoleAdmin))
	ok, err := f.svc.IsPrivileged(ctx, g.ID, "B")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.svc.SetRole(ctx, g.ID, "A", "B", models.RoleMember))
	ok, err = f.svc.IsPrivileged(ctx, g.ID, "B")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJoinRequestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B")

	m, err := f.svc.RequestJoin(ctx, g.ID, "P")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, m.Status)

	again, err := f.svc.RequestJoin(ctx, g.ID, "P")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status)

	_, err = f.svc.Send(ctx, "P", models.Group(g.ID), text("let me in"))
	assert.ErrorIs(t, err, apperrors.ErrNotActiveMember)
	_, err = f.svc.GetGroupThread(ctx, g.ID, "P")
	assert.ErrorIs(t, err, apperrors.ErrNotMember)

	visible, err := f.svc.ListMembers(ctx, g.ID, "B")
	require.NoError(t, err)
	assert.Len(t, visible, 2, "pending requests are hidden from plain members")
	all, err := f.svc.ListMembers(ctx, g.ID, "A")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.ErrorIs(t, f.svc.ApproveMember(ctx, g.ID, "B", "P"), apperrors.ErrNotPrivileged)
	require.NoError(t, f.svc.ApproveMember(ctx, g.ID, "A", "P"))
	assert.ErrorIs(t, f.svc.ApproveMember(ctx, g.ID, "A", "P"), apperrors.ErrBadTransition)

	_, err = f.svc.Send(ctx, "P", models.Group(g.ID), text("thanks"))
	assert.NoError(t, err)

	require.NoError(t, f.svc.LeaveGroup(ctx, g.ID, "P"))
	_, err = f.svc.RequestJoin(ctx, g.ID, "P")
	assert.ErrorIs(t, err, apperrors.ErrTerminalStatus)
}

func TestUpdateGroupWhitelist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B")

	off := false
	updated, err := f.svc.UpdateGroup(ctx, g.ID, "A", models.GroupAttrs{AllowReactions: &off})
	require.NoError(t, err)
	assert.False(t, updated.AllowReactions)
	assert.Equal(t, g.CreatorID, updated.CreatorID)

	_, err = f.svc.UpdateGroup(ctx, g.ID, "B", models.GroupAttrs{AllowReactions: &off})
	assert.ErrorIs(t, err, apperrors.ErrNotPrivileged)
}

func TestGroupThreadVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B")

	_, err := f.svc.Send(ctx, "A", models.Group(g.ID), text("before"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.RemoveMember(ctx, g.ID, "A", "B"))
	f.clock.Advance(time.Minute)
	_, err = f.svc.Send(ctx, "A", models.Group(g.ID), text("after"))
	require.NoError(t, err)

	full, err := f.svc.GetGroupThread(ctx, g.ID, "A")
	require.NoError(t, err)
	assert.Len(t, full, 2)

	capped, err := f.svc.GetGroupThread(ctx, g.ID, "B")
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, "before", *capped[0].Content)

	_, err = f.svc.GetGroupThread(ctx, g.ID, "Z")
	assert.ErrorIs(t, err, apperrors.ErrNotMember)
}
