package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/apperrors"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

func TestToggleReactionOnDirectMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Send(ctx, "A", models.Direct("B"), text("lol"))
	require.NoError(t, err)

	added, err := f.svc.ToggleReaction(ctx, m.ID, "B", "😂")
	require.NoError(t, err)
	assert.True(t, added)

	counts, err := f.svc.ListReactions(ctx, m.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, []models.ReactionCount{{Emoji: "😂", Count: 1}}, counts)

	added, err = f.svc.ToggleReaction(ctx, m.ID, "B", "😂")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = f.svc.ToggleReaction(ctx, m.ID, "C", "😂")
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound, "outsiders cannot see the message")

	_, err = f.svc.ToggleReaction(ctx, m.ID, "B", "  ")
	assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))

	_, err = f.svc.ToggleReaction(ctx, "missing", "B", "😂")
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
}

func TestGroupReactionsFollowChatFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B")

	m, err := f.svc.Send(ctx, "A", models.Group(g.ID), text("vote"))
	require.NoError(t, err)

	added, err := f.svc.ToggleReaction(ctx, m.ID, "B", "👍")
	require.NoError(t, err)
	assert.True(t, added)

	off := false
	_, err = f.svc.UpdateGroup(ctx, g.ID, "A", models.GroupAttrs{AllowReactions: &off})
	require.NoError(t, err)

	_, err = f.svc.ToggleReaction(ctx, m.ID, "B", "👎")
	assert.ErrorIs(t, err, apperrors.ErrCapabilityOff)

	counts, err := f.svc.ListReactions(ctx, m.ID, "B")
	require.NoError(t, err)
	assert.Len(t, counts, 1, "existing reactions stay readable")

	_, err = f.svc.ListReactions(ctx, m.ID, "Z")
	assert.ErrorIs(t, err, apperrors.ErrNotMember)
}

func TestMarkGroupSeenClearsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B")

	_, err := f.svc.Send(ctx, "A", models.Group(g.ID), text("one"))
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, "A", models.Group(g.ID), text("two"))
	require.NoError(t, err)

	convs, err := f.svc.ListGroupConversations(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 2, convs[0].Unread)

	f.clock.Advance(time.Second)
	require.NoError(t, f.svc.MarkGroupSeen(ctx, g.ID, "B"))
	convs, err = f.svc.ListGroupConversations(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 0, convs[0].Unread)

	assert.ErrorIs(t, f.svc.MarkGroupSeen(ctx, g.ID, "Z"), apperrors.ErrNotMember)
}

func TestChatKeyAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.group(t, "A", "B", "C")
	require.NoError(t, f.svc.MuteMember(ctx, g.ID, "A", "C"))

	dm := models.DirectChatKey("A", "B")
	assert.NoError(t, f.svc.CanTypeInChat(ctx, dm, "B"))
	assert.ErrorIs(t, f.svc.CanWatchChat(ctx, dm, "C"), apperrors.ErrNotMember)

	assert.NoError(t, f.svc.CanTypeInChat(ctx, g.ID, "B"))
	assert.NoError(t, f.svc.CanWatchChat(ctx, g.ID, "C"), "muted members still watch")
	assert.ErrorIs(t, f.svc.CanTypeInChat(ctx, g.ID, "C"), apperrors.ErrNotMember)
	assert.ErrorIs(t, f.svc.CanWatchChat(ctx, g.ID, "Z"), apperrors.ErrNotMember)
	assert.ErrorIs(t, f.svc.CanWatchChat(ctx, "nope", "A"), apperrors.ErrChatNotFound)
}

func TestChatKeyWithColonInUserID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dm := models.DirectChatKey("x:y", "z")
	assert.NoError(t, f.svc.CanWatchChat(ctx, dm, "x:y"))
	assert.NoError(t, f.svc.CanWatchChat(ctx, dm, "z"))
	assert.ErrorIs(t, f.svc.CanWatchChat(ctx, dm, "x"), apperrors.ErrNotMember)
}

func TestDirectThreadRejectsSelf(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetDirectThread(context.Background(), "A", "A")
	assert.ErrorIs(t, err, apperrors.ErrSelfDestination)
}
