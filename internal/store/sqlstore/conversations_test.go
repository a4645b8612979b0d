package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/store"
)

func TestDirectConversationsOnePerPeer(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	require.NoError(t, testStore.InsertMessage(ctx, directMessage("alice", "bob", "a1", t0)))
	require.NoError(t, testStore.InsertMessage(ctx, directMessage("bob", "alice", "b1", t0.Add(time.Minute))))
	require.NoError(t, testStore.InsertMessage(ctx, directMessage("bob", "alice", "b2", t0.Add(2*time.Minute))))
	require.NoError(t, testStore.InsertMessage(ctx, directMessage("carol", "alice", "c1", t0.Add(3*time.Minute))))
	require.NoError(t, testStore.InsertMessage(ctx, directMessage("alice", "dave", "d1", t0.Add(30*time.Second))))

	convs, err := testStore.DirectConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 3)

	peers := map[string]bool{}
	for _, c := range convs {
		assert.False(t, peers[c.PeerID], "peer %s listed twice", c.PeerID)
		peers[c.PeerID] = true
	}

	assert.Equal(t, "carol", convs[0].PeerID)
	assert.Equal(t, "bob", convs[1].PeerID)
	assert.Equal(t, "b2", *convs[1].LastMessage.Content)
	assert.Equal(t, 2, convs[1].Unread)
	assert.True(t, convs[1].LastMessageAt.Equal(t0.Add(2*time.Minute)))
	assert.Equal(t, "dave", convs[2].PeerID)
	assert.Equal(t, 0, convs[2].Unread)

	_, err = testStore.MarkRead(ctx, "alice", "bob")
	require.NoError(t, err)
	convs, err = testStore.DirectConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, convs[1].Unread)

	none, err := testStore.DirectConversations(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestGroupConversations(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	quiet := createGroup(t, "alice")
	busy := createGroup(t, "alice")
	addMembers(t, busy.ID, "alice", "bob")
	require.NoError(t, testStore.InsertMessage(ctx, groupMessage("bob", busy.ID, "hey", t0.Add(time.Minute))))

	convs, err := testStore.GroupConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)

	assert.Equal(t, busy.ID, convs[0].ChatID)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "hey", *convs[0].LastMessage.Content)
	assert.Equal(t, models.RoleCreator, convs[0].Role)
	assert.Equal(t, 1, convs[0].Unread)

	assert.Equal(t, quiet.ID, convs[1].ChatID)
	assert.Nil(t, convs[1].LastMessage)
	assert.Nil(t, convs[1].LastMessageAt)

	require.NoError(t, testStore.MarkGroupSeen(ctx, busy.ID, "alice", t0.Add(time.Minute)))
	convs, err = testStore.GroupConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, convs[0].Unread)
}

func TestGroupConversationsCapRemovedMembers(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	chat := createGroup(t, "alice")
	addMembers(t, chat.ID, "alice", "bob", "carol")
	require.NoError(t, testStore.InsertMessage(ctx, groupMessage("alice", chat.ID, "before", t0.Add(time.Minute))))

	ok, err := testStore.TransitionMember(ctx, store.MemberTransition{
		ChatID: chat.ID, ActorID: "alice", TargetID: "bob",
		From: []models.Status{models.StatusActive, models.StatusMuted}, To: models.StatusRemoved,
		ActorRoles: []models.Role{models.RoleAdmin, models.RoleCreator}, At: t0.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = testStore.TransitionMember(ctx, store.MemberTransition{
		ChatID: chat.ID, TargetID: "carol",
		From: []models.Status{models.StatusActive, models.StatusMuted}, To: models.StatusLeft,
		At: t0.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, testStore.InsertMessage(ctx, groupMessage("alice", chat.ID, "after", t0.Add(3*time.Minute))))

	convs, err := testStore.GroupConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, models.StatusRemoved, convs[0].Status)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "before", *convs[0].LastMessage.Content)
	require.NotNil(t, convs[0].LastMessageAt)
	assert.True(t, convs[0].LastMessageAt.Equal(t0.Add(time.Minute)))
	assert.Equal(t, 1, convs[0].Unread)

	convs, err = testStore.GroupConversations(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, convs, "members who left no longer list the chat")
}

func TestGroupConversationsHidePendingContent(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	chat := createGroup(t, "alice")
	require.NoError(t, testStore.InsertMessage(ctx, groupMessage("alice", chat.ID, "secret", t0.Add(time.Minute))))
	_, err := testStore.RequestJoin(ctx, chat.ID, "erin", t0.Add(2*time.Minute))
	require.NoError(t, err)

	convs, err := testStore.GroupConversations(ctx, "erin")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, models.StatusPending, convs[0].Status)
	assert.Nil(t, convs[0].LastMessage)
	assert.Nil(t, convs[0].LastMessageAt)
	assert.Equal(t, 0, convs[0].Unread)
}
