package room_test

import (
	"testing"

	"github.com/emberlink/chatd/apperr"
	"github.com/emberlink/chatd/message"
	"github.com/emberlink/chatd/model"
	"github.com/emberlink/chatd/room"
	"github.com/emberlink/chatd/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*room.Service, *gorm.DB) {
	db := testutil.SetupTestDB(t)
	logger, _ := zap.NewDevelopment()
	messages := message.NewStore(db, logger)
	return room.NewService(db, messages, 0, logger), db
}

func TestDMKeyOrderIndependent(t *testing.T) {
	assert.Equal(t, "2_9", room.DMKey(9, 2))
	assert.Equal(t, "2_9", room.DMKey(2, 9))
}

func TestCreateGroupIncludesCreatorAndDedupes(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")

	// Creator repeated and bob listed twice; both collapse.
	r, err := svc.CreateGroup(alice, "team", []int64{bob.ID, bob.ID, carol.ID, alice.ID})
	require.NoError(t, err)
	assert.True(t, r.IsGroup)
	assert.Equal(t, "team", r.RoomName)

	members, err := svc.ListMembers(r.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestCreateGroupRejectsUnknownMember(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")

	_, err := svc.CreateGroup(alice, "team", []int64{9999})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	// Nothing was written.
	var count int64
	db.Model(&model.ChatRoom{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestCreateOrGetDMIsIdempotent(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")

	dm, friend, sysMsg, err := svc.CreateOrGetDM(alice, bob.ID)
	require.NoError(t, err)
	assert.False(t, dm.IsGroup)
	assert.Equal(t, bob.ID, friend.ID)
	require.NotNil(t, sysMsg)
	assert.Equal(t, model.MessageSystem, sysMsg.Type)
	assert.Nil(t, sysMsg.SenderID)
	assert.Contains(t, sysMsg.Content, "alice")
	assert.Contains(t, sysMsg.Content, "bob")

	// Same pair from the other side resolves to the same room, no new
	// system message.
	again, _, sysMsg2, err := svc.CreateOrGetDM(bob, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, dm.ID, again.ID)
	assert.Nil(t, sysMsg2)

	var count int64
	db.Model(&model.ChatRoom{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestCreateOrGetDMUnknownUser(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")

	_, _, _, err := svc.CreateOrGetDM(alice, 9999)
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
}

func TestCreateOrGetDMWithSelf(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")

	_, _, _, err := svc.CreateOrGetDM(alice, alice.ID)
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	var count int64
	require.NoError(t, db.Model(&model.ChatRoom{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIsMember(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")

	r, err := svc.CreateGroup(alice, "team", []int64{bob.ID})
	require.NoError(t, err)

	ok, err := svc.IsMember(alice.ID, r.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsMember(carol.ID, r.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddMembersInviterMustBeMember(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")

	r, err := svc.CreateGroup(alice, "team", []int64{bob.ID})
	require.NoError(t, err)

	_, _, err = svc.AddMembers(r.ID, carol, []int64{carol.ID})
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))
}

func TestAddMembersWritesSystemMessage(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")
	dave := testutil.CreateUser(t, db, "dave")

	r, err := svc.CreateGroup(alice, "team", []int64{bob.ID})
	require.NoError(t, err)

	added, sysMsg, err := svc.AddMembers(r.ID, alice, []int64{carol.ID, dave.ID})
	require.NoError(t, err)
	require.Len(t, added, 2)
	for _, m := range added {
		require.NotNil(t, m.User)
	}
	require.NotNil(t, sysMsg)
	assert.Equal(t, model.MessageSystem, sysMsg.Type)
	assert.Contains(t, sysMsg.Content, "alice invited")
	assert.Contains(t, sysMsg.Content, "carol")
	assert.Contains(t, sysMsg.Content, "dave")
}

func TestAddMembersAlreadyMemberIsSilentlyExcluded(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")

	r, err := svc.CreateGroup(alice, "team", []int64{bob.ID})
	require.NoError(t, err)

	// bob is already in; only carol is added.
	added, sysMsg, err := svc.AddMembers(r.ID, alice, []int64{bob.ID, carol.ID})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, carol.ID, added[0].UserID)
	assert.NotContains(t, sysMsg.Content, "bob")

	// All candidates already members: nothing added, no system message.
	added, sysMsg, err = svc.AddMembers(r.ID, alice, []int64{bob.ID, carol.ID})
	require.NoError(t, err)
	assert.Nil(t, added)
	assert.Nil(t, sysMsg)
}

func TestAddMembersRejectsUnknownIDs(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")

	r, err := svc.CreateGroup(alice, "team", []int64{bob.ID})
	require.NoError(t, err)

	_, _, err = svc.AddMembers(r.ID, alice, []int64{9999})
	require.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
	assert.Contains(t, apperr.Message(err), "9999")
}

func TestListGroupsAndDMsAreSeparate(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")

	g, err := svc.CreateGroup(alice, "team", []int64{bob.ID})
	require.NoError(t, err)
	dm, _, _, err := svc.CreateOrGetDM(alice, bob.ID)
	require.NoError(t, err)

	groups, err := svc.ListGroupsForUser(alice)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, g.ID, groups[0].ID)

	dms, err := svc.ListDMsForUser(alice)
	require.NoError(t, err)
	require.Len(t, dms, 1)
	assert.Equal(t, dm.ID, dms[0].ID)
	require.Len(t, dms[0].Members, 2)
	require.NotNil(t, dms[0].Members[0].User)
}

func TestListMessagesMembershipGate(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")

	r, err := svc.CreateGroup(alice, "team", []int64{bob.ID})
	require.NoError(t, err)

	_, err = svc.ListMessages(9999, alice)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	_, err = svc.ListMessages(r.ID, carol)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	msgs, err := svc.ListMessages(r.ID, alice)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPostAndListMessages(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")

	r, err := svc.CreateGroup(alice, "team", []int64{bob.ID})
	require.NoError(t, err)

	_, err = svc.PostMessage(r.ID, carol, "hi")
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	m1, err := svc.PostMessage(r.ID, bob, "hi")
	require.NoError(t, err)
	require.NotNil(t, m1.SenderID)
	assert.Equal(t, bob.ID, *m1.SenderID)
	assert.Equal(t, model.MessageText, m1.Type)

	_, err = svc.PostMessage(r.ID, alice, "hello")
	require.NoError(t, err)

	msgs, err := svc.ListMessages(r.ID, alice)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// Oldest first, with senders preloaded.
	assert.Equal(t, "hi", msgs[0].Content)
	require.NotNil(t, msgs[0].Sender)
	assert.Equal(t, "bob", msgs[0].Sender.Username)
}

func TestInviteCandidates(t *testing.T) {
	svc, db := newService(t)
	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")

	r, err := svc.CreateGroup(alice, "team", []int64{bob.ID})
	require.NoError(t, err)

	friends := []model.User{*bob, *carol}
	candidates, err := svc.InviteCandidates(alice, r.ID, friends)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	byName := make(map[string]string, len(candidates))
	for _, c := range candidates {
		byName[c.Username] = c.Status
	}
	assert.Equal(t, "in_chat", byName["bob"])
	assert.Equal(t, "available", byName["carol"])

	_, err = svc.InviteCandidates(alice, 9999, friends)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}
