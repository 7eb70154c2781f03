package friends_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/parleycomm/parley/chat/friends"
	"github.com/parleycomm/parley/chat/notify"
	"github.com/parleycomm/parley/chat/session"
	"github.com/parleycomm/parley/model"
	"github.com/parleycomm/parley/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db  *gorm.DB
	sm  *session.Manager
	svc *friends.Service
}

func setup(t *testing.T, users ...string) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	_, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	sm := session.NewManager(logger)
	router := notify.NewRouter(sm, ps, logger)
	svc := friends.NewService(db, router, logger)

	for _, u := range users {
		require.NoError(t, db.Create(&model.User{Username: u, PasswordHash: "x"}).Error)
	}
	return &fixture{db: db, sm: sm, svc: svc}
}

func (f *fixture) connect(t *testing.T, username string) *session.Session {
	t.Helper()
	s := &session.Session{
		Username: username,
		SendChan: make(chan []byte, 64),
		Done:     make(chan struct{}),
	}
	f.sm.Register(s)
	return s
}

func drain(t *testing.T, s *session.Session) []*session.Packet {
	t.Helper()
	var pkts []*session.Packet
	for {
		select {
		case data := <-s.SendChan:
			var pkt session.Packet
			require.NoError(t, json.Unmarshal(data, &pkt))
			pkts = append(pkts, &pkt)
		default:
			return pkts
		}
	}
}

func onePacket(t *testing.T, s *session.Session, topic string) *session.Packet {
	t.Helper()
	pkts := drain(t, s)
	require.Len(t, pkts, 1)
	require.Equal(t, topic, pkts[0].Type)
	return pkts[0]
}

func noticeText(t *testing.T, pkt *session.Packet) string {
	t.Helper()
	var msg string
	require.NoError(t, json.Unmarshal(pkt.Payload, &msg))
	return msg
}

func pendingID(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var rec model.Friendship
	require.NoError(t, db.First(&rec).Error)
	return rec.ID
}

func TestAddFriend_NotifiesBothParties(t *testing.T) {
	f := setup(t, "alice", "bob")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	require.NoError(t, f.svc.AddFriend(context.Background(), "alice", "bob"))

	for _, s := range []*session.Session{alice, bob} {
		pkt := onePacket(t, s, notify.TopicFriends)
		var resp friends.FriendshipResponse
		require.NoError(t, json.Unmarshal(pkt.Payload, &resp))
		assert.Equal(t, "alice", resp.Requester)
		assert.Equal(t, "bob", resp.Target)
		assert.True(t, resp.Pending)
	}
}

func TestAddFriend_UnknownTarget(t *testing.T) {
	f := setup(t, "alice")
	alice := f.connect(t, "alice")

	require.NoError(t, f.svc.AddFriend(context.Background(), "alice", "ghost"))

	pkt := onePacket(t, alice, notify.TopicNotification)
	assert.Equal(t, "Such user does not exist", noticeText(t, pkt))

	var count int64
	f.db.Model(&model.Friendship{}).Count(&count)
	assert.Zero(t, count)
}

func TestAddFriend_SelfRefused(t *testing.T) {
	f := setup(t, "alice")
	alice := f.connect(t, "alice")

	require.NoError(t, f.svc.AddFriend(context.Background(), "alice", "alice"))

	pkt := onePacket(t, alice, notify.TopicNotification)
	assert.Equal(t, "Cannot add yourself as a friend", noticeText(t, pkt))
}

func TestAddFriend_DuplicateEitherDirection(t *testing.T) {
	f := setup(t, "alice", "bob")
	ctx := context.Background()
	require.NoError(t, f.svc.AddFriend(ctx, "alice", "bob"))

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	require.NoError(t, f.svc.AddFriend(ctx, "alice", "bob"))
	pkt := onePacket(t, alice, notify.TopicNotification)
	assert.Equal(t, "Already a friend or in progress of becoming one", noticeText(t, pkt))

	// Reverse direction is the same relationship.
	require.NoError(t, f.svc.AddFriend(ctx, "bob", "alice"))
	pkt = onePacket(t, bob, notify.TopicNotification)
	assert.Equal(t, "Already a friend or in progress of becoming one", noticeText(t, pkt))

	var count int64
	f.db.Model(&model.Friendship{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestAccept_OnlyTargetMay(t *testing.T) {
	f := setup(t, "alice", "bob", "eve")
	ctx := context.Background()
	require.NoError(t, f.svc.AddFriend(ctx, "alice", "bob"))
	id := pendingID(t, f.db)

	eve := f.connect(t, "eve")
	err := f.svc.ProcessRequest(ctx, "eve", id, true)
	assert.ErrorIs(t, err, friends.ErrNotPermitted)
	pkt := onePacket(t, eve, notify.TopicNotification)
	assert.Equal(t, "Cannot accept someone else's request", noticeText(t, pkt))

	// The requester cannot accept their own request either.
	alice := f.connect(t, "alice")
	err = f.svc.ProcessRequest(ctx, "alice", id, true)
	assert.ErrorIs(t, err, friends.ErrNotPermitted)
	require.Len(t, drain(t, alice), 1)

	var rec model.Friendship
	require.NoError(t, f.db.First(&rec, id).Error)
	assert.True(t, rec.Pending, "request untouched after denied attempts")
}

func TestAccept_FlipsPendingAndNotifiesBoth(t *testing.T) {
	f := setup(t, "alice", "bob")
	ctx := context.Background()
	require.NoError(t, f.svc.AddFriend(ctx, "alice", "bob"))
	id := pendingID(t, f.db)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	require.NoError(t, f.svc.ProcessRequest(ctx, "bob", id, true))

	for _, s := range []*session.Session{alice, bob} {
		pkts := drain(t, s)
		require.Len(t, pkts, 2)

		// First the pending entry is retracted, then the accepted one lands.
		assert.Equal(t, notify.TopicDeletedFriends, pkts[0].Type)
		var deletedID int64
		require.NoError(t, json.Unmarshal(pkts[0].Payload, &deletedID))
		assert.Equal(t, id, deletedID)

		assert.Equal(t, notify.TopicFriends, pkts[1].Type)
		var resp friends.FriendshipResponse
		require.NoError(t, json.Unmarshal(pkts[1].Payload, &resp))
		assert.Equal(t, id, resp.ID)
		assert.False(t, resp.Pending)
	}

	var rec model.Friendship
	require.NoError(t, f.db.First(&rec, id).Error)
	assert.False(t, rec.Pending)
}

func TestDecline_DeletesRowAndNotifies(t *testing.T) {
	f := setup(t, "alice", "bob")
	ctx := context.Background()
	require.NoError(t, f.svc.AddFriend(ctx, "alice", "bob"))
	id := pendingID(t, f.db)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	require.NoError(t, f.svc.ProcessRequest(ctx, "bob", id, false))

	// Requester: retraction plus the human-readable notice.
	pkts := drain(t, alice)
	require.Len(t, pkts, 2)
	assert.Equal(t, notify.TopicDeletedFriends, pkts[0].Type)
	assert.Equal(t, notify.TopicNotification, pkts[1].Type)
	assert.Equal(t, "Your friend request was declined", noticeText(t, pkts[1]))

	// Target: retraction only.
	pkts = drain(t, bob)
	require.Len(t, pkts, 1)
	assert.Equal(t, notify.TopicDeletedFriends, pkts[0].Type)

	var count int64
	f.db.Model(&model.Friendship{}).Count(&count)
	assert.Zero(t, count)
}

func TestDecline_AllowsNewRequestAfterwards(t *testing.T) {
	f := setup(t, "alice", "bob")
	ctx := context.Background()
	require.NoError(t, f.svc.AddFriend(ctx, "alice", "bob"))
	id := pendingID(t, f.db)
	require.NoError(t, f.svc.ProcessRequest(ctx, "bob", id, false))

	require.NoError(t, f.svc.AddFriend(ctx, "bob", "alice"))
	var rec model.Friendship
	require.NoError(t, f.db.First(&rec).Error)
	assert.Equal(t, "bob", rec.Requester)
	assert.True(t, rec.Pending)
}

func TestProcessRequest_UnknownID(t *testing.T) {
	f := setup(t, "alice")
	alice := f.connect(t, "alice")

	err := f.svc.ProcessRequest(context.Background(), "alice", 404, true)
	assert.ErrorIs(t, err, friends.ErrNotPermitted)
	pkt := onePacket(t, alice, notify.TopicNotification)
	assert.Equal(t, "No such request", noticeText(t, pkt))
}

func TestListFriends_BothRoles(t *testing.T) {
	f := setup(t, "alice", "bob", "carol")
	ctx := context.Background()
	require.NoError(t, f.svc.AddFriend(ctx, "alice", "bob"))
	require.NoError(t, f.svc.AddFriend(ctx, "carol", "alice"))
	require.NoError(t, f.svc.AddFriend(ctx, "bob", "carol"))

	alice := f.connect(t, "alice")
	require.NoError(t, f.svc.ListFriends(ctx, "alice"))

	pkts := drain(t, alice)
	require.Len(t, pkts, 2)
	others := make([]string, 0, 2)
	for _, pkt := range pkts {
		assert.Equal(t, notify.TopicFriends, pkt.Type)
		var resp friends.FriendshipResponse
		require.NoError(t, json.Unmarshal(pkt.Payload, &resp))
		if resp.Requester == "alice" {
			others = append(others, resp.Target)
		} else {
			others = append(others, resp.Requester)
		}
	}
	assert.ElementsMatch(t, []string{"bob", "carol"}, others)
}
