package friends

import (
	"context"
	"errors"

	"github.com/parleycomm/parley/chat/notify"
	dbadapter "github.com/parleycomm/parley/db"
	"github.com/parleycomm/parley/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotPermitted marks authorization denials and unknown-request failures.
// The user-facing explanation travels on the notification topic.
var ErrNotPermitted = errors.New("friends: operation not permitted")

// FriendshipResponse is the friendship representation delivered on the
// friends topic.
type FriendshipResponse struct {
	ID        int64  `json:"id"`
	Requester string `json:"requester"`
	Target    string `json:"target"`
	Pending   bool   `json:"pending"`
}

// Service drives the friendship request state machine: Pending (row,
// pending=true) → Accepted (row, pending=false), or Pending → deleted on
// decline. Decline is terminal; the id can never be reused.
type Service struct {
	db     *gorm.DB
	router *notify.Router
	logger *zap.Logger
}

// NewService creates a friends Service.
func NewService(db *gorm.DB, router *notify.Router, logger *zap.Logger) *Service {
	return &Service{db: db, router: router, logger: logger}
}

// AddFriend creates a pending request from requester to target and notifies
// both parties on the friends topic. Refused cases (unknown target, existing
// record in either direction, self-friending) notify only the requester.
func (s *Service) AddFriend(ctx context.Context, requester, target string) error {
	if requester == target {
		s.router.SendError(ctx, requester, "Cannot add yourself as a friend")
		return nil
	}

	var count int64
	if err := s.db.Model(&model.User{}).Where("username = ?", target).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		s.router.SendError(ctx, requester, "Such user does not exist")
		return nil
	}

	if s.exists(requester, target) || s.exists(target, requester) {
		s.router.SendError(ctx, requester, "Already a friend or in progress of becoming one")
		return nil
	}

	record := &model.Friendship{
		Requester: requester,
		Target:    target,
		Pending:   true,
		PairKey:   model.PairKeyFor(requester, target),
	}
	// The pair-key unique index closes the race between the existence check
	// and the insert: the loser of two concurrent adds lands here.
	if err := s.db.Create(record).Error; err != nil {
		if dbadapter.IsUniqueViolation(err) {
			s.router.SendError(ctx, requester, "Already a friend or in progress of becoming one")
			return nil
		}
		return err
	}

	resp := mapFriendship(record)
	s.router.Deliver(ctx, requester, notify.TopicFriends, resp)
	s.router.Deliver(ctx, target, notify.TopicFriends, resp)
	s.logger.Info("friend request created",
		zap.Int64("id", record.ID),
		zap.String("requester", requester),
		zap.String("target", target))
	return nil
}

// ProcessRequest accepts or declines a pending request. Only the request's
// target may act on it.
func (s *Service) ProcessRequest(ctx context.Context, actor string, id int64, accept bool) error {
	if accept {
		return s.acceptRequest(ctx, actor, id)
	}
	return s.declineRequest(ctx, actor, id)
}

func (s *Service) acceptRequest(ctx context.Context, actor string, id int64) error {
	request, err := s.loadRequest(ctx, actor, id)
	if err != nil {
		return err
	}
	if actor != request.Target {
		s.router.SendError(ctx, actor, "Cannot accept someone else's request")
		return ErrNotPermitted
	}

	request.Pending = false
	if err := s.db.Save(request).Error; err != nil {
		return err
	}

	// Both parties drop the pending entry and gain the accepted one, so a
	// client can atomically swap its UI elements.
	s.notifyDeleted(ctx, request.ID, request.Requester, request.Target)
	resp := mapFriendship(request)
	s.router.Deliver(ctx, request.Requester, notify.TopicFriends, resp)
	s.router.Deliver(ctx, request.Target, notify.TopicFriends, resp)
	s.logger.Info("friend request accepted", zap.Int64("id", request.ID))
	return nil
}

func (s *Service) declineRequest(ctx context.Context, actor string, id int64) error {
	request, err := s.loadRequest(ctx, actor, id)
	if err != nil {
		return err
	}
	if actor != request.Target {
		s.router.SendError(ctx, actor, "Cannot decline someone else's request")
		return ErrNotPermitted
	}

	if err := s.db.Delete(request).Error; err != nil {
		return err
	}

	s.notifyDeleted(ctx, request.ID, request.Requester, request.Target)
	s.router.SendError(ctx, request.Requester, "Your friend request was declined")
	s.logger.Info("friend request declined", zap.Int64("id", request.ID))
	return nil
}

// ListFriends delivers every friendship involving the user (either role) to
// the requester, one push per record on the friends topic.
func (s *Service) ListFriends(ctx context.Context, username string) error {
	var records []model.Friendship
	if err := s.db.
		Where("requester = ? OR target = ?", username, username).
		Find(&records).Error; err != nil {
		return err
	}
	for i := range records {
		s.router.Deliver(ctx, username, notify.TopicFriends, mapFriendship(&records[i]))
	}
	return nil
}

func (s *Service) loadRequest(ctx context.Context, actor string, id int64) (*model.Friendship, error) {
	var request model.Friendship
	err := s.db.First(&request, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.router.SendError(ctx, actor, "No such request")
		return nil, ErrNotPermitted
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (s *Service) exists(requester, target string) bool {
	var count int64
	s.db.Model(&model.Friendship{}).
		Where("requester = ? AND target = ?", requester, target).
		Count(&count)
	return count > 0
}

func (s *Service) notifyDeleted(ctx context.Context, id int64, users ...string) {
	for _, user := range users {
		s.router.Deliver(ctx, user, notify.TopicDeletedFriends, id)
	}
}

func mapFriendship(f *model.Friendship) FriendshipResponse {
	return FriendshipResponse{
		ID:        f.ID,
		Requester: f.Requester,
		Target:    f.Target,
		Pending:   f.Pending,
	}
}
