package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/parleycomm/parley/chat/friends"
	"github.com/parleycomm/parley/chat/session"
	"go.uber.org/zap"
)

// FriendsHandlers handles friendship WebSocket actions.
type FriendsHandlers struct {
	svc    *friends.Service
	logger *zap.Logger
}

// NewFriendsHandlers creates FriendsHandlers.
func NewFriendsHandlers(svc *friends.Service, logger *zap.Logger) *FriendsHandlers {
	return &FriendsHandlers{svc: svc, logger: logger}
}

// RegisterHandlers registers friendship WS handlers.
func (h *FriendsHandlers) RegisterHandlers(r *Router) {
	r.On("get-friends", h.HandleGetFriends)
	r.On("add-friend", h.HandleAddFriend)
	r.On("process-friend-request", h.HandleProcessRequest)
}

// HandleGetFriends pushes every friendship involving the user.
func (h *FriendsHandlers) HandleGetFriends(ctx context.Context, s *session.Session, _ json.RawMessage) error {
	return h.svc.ListFriends(ctx, s.Username)
}

type addFriendPayload struct {
	Username string `json:"username"`
}

// HandleAddFriend creates a pending friend request to the named user.
func (h *FriendsHandlers) HandleAddFriend(ctx context.Context, s *session.Session, raw json.RawMessage) error {
	var req addFriendPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	return h.svc.AddFriend(ctx, s.Username, req.Username)
}

type processRequestPayload struct {
	ID     int64 `json:"id"`
	Accept bool  `json:"accept"`
}

// HandleProcessRequest accepts or declines a pending request addressed to
// the sender.
func (h *FriendsHandlers) HandleProcessRequest(ctx context.Context, s *session.Session, raw json.RawMessage) error {
	var req processRequestPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	err := h.svc.ProcessRequest(ctx, s.Username, req.ID, req.Accept)
	if errors.Is(err, friends.ErrNotPermitted) {
		return nil
	}
	return err
}
