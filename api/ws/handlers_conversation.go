package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/parleycomm/parley/chat/conversation"
	"github.com/parleycomm/parley/chat/session"
	"go.uber.org/zap"
)

// ConversationHandlers handles channel and message WebSocket actions.
type ConversationHandlers struct {
	svc    *conversation.Service
	logger *zap.Logger
}

// NewConversationHandlers creates ConversationHandlers.
func NewConversationHandlers(svc *conversation.Service, logger *zap.Logger) *ConversationHandlers {
	return &ConversationHandlers{svc: svc, logger: logger}
}

// RegisterHandlers registers conversation WS handlers.
func (h *ConversationHandlers) RegisterHandlers(r *Router) {
	r.On("get-channels", h.HandleGetChannels)
	r.On("create-channel", h.HandleCreateChannel)
	r.On("send-message", h.HandleSendMessage)
	r.On("get-messages", h.HandleGetMessages)
	r.On("get-previous-messages", h.HandleGetPreviousMessages)
}

// HandleGetChannels pushes every channel the user belongs to.
func (h *ConversationHandlers) HandleGetChannels(ctx context.Context, s *session.Session, _ json.RawMessage) error {
	return h.svc.ListChannels(ctx, s.Username)
}

type createChannelPayload struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// HandleCreateChannel creates a channel between the sender and the listed
// members. The sender is a member whether listed or not.
func (h *ConversationHandlers) HandleCreateChannel(ctx context.Context, s *session.Session, raw json.RawMessage) error {
	var req createChannelPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	return swallowRefusal(h.svc.CreateChannel(ctx, s.Username, req.Name, req.Members))
}

type sendMessagePayload struct {
	ChannelID int64  `json:"channel_id"`
	Payload   string `json:"payload"`
}

// HandleSendMessage persists the message and fans it out to channel members.
func (h *ConversationHandlers) HandleSendMessage(ctx context.Context, s *session.Session, raw json.RawMessage) error {
	var req sendMessagePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	return swallowRefusal(h.svc.SendMessage(ctx, s.Username, req.ChannelID, req.Payload))
}

type getMessagesPayload struct {
	ChannelID int64 `json:"channel_id"`
}

// HandleGetMessages pushes the newest page of channel history.
func (h *ConversationHandlers) HandleGetMessages(ctx context.Context, s *session.Session, raw json.RawMessage) error {
	var req getMessagesPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	return swallowRefusal(h.svc.FetchRecent(ctx, s.Username, req.ChannelID))
}

type getPreviousMessagesPayload struct {
	ChannelID int64 `json:"channel_id"`
	Before    int64 `json:"before"`
}

// HandleGetPreviousMessages pushes the page of history strictly older than
// the client-supplied cutoff (epoch seconds).
func (h *ConversationHandlers) HandleGetPreviousMessages(ctx context.Context, s *session.Session, raw json.RawMessage) error {
	var req getPreviousMessagesPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil
	}
	return swallowRefusal(h.svc.FetchBefore(ctx, s.Username, req.ChannelID, req.Before))
}

// swallowRefusal drops business-rule refusals: the user already got the
// explanation on the notification topic, so they are not handler errors.
func swallowRefusal(err error) error {
	if errors.Is(err, conversation.ErrNotPermitted) {
		return nil
	}
	return err
}
