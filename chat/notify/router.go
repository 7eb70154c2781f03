package notify

import (
	"context"
	"encoding/json"

	"github.com/parleycomm/parley/cache"
	"github.com/parleycomm/parley/chat/session"
	"go.uber.org/zap"
)

// Logical topic names. These are routing keys in the client contract and
// must not change.
const (
	TopicChannels         = "channels"
	TopicMessages         = "messages"
	TopicPreviousMessages = "previous-messages"
	TopicFriends          = "friends"
	TopicDeletedFriends   = "deleted-friends"
	TopicNotification     = "notification"
)

// UserChannel is the pub/sub channel carrying a user's deliveries, consumed
// by fallback transports (SSE).
func UserChannel(username string) string {
	return "user:" + username
}

// Router pushes per-user events to every active session of the target user
// and mirrors each delivery on pub/sub. Delivery is best-effort: users with
// no active session are skipped, and one slow recipient never blocks others.
type Router struct {
	sm     *session.Manager
	pubsub cache.PubSub
	logger *zap.Logger
}

// NewRouter creates a Router over the given session registry.
func NewRouter(sm *session.Manager, ps cache.PubSub, logger *zap.Logger) *Router {
	return &Router{sm: sm, pubsub: ps, logger: logger}
}

// Deliver routes payload to username's private queue bound to topic.
func (r *Router) Deliver(ctx context.Context, username, topic string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("notify marshal failed",
			zap.String("topic", topic),
			zap.Error(err))
		return
	}
	pkt := &session.Packet{Type: topic, Payload: body}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}

	for _, s := range r.sm.SessionsFor(username) {
		s.SendRaw(data)
	}

	// Mirror on pub/sub so fallback transports can stream the same events.
	if r.pubsub != nil {
		if err := r.pubsub.Publish(ctx, UserChannel(username), string(data)); err != nil {
			r.logger.Warn("notify publish failed",
				zap.String("username", username),
				zap.Error(err))
		}
	}
}

// SendError delivers a plain user-facing error string on the notification
// topic. Used for every recoverable business-rule failure.
func (r *Router) SendError(ctx context.Context, username, message string) {
	r.Deliver(ctx, username, TopicNotification, message)
}
