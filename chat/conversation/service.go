package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/parleycomm/parley/cache"
	"github.com/parleycomm/parley/chat/notify"
	"github.com/parleycomm/parley/config"
	dbadapter "github.com/parleycomm/parley/db"
	"github.com/parleycomm/parley/model"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotPermitted marks authorization and business-rule denials. The
// user-facing explanation travels on the notification topic; the error itself
// only propagates for logging.
var ErrNotPermitted = errors.New("conversation: operation not permitted")

// MessageTypeText is the discriminator carried by every message push.
const MessageTypeText = "TEXT_MESSAGE"

func recentKey(channelID int64) string {
	return "channel:" + strconv.FormatInt(channelID, 10) + ":recent"
}

// ChannelResponse is the channel summary delivered on the channels topic.
type ChannelResponse struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	OneOnOne bool     `json:"one_on_one"`
	Users    []string `json:"users"`
}

// MessageResponse is the message representation delivered on the messages
// and previous-messages topics. Time is epoch seconds, UTC.
type MessageResponse struct {
	ID          int64  `json:"id"`
	ChannelID   int64  `json:"channel_id"`
	MessageType string `json:"message_type"`
	Payload     string `json:"payload"`
	Username    string `json:"username"`
	Time        int64  `json:"time"`
}

// Service manages channel membership and message fan-out.
type Service struct {
	db     *gorm.DB
	router *notify.Router
	cache  cache.Cache
	cfg    config.ChatConfig
	logger *zap.Logger
}

// NewService creates a conversation Service.
func NewService(db *gorm.DB, router *notify.Router, c cache.Cache, cfg config.ChatConfig, logger *zap.Logger) *Service {
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 10
	}
	if cfg.MaxPayloadLen <= 0 {
		cfg.MaxPayloadLen = 2000
	}
	return &Service{db: db, router: router, cache: c, cfg: cfg, logger: logger}
}

// CreateChannel creates a conversation named name between the creator and
// members. The creator is always part of the member set. On success the
// channel summary is delivered to the creator on the channels topic.
func (s *Service) CreateChannel(ctx context.Context, creator, name string, members []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		s.router.SendError(ctx, creator, "Conversation name is required")
		return ErrNotPermitted
	}

	usernames := lo.Uniq(append(append([]string(nil), members...), creator))

	var users []model.User
	if err := s.db.Where("username IN ?", usernames).Find(&users).Error; err != nil {
		return err
	}
	if len(users) != len(usernames) {
		s.router.SendError(ctx, creator, "Cannot find all requested users")
		return ErrNotPermitted
	}

	channel := &model.Channel{
		Name:     name,
		OneOnOne: len(usernames) == 2,
	}
	channel.SetMembers(usernames)

	// The read check gives the friendly error in the common case; the unique
	// index on (name, member_key) closes the race between check and insert.
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Channel{}).
			Where("name = ? AND member_key = ?", name, channel.MemberKey).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return gorm.ErrDuplicatedKey
		}
		return tx.Create(channel).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) || dbadapter.IsUniqueViolation(err) {
		s.router.SendError(ctx, creator, "Conversation name is not unique")
		return ErrNotPermitted
	}
	if err != nil {
		return err
	}

	s.router.Deliver(ctx, creator, notify.TopicChannels, mapChannel(channel))
	s.logger.Info("channel created",
		zap.Int64("channel_id", channel.ID),
		zap.String("creator", creator),
		zap.Int("members", len(usernames)))
	return nil
}

// ListChannels delivers every channel containing the user to the requester,
// one push per channel on the channels topic.
func (s *Service) ListChannels(ctx context.Context, username string) error {
	var channels []model.Channel
	if err := s.db.
		Where(datatypes.JSONArrayQuery("members").Contains(username)).
		Find(&channels).Error; err != nil {
		return err
	}
	for i := range channels {
		s.router.Deliver(ctx, username, notify.TopicChannels, mapChannel(&channels[i]))
	}
	return nil
}

// SendMessage persists a message stamped with the current UTC time, then
// delivers it to every member of the channel, one push per member.
func (s *Service) SendMessage(ctx context.Context, from string, channelID int64, payload string) error {
	if len([]rune(payload)) > s.cfg.MaxPayloadLen {
		s.router.SendError(ctx, from, "Message is too long")
		return ErrNotPermitted
	}

	channel, err := s.loadChannel(ctx, from, channelID)
	if err != nil {
		return err
	}

	msg := &model.Message{
		ChannelID: channelID,
		Username:  from,
		Payload:   payload,
		Time:      time.Now().UTC(),
	}
	if err := s.db.Create(msg).Error; err != nil {
		return err
	}

	resp := mapMessage(msg)

	// Append-only write-through cache for the newest page.
	if data, err := json.Marshal(resp); err == nil {
		_ = s.cache.LPush(ctx, recentKey(channelID), string(data))
		_ = s.cache.LTrim(ctx, recentKey(channelID), 0, int64(s.cfg.HistoryPageSize)-1)
	}

	for _, member := range channel.MemberNames() {
		s.router.Deliver(ctx, member, notify.TopicMessages, resp)
	}
	return nil
}

// FetchRecent delivers the newest page of channel messages to the requester,
// newest first, one push per message on the messages topic. The requester
// must be a channel member.
func (s *Service) FetchRecent(ctx context.Context, username string, channelID int64) error {
	channel, err := s.loadChannel(ctx, username, channelID)
	if err != nil {
		return err
	}
	if !channel.HasMember(username) {
		s.router.SendError(ctx, username, "Operation not permitted")
		return ErrNotPermitted
	}

	// Fast path: the write-through cache holds the newest page verbatim.
	if cached, err := s.cache.LRange(ctx, recentKey(channelID), 0, int64(s.cfg.HistoryPageSize)-1); err == nil &&
		len(cached) == s.cfg.HistoryPageSize {
		for _, raw := range cached {
			var resp MessageResponse
			if err := json.Unmarshal([]byte(raw), &resp); err != nil {
				break
			}
			s.router.Deliver(ctx, username, notify.TopicMessages, resp)
		}
		return nil
	}

	msgs, err := s.loadPage(channelID, nil)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		s.router.Deliver(ctx, username, notify.TopicMessages, mapMessage(&m))
	}
	return nil
}

// FetchBefore delivers up to one page of messages strictly older than the
// cutoff (epoch seconds), newest first, on the previous-messages topic. The
// requester must be a channel member.
func (s *Service) FetchBefore(ctx context.Context, username string, channelID, beforeEpoch int64) error {
	channel, err := s.loadChannel(ctx, username, channelID)
	if err != nil {
		return err
	}
	if !channel.HasMember(username) {
		s.router.SendError(ctx, username, "Operation not permitted")
		return ErrNotPermitted
	}

	cutoff := time.Unix(beforeEpoch, 0).UTC()
	msgs, err := s.loadPage(channelID, &cutoff)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		s.router.Deliver(ctx, username, notify.TopicPreviousMessages, mapMessage(&m))
	}
	return nil
}

func (s *Service) loadChannel(ctx context.Context, actor string, channelID int64) (*model.Channel, error) {
	var channel model.Channel
	err := s.db.First(&channel, channelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.router.SendError(ctx, actor, "Cannot find conversation")
		return nil, ErrNotPermitted
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (s *Service) loadPage(channelID int64, before *time.Time) ([]model.Message, error) {
	q := s.db.Where("channel_id = ?", channelID)
	if before != nil {
		q = q.Where("time < ?", *before)
	}
	var msgs []model.Message
	err := q.Order("time DESC, id DESC").Limit(s.cfg.HistoryPageSize).Find(&msgs).Error
	return msgs, err
}

func mapChannel(c *model.Channel) ChannelResponse {
	return ChannelResponse{
		ID:       c.ID,
		Name:     c.Name,
		OneOnOne: c.OneOnOne,
		Users:    c.MemberNames(),
	}
}

func mapMessage(m *model.Message) MessageResponse {
	return MessageResponse{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		MessageType: MessageTypeText,
		Payload:     m.Payload,
		Username:    m.Username,
		Time:        m.Time.Unix(),
	}
}
