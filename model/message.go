package model

import "time"

// Message is one immutable chat message. ChannelID is a plain foreign key;
// the channel row is never embedded.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ChannelID int64     `gorm:"index:idx_message_channel_time;not null" json:"channel_id"`
	Username  string    `gorm:"size:32;not null" json:"username"`
	Payload   string    `gorm:"type:text" json:"payload"`
	Time      time.Time `gorm:"index:idx_message_channel_time;not null" json:"time"`
}
