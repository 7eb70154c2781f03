package model

import (
	"strings"
	"time"
)

// Friendship is one friend request / friendship row. A pending row is a
// request awaiting the target; pending=false is an accepted friendship; a
// declined request is deleted outright, there is no tombstone state.
//
// PairKey is the unordered {requester, target} pair joined with "|" after
// sorting. Its unique index guarantees at most one row per pair even when two
// addFriend calls race.
type Friendship struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Requester string    `gorm:"size:32;not null" json:"requester"`
	Target    string    `gorm:"size:32;not null" json:"target"`
	Pending   bool      `gorm:"not null;default:true" json:"pending"`
	PairKey   string    `gorm:"uniqueIndex;size:80;not null" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// PairKeyFor builds the canonical unordered pair key for two usernames.
func PairKeyFor(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}
