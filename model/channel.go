package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Channel is a named conversation with a fixed member set. Members are stored
// as a sorted JSON list; MemberKey is the same list joined with "|" and backs
// the (name, member set) uniqueness index, so two concurrent creations of the
// same conversation collide on insert instead of racing past a read check.
type Channel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string         `gorm:"uniqueIndex:idx_channel_identity;size:64;not null" json:"name"`
	MemberKey string         `gorm:"uniqueIndex:idx_channel_identity;size:512;not null" json:"-"`
	OneOnOne  bool           `json:"one_on_one"`
	Members   datatypes.JSON `json:"members"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// MemberKeyFor builds the canonical member key for a set of usernames.
func MemberKeyFor(usernames []string) string {
	sorted := append([]string(nil), usernames...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// SetMembers stores the member set (sorted) and derives MemberKey.
func (c *Channel) SetMembers(usernames []string) {
	sorted := append([]string(nil), usernames...)
	sort.Strings(sorted)
	data, _ := json.Marshal(sorted)
	c.Members = datatypes.JSON(data)
	c.MemberKey = strings.Join(sorted, "|")
}

// MemberNames decodes the stored member set.
func (c *Channel) MemberNames() []string {
	var members []string
	_ = json.Unmarshal(c.Members, &members)
	return members
}

// HasMember reports whether username belongs to the channel.
func (c *Channel) HasMember(username string) bool {
	for _, m := range c.MemberNames() {
		if m == username {
			return true
		}
	}
	return false
}
