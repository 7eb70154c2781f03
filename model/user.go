package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// User is a registered account. Everything else in the system refers to a
// user by username, never by embedding the row.
type User struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string         `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash string         `gorm:"size:64;not null" json:"-"`
	Roles        datatypes.JSON `json:"roles"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// SetRoles stores the given role names as the user's role set.
func (u *User) SetRoles(roles []string) {
	data, _ := json.Marshal(roles)
	u.Roles = datatypes.JSON(data)
}

// RoleNames decodes the stored role set.
func (u *User) RoleNames() []string {
	var roles []string
	_ = json.Unmarshal(u.Roles, &roles)
	return roles
}
