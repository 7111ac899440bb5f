package model

import (
	"time"
)

const (
	RoleRegular   = "regular"
	RolePerformer = "performer"
)

// Account holds a user's ZYRA coin balance. UserID is the Telegram user id.
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Role      string    `gorm:"type:varchar(16);not null;default:regular" json:"role"`
	Username  string    `gorm:"type:varchar(64)" json:"username"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Version   int       `gorm:"not null;default:0" json:"version"` // optimistic lock
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
