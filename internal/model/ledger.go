package model

import (
	"time"
)

// LedgerEntry is the append-only audit row written with every balance
// mutation. Amount is signed: negative for debits. Request ids are unique
// per user.
type LedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID        int64     `gorm:"uniqueIndex:uk_user_request,priority:1;not null" json:"user_id"`
	RequestID     string    `gorm:"type:varchar(128);uniqueIndex:uk_user_request,priority:2;not null" json:"request_id"`
	Amount        int64     `gorm:"not null" json:"amount"`
	Type          string    `gorm:"type:varchar(16);not null" json:"type"`
	ContentID     string    `gorm:"type:varchar(128);index" json:"content_id"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}

// Unlock records that a user paid for a piece of content. The unique index
// keeps a content charged at most once per user.
type Unlock struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:uk_user_content;not null" json:"user_id"`
	ContentID string    `gorm:"type:varchar(128);uniqueIndex:uk_user_content;not null" json:"content_id"`
	EntryNo   string    `gorm:"type:varchar(64);not null" json:"entry_no"`
	Amount    int64     `gorm:"not null" json:"amount"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Unlock) TableName() string {
	return "content_unlock"
}

// RewardClaim marks a (user, source, day) reward as taken.
type RewardClaim struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:uk_user_source_day;not null" json:"user_id"`
	Source    string    `gorm:"type:varchar(32);uniqueIndex:uk_user_source_day;not null" json:"source"`
	Day       string    `gorm:"type:char(10);uniqueIndex:uk_user_source_day;not null" json:"day"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RewardClaim) TableName() string {
	return "reward_claim"
}
