package models

import "time"

const (
	FlagKindFlagged   = "flagged"
	FlagKindCompleted = "completed"
)

// SessionFlag is a reviewer-side annotation on a session. Flags live in
// their own table so the reading log stays append-only.
type SessionFlag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:64;index" json:"session_id"`
	Kind      string    `gorm:"size:20;index" json:"kind"`
	Reason    string    `gorm:"size:255" json:"reason,omitempty"`
	CreatedBy string    `gorm:"size:64" json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
