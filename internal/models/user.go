package models

import (
	"time"
)

// User is a reviewer-surface account (admin or reviewer). Students are not
// users here; the probe path identifies them by opaque student_id only.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex"`
	FullName  string
	Email     string `gorm:"uniqueIndex"`
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
