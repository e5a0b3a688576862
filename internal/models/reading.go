package models

import "time"

// FaceStatus is what the oracle saw in the frame.
type FaceStatus string

const (
	FaceStatusNone     FaceStatus = "NO_FACE"
	FaceStatusSingle   FaceStatus = "SINGLE_FACE"
	FaceStatusMultiple FaceStatus = "MULTIPLE_FACES"
	FaceStatusWaiting  FaceStatus = "WAITING"
)

// HeadDirection is the coarse gaze estimate from the oracle.
type HeadDirection string

const (
	HeadCenter  HeadDirection = "CENTER"
	HeadLeft    HeadDirection = "LEFT"
	HeadRight   HeadDirection = "RIGHT"
	HeadUp      HeadDirection = "UP"
	HeadDown    HeadDirection = "DOWN"
	HeadWaiting HeadDirection = "WAITING"
)

// RiskLevel orders SAFE < SUSPICIOUS < HIGH_RISK.
type RiskLevel string

const (
	RiskSafe       RiskLevel = "SAFE"
	RiskSuspicious RiskLevel = "SUSPICIOUS"
	RiskHighRisk   RiskLevel = "HIGH_RISK"
)

// Risky reports whether a reading at this level consumes a warning.
func (r RiskLevel) Risky() bool {
	return r == RiskSuspicious || r == RiskHighRisk
}

// Reading is one immutable risk assessment for a session. Rows are
// append-only; ID is the insertion sequence and breaks created_at ties.
// Warnings and TabSwitches are the cumulative session counters at the
// time the row was written.
type Reading struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	SessionID string `gorm:"size:64;index:idx_readings_session" json:"session_id"`
	StudentID string `gorm:"size:64;index" json:"student_id"`
	ExamID    string `gorm:"size:64;index" json:"exam_id"`

	FaceStatus    FaceStatus    `gorm:"size:20" json:"face_status"`
	FaceCount     int           `json:"face_count"`
	HeadDirection HeadDirection `gorm:"size:10" json:"head_direction"`
	LookingAway   bool          `json:"looking_away"`
	CheatingScore int           `json:"cheating_score"`
	RiskLevel     RiskLevel     `gorm:"size:12;index" json:"risk_level"`

	TabSwitches    int  `json:"tab_switches"`
	Warnings       int  `json:"warnings"`
	ExamTerminated bool `gorm:"index" json:"exam_terminated"`

	CreatedAt time.Time `gorm:"index:idx_readings_session" json:"created_at"`
}

// SessionStatus is derived from a session's readings and flags, never stored.
type SessionStatus string

const (
	SessionActive     SessionStatus = "ACTIVE"
	SessionTerminated SessionStatus = "TERMINATED"
	SessionCompleted  SessionStatus = "COMPLETED"
)
