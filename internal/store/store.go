package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/zaqqye/proctor_backend_v1/internal/models"
)

// ErrSessionClosed is returned when a row targets a session whose latest
// reading already carries exam_terminated = true. The log, not the caller,
// has the final say on whether a session still accepts rows.
var ErrSessionClosed = errors.New("session closed")

const batchSize = 200

// IncidentLog is the append-only store of readings. Rows are never updated
// or deleted; created_at is non-decreasing within a session and the row ID
// is the insertion-order tie-break.
type IncidentLog struct {
	db *gorm.DB
}

func NewIncidentLog(db *gorm.DB) *IncidentLog {
	return &IncidentLog{db: db}
}

// Insert appends one reading. It fails with ErrSessionClosed if the
// session's most recent row is terminal, regardless of what the caller
// believes about the session.
func (l *IncidentLog) Insert(ctx context.Context, r *models.Reading) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last models.Reading
		err := tx.Where("session_id = ?", r.SessionID).
			Order("created_at DESC, id DESC").
			First(&last).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		if err == nil {
			if last.ExamTerminated {
				return ErrSessionClosed
			}
			// Keep per-session timestamps monotonic across wall-clock steps.
			if r.CreatedAt.Before(last.CreatedAt) {
				r.CreatedAt = last.CreatedAt
			}
		}
		return tx.Create(r).Error
	})
}

// ListBySession returns the full timeline for a session, oldest first.
func (l *IncidentLog) ListBySession(ctx context.Context, sessionID string) ([]models.Reading, error) {
	var rows []models.Reading
	err := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// EachBySession streams the timeline in insertion order without loading it
// all at once; fn returning an error stops the walk.
func (l *IncidentLog) EachBySession(ctx context.Context, sessionID string, fn func(models.Reading) error) error {
	var batch []models.Reading
	res := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			for _, r := range batch {
				if err := fn(r); err != nil {
					return err
				}
			}
			return nil
		})
	return res.Error
}

// LastBySession returns the latest reading for a session, or nil when the
// session has no rows yet.
func (l *IncidentLog) LastBySession(ctx context.Context, sessionID string) (*models.Reading, error) {
	var last models.Reading
	err := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &last, nil
}

// LatestPerSession returns the most recent reading of every session, newest
// session first. created_at is monotonic per session, so the max row ID of a
// session is its latest reading and equal timestamps resolve to the later
// insertion.
func (l *IncidentLog) LatestPerSession(ctx context.Context) ([]models.Reading, error) {
	sub := l.db.Model(&models.Reading{}).Select("MAX(id)").Group("session_id")
	var rows []models.Reading
	err := l.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	return rows, err
}
