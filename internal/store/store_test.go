package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zaqqye/proctor_backend_v1/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Reading{}, &models.SessionFlag{}))
	return db
}

func reading(sessionID string, risk models.RiskLevel, warnings, tabs int, terminated bool) *models.Reading {
	return &models.Reading{
		SessionID:      sessionID,
		StudentID:      "student-1",
		ExamID:         "exam-1",
		FaceStatus:     models.FaceStatusSingle,
		FaceCount:      1,
		HeadDirection:  models.HeadCenter,
		CheatingScore:  10,
		RiskLevel:      risk,
		Warnings:       warnings,
		TabSwitches:    tabs,
		ExamTerminated: terminated,
	}
}

func TestInsertAssignsTimestamp(t *testing.T) {
	log := NewIncidentLog(openTestDB(t))
	ctx := context.Background()

	r := reading("s1", models.RiskSafe, 0, 0, false)
	require.NoError(t, log.Insert(ctx, r))
	assert.False(t, r.CreatedAt.IsZero())
}

func TestInsertRejectsClosedSession(t *testing.T) {
	log := NewIncidentLog(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, log.Insert(ctx, reading("s1", models.RiskSafe, 0, 0, false)))
	require.NoError(t, log.Insert(ctx, reading("s1", models.RiskHighRisk, 3, 0, true)))

	err := log.Insert(ctx, reading("s1", models.RiskSafe, 3, 0, false))
	assert.ErrorIs(t, err, ErrSessionClosed)

	// The rejected row left no trace.
	rows, err := log.ListBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Other sessions are unaffected.
	require.NoError(t, log.Insert(ctx, reading("s2", models.RiskSafe, 0, 0, false)))
}

func TestInsertClampsTimestampsPerSession(t *testing.T) {
	log := NewIncidentLog(openTestDB(t))
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	first := reading("s1", models.RiskSafe, 0, 0, false)
	first.CreatedAt = future
	require.NoError(t, log.Insert(ctx, first))

	// A wall-clock step backwards must not reorder the session.
	second := reading("s1", models.RiskSafe, 0, 1, false)
	require.NoError(t, log.Insert(ctx, second))
	assert.False(t, second.CreatedAt.Before(first.CreatedAt))
}

func TestListBySessionOrdersOldestFirst(t *testing.T) {
	log := NewIncidentLog(openTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, log.Insert(ctx, reading("s1", models.RiskSafe, 0, i, false)))
	}
	require.NoError(t, log.Insert(ctx, reading("other", models.RiskSafe, 0, 0, false)))

	rows, err := log.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, i, r.TabSwitches)
		if i > 0 {
			assert.False(t, r.CreatedAt.Before(rows[i-1].CreatedAt))
			assert.Greater(t, r.ID, rows[i-1].ID)
		}
	}
}

func TestEachBySessionWalksInOrder(t *testing.T) {
	log := NewIncidentLog(openTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Insert(ctx, reading("s1", models.RiskSafe, 0, i, false)))
	}

	var seen []int
	require.NoError(t, log.EachBySession(ctx, "s1", func(r models.Reading) error {
		seen = append(seen, r.TabSwitches)
		return nil
	}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestLastBySessionNilWhenEmpty(t *testing.T) {
	log := NewIncidentLog(openTestDB(t))

	last, err := log.LastBySession(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestLatestPerSessionTieBreaksOnInsertionOrder(t *testing.T) {
	log := NewIncidentLog(openTestDB(t))
	ctx := context.Background()

	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	early := reading("s1", models.RiskSafe, 0, 0, false)
	early.CreatedAt = ts.Add(-time.Minute)
	require.NoError(t, log.Insert(ctx, early))

	// Two rows for s2 with identical timestamps: the later insertion wins.
	firstTie := reading("s2", models.RiskSafe, 1, 0, false)
	firstTie.CreatedAt = ts
	require.NoError(t, log.Insert(ctx, firstTie))

	secondTie := reading("s2", models.RiskSuspicious, 2, 0, false)
	secondTie.CreatedAt = ts
	require.NoError(t, log.Insert(ctx, secondTie))

	latest, err := log.LatestPerSession(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	// Newest session first (T2 > T1).
	assert.Equal(t, "s2", latest[0].SessionID)
	assert.Equal(t, 2, latest[0].Warnings)
	assert.Equal(t, models.RiskSuspicious, latest[0].RiskLevel)
	assert.Equal(t, "s1", latest[1].SessionID)
}
