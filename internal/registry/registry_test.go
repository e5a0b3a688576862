package registry

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
	"github.com/zaqqye/proctor_backend_v1/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.IncidentLog) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Reading{}, &models.SessionFlag{}))
	log := store.NewIncidentLog(db)
	return New(db, log), log
}

func insert(t *testing.T, log *store.IncidentLog, sessionID, examID string, risk models.RiskLevel, score, warnings, tabs int, terminated bool, at time.Time) {
	t.Helper()
	require.NoError(t, log.Insert(context.Background(), &models.Reading{
		SessionID:      sessionID,
		StudentID:      "student-" + sessionID,
		ExamID:         examID,
		FaceStatus:     models.FaceStatusSingle,
		FaceCount:      1,
		HeadDirection:  models.HeadCenter,
		CheatingScore:  score,
		RiskLevel:      risk,
		Warnings:       warnings,
		TabSwitches:    tabs,
		ExamTerminated: terminated,
		CreatedAt:      at,
	}))
}

func TestListSessionsDerivesLatestSummary(t *testing.T) {
	reg, log := newTestRegistry(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	insert(t, log, "s1", "exam-1", models.RiskSafe, 5, 0, 0, false, base)
	insert(t, log, "s1", "exam-1", models.RiskSuspicious, 40, 1, 2, false, base.Add(time.Minute))
	insert(t, log, "s2", "exam-1", models.RiskHighRisk, 80, 3, 0, true, base.Add(2*time.Minute))

	rows, err := reg.ListSessions(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Most recently updated first.
	assert.Equal(t, "s2", rows[0].SessionID)
	assert.Equal(t, models.SessionTerminated, rows[0].Status)
	assert.Equal(t, 80, rows[0].CheatingScore)

	assert.Equal(t, "s1", rows[1].SessionID)
	assert.Equal(t, models.SessionActive, rows[1].Status)
	assert.Equal(t, 1, rows[1].Warnings)
	assert.Equal(t, 2, rows[1].TabSwitches)
	assert.Equal(t, models.RiskSuspicious, rows[1].RiskLevel)
}

func TestListSessionsTimestampTieBreak(t *testing.T) {
	reg, log := newTestRegistry(t)
	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	// Same timestamp for both sessions' latest rows: the later-inserted
	// one sorts first. Risk level never participates in the tie-break.
	insert(t, log, "s1", "exam-1", models.RiskHighRisk, 90, 2, 0, false, ts)
	insert(t, log, "s2", "exam-1", models.RiskSafe, 5, 0, 0, false, ts)

	rows, err := reg.ListSessions(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "s2", rows[0].SessionID)
	assert.Equal(t, "s1", rows[1].SessionID)
}

func TestListSessionsFilters(t *testing.T) {
	reg, log := newTestRegistry(t)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	insert(t, log, "s1", "exam-1", models.RiskSafe, 5, 0, 0, false, base)
	insert(t, log, "s2", "exam-2", models.RiskHighRisk, 80, 3, 0, true, base.Add(time.Minute))
	insert(t, log, "s3", "exam-2", models.RiskSuspicious, 45, 1, 1, false, base.Add(2*time.Minute))

	rows, err := reg.ListSessions(context.Background(), ListFilter{ExamID: "exam-2"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = reg.ListSessions(context.Background(), ListFilter{Status: models.SessionTerminated})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s2", rows[0].SessionID)

	rows, err = reg.ListSessions(context.Background(), ListFilter{SortBy: "cheating_score", SortDir: "ASC"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{5, 45, 80}, []int{rows[0].CheatingScore, rows[1].CheatingScore, rows[2].CheatingScore})
}

func TestCompletedFlagOverlay(t *testing.T) {
	reg, log := newTestRegistry(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	insert(t, log, "done", "exam-1", models.RiskSafe, 5, 0, 0, false, base)
	insert(t, log, "busted", "exam-1", models.RiskHighRisk, 90, 3, 0, true, base.Add(time.Minute))

	_, err := reg.Flag(ctx, "done", models.FlagKindCompleted, "", "reviewer@example.com")
	require.NoError(t, err)
	// A terminal reading always wins over a completed flag.
	_, err = reg.Flag(ctx, "busted", models.FlagKindCompleted, "", "reviewer@example.com")
	require.NoError(t, err)

	rows, err := reg.ListSessions(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.SessionTerminated, rows[0].Status)
	assert.Equal(t, models.SessionCompleted, rows[1].Status)
}

func TestFlagBehavior(t *testing.T) {
	reg, log := newTestRegistry(t)
	ctx := context.Background()

	insert(t, log, "s1", "exam-1", models.RiskSafe, 5, 0, 0, false, time.Now().UTC())

	// Unknown sessions cannot be flagged.
	_, err := reg.Flag(ctx, "ghost", models.FlagKindFlagged, "sus", "a@b.c")
	assert.ErrorIs(t, err, ErrNotFound)

	f1, err := reg.Flag(ctx, "s1", models.FlagKindFlagged, "looked away a lot", "a@b.c")
	require.NoError(t, err)
	require.NotNil(t, f1)

	// flagged entries stack; completed dedupes.
	f2, err := reg.Flag(ctx, "s1", models.FlagKindFlagged, "second opinion", "d@e.f")
	require.NoError(t, err)
	require.NotNil(t, f2)

	c1, err := reg.Flag(ctx, "s1", models.FlagKindCompleted, "", "a@b.c")
	require.NoError(t, err)
	require.NotNil(t, c1)
	c2, err := reg.Flag(ctx, "s1", models.FlagKindCompleted, "", "a@b.c")
	require.NoError(t, err)
	assert.Nil(t, c2)

	detail, err := reg.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, detail.Flags, 3)
	assert.True(t, detail.Summary.Flagged)
	assert.Equal(t, models.SessionCompleted, detail.Summary.Status)
}

func TestGetSessionTimeline(t *testing.T) {
	reg, log := newTestRegistry(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		insert(t, log, "s1", "exam-1", models.RiskSafe, i * 10, 0, i, false, base.Add(time.Duration(i)*time.Minute))
	}

	detail, err := reg.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, detail.Readings, 4)
	for i, r := range detail.Readings {
		assert.Equal(t, i, r.TabSwitches)
	}
	assert.Equal(t, 3, detail.Summary.TabSwitches)
	assert.Equal(t, 30, detail.Summary.CheatingScore)

	_, err = reg.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
