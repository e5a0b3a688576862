package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/zaqqye/proctor_backend_v1/internal/models"
	"github.com/zaqqye/proctor_backend_v1/internal/store"
)

// ErrNotFound means the session has no readings.
var ErrNotFound = errors.New("session not found")

// Summary is one reviewer-list row, derived from a session's latest reading
// plus its flags. Never stored.
type Summary struct {
	SessionID      string                `json:"session_id"`
	StudentID      string                `json:"student_id"`
	ExamID         string                `json:"exam_id"`
	Status         models.SessionStatus  `json:"status"`
	RiskLevel      models.RiskLevel      `json:"risk_level"`
	CheatingScore  int                   `json:"cheating_score"`
	Warnings       int                   `json:"warnings"`
	TabSwitches    int                   `json:"tab_switches"`
	ExamTerminated bool                  `json:"exam_terminated"`
	Flagged        bool                  `json:"flagged"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Detail is the single-session reviewer view: the summary plus the full
// ordered timeline.
type Detail struct {
	Summary  Summary              `json:"summary"`
	Readings []models.Reading     `json:"readings"`
	Flags    []models.SessionFlag `json:"flags"`
}

// ListFilter narrows and orders the reviewer list.
type ListFilter struct {
	ExamID    string
	StudentID string
	Status    models.SessionStatus
	Risk      models.RiskLevel
	SortBy    string // updated_at | cheating_score | warnings | tab_switches
	SortDir   string // ASC | DESC
}

// Registry derives per-session summaries from the incident log. It never
// writes readings; its only writes are session flags.
type Registry struct {
	db  *gorm.DB
	log *store.IncidentLog
}

func New(db *gorm.DB, log *store.IncidentLog) *Registry {
	return &Registry{db: db, log: log}
}

// ListSessions returns one summary per session that has at least one
// reading, filtered and sorted for the reviewer list.
func (g *Registry) ListSessions(ctx context.Context, f ListFilter) ([]Summary, error) {
	latest, err := g.log.LatestPerSession(ctx)
	if err != nil {
		return nil, err
	}
	flags, err := g.flagIndex(ctx)
	if err != nil {
		return nil, err
	}

	summaries := lo.Map(latest, func(r models.Reading, _ int) Summary {
		return summarize(r, flags[r.SessionID])
	})
	summaries = lo.Filter(summaries, func(s Summary, _ int) bool {
		if f.ExamID != "" && s.ExamID != f.ExamID {
			return false
		}
		if f.StudentID != "" && s.StudentID != f.StudentID {
			return false
		}
		if f.Status != "" && s.Status != f.Status {
			return false
		}
		if f.Risk != "" && s.RiskLevel != f.Risk {
			return false
		}
		return true
	})
	sortSummaries(summaries, f.SortBy, f.SortDir)
	return summaries, nil
}

// GetSession returns the derived summary plus the ordered timeline.
func (g *Registry) GetSession(ctx context.Context, sessionID string) (*Detail, error) {
	last, err := g.log.LastBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrNotFound
	}
	readings, err := g.log.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var flags []models.SessionFlag
	if err := g.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&flags).Error; err != nil {
		return nil, err
	}
	return &Detail{
		Summary:  summarize(*last, flags),
		Readings: readings,
		Flags:    flags,
	}, nil
}

// Flag records a reviewer annotation. A second "completed" flag for the same
// session is a no-op; "flagged" entries stack.
func (g *Registry) Flag(ctx context.Context, sessionID, kind, reason, createdBy string) (*models.SessionFlag, error) {
	last, err := g.log.LastBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrNotFound
	}
	if kind == models.FlagKindCompleted {
		var count int64
		if err := g.db.WithContext(ctx).Model(&models.SessionFlag{}).
			Where("session_id = ? AND kind = ?", sessionID, kind).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, nil
		}
	}
	flag := &models.SessionFlag{
		SessionID: sessionID,
		Kind:      kind,
		Reason:    reason,
		CreatedBy: createdBy,
	}
	if err := g.db.WithContext(ctx).Create(flag).Error; err != nil {
		return nil, err
	}
	return flag, nil
}

func (g *Registry) flagIndex(ctx context.Context) (map[string][]models.SessionFlag, error) {
	var flags []models.SessionFlag
	if err := g.db.WithContext(ctx).Find(&flags).Error; err != nil {
		return nil, err
	}
	return lo.GroupBy(flags, func(f models.SessionFlag) string { return f.SessionID }), nil
}

// summarize derives status: a terminal reading always wins, an explicit
// client stop shows COMPLETED, everything else is ACTIVE.
func summarize(r models.Reading, flags []models.SessionFlag) Summary {
	status := models.SessionActive
	if r.ExamTerminated {
		status = models.SessionTerminated
	} else if lo.ContainsBy(flags, func(f models.SessionFlag) bool { return f.Kind == models.FlagKindCompleted }) {
		status = models.SessionCompleted
	}
	return Summary{
		SessionID:      r.SessionID,
		StudentID:      r.StudentID,
		ExamID:         r.ExamID,
		Status:         status,
		RiskLevel:      r.RiskLevel,
		CheatingScore:  r.CheatingScore,
		Warnings:       r.Warnings,
		TabSwitches:    r.TabSwitches,
		ExamTerminated: r.ExamTerminated,
		Flagged:        lo.ContainsBy(flags, func(f models.SessionFlag) bool { return f.Kind == models.FlagKindFlagged }),
		UpdatedAt:      r.CreatedAt,
	}
}

func sortSummaries(rows []Summary, sortBy, sortDir string) {
	desc := !strings.EqualFold(sortDir, "ASC")
	less := func(a, b Summary) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	switch strings.ToLower(sortBy) {
	case "cheating_score":
		less = func(a, b Summary) bool { return a.CheatingScore < b.CheatingScore }
	case "warnings":
		less = func(a, b Summary) bool { return a.Warnings < b.Warnings }
	case "tab_switches":
		less = func(a, b Summary) bool { return a.TabSwitches < b.TabSwitches }
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if desc {
			return less(rows[j], rows[i])
		}
		return less(rows[i], rows[j])
	})
}
