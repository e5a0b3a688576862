package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/zaqqye/proctor_backend_v1/internal/models"
	"github.com/zaqqye/proctor_backend_v1/internal/oracle"
	"github.com/zaqqye/proctor_backend_v1/internal/store"
)

var (
	// ErrSessionClosed means the session is terminal; the caller must stop
	// probing. It is never retriable.
	ErrSessionClosed = store.ErrSessionClosed

	// ErrAssessmentFailed wraps an oracle failure. The engine mutated
	// nothing and persisted nothing; a retried probe starts clean.
	ErrAssessmentFailed = errors.New("assessment failed")

	// ErrPersistence means the reading could not be stored. In-memory
	// counters are not committed either, so the caller must not treat the
	// attempt as applied.
	ErrPersistence = errors.New("persistence failure")

	// ErrUnknownSession is returned by administrative operations targeting
	// a session that never produced a reading.
	ErrUnknownSession = errors.New("unknown session")
)

// Assessor produces a risk fragment for one frame. Implemented by
// oracle.Client; tests swap in fakes.
type Assessor interface {
	Assess(ctx context.Context, image string, tabSwitches int) (oracle.Fragment, error)
}

// Log is the slice of the incident log the engine needs.
type Log interface {
	Insert(ctx context.Context, r *models.Reading) error
	LastBySession(ctx context.Context, sessionID string) (*models.Reading, error)
}

// Notifier observes accepted readings (live reviewer hub). May be nil.
type Notifier interface {
	ReadingAccepted(r *models.Reading)
}

// Engine owns the per-session escalation state machine. It is the sole
// writer of exam_terminated: a session terminates when its warning count or
// its tab-switch count reaches the configured limit, and never leaves that
// state.
type Engine struct {
	log      Log
	assessor Assessor
	notifier Notifier
	logger   *zap.SugaredLogger

	maxWarnings    int
	maxTabSwitches int

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState is the owned, versioned record for one session. All access
// goes through its mutex so concurrent probes for the same session cannot
// race the read-modify-write of the counters.
type sessionState struct {
	mu          sync.Mutex
	hydrated    bool
	seenRow     bool
	warnings    int
	tabSwitches int
	terminated  bool
	lastRisk    models.RiskLevel
	lastScore   int
	studentID   string
	examID      string
}

type Options struct {
	MaxWarnings    int
	MaxTabSwitches int
	Notifier       Notifier
	Logger         *zap.SugaredLogger
}

func New(log Log, assessor Assessor, opts Options) *Engine {
	if opts.MaxWarnings <= 0 {
		opts.MaxWarnings = 3
	}
	if opts.MaxTabSwitches <= 0 {
		opts.MaxTabSwitches = 3
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Engine{
		log:            log,
		assessor:       assessor,
		notifier:       opts.Notifier,
		logger:         opts.Logger,
		maxWarnings:    opts.MaxWarnings,
		maxTabSwitches: opts.MaxTabSwitches,
		sessions:       make(map[string]*sessionState),
	}
}

// RecordRequest is one probe from the client.
type RecordRequest struct {
	SessionID   string
	StudentID   string
	ExamID      string
	Image       string
	TabSwitches int // client-reported cumulative count, reconciled take-max
}

// RecordReading runs one probe through the state machine and persists the
// resulting reading. Nothing is committed — not even in memory — unless the
// row was stored.
func (e *Engine) RecordReading(ctx context.Context, req RecordRequest) (*models.Reading, error) {
	st := e.state(req.SessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := e.hydrateLocked(ctx, st, req.SessionID); err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}
	if st.terminated {
		return nil, ErrSessionClosed
	}

	// Server count is authoritative; a lower client report (restart,
	// under-reporting) never decreases it.
	tabSwitches := st.tabSwitches
	if req.TabSwitches > tabSwitches {
		tabSwitches = req.TabSwitches
	}

	frag, err := e.assessor.Assess(ctx, req.Image, tabSwitches)
	if err != nil {
		return nil, errors.Join(ErrAssessmentFailed, err)
	}

	warnings := st.warnings
	if frag.RiskLevel.Risky() {
		warnings++
	}
	terminated := warnings >= e.maxWarnings || tabSwitches >= e.maxTabSwitches

	studentID := req.StudentID
	if studentID == "" {
		studentID = st.studentID
	}
	examID := req.ExamID
	if examID == "" {
		examID = st.examID
	}

	r := &models.Reading{
		SessionID:      req.SessionID,
		StudentID:      studentID,
		ExamID:         examID,
		FaceStatus:     frag.FaceStatus,
		FaceCount:      frag.FaceCount,
		HeadDirection:  frag.HeadDirection,
		LookingAway:    frag.LookingAway,
		CheatingScore:  frag.CheatingScore,
		RiskLevel:      frag.RiskLevel,
		TabSwitches:    tabSwitches,
		Warnings:       warnings,
		ExamTerminated: terminated,
	}
	if err := e.log.Insert(ctx, r); err != nil {
		if errors.Is(err, store.ErrSessionClosed) {
			st.terminated = true
			return nil, ErrSessionClosed
		}
		return nil, errors.Join(ErrPersistence, err)
	}

	st.seenRow = true
	st.warnings = warnings
	st.tabSwitches = tabSwitches
	st.terminated = terminated
	st.lastRisk = frag.RiskLevel
	st.lastScore = frag.CheatingScore
	st.studentID = studentID
	st.examID = examID

	if terminated {
		e.logger.Infow("session terminated",
			"session_id", req.SessionID,
			"warnings", warnings,
			"tab_switches", tabSwitches,
		)
	}
	if e.notifier != nil {
		e.notifier.ReadingAccepted(r)
	}
	return r, nil
}

// Terminate is the administrative override. It appends a terminal reading
// carrying the session's last known counters. Terminating an already
// terminated session is a no-op that returns the existing terminal state.
func (e *Engine) Terminate(ctx context.Context, sessionID string) (*models.Reading, bool, error) {
	st := e.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := e.hydrateLocked(ctx, st, sessionID); err != nil {
		return nil, false, errors.Join(ErrPersistence, err)
	}
	if !st.hydratedFromRow() {
		return nil, false, ErrUnknownSession
	}
	if st.terminated {
		last, err := e.log.LastBySession(ctx, sessionID)
		if err != nil {
			return nil, false, errors.Join(ErrPersistence, err)
		}
		return last, false, nil
	}

	r := &models.Reading{
		SessionID:      sessionID,
		StudentID:      st.studentID,
		ExamID:         st.examID,
		FaceStatus:     models.FaceStatusWaiting,
		FaceCount:      0,
		HeadDirection:  models.HeadWaiting,
		LookingAway:    false,
		CheatingScore:  st.lastScore,
		RiskLevel:      st.lastRisk,
		TabSwitches:    st.tabSwitches,
		Warnings:       st.warnings,
		ExamTerminated: true,
	}
	if err := e.log.Insert(ctx, r); err != nil {
		if errors.Is(err, store.ErrSessionClosed) {
			st.terminated = true
			last, lastErr := e.log.LastBySession(ctx, sessionID)
			if lastErr != nil {
				return nil, false, errors.Join(ErrPersistence, lastErr)
			}
			return last, false, nil
		}
		return nil, false, errors.Join(ErrPersistence, err)
	}
	st.terminated = true

	e.logger.Infow("session terminated by override", "session_id", sessionID)
	if e.notifier != nil {
		e.notifier.ReadingAccepted(r)
	}
	return r, true, nil
}

func (e *Engine) state(sessionID string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{lastRisk: models.RiskSafe}
		e.sessions[sessionID] = st
	}
	return st
}

// hydrateLocked seeds the in-memory record from the session's latest
// persisted reading, so counters survive process restarts. Caller holds
// st.mu.
func (e *Engine) hydrateLocked(ctx context.Context, st *sessionState, sessionID string) error {
	if st.hydrated {
		return nil
	}
	last, err := e.log.LastBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if last != nil {
		st.warnings = last.Warnings
		st.tabSwitches = last.TabSwitches
		st.terminated = last.ExamTerminated
		st.lastRisk = last.RiskLevel
		st.lastScore = last.CheatingScore
		st.studentID = last.StudentID
		st.examID = last.ExamID
		st.seenRow = true
	}
	st.hydrated = true
	return nil
}

func (st *sessionState) hydratedFromRow() bool {
	return st.seenRow
}
