package probe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/zaqqye/proctor_backend_v1/internal/models"
)

var (
	// ErrWebcamUnavailable halts the loop entirely; it is surfaced to the
	// user and never retried automatically.
	ErrWebcamUnavailable = errors.New("webcam unavailable")

	// ErrSessionTerminated is reported by the recorder when the server
	// refuses further readings for the session.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrAlreadyRunning is returned by Start on a running loop.
	ErrAlreadyRunning = errors.New("probe loop already running")
)

// FrameSource captures one encoded still image per call.
type FrameSource interface {
	Capture() (string, error)
}

// Sample is one probe sent to the server.
type Sample struct {
	SessionID   string
	StudentID   string
	ExamID      string
	Image       string
	TabSwitches int
}

// Recorder submits a sample and returns the server's authoritative reading.
type Recorder interface {
	Record(ctx context.Context, sample Sample) (*models.Reading, error)
}

// Status is the client's local mirror. Counters come from the last server
// response and are advisory only; they are overwritten on every response
// and never pushed back as authoritative.
type Status struct {
	FaceStatus    models.FaceStatus
	FaceCount     int
	HeadDirection models.HeadDirection
	LookingAway   bool
	CheatingScore int
	RiskLevel     models.RiskLevel
	Warnings      int
	TabSwitches   int
	Terminated    bool
	Halted        bool
	LastError     string
}

type Config struct {
	SessionID string
	StudentID string
	ExamID    string

	Interval time.Duration // probe cadence, default 3s
	Debounce time.Duration // focus-loss collapse window, default 1s

	Clock    clock.Clock
	Logger   *zap.SugaredLogger
	OnUpdate func(Status) // called after every state change, may be nil
}

// Loop is the single-threaded cooperative probe scheduler: one probe per
// tick, never more than one in flight, paused for good on termination and
// on unrecoverable camera failure.
type Loop struct {
	cfg      Config
	source   FrameSource
	recorder Recorder
	clock    clock.Clock
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	status    Status
	localTabs int       // client-side focus-loss tally
	lastFocus time.Time // last counted focus-loss event
	running   bool
	stop      chan struct{}
	stopOnce  *sync.Once
	done      chan struct{}
}

func NewLoop(source FrameSource, recorder Recorder, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Loop{
		cfg:      cfg,
		source:   source,
		recorder: recorder,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		status: Status{
			FaceStatus:    models.FaceStatusWaiting,
			HeadDirection: models.HeadWaiting,
			RiskLevel:     models.RiskSafe,
		},
	}
}

// Start begins monitoring. ctx bounds individual probe calls but Stop is
// the way to end the loop: an in-flight probe is allowed to complete and
// its result is applied.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	if l.status.Terminated || l.status.Halted {
		l.mu.Unlock()
		return ErrSessionTerminated
	}
	l.running = true
	l.stop = make(chan struct{})
	l.stopOnce = &sync.Once{}
	l.done = make(chan struct{})
	stop, done := l.stop, l.done
	l.mu.Unlock()

	go l.run(ctx, stop, done)
	return nil
}

// Stop cancels the pending timer immediately. It does not cancel a probe
// already dispatched; that result is still applied.
func (l *Loop) Stop() {
	l.mu.Lock()
	stopOnce, stop := l.stopOnce, l.stop
	l.mu.Unlock()
	if stopOnce == nil {
		return
	}
	stopOnce.Do(func() { close(stop) })
}

// Wait blocks until the loop goroutine exits.
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

// FocusLost registers a tab-switch/window-blur event. Events within the
// debounce window of the previous counted event collapse to one increment,
// so a blur and a visibility change fired by the same user action count
// once.
func (l *Loop) FocusLost() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if !l.lastFocus.IsZero() && now.Sub(l.lastFocus) < l.cfg.Debounce {
		return
	}
	l.lastFocus = now
	l.localTabs++
	// Optimistic local render; the next server response overwrites it.
	if l.localTabs > l.status.TabSwitches {
		l.status.TabSwitches = l.localTabs
	}
	l.notifyLocked()
}

// Snapshot returns the current local mirror.
func (l *Loop) Snapshot() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Loop) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	ticker := l.clock.Ticker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The probe runs synchronously on this goroutine, so a slow
			// round trip can never overlap the next one.
			if halted := l.probeOnce(ctx); halted {
				return
			}
		}
	}
}

// probeOnce captures a frame, submits it and applies the server's response.
// Returns true when the loop must pause for good.
func (l *Loop) probeOnce(ctx context.Context) bool {
	image, err := l.source.Capture()
	if err != nil {
		if errors.Is(err, ErrWebcamUnavailable) {
			l.logger.Errorw("camera acquisition failed, monitoring halted", "error", err)
			l.mu.Lock()
			l.status.Halted = true
			l.status.LastError = err.Error()
			l.notifyLocked()
			l.mu.Unlock()
			return true
		}
		l.setTransientError(err)
		return false
	}

	l.mu.Lock()
	sample := Sample{
		SessionID:   l.cfg.SessionID,
		StudentID:   l.cfg.StudentID,
		ExamID:      l.cfg.ExamID,
		Image:       image,
		TabSwitches: l.localTabs,
	}
	l.mu.Unlock()

	reading, err := l.recorder.Record(ctx, sample)
	if err != nil {
		if errors.Is(err, ErrSessionTerminated) {
			l.logger.Infow("server closed the session, monitoring stopped", "session_id", l.cfg.SessionID)
			l.mu.Lock()
			l.status.Terminated = true
			l.status.Halted = true
			l.status.LastError = ""
			l.notifyLocked()
			l.mu.Unlock()
			return true
		}
		// Transient fault: keep last-known metrics on screen, retry on the
		// next tick. No backoff, and failures never terminate a session.
		l.setTransientError(err)
		return false
	}

	l.mu.Lock()
	// Server truth overwrites the local mirror unconditionally.
	l.status = Status{
		FaceStatus:    reading.FaceStatus,
		FaceCount:     reading.FaceCount,
		HeadDirection: reading.HeadDirection,
		LookingAway:   reading.LookingAway,
		CheatingScore: reading.CheatingScore,
		RiskLevel:     reading.RiskLevel,
		Warnings:      reading.Warnings,
		TabSwitches:   reading.TabSwitches,
		Terminated:    reading.ExamTerminated,
	}
	if reading.TabSwitches > l.localTabs {
		l.localTabs = reading.TabSwitches
	}
	halted := reading.ExamTerminated
	if halted {
		l.status.Halted = true
	}
	l.notifyLocked()
	l.mu.Unlock()
	return halted
}

func (l *Loop) setTransientError(err error) {
	l.logger.Warnw("probe failed, will retry next tick", "error", err)
	l.mu.Lock()
	l.status.LastError = err.Error()
	l.notifyLocked()
	l.mu.Unlock()
}

func (l *Loop) notifyLocked() {
	if l.cfg.OnUpdate != nil {
		l.cfg.OnUpdate(l.status)
	}
}

// Notice translates the monotonic warning counter into the user-facing
// escalation ladder.
func Notice(warnings int) string {
	switch {
	case warnings <= 0:
		return ""
	case warnings == 1:
		return "Warning 1: suspicious activity detected"
	case warnings == 2:
		return "Final warning: further suspicious activity will terminate the exam"
	default:
		return "Exam terminated due to suspicious activity"
	}
}
