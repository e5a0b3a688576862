package registry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Broadcaster receives the periodically re-derived summary list (the live
// reviewer hub).
type Broadcaster interface {
	SummariesRefreshed(summaries []Summary)
}

// Refresher polls the registry on a fixed cadence and pushes the result to
// the hub. It never coordinates with session mutation: a reviewer may see a
// session as ACTIVE for up to one interval after it terminated.
type Refresher struct {
	registry *Registry
	hub      Broadcaster
	interval time.Duration
	clock    clock.Clock
	logger   *zap.SugaredLogger
}

func NewRefresher(reg *Registry, hub Broadcaster, interval time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Refresher{
		registry: reg,
		hub:      hub,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

func (rf *Refresher) Run(ctx context.Context) {
	ticker := rf.clock.Ticker(rf.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summaries, err := rf.registry.ListSessions(ctx, ListFilter{})
			if err != nil {
				rf.logger.Warnw("registry refresh failed", "error", err)
				continue
			}
			rf.hub.SummariesRefreshed(summaries)
		}
	}
}
