package engine

import (
	"context"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
)

// MidnightTimerTask is the day-rollover event source from spec §5: a wall-
// clock poll independent of candle arrival, so midnight_balance reflects
// equity AT 00:00 UTC rather than whenever a pair's next bar happens to
// close (a daily-timeframe pair might not tick again for hours).
type MidnightTimerTask struct {
	engine   *Engine
	clock    core.Clock
	interval time.Duration

	lastDay int64
}

// NewMidnightTimerTask builds a timer bound to engine. interval is how
// often it checks the clock for a day change; interval <= 0 defaults to one
// minute, far finer than the one-day period it's watching for.
func NewMidnightTimerTask(engine *Engine, clock core.Clock, interval time.Duration) *MidnightTimerTask {
	if clock == nil {
		clock = core.RealClock{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &MidnightTimerTask{
		engine:   engine,
		clock:    clock,
		interval: interval,
		lastDay:  daysSinceEpoch(clock.Now()),
	}
}

// Run blocks, polling on interval until ctx is cancelled. The first poll
// establishes a baseline day (in the constructor); the midnight_balance for
// the day already under way is left to whatever snapshot preceded engine
// startup, same as the teacher's own first-tick-of-the-process convention.
func (t *MidnightTimerTask) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkRollover()
		}
	}
}

func (t *MidnightTimerTask) checkRollover() {
	now := t.clock.Now()
	day := daysSinceEpoch(now)
	if day == t.lastDay {
		return
	}
	t.lastDay = day
	t.engine.captureMidnightBalance(now)
}
