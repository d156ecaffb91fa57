// Package scheduler runs the periodic sync job and pauses it while the
// session is idle.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/drawwithfriends/go/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	// InactivityThreshold is how long without activity before ticks pause.
	InactivityThreshold = 5 * time.Second
	// TurnBasedPeriod is the tick period for turn-based rooms.
	TurnBasedPeriod = time.Second
	// SimultaneousPeriod is the tick period for simultaneous rooms.
	SimultaneousPeriod = 500 * time.Millisecond
)

var ticksTotal = metrics.NewCounter(
	"ticks_total",
	"scheduler",
	"Sync scheduler ticks by outcome",
	[]string{"scheduler", "result"},
)

// Activity tracks when the session last did something. It starts active.
type Activity struct {
	mu             sync.Mutex
	clock          clockwork.Clock
	threshold      time.Duration
	lastActivityAt time.Time
	active         bool
}

func NewActivity(clock clockwork.Clock, threshold time.Duration) *Activity {
	return &Activity{
		clock:          clock,
		threshold:      threshold,
		lastActivityAt: clock.Now(),
		active:         true,
	}
}

// MarkActivity records activity now and resumes ticking if paused.
func (a *Activity) MarkActivity() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActivityAt = a.clock.Now()
	if !a.active {
		a.active = true
		log.Debug().Msg("sync resumed")
	}
}

// Due is called once per tick. It reports whether the tick should do work,
// pausing once the idle time exceeds the threshold.
func (a *Activity) Due() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return false
	}
	idle := a.clock.Since(a.lastActivityAt)
	if idle > a.threshold {
		a.active = false
		log.Debug().Dur("idle", idle).Msg("sync paused for inactivity")
		return false
	}
	return true
}

func (a *Activity) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Activity) LastActivityAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivityAt
}

// Scheduler calls a job every period while its Activity is active.
type Scheduler struct {
	name     string
	clock    clockwork.Clock
	period   time.Duration
	activity *Activity

	fired   atomic.Int64
	skipped atomic.Int64
}

func New(name string, clock clockwork.Clock, period time.Duration, activity *Activity) *Scheduler {
	return &Scheduler{
		name:     name,
		clock:    clock,
		period:   period,
		activity: activity,
	}
}

// Run ticks until ctx is done. The ticker keeps running while paused; a
// paused tick costs one check.
func (s *Scheduler) Run(ctx context.Context, job func(ctx context.Context)) error {
	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()

	log.Info().
		Str("scheduler", s.name).
		Dur("period", s.period).
		Msg("sync scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("scheduler", s.name).Msg("sync scheduler stopped")
			return nil
		case <-ticker.Chan():
			if !s.activity.Due() {
				s.skipped.Add(1)
				ticksTotal.WithLabelValues(s.name, "skipped").Inc()
				continue
			}
			s.fired.Add(1)
			ticksTotal.WithLabelValues(s.name, "run").Inc()
			job(ctx)
		}
	}
}

func (s *Scheduler) Period() time.Duration {
	return s.period
}

// Fired is the number of ticks that ran the job.
func (s *Scheduler) Fired() int64 {
	return s.fired.Load()
}

// Skipped is the number of ticks skipped while paused.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}
