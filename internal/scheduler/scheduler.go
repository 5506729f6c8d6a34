// Package scheduler drives catalog re-evaluation: a fixed-interval timer
// while the app is foregrounded, plus route-change and foreground stimuli
// passed in by the host (inversion of control; the engine never observes OS
// lifecycle itself).
//
// Two throttles apply. An in-flight guard ensures at most one refresh cycle
// (fetch + evaluate) runs at a time; a stimulus arriving mid-cycle is
// dropped, not queued. A token-bucket limiter additionally absorbs
// route-change storms from rapid navigation.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-inapp-engine/internal/eligibility"
)

// RefreshFunc performs one full refresh cycle: fetch the catalog and hand it
// to the display coordinator under the given trigger context.
type RefreshFunc func(ctx context.Context, trig eligibility.TriggerContext)

// Scheduler owns the periodic timer and serializes refresh stimuli.
type Scheduler struct {
	interval time.Duration
	refresh  RefreshFunc
	limiter  *rate.Limiter
	log      zerolog.Logger

	inFlight atomic.Bool

	mu      sync.Mutex
	paused  bool
	started bool
	stop    chan struct{}
}

// New constructs a Scheduler. rps/burst bound route-change refreshes; the
// periodic interval and explicit foreground stimuli are not limited.
func New(interval time.Duration, rps float64, burst int, refresh RefreshFunc, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		refresh:  refresh,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		log:      log,
		paused:   true, // hosts call OnForeground once a display surface exists
	}
}

// Start launches the periodic loop. It is idempotent; the loop runs until
// Stop is called or ctx is canceled. Ticks while paused are ignored.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if s.isPaused() {
					continue
				}
				s.runOnce(ctx, eligibility.RouteChange())
			}
		}
	}()
}

// Stop halts the periodic loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		close(s.stop)
		s.started = false
	}
}

// Pause suspends periodic refreshes entirely (app backgrounded). In-flight
// work is not interrupted.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.log.Debug().Msg("scheduler paused")
}

// Resume re-enables periodic refreshes (app foregrounded).
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.log.Debug().Msg("scheduler resumed")
}

// OnForeground resumes the timer and runs an immediate re-evaluation of the
// current route.
func (s *Scheduler) OnForeground(ctx context.Context) bool {
	s.Resume()
	return s.runOnce(ctx, eligibility.RouteChange())
}

// OnBackground suspends the timer to avoid wasted network calls.
func (s *Scheduler) OnBackground() {
	s.Pause()
}

// OnRouteChange requests a re-evaluation for a navigation event, subject to
// the burst limiter and the in-flight guard. The return value reports
// whether a refresh cycle actually started.
func (s *Scheduler) OnRouteChange(ctx context.Context) bool {
	if s.isPaused() {
		return false
	}
	if !s.limiter.Allow() {
		s.log.Debug().Msg("route-change refresh throttled")
		return false
	}
	return s.runOnce(ctx, eligibility.RouteChange())
}

// OnCustomTrigger requests a re-evaluation for a named custom event. Custom
// triggers are host-initiated and deliberate, so only the in-flight guard
// applies.
func (s *Scheduler) OnCustomTrigger(ctx context.Context, key string) bool {
	return s.runOnce(ctx, eligibility.CustomEvent(key))
}

// runOnce executes one refresh cycle unless one is already in flight.
func (s *Scheduler) runOnce(ctx context.Context, trig eligibility.TriggerContext) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Debug().Str("trigger", string(trig.Kind)).Msg("refresh already in flight, dropping stimulus")
		return false
	}
	defer s.inFlight.Store(false)
	s.refresh(ctx, trig)
	return true
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}
