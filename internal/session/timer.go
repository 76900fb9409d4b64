package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Scheduler arms a one-shot countdown per room and fires a forced reveal
// when it expires, so a round cannot stall forever on a missing admin.
// A zero round duration disables it entirely.
type Scheduler struct {
	clock    clockwork.Clock
	duration time.Duration
	fire     func(code string)

	mu     sync.Mutex
	timers map[string]*roomTimer
}

// roomTimer pairs a countdown with its stop channel. Closing stop releases
// the armed goroutine; it is closed at most once, under the scheduler lock,
// by whichever of Disarm or a re-arm retires the entry.
type roomTimer struct {
	timer clockwork.Timer
	stop  chan struct{}
}

// NewScheduler creates a Scheduler that calls fire(code) when a room's round
// timer expires. In production, use clockwork.NewRealClock(); tests inject a
// FakeClock.
func NewScheduler(clock clockwork.Clock, duration time.Duration, fire func(code string)) *Scheduler {
	return &Scheduler{
		clock:    clock,
		duration: duration,
		fire:     fire,
		timers:   make(map[string]*roomTimer),
	}
}

// Enabled reports whether rounds are timed at all.
func (s *Scheduler) Enabled() bool {
	return s.duration > 0
}

// Arm starts (or restarts) the countdown for a room's current round. Any
// existing timer for the room is cancelled first.
func (s *Scheduler) Arm(ctx context.Context, code string) {
	if !s.Enabled() {
		return
	}

	rt := &roomTimer{
		timer: s.clock.NewTimer(s.duration),
		stop:  make(chan struct{}),
	}
	s.replaceTimer(code, rt)

	go func() {
		select {
		case <-rt.timer.Chan():
			s.removeTimer(code, rt)
			// A Disarm racing the expiry wins; the round was torn down.
			select {
			case <-rt.stop:
				return
			default:
			}
			log.Debug().Str("room_code", code).Msg("round timer expired, forcing reveal")
			s.fire(code)
		case <-rt.stop:
		case <-ctx.Done():
			stopAndDrainTimer(rt.timer)
			s.removeTimer(code, rt)
		}
	}()

	log.Debug().
		Str("room_code", code).
		Dur("duration", s.duration).
		Msg("round timer armed")
}

// Disarm cancels the room's countdown, if any. Called on pause, on session
// completion, and when the last connection leaves.
func (s *Scheduler) Disarm(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, ok := s.timers[code]; ok {
		retire(rt)
		delete(s.timers, code)
		log.Debug().Str("room_code", code).Msg("round timer disarmed")
	}
}

// replaceTimer swaps in a new timer for the room, retiring any existing one
// under the same lock so no stale timer can slip between stop and store.
func (s *Scheduler) replaceTimer(code string, rt *roomTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[code]; ok {
		retire(existing)
	}
	s.timers[code] = rt
}

// removeTimer drops the entry only if rt still owns it, so a fired or
// cancelled timer never evicts its replacement.
func (s *Scheduler) removeTimer(code string, rt *roomTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[code]; ok && cur == rt {
		delete(s.timers, code)
	}
}

func retire(rt *roomTimer) {
	stopAndDrainTimer(rt.timer)
	close(rt.stop)
}

// stopAndDrainTimer stops a timer and drains its channel if it already
// fired, per the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
