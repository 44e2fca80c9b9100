package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTickInterval is how often schedules are evaluated.
	DefaultTickInterval = time.Minute
	// DefaultTolerance is the half-width of the firing window around a
	// slot. A tick landing inside the window fires the digest; the
	// window also bounds the at-most-once guard.
	DefaultTolerance = 5 * time.Minute
)

// User identifies a digest recipient.
type User struct {
	ID        int64
	ChatID    int64
	BatchSize int
}

// Directory lists digest recipients and their schedules. *store.Store
// satisfies it.
type Directory interface {
	ActiveUsers(ctx context.Context) ([]User, error)
	DigestSchedule(ctx context.Context, userID int64) (DigestSchedule, bool, error)
	MarkDigestFired(ctx context.Context, userID int64, at time.Time) error
}

// Dispatcher builds and delivers one user's digest.
type Dispatcher interface {
	Dispatch(ctx context.Context, user User) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, user User) error

func (f DispatcherFunc) Dispatch(ctx context.Context, user User) error { return f(ctx, user) }

// Scheduler evaluates every enabled schedule on a fixed tick and fires
// each at most once per slot window.
type Scheduler struct {
	dir      Directory
	dispatch Dispatcher
	log      logrus.FieldLogger

	tick      time.Duration
	tolerance time.Duration
	now       func() time.Time
}

// NewScheduler builds a scheduler; zero tick or tolerance selects the
// defaults.
func NewScheduler(dir Directory, dispatch Dispatcher, log logrus.FieldLogger, tick, tolerance time.Duration) *Scheduler {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Scheduler{
		dir:       dir,
		dispatch:  dispatch,
		log:       log,
		tick:      tick,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Run ticks until the context is cancelled. The first evaluation
// happens after one tick interval, not immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates all active users once. A failing user is logged and
// skipped so one broken schedule never starves the rest.
func (s *Scheduler) Tick(ctx context.Context) {
	users, err := s.dir.ActiveUsers(ctx)
	if err != nil {
		s.log.WithError(err).Error("list digest users")
		return
	}

	now := s.now()
	for _, u := range users {
		if err := s.evaluate(ctx, u, now); err != nil {
			s.log.WithError(err).WithField("user", u.ID).Warn("digest evaluation failed")
		}
	}
}

func (s *Scheduler) evaluate(ctx context.Context, u User, now time.Time) error {
	sched, ok, err := s.dir.DigestSchedule(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if !ok || !sched.Enabled {
		return nil
	}

	slot, due := s.due(sched, now)
	if !due {
		return nil
	}
	// At-most-once per slot: a fire recorded inside the current window
	// suppresses re-delivery on later ticks of the same window.
	if !sched.LastFiredAt.IsZero() && !sched.LastFiredAt.Before(slot.Add(-s.tolerance)) {
		return nil
	}

	if err := s.dispatch.Dispatch(ctx, u); err != nil {
		return fmt.Errorf("dispatch digest: %w", err)
	}
	if err := s.dir.MarkDigestFired(ctx, u.ID, now); err != nil {
		return fmt.Errorf("record digest fire: %w", err)
	}
	s.log.WithField("user", u.ID).WithField("slot", sched.TimeOfDay).Info("digest delivered")
	return nil
}

// due reports whether now falls inside the schedule's firing window and
// returns the slot instant the window is centered on.
func (s *Scheduler) due(sched DigestSchedule, now time.Time) (time.Time, bool) {
	if !sched.matchesWeekday(now.Weekday()) {
		return time.Time{}, false
	}
	slot := sched.slotAt(now)
	diff := now.Sub(slot)
	if diff < 0 {
		diff = -diff
	}
	return slot, diff <= s.tolerance
}

// RunNow dispatches a user's digest immediately, bypassing the schedule
// check. It deliberately does not record a fire, so the next scheduled
// slot still delivers.
func (s *Scheduler) RunNow(ctx context.Context, userID int64) error {
	users, err := s.dir.ActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("list digest users: %w", err)
	}
	for _, u := range users {
		if u.ID == userID {
			return s.dispatch.Dispatch(ctx, u)
		}
	}
	return fmt.Errorf("user %d not found", userID)
}
