package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	users     []User
	schedules map[int64]DigestSchedule
	schedErr  error
}

func (f *fakeDirectory) ActiveUsers(context.Context) ([]User, error) {
	return f.users, nil
}

func (f *fakeDirectory) DigestSchedule(_ context.Context, userID int64) (DigestSchedule, bool, error) {
	if f.schedErr != nil {
		return DigestSchedule{}, false, f.schedErr
	}
	s, ok := f.schedules[userID]
	return s, ok, nil
}

func (f *fakeDirectory) MarkDigestFired(_ context.Context, userID int64, at time.Time) error {
	s := f.schedules[userID]
	s.LastFiredAt = at
	f.schedules[userID] = s
	return nil
}

func newTestScheduler(dir *fakeDirectory, dispatched *int, dispatchErr error) (*Scheduler, *time.Time) {
	clock := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) // a Monday
	s := NewScheduler(dir, DispatcherFunc(func(context.Context, User) error {
		if dispatchErr != nil {
			return dispatchErr
		}
		*dispatched++
		return nil
	}), logrus.New(), 0, 0)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func dirWith(sched DigestSchedule) *fakeDirectory {
	return &fakeDirectory{
		users:     []User{{ID: 7, ChatID: 7, BatchSize: 10}},
		schedules: map[int64]DigestSchedule{7: sched},
	}
}

func TestTickFiresInsideWindowOnceThenNextDay(t *testing.T) {
	dir := dirWith(DigestSchedule{TimeOfDay: "09:00", Enabled: true})
	dispatched := 0
	s, clock := newTestScheduler(dir, &dispatched, nil)

	*clock = time.Date(2025, 3, 10, 9, 2, 0, 0, time.UTC)
	s.Tick(context.Background())
	assert.Equal(t, 1, dispatched, "tick inside the window fires")

	*clock = time.Date(2025, 3, 10, 9, 4, 0, 0, time.UTC)
	s.Tick(context.Background())
	assert.Equal(t, 1, dispatched, "same window does not re-fire")

	*clock = time.Date(2025, 3, 11, 9, 2, 0, 0, time.UTC)
	s.Tick(context.Background())
	assert.Equal(t, 2, dispatched, "next day's slot fires again")
}

func TestTickOutsideToleranceDoesNotFire(t *testing.T) {
	dir := dirWith(DigestSchedule{TimeOfDay: "09:00", Enabled: true})
	dispatched := 0
	s, clock := newTestScheduler(dir, &dispatched, nil)

	*clock = time.Date(2025, 3, 10, 9, 10, 0, 0, time.UTC)
	s.Tick(context.Background())
	assert.Zero(t, dispatched)

	*clock = time.Date(2025, 3, 10, 8, 50, 0, 0, time.UTC)
	s.Tick(context.Background())
	assert.Zero(t, dispatched)
}

func TestWeekdayRestriction(t *testing.T) {
	dir := dirWith(DigestSchedule{
		TimeOfDay: "09:00",
		Weekdays:  []time.Weekday{time.Tuesday, time.Thursday},
		Enabled:   true,
	})
	dispatched := 0
	s, clock := newTestScheduler(dir, &dispatched, nil)

	// Monday: not listed.
	*clock = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s.Tick(context.Background())
	assert.Zero(t, dispatched)

	// Tuesday: listed.
	*clock = time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	s.Tick(context.Background())
	assert.Equal(t, 1, dispatched)
}

func TestEmptyWeekdaysMeansEveryDay(t *testing.T) {
	dir := dirWith(DigestSchedule{TimeOfDay: "12:30", Enabled: true})
	dispatched := 0
	s, clock := newTestScheduler(dir, &dispatched, nil)

	for day := 10; day <= 12; day++ {
		*clock = time.Date(2025, 3, day, 12, 30, 0, 0, time.UTC)
		s.Tick(context.Background())
	}
	assert.Equal(t, 3, dispatched)
}

func TestDisabledScheduleNeverFires(t *testing.T) {
	dir := dirWith(DigestSchedule{TimeOfDay: "09:00", Enabled: false})
	dispatched := 0
	s, clock := newTestScheduler(dir, &dispatched, nil)

	*clock = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s.Tick(context.Background())
	assert.Zero(t, dispatched)
}

func TestDispatchFailureLeavesSlotUnfired(t *testing.T) {
	dir := dirWith(DigestSchedule{TimeOfDay: "09:00", Enabled: true})
	dispatched := 0
	s, clock := newTestScheduler(dir, &dispatched, errors.New("transport down"))

	*clock = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s.Tick(context.Background())
	assert.True(t, dir.schedules[7].LastFiredAt.IsZero(), "failed dispatch is not recorded as fired")
}

func TestRunNowBypassesScheduleAndLeavesSlotArmed(t *testing.T) {
	dir := dirWith(DigestSchedule{TimeOfDay: "09:00", Enabled: true})
	dispatched := 0
	s, clock := newTestScheduler(dir, &dispatched, nil)

	// Way outside the window.
	*clock = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.RunNow(context.Background(), 7))
	assert.Equal(t, 1, dispatched)
	assert.True(t, dir.schedules[7].LastFiredAt.IsZero(), "manual run does not consume the slot")

	// The scheduled slot still fires the next morning.
	*clock = time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	s.Tick(context.Background())
	assert.Equal(t, 2, dispatched)
}

func TestRunNowUnknownUser(t *testing.T) {
	dir := dirWith(DigestSchedule{TimeOfDay: "09:00", Enabled: true})
	dispatched := 0
	s, _ := newTestScheduler(dir, &dispatched, nil)

	err := s.RunNow(context.Background(), 99)
	assert.Error(t, err)
	assert.Zero(t, dispatched)
}

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"09:00", 9, 0, false},
		{"23:59", 23, 59, false},
		{"00:00", 0, 0, false},
		{"9:00", 0, 0, true},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tc := range cases {
		hour, minute, err := ParseTimeOfDay(tc.in)
		if tc.wantErr {
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.hour, hour)
		assert.Equal(t, tc.minute, minute)
	}
}

func TestValidateRejectsBadWeekday(t *testing.T) {
	sched := DigestSchedule{TimeOfDay: "09:00", Weekdays: []time.Weekday{time.Weekday(9)}}
	var cfgErr *ConfigError
	require.ErrorAs(t, sched.Validate(), &cfgErr)
	assert.Equal(t, "weekdays", cfgErr.Field)
}
