package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

// published returns the payloads sent for one event type, in order.
func (m *mockPublisher) published(eventType string) []interface{} {
	var out []interface{}
	for _, call := range m.Calls {
		if call.Arguments.String(0) == eventType {
			out = append(out, call.Arguments.Get(1))
		}
	}
	return out
}

type fixture struct {
	t           *testing.T
	ctx         context.Context
	db          *database.DB
	pub         *mockPublisher
	now         time.Time
	bookings    *BookingService
	waitlist    *WaitlistService
	reschedules *RescheduleService
	policies    *PolicyService
}

func newFixture(t *testing.T, tweak ...func(*Options)) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		t:   t,
		ctx: context.Background(),
		db:  db,
		pub: new(mockPublisher),
		now: time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC),
	}
	f.pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	opts := Options{
		HoldWindow:       2 * time.Hour,
		AutoApprove:      true,
		AutoApproveHours: 24,
		Now:              func() time.Time { return f.now },
	}
	for _, fn := range tweak {
		fn(&opts)
	}

	f.bookings = NewBookingService(db, f.pub, opts, &logger)
	f.waitlist = NewWaitlistService(db, f.pub, opts, &logger)
	f.reschedules = NewRescheduleService(db, f.pub, opts, &logger)
	f.policies = NewPolicyService(db, opts, &logger)
	return f
}

func (f *fixture) class(capacity int, startsIn time.Duration) *models.ScheduledClass {
	f.t.Helper()
	c := &models.ScheduledClass{
		Name:            fmt.Sprintf("class in %s", startsIn),
		ClassType:       "yoga",
		StartsAt:        f.now.Add(startsIn),
		DurationMinutes: 60,
		MaxOccupancy:    capacity,
	}
	require.NoError(f.t, f.db.CreateClass(f.ctx, c))
	return c
}

func (f *fixture) book(classID, userID int64) *models.Booking {
	f.t.Helper()
	res, err := f.bookings.BookClass(f.ctx, models.Member(userID), domain.BookRequest{ClassID: classID, UserID: userID})
	require.NoError(f.t, err)
	require.Equal(f.t, models.StatusConfirmed, res.Booking.Status)
	return res.Booking
}

func (f *fixture) join(classID, userID int64) *models.WaitlistEntry {
	f.t.Helper()
	entry, err := f.waitlist.Join(f.ctx, models.Member(userID), classID, userID)
	require.NoError(f.t, err)
	return entry
}

func (f *fixture) occupancy(classID int64) int {
	f.t.Helper()
	c, err := f.db.GetClass(f.ctx, classID)
	require.NoError(f.t, err)
	return c.CurrentOccupancy
}

func (f *fixture) entry(classID, userID int64) *models.WaitlistEntry {
	f.t.Helper()
	e, err := f.db.GetWaitlistEntry(f.ctx, classID, userID)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) queue(classID int64) []int64 {
	f.t.Helper()
	entries, err := f.db.ListWaitlist(f.ctx, classID)
	require.NoError(f.t, err)
	users := make([]int64, 0, len(entries))
	for _, e := range entries {
		users = append(users, e.UserID)
	}
	return users
}

// assertInvariants checks the ledger and queue properties that must hold
// after every operation.
func (f *fixture) assertInvariants(classIDs ...int64) {
	f.t.Helper()
	for _, id := range classIDs {
		class, err := f.db.GetClass(f.ctx, id)
		require.NoError(f.t, err)
		count, err := f.db.CountOccupyingBookings(f.ctx, id)
		require.NoError(f.t, err)
		assert.Equal(f.t, count, class.CurrentOccupancy, "class %d occupancy", id)
		assert.LessOrEqual(f.t, class.CurrentOccupancy, class.MaxOccupancy, "class %d capacity", id)

		entries, err := f.db.ListWaitlist(f.ctx, id)
		require.NoError(f.t, err)
		seen := make(map[int64]bool)
		for i, e := range entries {
			assert.Equal(f.t, i+1, e.Position, "class %d positions must be 1..N", id)
			assert.False(f.t, seen[e.UserID], "class %d user %d queued twice", id, e.UserID)
			seen[e.UserID] = true
		}
	}
}
