package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentBookings(t *testing.T) {
	f := newFixture(t)
	class := f.class(5, 48*time.Hour)

	const users = 20
	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 1; i <= users; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := f.bookings.BookClass(f.ctx, models.Member(userID), domain.BookRequest{ClassID: class.ID, UserID: userID})
			errs <- err
		}(int64(i))
	}
	wg.Wait()
	close(errs)

	var booked, full int
	for err := range errs {
		switch {
		case err == nil:
			booked++
		case errors.Is(err, database.ErrClassFull):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 5, booked)
	assert.Equal(t, users-5, full)
	assert.Equal(t, 5, f.occupancy(class.ID))
	f.assertInvariants(class.ID)
}

func TestConcurrentCancelsAndJoins(t *testing.T) {
	f := newFixture(t)
	class := f.class(3, 48*time.Hour)

	var seats []*models.Booking
	for i := int64(1); i <= 3; i++ {
		seats = append(seats, f.book(class.ID, i))
	}
	for i := int64(4); i <= 9; i++ {
		f.join(class.ID, i)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 9)
	for _, b := range seats {
		wg.Add(1)
		go func(b *models.Booking) {
			defer wg.Done()
			_, err := f.bookings.CancelBooking(f.ctx, models.Member(b.UserID), b.ID, "")
			errs <- err
		}(b)
	}
	for i := int64(10); i <= 15; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := f.waitlist.Join(f.ctx, models.Member(userID), class.ID, userID)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 3, f.occupancy(class.ID))
	assert.Len(t, f.queue(class.ID), 12)
	for i := int64(4); i <= 6; i++ {
		assert.Equal(t, models.WaitlistNotified, f.entry(class.ID, i).Status, "user %d", i)
	}
	f.assertInvariants(class.ID)
}
