package database

import (
	"context"
	"testing"
	"time"

	"classbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	class := createTestClass(t, db, 5, 24*time.Hour)
	pkg := int64(3)

	b := &models.Booking{UserID: 1, ClassID: class.ID, PackageID: &pkg, Status: models.StatusConfirmed, ClassStartsAt: class.StartsAt}
	require.NoError(t, db.CreateBooking(ctx, b))
	assert.NotZero(t, b.ID)
	assert.Equal(t, int64(1), b.Version)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	require.NotNil(t, got.PackageID)
	assert.Equal(t, pkg, *got.PackageID)
	assert.True(t, got.ClassStartsAt.Equal(class.StartsAt))

	_, err = db.GetBooking(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateBooking_InvalidInitialStatus(t *testing.T) {
	db := setupTestDB(t)
	class := createTestClass(t, db, 5, 24*time.Hour)

	b := &models.Booking{UserID: 1, ClassID: class.ID, Status: models.StatusCheckedIn, ClassStartsAt: class.StartsAt}
	err := db.CreateBooking(context.Background(), b)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCreateBooking_DuplicateActive(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	class := createTestClass(t, db, 5, 24*time.Hour)

	first := &models.Booking{UserID: 1, ClassID: class.ID, Status: models.StatusConfirmed, ClassStartsAt: class.StartsAt}
	require.NoError(t, db.CreateBooking(ctx, first))

	second := &models.Booking{UserID: 1, ClassID: class.ID, Status: models.StatusWaitlist, ClassStartsAt: class.StartsAt}
	assert.Error(t, db.CreateBooking(ctx, second))

	first.Status = models.StatusCancelled
	require.NoError(t, db.UpdateBooking(ctx, first))
	assert.NoError(t, db.CreateBooking(ctx, second))
}

func TestUpdateBooking_Version(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	class := createTestClass(t, db, 5, 24*time.Hour)

	b := &models.Booking{UserID: 1, ClassID: class.ID, Status: models.StatusConfirmed, ClassStartsAt: class.StartsAt}
	require.NoError(t, db.CreateBooking(ctx, b))

	stale := *b

	b.Status = models.StatusCancelled
	b.CancellationReason = "sick"
	b.PenaltyPercentage = 50
	require.NoError(t, db.UpdateBooking(ctx, b))
	assert.Equal(t, int64(2), b.Version)

	stale.Status = models.StatusCheckedIn
	err := db.UpdateBooking(ctx, &stale)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "sick", got.CancellationReason)
	assert.Equal(t, 50.0, got.PenaltyPercentage)
}

func TestFindActiveBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	class := createTestClass(t, db, 5, 24*time.Hour)

	_, err := db.FindActiveBooking(ctx, class.ID, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	b := &models.Booking{UserID: 1, ClassID: class.ID, Status: models.StatusWaitlist, ClassStartsAt: class.StartsAt}
	require.NoError(t, db.CreateBooking(ctx, b))

	found, err := db.FindActiveBooking(ctx, class.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)

	require.NoError(t, db.DeleteBooking(ctx, b.ID))
	_, err = db.FindActiveBooking(ctx, class.ID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteBooking(ctx, b.ID), ErrNotFound)
}

func TestGetUserBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	c1 := createTestClass(t, db, 5, 24*time.Hour)
	c2 := createTestClass(t, db, 5, 48*time.Hour)

	for _, c := range []*models.ScheduledClass{c1, c2} {
		require.NoError(t, db.CreateBooking(ctx, &models.Booking{UserID: 7, ClassID: c.ID, Status: models.StatusConfirmed, ClassStartsAt: c.StartsAt}))
	}
	require.NoError(t, db.CreateBooking(ctx, &models.Booking{UserID: 8, ClassID: c1.ID, Status: models.StatusConfirmed, ClassStartsAt: c1.StartsAt}))

	bookings, err := db.GetUserBookings(ctx, 7)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, c2.ID, bookings[0].ClassID)

	count, err := db.CountOccupyingBookings(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
