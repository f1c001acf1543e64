package database

import (
	"context"
	"testing"
	"time"

	"classbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRescheduleRequests(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	from := createTestClass(t, db, 5, 48*time.Hour)
	to := createTestClass(t, db, 5, 72*time.Hour)

	b := &models.Booking{UserID: 1, ClassID: from.ID, Status: models.StatusConfirmed, ClassStartsAt: from.StartsAt}
	require.NoError(t, db.CreateBooking(ctx, b))

	req := &models.RescheduleRequest{
		BookingID: b.ID, UserID: 1, OriginalClassID: from.ID, TargetClassID: to.ID,
		RequestedBy: 1, Reason: "work",
	}
	require.NoError(t, db.CreateRescheduleRequest(ctx, req))
	assert.Equal(t, models.ReschedulePending, req.Status)

	pending, err := db.HasPendingReschedule(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, pending)

	got, err := db.GetRescheduleRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "work", got.Reason)
	assert.Nil(t, got.ProcessedAt)
	assert.Nil(t, got.ProcessedBy)

	now := time.Now()
	admin := int64(99)
	got.Status = models.RescheduleRejected
	got.AdminNotes = "no"
	got.ProcessedAt = &now
	got.ProcessedBy = &admin
	require.NoError(t, db.UpdateRescheduleRequest(ctx, got))

	got.Status = models.RescheduleApproved
	err = db.UpdateRescheduleRequest(ctx, got)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	pending, err = db.HasPendingReschedule(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, pending)

	stored, err := db.GetRescheduleRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RescheduleRejected, stored.Status)
	require.NotNil(t, stored.ProcessedBy)
	assert.Equal(t, admin, *stored.ProcessedBy)

	_, err = db.GetRescheduleRequest(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountApprovedReschedules(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	from := createTestClass(t, db, 5, 48*time.Hour)
	to := createTestClass(t, db, 5, 72*time.Hour)

	b := &models.Booking{UserID: 1, ClassID: from.ID, Status: models.StatusConfirmed, ClassStartsAt: from.StartsAt}
	require.NoError(t, db.CreateBooking(ctx, b))

	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	approved := func(policyID int64, at time.Time) {
		r := &models.RescheduleRequest{
			BookingID: b.ID, UserID: 1, OriginalClassID: from.ID, TargetClassID: to.ID, PolicyID: policyID,
			RequestedBy: 1, Status: models.RescheduleApproved, RequestedAt: at, ProcessedAt: &at,
		}
		require.NoError(t, db.CreateRescheduleRequest(ctx, r))
	}
	approved(0, monthStart.Add(time.Hour))
	approved(0, monthStart.AddDate(0, 0, 20))
	approved(0, monthStart.Add(-time.Second)) // previous month
	approved(2, monthStart.AddDate(0, 0, 3))  // another policy

	count, err := db.CountApprovedReschedules(ctx, 1, 0, monthStart, monthStart.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = db.CountApprovedReschedules(ctx, 1, 2, monthStart, monthStart.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = db.CountApprovedReschedules(ctx, 2, 0, monthStart, monthStart.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
