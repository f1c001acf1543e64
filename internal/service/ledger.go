package service

import (
	"context"
	"fmt"

	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/events"
	"classbook/internal/metrics"
	"classbook/internal/models"
)

var statusEvents = map[models.BookingStatus]string{
	models.StatusConfirmed: events.EventBookingConfirmed,
	models.StatusWaitlist:  events.EventBookingWaitlisted,
	models.StatusCancelled: events.EventBookingCancelled,
	models.StatusCheckedIn: events.EventBookingCheckedIn,
	models.StatusCompleted: events.EventBookingCompleted,
	models.StatusNoShow:    events.EventBookingNoShow,
}

func bookingEvent(b *models.Booking, actor models.Actor) events.BookingEventPayload {
	return events.BookingEventPayload{
		BookingID:         b.ID,
		UserID:            b.UserID,
		ClassID:           b.ClassID,
		Status:            string(b.Status),
		ClassStartsAt:     b.ClassStartsAt,
		Reason:            b.CancellationReason,
		PenaltyPercentage: b.PenaltyPercentage,
		ChangedBy:         actor.Label(),
		ChangedByID:       actor.UserID,
	}
}

// createBooking inserts a new booking and takes a seat for it when it
// starts out confirmed.
func (e *engine) createBooking(ctx context.Context, tx domain.Tx, b *models.Booking, actor models.Actor, out *outbox) error {
	if err := tx.CreateBooking(ctx, b); err != nil {
		return err
	}
	if b.Status.CountsTowardOccupancy() {
		if err := tx.AdjustOccupancy(ctx, b.ClassID, 1); err != nil {
			return err
		}
	}

	status := b.Status
	out.publish(statusEvents[status], bookingEvent(b, actor))
	out.onCommit(func() { metrics.IncBookingTransition(string(status)) })
	return nil
}

// transition moves a booking along the state machine and keeps the class
// ledger in step: entering a seat-holding status increments, leaving one
// decrements.
func (e *engine) transition(
	ctx context.Context,
	tx domain.Tx,
	b *models.Booking,
	to models.BookingStatus,
	actor models.Actor,
	out *outbox,
) error {
	from := b.Status
	if from == to || !models.CanTransition(from, to) {
		return fmt.Errorf("booking %d %s -> %s: %w", b.ID, from, to, database.ErrInvalidStatusTransition)
	}

	b.Status = to
	if to == models.StatusCheckedIn {
		b.Attended = true
	}
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return err
	}

	switch {
	case !from.CountsTowardOccupancy() && to.CountsTowardOccupancy():
		if err := tx.AdjustOccupancy(ctx, b.ClassID, 1); err != nil {
			return err
		}
	case from.CountsTowardOccupancy() && !to.CountsTowardOccupancy():
		if err := tx.AdjustOccupancy(ctx, b.ClassID, -1); err != nil {
			return err
		}
	}

	out.publish(statusEvents[to], bookingEvent(b, actor))
	out.onCommit(func() { metrics.IncBookingTransition(string(to)) })
	return nil
}

// promoteNext hands the next free seat of the class to the lowest-position
// waiting entry. It returns nil when the class has no free seat or nobody
// is waiting.
func (e *engine) promoteNext(ctx context.Context, tx domain.Tx, classID int64, out *outbox) (*models.Promotion, error) {
	class, err := tx.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class.Status != models.ClassActive || !class.HasAvailableSpots() {
		return nil, nil
	}

	entry, err := tx.NextWaitingEntry(ctx, classID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	system := models.System()
	booking, err := tx.FindActiveBooking(ctx, classID, entry.UserID)
	switch {
	case isNotFound(err):
		booking = &models.Booking{
			UserID:        entry.UserID,
			ClassID:       classID,
			Status:        models.StatusConfirmed,
			ClassStartsAt: class.StartsAt,
		}
		if err := e.createBooking(ctx, tx, booking, system, out); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case booking.Status == models.StatusWaitlist:
		if err := e.transition(ctx, tx, booking, models.StatusConfirmed, system, out); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("waiting user %d already holds booking %d (%s) in class %d: %w",
			entry.UserID, booking.ID, booking.Status, classID, database.ErrInvalidStatusTransition)
	}

	now := e.now()
	expires := now.Add(e.opts.HoldWindow)
	heldID := booking.ID
	entry.Status = models.WaitlistNotified
	entry.HeldBookingID = &heldID
	entry.NotifiedAt = &now
	entry.ExpiresAt = &expires
	if err := tx.UpdateWaitlistEntry(ctx, entry); err != nil {
		return nil, err
	}

	out.publish(events.EventWaitlistSpotAvailable, events.SpotAvailablePayload{
		UserID:    entry.UserID,
		ClassID:   classID,
		ClassName: class.Name,
		StartsAt:  class.StartsAt,
		BookingID: booking.ID,
		ExpiresAt: expires,
	})
	out.onCommit(metrics.IncPromotion)

	e.logger.Debug().
		Int64("class_id", classID).
		Int64("user_id", entry.UserID).
		Int("position", entry.Position).
		Time("expires_at", expires).
		Msg("Waitlist entry promoted")

	return &models.Promotion{Entry: *entry, Booking: *booking}, nil
}

// promoteAvailable promotes until the class is full or nobody is waiting.
func (e *engine) promoteAvailable(ctx context.Context, tx domain.Tx, classID int64, out *outbox) ([]models.Promotion, error) {
	var promoted []models.Promotion
	for {
		p, err := e.promoteNext(ctx, tx, classID, out)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return promoted, nil
		}
		promoted = append(promoted, *p)
	}
}

// ensureNoActiveBooking fails when the user already books or waits for the class.
func ensureNoActiveBooking(ctx context.Context, tx domain.Tx, classID, userID int64) error {
	existing, err := tx.FindActiveBooking(ctx, classID, userID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Status == models.StatusWaitlist {
		return fmt.Errorf("user %d, class %d: %w", userID, classID, database.ErrAlreadyWaitlisted)
	}
	return fmt.Errorf("user %d, class %d: %w", userID, classID, database.ErrAlreadyBooked)
}

// joinWaitlist appends the user to a full class's queue together with a
// waitlist-status booking. An expired entry left from an earlier hold is
// replaced.
func (e *engine) joinWaitlist(
	ctx context.Context,
	tx domain.Tx,
	class *models.ScheduledClass,
	userID int64,
	packageID *int64,
	actor models.Actor,
	out *outbox,
) (*models.WaitlistEntry, *models.Booking, error) {
	if class.HasAvailableSpots() {
		return nil, nil, fmt.Errorf("class %d has %d open spots: %w", class.ID, class.AvailableSpots(), database.ErrClassNotFull)
	}
	if err := ensureNoActiveBooking(ctx, tx, class.ID, userID); err != nil {
		return nil, nil, err
	}

	previous, err := tx.GetWaitlistEntry(ctx, class.ID, userID)
	switch {
	case err == nil && previous.IsQueued():
		return nil, nil, fmt.Errorf("user %d, class %d: %w", userID, class.ID, database.ErrAlreadyWaitlisted)
	case err == nil:
		if err := tx.DeleteWaitlistEntry(ctx, previous.ID); err != nil {
			return nil, nil, err
		}
	case !isNotFound(err):
		return nil, nil, err
	}

	last, err := tx.MaxWaitlistPosition(ctx, class.ID)
	if err != nil {
		return nil, nil, err
	}
	entry := &models.WaitlistEntry{
		ClassID:  class.ID,
		UserID:   userID,
		Position: last + 1,
		Status:   models.WaitlistWaiting,
	}
	if err := tx.CreateWaitlistEntry(ctx, entry); err != nil {
		return nil, nil, err
	}

	booking := &models.Booking{
		UserID:        userID,
		ClassID:       class.ID,
		PackageID:     packageID,
		Status:        models.StatusWaitlist,
		ClassStartsAt: class.StartsAt,
	}
	if err := e.createBooking(ctx, tx, booking, actor, out); err != nil {
		return nil, nil, err
	}

	out.publish(events.EventWaitlistJoined, events.WaitlistEventPayload{
		ClassID:  class.ID,
		UserID:   userID,
		Position: entry.Position,
		Status:   string(entry.Status),
	})
	out.onCommit(metrics.IncWaitlistJoin)
	return entry, booking, nil
}

// heldBooking returns the booking paired with a queue entry: the one its
// promotion confirmed, or for a waiting entry the user's active booking.
func heldBooking(ctx context.Context, tx domain.Tx, entry *models.WaitlistEntry) (*models.Booking, error) {
	if entry.HeldBookingID != nil {
		return tx.GetBooking(ctx, *entry.HeldBookingID)
	}
	return tx.FindActiveBooking(ctx, entry.ClassID, entry.UserID)
}

// releaseHold takes the owner's notified entry for classID out of the queue
// once the booking it holds leaves its confirmed seat there. Cancellation,
// check-in, no-show and a reschedule all settle the offer.
func (e *engine) releaseHold(ctx context.Context, tx domain.Tx, b *models.Booking, classID int64, out *outbox) error {
	entry, err := tx.GetWaitlistEntry(ctx, classID, b.UserID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if entry.Status != models.WaitlistNotified {
		return nil
	}
	if entry.HeldBookingID != nil && *entry.HeldBookingID != b.ID {
		return nil
	}
	if err := removeFromQueue(ctx, tx, entry); err != nil {
		return err
	}

	out.publish(events.EventWaitlistLeft, events.WaitlistEventPayload{
		ClassID:  classID,
		UserID:   b.UserID,
		Position: entry.Position,
		Status:   string(entry.Status),
	})
	return nil
}

// removeFromQueue deletes a queued entry and closes the gap behind it.
func removeFromQueue(ctx context.Context, tx domain.Tx, entry *models.WaitlistEntry) error {
	if err := tx.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
		return err
	}
	return tx.ShiftWaitlistPositions(ctx, entry.ClassID, entry.Position)
}
