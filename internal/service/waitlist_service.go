package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/events"
	"classbook/internal/metrics"
	"classbook/internal/models"

	"github.com/rs/zerolog"
)

const declinedSpotReason = "declined waitlist spot"

type WaitlistService struct {
	*engine
}

var _ domain.WaitlistService = (*WaitlistService)(nil)

func NewWaitlistService(store domain.Store, publisher domain.EventPublisher, opts Options, logger *zerolog.Logger) *WaitlistService {
	return &WaitlistService{engine: newEngine(store, publisher, opts, logger)}
}

// Join queues the user for a full class at the end of the line.
func (s *WaitlistService) Join(ctx context.Context, actor models.Actor, classID, userID int64) (*models.WaitlistEntry, error) {
	if !actor.CanActFor(userID) {
		return nil, database.ErrForbidden
	}

	var entry *models.WaitlistEntry
	err := s.run(ctx, "waitlist_join", []int64{classID}, func(tx domain.Tx, out *outbox) error {
		class, err := tx.GetClass(ctx, classID)
		if err != nil {
			return err
		}
		if err := requireOpen(class, s.now()); err != nil {
			return err
		}
		entry, _, err = s.joinWaitlist(ctx, tx, class, userID, nil, actor, out)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("class_id", classID).Int64("user_id", userID).Int("position", entry.Position).Msg("Joined waitlist")
	return entry, nil
}

// Leave removes the user's queued entry and moves everyone behind it up one
// place. A user leaving while holding a promoted seat gives the seat up.
func (s *WaitlistService) Leave(ctx context.Context, actor models.Actor, classID, userID int64) error {
	if !actor.CanActFor(userID) {
		return database.ErrForbidden
	}

	return s.run(ctx, "waitlist_leave", []int64{classID}, func(tx domain.Tx, out *outbox) error {
		entry, err := tx.GetWaitlistEntry(ctx, classID, userID)
		if isNotFound(err) {
			return fmt.Errorf("user %d, class %d: %w", userID, classID, database.ErrNotInWaitlist)
		}
		if err != nil {
			return err
		}
		if !entry.IsQueued() {
			return fmt.Errorf("user %d, class %d: entry %s: %w", userID, classID, entry.Status, database.ErrNotInWaitlist)
		}
		if err := removeFromQueue(ctx, tx, entry); err != nil {
			return err
		}

		booking, err := heldBooking(ctx, tx, entry)
		switch {
		case isNotFound(err):
		case err != nil:
			return err
		case booking.ClassID != classID:
		case booking.Status == models.StatusWaitlist:
			if err := tx.DeleteBooking(ctx, booking.ID); err != nil {
				return err
			}
		case entry.Status == models.WaitlistNotified && booking.Status == models.StatusConfirmed:
			booking.CancellationReason = declinedSpotReason
			if err := s.transition(ctx, tx, booking, models.StatusCancelled, actor, out); err != nil {
				return err
			}
			if _, err := s.promoteAvailable(ctx, tx, classID, out); err != nil {
				return err
			}
		}

		out.publish(events.EventWaitlistLeft, events.WaitlistEventPayload{
			ClassID:  classID,
			UserID:   userID,
			Position: entry.Position,
			Status:   string(entry.Status),
		})
		return nil
	})
}

// Status reports where the user stands in the class queue.
func (s *WaitlistService) Status(ctx context.Context, classID, userID int64) (*models.WaitlistPosition, error) {
	if _, err := s.store.GetClass(ctx, classID); err != nil {
		return nil, err
	}
	entry, err := s.store.GetWaitlistEntry(ctx, classID, userID)
	if isNotFound(err) {
		return &models.WaitlistPosition{InWaitlist: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.WaitlistPosition{
		InWaitlist: entry.IsQueued(),
		Position:   entry.Position,
		Status:     entry.Status,
		NotifiedAt: entry.NotifiedAt,
		ExpiresAt:  entry.ExpiresAt,
	}, nil
}

// AcceptSpot completes a promotion: the holder takes the seat before the
// hold runs out and leaves the queue.
func (s *WaitlistService) AcceptSpot(ctx context.Context, actor models.Actor, classID, userID int64) (*models.Booking, error) {
	if !actor.CanActFor(userID) {
		return nil, database.ErrForbidden
	}

	var booking *models.Booking
	err := s.run(ctx, "waitlist_accept", []int64{classID}, func(tx domain.Tx, out *outbox) error {
		entry, err := tx.GetWaitlistEntry(ctx, classID, userID)
		if isNotFound(err) {
			return fmt.Errorf("user %d, class %d: %w", userID, classID, database.ErrNotInWaitlist)
		}
		if err != nil {
			return err
		}
		if entry.Status != models.WaitlistNotified {
			return fmt.Errorf("user %d, class %d: no spot offered (%s): %w", userID, classID, entry.Status, database.ErrNotInWaitlist)
		}
		if entry.HoldExpired(s.now()) {
			return fmt.Errorf("user %d, class %d: hold expired at %s: %w",
				userID, classID, entry.ExpiresAt.Format(time.RFC3339), database.ErrNotInWaitlist)
		}

		booking, err = heldBooking(ctx, tx, entry)
		if err != nil {
			return err
		}
		if booking.ClassID != classID || booking.Status != models.StatusConfirmed {
			return fmt.Errorf("held booking %d is %s: %w", booking.ID, booking.Status, database.ErrInvalidStatusTransition)
		}
		if err := removeFromQueue(ctx, tx, entry); err != nil {
			return err
		}

		out.publish(events.EventWaitlistSpotAccepted, events.WaitlistEventPayload{
			ClassID: classID,
			UserID:  userID,
			Status:  string(models.StatusConfirmed),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// PromoteNext fills every free seat of the class from the waitlist. Admins
// use it after raising capacity.
func (s *WaitlistService) PromoteNext(ctx context.Context, actor models.Actor, classID int64) ([]models.Promotion, error) {
	if !actor.IsAdmin() {
		return nil, database.ErrForbidden
	}

	var promoted []models.Promotion
	err := s.run(ctx, "promote", []int64{classID}, func(tx domain.Tx, out *outbox) error {
		var err error
		promoted, err = s.promoteAvailable(ctx, tx, classID, out)
		return err
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// cancelHeldBooking releases the seat an expired promotion confirmed. Only
// the booking recorded on the entry is touched; anything the user booked on
// their own stays.
func (s *WaitlistService) cancelHeldBooking(ctx context.Context, tx domain.Tx, entry *models.WaitlistEntry, out *outbox) error {
	if entry.HeldBookingID == nil {
		return nil
	}
	booking, err := tx.GetBooking(ctx, *entry.HeldBookingID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if booking.ClassID != entry.ClassID || booking.Status != models.StatusConfirmed {
		return nil
	}
	booking.CancellationReason = models.HoldExpiredReason
	return s.transition(ctx, tx, booking, models.StatusCancelled, models.System(), out)
}

// ExpireHolds is the explicit "expire and re-promote" step the sweep calls.
// Each expired hold is handled in its own transaction: the held booking is
// cancelled, the entry leaves the queue as expired and the next waiting
// entry is promoted. A failing class does not stop the others.
func (s *WaitlistService) ExpireHolds(ctx context.Context, now time.Time) (*domain.SweepResult, error) {
	holds, err := s.store.ListExpiredHolds(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &domain.SweepResult{}
	var errs []error
	for _, hold := range holds {
		var expired *models.WaitlistEntry
		var promoted []models.Promotion

		err := s.run(ctx, "expire_hold", []int64{hold.ClassID}, func(tx domain.Tx, out *outbox) error {
			entry, err := tx.GetWaitlistEntry(ctx, hold.ClassID, hold.UserID)
			if isNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			// Accepted, left or re-joined since the listing.
			if entry.ID != hold.ID || !entry.HoldExpired(now) {
				return nil
			}

			if err := s.cancelHeldBooking(ctx, tx, entry, out); err != nil {
				return err
			}

			position := entry.Position
			entry.Status = models.WaitlistExpired
			entry.Position = 0
			if err := tx.UpdateWaitlistEntry(ctx, entry); err != nil {
				return err
			}
			if err := tx.ShiftWaitlistPositions(ctx, entry.ClassID, position); err != nil {
				return err
			}

			out.publish(events.EventWaitlistHoldExpired, events.WaitlistEventPayload{
				ClassID:  entry.ClassID,
				UserID:   entry.UserID,
				Position: position,
				Status:   string(entry.Status),
			})
			out.onCommit(metrics.IncHoldExpired)

			promoted, err = s.promoteAvailable(ctx, tx, entry.ClassID, out)
			if err != nil {
				return err
			}
			expired = entry
			return nil
		})
		if err != nil {
			s.logger.Error().Err(err).Int64("class_id", hold.ClassID).Int64("user_id", hold.UserID).Msg("Failed to expire waitlist hold")
			errs = append(errs, fmt.Errorf("class %d user %d: %w", hold.ClassID, hold.UserID, err))
			continue
		}
		if expired != nil {
			result.Expired = append(result.Expired, *expired)
			result.Promoted = append(result.Promoted, promoted...)
		}
	}

	if len(result.Expired) > 0 {
		s.logger.Info().Int("expired", len(result.Expired)).Int("promoted", len(result.Promoted)).Msg("Waitlist holds expired")
	}
	return result, errors.Join(errs...)
}
