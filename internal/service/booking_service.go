package service

import (
	"context"
	"fmt"

	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/models"

	"github.com/rs/zerolog"
)

type BookingService struct {
	*engine
}

var _ domain.BookingService = (*BookingService)(nil)

func NewBookingService(store domain.Store, publisher domain.EventPublisher, opts Options, logger *zerolog.Logger) *BookingService {
	return &BookingService{engine: newEngine(store, publisher, opts, logger)}
}

// BookClass books a seat, or queues the user when the class is full and the
// caller asked for it.
func (s *BookingService) BookClass(ctx context.Context, actor models.Actor, req domain.BookRequest) (*domain.BookResult, error) {
	if !actor.CanActFor(req.UserID) {
		return nil, database.ErrForbidden
	}

	result := &domain.BookResult{}
	err := s.run(ctx, "book", []int64{req.ClassID}, func(tx domain.Tx, out *outbox) error {
		class, err := tx.GetClass(ctx, req.ClassID)
		if err != nil {
			return err
		}
		if err := requireOpen(class, s.now()); err != nil {
			return err
		}

		if class.IsFull() {
			if !req.JoinWaitlistIfFull {
				return fmt.Errorf("class %d: %w", class.ID, database.ErrClassFull)
			}
			entry, booking, err := s.joinWaitlist(ctx, tx, class, req.UserID, req.PackageID, actor, out)
			if err != nil {
				return err
			}
			result.Booking, result.WaitlistEntry = booking, entry
			return nil
		}

		if err := ensureNoActiveBooking(ctx, tx, class.ID, req.UserID); err != nil {
			return err
		}
		booking := &models.Booking{
			UserID:        req.UserID,
			ClassID:       class.ID,
			PackageID:     req.PackageID,
			Status:        models.StatusConfirmed,
			ClassStartsAt: class.StartsAt,
		}
		if err := s.createBooking(ctx, tx, booking, actor, out); err != nil {
			return err
		}
		result.Booking = booking
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", result.Booking.ID).
		Int64("class_id", req.ClassID).
		Int64("user_id", req.UserID).
		Str("status", string(result.Booking.Status)).
		Msg("Class booked")
	return result, nil
}

// CancelBooking cancels a confirmed booking, records the penalty the policy
// assigns and offers the freed seat to the waitlist.
func (s *BookingService) CancelBooking(ctx context.Context, actor models.Actor, bookingID int64, reason string) (*domain.CancelResult, error) {
	current, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActFor(current.UserID) {
		return nil, database.ErrForbidden
	}
	if err := requireCancellable(current); err != nil {
		return nil, err
	}

	result := &domain.CancelResult{}
	err = s.run(ctx, "cancel", []int64{current.ClassID}, func(tx domain.Tx, out *outbox) error {
		b, err := lockedBooking(ctx, tx, bookingID, current.ClassID)
		if err != nil {
			return err
		}
		if err := requireCancellable(b); err != nil {
			return err
		}

		class, err := tx.GetClass(ctx, b.ClassID)
		if err != nil {
			return err
		}
		eval, err := s.evaluate(ctx, tx, b, class, actor)
		if err != nil {
			return err
		}
		if !eval.CanCancel {
			return fmt.Errorf("booking %d: %w", b.ID, database.ErrCancelWindowClosed)
		}

		b.CancellationReason = reason
		b.PenaltyPercentage = eval.PenaltyPercentage
		if err := s.transition(ctx, tx, b, models.StatusCancelled, actor, out); err != nil {
			return err
		}
		if err := s.releaseHold(ctx, tx, b, b.ClassID, out); err != nil {
			return err
		}

		promoted, err := s.promoteAvailable(ctx, tx, b.ClassID, out)
		if err != nil {
			return err
		}
		result.Booking, result.Evaluation, result.Promoted = b, &eval, promoted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", bookingID).
		Str("actor", actor.Label()).
		Float64("penalty_percentage", result.Booking.PenaltyPercentage).
		Int("promoted", len(result.Promoted)).
		Msg("Booking cancelled")
	return result, nil
}

// requireCancellable rejects bookings a member cannot cancel: a queued
// booking is left through the waitlist, and a closed one stays closed.
func requireCancellable(b *models.Booking) error {
	switch {
	case b.Status == models.StatusWaitlist:
		return fmt.Errorf("booking %d is on the waitlist, leave the waitlist instead: %w", b.ID, database.ErrBookingNotActive)
	case !models.CanTransition(b.Status, models.StatusCancelled):
		return fmt.Errorf("booking %d is %s: %w", b.ID, b.Status, database.ErrBookingNotActive)
	}
	return nil
}

func (s *BookingService) CheckIn(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error) {
	return s.changeStatus(ctx, actor, bookingID, models.StatusCheckedIn)
}

func (s *BookingService) Complete(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error) {
	return s.changeStatus(ctx, actor, bookingID, models.StatusCompleted)
}

// MarkNoShow releases the seat of a member who never came and promotes the
// next waiting entry.
func (s *BookingService) MarkNoShow(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error) {
	return s.changeStatus(ctx, actor, bookingID, models.StatusNoShow)
}

func (s *BookingService) changeStatus(ctx context.Context, actor models.Actor, bookingID int64, to models.BookingStatus) (*models.Booking, error) {
	if !actor.IsAdmin() {
		return nil, database.ErrForbidden
	}
	current, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var updated *models.Booking
	err = s.run(ctx, string(to), []int64{current.ClassID}, func(tx domain.Tx, out *outbox) error {
		b, err := lockedBooking(ctx, tx, bookingID, current.ClassID)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, tx, b, to, actor, out); err != nil {
			return err
		}
		if err := s.releaseHold(ctx, tx, b, b.ClassID, out); err != nil {
			return err
		}
		if to.FreesSeat() {
			if _, err := s.promoteAvailable(ctx, tx, b.ClassID, out); err != nil {
				return err
			}
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *BookingService) GetBooking(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActFor(b.UserID) {
		return nil, database.ErrForbidden
	}
	return b, nil
}

func (s *BookingService) ClassOccupancy(ctx context.Context, classID int64) (*models.Occupancy, error) {
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	queue, err := s.store.ListWaitlist(ctx, classID)
	if err != nil {
		return nil, err
	}
	return &models.Occupancy{
		ClassID:        class.ID,
		MaxOccupancy:   class.MaxOccupancy,
		Current:        class.CurrentOccupancy,
		Available:      class.AvailableSpots(),
		WaitlistLength: len(queue),
	}, nil
}
