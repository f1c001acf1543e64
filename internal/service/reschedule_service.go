package service

import (
	"context"
	"fmt"

	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/events"
	"classbook/internal/metrics"
	"classbook/internal/models"

	"github.com/rs/zerolog"
)

const (
	autoApprovedNote = "auto-approved"
	staleRequestNote = "booking changed before the decision"
)

type RescheduleService struct {
	*engine
}

var _ domain.RescheduleService = (*RescheduleService)(nil)

func NewRescheduleService(store domain.Store, publisher domain.EventPublisher, opts Options, logger *zerolog.Logger) *RescheduleService {
	return &RescheduleService{engine: newEngine(store, publisher, opts, logger)}
}

// RequestReschedule files a request to move a confirmed booking to another
// class. Far enough ahead of the class it is approved on the spot.
func (s *RescheduleService) RequestReschedule(
	ctx context.Context,
	actor models.Actor,
	bookingID, targetClassID int64,
	reason string,
) (*models.RescheduleRequest, error) {
	current, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActFor(current.UserID) {
		return nil, database.ErrForbidden
	}
	if targetClassID == current.ClassID {
		return nil, fmt.Errorf("booking %d is already in class %d: %w", bookingID, targetClassID, database.ErrInvalidInput)
	}

	var req *models.RescheduleRequest
	err = s.run(ctx, "reschedule_request", []int64{current.ClassID, targetClassID}, func(tx domain.Tx, out *outbox) error {
		b, err := lockedBooking(ctx, tx, bookingID, current.ClassID)
		if err != nil {
			return err
		}
		if b.Status != models.StatusConfirmed {
			return fmt.Errorf("booking %d is %s: %w", b.ID, b.Status, database.ErrBookingNotActive)
		}
		pending, err := tx.HasPendingReschedule(ctx, b.ID)
		if err != nil {
			return err
		}
		if pending {
			return fmt.Errorf("booking %d: %w", b.ID, database.ErrReschedulePending)
		}

		original, err := tx.GetClass(ctx, b.ClassID)
		if err != nil {
			return err
		}
		target, err := tx.GetClass(ctx, targetClassID)
		if err != nil {
			return err
		}
		if err := requireOpen(target, s.now()); err != nil {
			return err
		}

		eval, err := s.evaluate(ctx, tx, b, original, actor)
		if err != nil {
			return err
		}
		if !eval.CanReschedule {
			return fmt.Errorf("booking %d, %.1fh before class, %d/%d this month: %w",
				b.ID, eval.HoursUntilClass, eval.ReschedulesThisMonth, eval.Policy.MaxReschedulesPerMonth,
				database.ErrRescheduleWindowClosed)
		}
		if target.IsFull() {
			return fmt.Errorf("class %d: %w", target.ID, database.ErrTargetClassFull)
		}
		if err := ensureNoActiveBooking(ctx, tx, target.ID, b.UserID); err != nil {
			return err
		}

		req = &models.RescheduleRequest{
			BookingID:       b.ID,
			UserID:          b.UserID,
			OriginalClassID: original.ID,
			TargetClassID:   target.ID,
			PolicyID:        eval.Policy.ID,
			RequestedBy:     actor.UserID,
			Status:          models.ReschedulePending,
			Reason:          reason,
			RequestedAt:     s.now(),
		}
		if err := tx.CreateRescheduleRequest(ctx, req); err != nil {
			return err
		}
		out.publish(events.EventRescheduleRequested, reschedulePayload(req, false))

		if s.opts.AutoApprove && eval.HoursUntilClass > s.opts.AutoApproveHours {
			return s.approve(ctx, tx, req, b, original, target, models.System(), autoApprovedNote, out)
		}
		out.onCommit(func() { metrics.IncReschedule(string(models.ReschedulePending)) })
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("request_id", req.ID).
		Int64("booking_id", bookingID).
		Int64("target_class_id", targetClassID).
		Str("status", string(req.Status)).
		Msg("Reschedule requested")
	return req, nil
}

// ProcessReschedule records an admin decision. A request is decided once.
func (s *RescheduleService) ProcessReschedule(
	ctx context.Context,
	actor models.Actor,
	requestID int64,
	decision models.RescheduleDecision,
	adminNotes string,
) (*models.RescheduleRequest, error) {
	if !actor.IsAdmin() {
		return nil, database.ErrForbidden
	}
	if decision != models.DecisionApprove && decision != models.DecisionReject {
		return nil, fmt.Errorf("decision %q: %w", decision, database.ErrInvalidInput)
	}

	current, err := s.store.GetRescheduleRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if current.IsProcessed() {
		return nil, fmt.Errorf("reschedule request %d is %s: %w", requestID, current.Status, database.ErrAlreadyProcessed)
	}

	var req *models.RescheduleRequest
	var stale error
	classes := []int64{current.OriginalClassID, current.TargetClassID}
	err = s.run(ctx, "reschedule_process", classes, func(tx domain.Tx, out *outbox) error {
		var err error
		req, err = tx.GetRescheduleRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.IsProcessed() {
			return fmt.Errorf("reschedule request %d is %s: %w", requestID, req.Status, database.ErrAlreadyProcessed)
		}

		if decision == models.DecisionReject {
			return s.reject(ctx, tx, req, actor, adminNotes, out)
		}

		b, err := tx.GetBooking(ctx, req.BookingID)
		if err != nil {
			return err
		}
		// A request whose booking was cancelled, closed or moved is rejected.
		if b.ClassID != req.OriginalClassID || b.Status != models.StatusConfirmed {
			stale = fmt.Errorf("reschedule request %d: booking %d is %s in class %d: %w",
				req.ID, b.ID, b.Status, b.ClassID, database.ErrBookingNotActive)
			return s.reject(ctx, tx, req, models.System(), staleRequestNote, out)
		}
		original, err := tx.GetClass(ctx, req.OriginalClassID)
		if err != nil {
			return err
		}
		eval, err := s.evaluate(ctx, tx, b, original, actor)
		if err != nil {
			return err
		}
		if eval.ReschedulesThisMonth >= eval.Policy.MaxReschedulesPerMonth {
			return fmt.Errorf("user %d has %d/%d reschedules this month: %w",
				b.UserID, eval.ReschedulesThisMonth, eval.Policy.MaxReschedulesPerMonth,
				database.ErrRescheduleWindowClosed)
		}
		target, err := tx.GetClass(ctx, req.TargetClassID)
		if err != nil {
			return err
		}
		if target.Status != models.ClassActive {
			return fmt.Errorf("class %d is %s: %w", target.ID, target.Status, database.ErrClassNotActive)
		}
		if err := ensureNoActiveBooking(ctx, tx, target.ID, b.UserID); err != nil {
			return err
		}
		return s.approve(ctx, tx, req, b, original, target, actor, adminNotes, out)
	})
	if err != nil {
		return nil, err
	}
	if stale != nil {
		s.logger.Info().Int64("request_id", requestID).Err(stale).Msg("Stale reschedule request rejected")
		return nil, stale
	}

	s.logger.Info().Int64("request_id", requestID).Str("decision", string(decision)).Int64("admin_id", actor.UserID).Msg("Reschedule processed")
	return req, nil
}

// approve moves the booking, shifts one seat from the original class to the
// target and marks the request approved, all in the caller's transaction.
// The seat left behind goes to the original class's waitlist.
func (s *RescheduleService) approve(
	ctx context.Context,
	tx domain.Tx,
	req *models.RescheduleRequest,
	b *models.Booking,
	original, target *models.ScheduledClass,
	actor models.Actor,
	notes string,
	out *outbox,
) error {
	if target.IsFull() {
		return fmt.Errorf("class %d: %w", target.ID, database.ErrTargetClassFull)
	}
	if !models.CanTransition(b.Status, models.StatusConfirmed) {
		return fmt.Errorf("booking %d is %s: %w", b.ID, b.Status, database.ErrInvalidStatusTransition)
	}

	b.ClassID = target.ID
	b.ClassStartsAt = target.StartsAt
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return err
	}
	if err := tx.AdjustOccupancy(ctx, original.ID, -1); err != nil {
		return err
	}
	if err := tx.AdjustOccupancy(ctx, target.ID, 1); err != nil {
		return err
	}

	now := s.now()
	req.Status = models.RescheduleApproved
	req.AdminNotes = notes
	req.ProcessedAt = &now
	if actor.Role != models.RoleSystem {
		processedBy := actor.UserID
		req.ProcessedBy = &processedBy
	}
	if err := tx.UpdateRescheduleRequest(ctx, req); err != nil {
		return err
	}

	if err := s.releaseHold(ctx, tx, b, original.ID, out); err != nil {
		return err
	}
	if _, err := s.promoteAvailable(ctx, tx, original.ID, out); err != nil {
		return err
	}

	out.publish(events.EventRescheduleApproved, reschedulePayload(req, actor.Role == models.RoleSystem))
	out.publish(events.EventBookingConfirmed, bookingEvent(b, actor))
	out.onCommit(func() { metrics.IncReschedule(string(models.RescheduleApproved)) })
	return nil
}

// reject closes a pending request without touching the booking.
func (s *RescheduleService) reject(
	ctx context.Context,
	tx domain.Tx,
	req *models.RescheduleRequest,
	actor models.Actor,
	notes string,
	out *outbox,
) error {
	now := s.now()
	req.Status = models.RescheduleRejected
	req.AdminNotes = notes
	req.ProcessedAt = &now
	if actor.Role != models.RoleSystem {
		processedBy := actor.UserID
		req.ProcessedBy = &processedBy
	}
	if err := tx.UpdateRescheduleRequest(ctx, req); err != nil {
		return err
	}
	out.publish(events.EventRescheduleRejected, reschedulePayload(req, false))
	out.onCommit(func() { metrics.IncReschedule(string(models.RescheduleRejected)) })
	return nil
}

func reschedulePayload(req *models.RescheduleRequest, auto bool) events.ReschedulePayload {
	return events.ReschedulePayload{
		RequestID:       req.ID,
		BookingID:       req.BookingID,
		UserID:          req.UserID,
		OriginalClassID: req.OriginalClassID,
		TargetClassID:   req.TargetClassID,
		Status:          string(req.Status),
		AutoApproved:    auto,
		ProcessedBy:     req.ProcessedBy,
	}
}
