package database

import (
	"context"
	"fmt"
	"time"

	"classbook/internal/models"
)

const rescheduleColumns = `id, booking_id, user_id, original_class_id, target_class_id, policy_id, requested_by,
	status, reason, admin_notes, requested_at, processed_at, processed_by`

func (s *store) CreateRescheduleRequest(ctx context.Context, req *models.RescheduleRequest) error {
	if req.Status == "" {
		req.Status = models.ReschedulePending
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}

	query := `INSERT INTO reschedule_requests (
				booking_id, user_id, original_class_id, target_class_id, policy_id, requested_by,
				status, reason, admin_notes, requested_at, processed_at, processed_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.q.ExecContext(ctx, query,
		req.BookingID,
		req.UserID,
		req.OriginalClassID,
		req.TargetClassID,
		req.PolicyID,
		req.RequestedBy,
		req.Status,
		req.Reason,
		req.AdminNotes,
		utc(req.RequestedAt),
		utcPtr(req.ProcessedAt),
		req.ProcessedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create reschedule request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	req.ID = id
	req.RequestedAt = utc(req.RequestedAt)
	req.ProcessedAt = utcPtr(req.ProcessedAt)
	return nil
}

func (s *store) GetRescheduleRequest(ctx context.Context, id int64) (*models.RescheduleRequest, error) {
	var r models.RescheduleRequest
	query := `SELECT ` + rescheduleColumns + ` FROM reschedule_requests WHERE id = ?`
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.BookingID, &r.UserID, &r.OriginalClassID, &r.TargetClassID, &r.PolicyID, &r.RequestedBy,
		&r.Status, &r.Reason, &r.AdminNotes, &r.RequestedAt, &r.ProcessedAt, &r.ProcessedBy,
	)
	if err != nil {
		return nil, notFound(err, "reschedule request", id)
	}
	return &r, nil
}

// UpdateRescheduleRequest records the decision on a pending request. A
// request leaves pending exactly once; later attempts get ErrAlreadyProcessed.
func (s *store) UpdateRescheduleRequest(ctx context.Context, req *models.RescheduleRequest) error {
	query := `UPDATE reschedule_requests SET status = ?, admin_notes = ?, processed_at = ?, processed_by = ?
              WHERE id = ? AND status = ?`
	result, err := s.q.ExecContext(ctx, query,
		req.Status,
		req.AdminNotes,
		utcPtr(req.ProcessedAt),
		req.ProcessedBy,
		req.ID,
		models.ReschedulePending,
	)
	if err != nil {
		return fmt.Errorf("failed to update reschedule request: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("reschedule request %d: %w", req.ID, ErrAlreadyProcessed)
	}
	req.ProcessedAt = utcPtr(req.ProcessedAt)
	return nil
}

// HasPendingReschedule reports whether the booking has a request still
// waiting for a decision.
func (s *store) HasPendingReschedule(ctx context.Context, bookingID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM reschedule_requests WHERE booking_id = ? AND status = ?)`
	var pending bool
	if err := s.q.QueryRowContext(ctx, query, bookingID, models.ReschedulePending).Scan(&pending); err != nil {
		return false, fmt.Errorf("failed to check pending reschedules: %w", err)
	}
	return pending, nil
}

// CountApprovedReschedules counts the user's reschedules under one policy
// approved in [from, to).
func (s *store) CountApprovedReschedules(ctx context.Context, userID, policyID int64, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM reschedule_requests
              WHERE user_id = ? AND policy_id = ? AND status = ? AND processed_at >= ? AND processed_at < ?`
	var count int
	err := s.q.QueryRowContext(ctx, query, userID, policyID, models.RescheduleApproved, utc(from), utc(to)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reschedules: %w", err)
	}
	return count, nil
}
