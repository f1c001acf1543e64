package database

import (
	"context"
	"fmt"
	"time"

	"classbook/internal/models"
)

const bookingColumns = `id, user_id, class_id, package_id, status, attended, cancellation_reason,
	penalty_percentage, class_starts_at, created_at, updated_at, version`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID, &b.UserID, &b.ClassID, &b.PackageID, &b.Status, &b.Attended, &b.CancellationReason,
		&b.PenaltyPercentage, &b.ClassStartsAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *store) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	return b, nil
}

// FindActiveBooking returns the user's booking for the class that still
// blocks a new one (waitlisted or holding a seat).
func (s *store) FindActiveBooking(ctx context.Context, classID, userID int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE class_id = ? AND user_id = ? AND status IN (?, ?, ?, ?)
              ORDER BY id DESC LIMIT 1`
	b, err := scanBooking(s.q.QueryRowContext(ctx, query, classID, userID,
		models.StatusConfirmed, models.StatusWaitlist, models.StatusCheckedIn, models.StatusCompleted))
	if err != nil {
		return nil, notFound(err, "active booking for class", classID)
	}
	return b, nil
}

func (s *store) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if !models.CanCreateWith(booking.Status) {
		return fmt.Errorf("create booking as %s: %w", booking.Status, ErrInvalidStatusTransition)
	}

	query := `INSERT INTO bookings (
				user_id, class_id, package_id, status, attended, cancellation_reason,
				penalty_percentage, class_starts_at, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
	now := utc(time.Now())
	result, err := s.q.ExecContext(ctx, query,
		booking.UserID,
		booking.ClassID,
		booking.PackageID,
		booking.Status,
		booking.Attended,
		booking.CancellationReason,
		booking.PenaltyPercentage,
		utc(booking.ClassStartsAt),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.ClassStartsAt = utc(booking.ClassStartsAt)
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

// UpdateBooking writes the mutable fields if the stored version still matches
// booking.Version, then bumps the version.
func (s *store) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	query := `UPDATE bookings SET
				class_id = ?, status = ?, attended = ?, cancellation_reason = ?,
				penalty_percentage = ?, class_starts_at = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND version = ?`
	now := utc(time.Now())
	result, err := s.q.ExecContext(ctx, query,
		booking.ClassID,
		booking.Status,
		booking.Attended,
		booking.CancellationReason,
		booking.PenaltyPercentage,
		utc(booking.ClassStartsAt),
		now,
		booking.ID,
		booking.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}

	booking.ClassStartsAt = utc(booking.ClassStartsAt)
	booking.UpdatedAt = now
	booking.Version++
	return nil
}

func (s *store) DeleteBooking(ctx context.Context, id int64) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *store) GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ? ORDER BY class_starts_at DESC, id DESC`
	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
