package database

import (
	"context"
	"fmt"
	"time"

	"classbook/internal/models"
)

const waitlistColumns = `id, class_id, user_id, position, status, held_booking_id, notified_at, expires_at,
	created_at, updated_at`

func scanWaitlistEntry(row rowScanner) (*models.WaitlistEntry, error) {
	var e models.WaitlistEntry
	err := row.Scan(
		&e.ID, &e.ClassID, &e.UserID, &e.Position, &e.Status, &e.HeldBookingID,
		&e.NotifiedAt, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *store) queryWaitlist(ctx context.Context, query string, args ...interface{}) ([]*models.WaitlistEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query waitlist: %w", err)
	}
	defer rows.Close()

	var entries []*models.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan waitlist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetWaitlistEntry returns the user's entry for the class, including an
// expired one.
func (s *store) GetWaitlistEntry(ctx context.Context, classID, userID int64) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE class_id = ? AND user_id = ?`
	e, err := scanWaitlistEntry(s.q.QueryRowContext(ctx, query, classID, userID))
	if err != nil {
		return nil, notFound(err, "waitlist entry for class", classID)
	}
	return e, nil
}

// ListWaitlist returns the queued entries of a class in position order.
func (s *store) ListWaitlist(ctx context.Context, classID int64) ([]*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries
              WHERE class_id = ? AND status IN (?, ?) ORDER BY position ASC`
	return s.queryWaitlist(ctx, query, classID, models.WaitlistWaiting, models.WaitlistNotified)
}

func (s *store) MaxWaitlistPosition(ctx context.Context, classID int64) (int, error) {
	query := `SELECT COALESCE(MAX(position), 0) FROM waitlist_entries WHERE class_id = ? AND status IN (?, ?)`
	var pos int
	err := s.q.QueryRowContext(ctx, query, classID, models.WaitlistWaiting, models.WaitlistNotified).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("failed to get max waitlist position: %w", err)
	}
	return pos, nil
}

func (s *store) CreateWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error {
	query := `INSERT INTO waitlist_entries (
				class_id, user_id, position, status, held_booking_id, notified_at, expires_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := utc(time.Now())
	result, err := s.q.ExecContext(ctx, query,
		entry.ClassID,
		entry.UserID,
		entry.Position,
		entry.Status,
		entry.HeldBookingID,
		utcPtr(entry.NotifiedAt),
		utcPtr(entry.ExpiresAt),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create waitlist entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	entry.NotifiedAt = utcPtr(entry.NotifiedAt)
	entry.ExpiresAt = utcPtr(entry.ExpiresAt)
	entry.CreatedAt = now
	entry.UpdatedAt = now
	return nil
}

func (s *store) UpdateWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error {
	query := `UPDATE waitlist_entries SET position = ?, status = ?, held_booking_id = ?, notified_at = ?,
              expires_at = ?, updated_at = ? WHERE id = ?`
	now := utc(time.Now())
	result, err := s.q.ExecContext(ctx, query,
		entry.Position,
		entry.Status,
		entry.HeldBookingID,
		utcPtr(entry.NotifiedAt),
		utcPtr(entry.ExpiresAt),
		now,
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update waitlist entry: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("waitlist entry %d: %w", entry.ID, ErrNotFound)
	}
	entry.NotifiedAt = utcPtr(entry.NotifiedAt)
	entry.ExpiresAt = utcPtr(entry.ExpiresAt)
	entry.UpdatedAt = now
	return nil
}

func (s *store) DeleteWaitlistEntry(ctx context.Context, id int64) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete waitlist entry: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("waitlist entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// ShiftWaitlistPositions closes the gap left at position after by moving
// every later queued entry up by one.
func (s *store) ShiftWaitlistPositions(ctx context.Context, classID int64, after int) error {
	query := `UPDATE waitlist_entries SET position = position - 1, updated_at = ?
              WHERE class_id = ? AND position > ? AND status IN (?, ?)`
	_, err := s.q.ExecContext(ctx, query, utc(time.Now()), classID, after,
		models.WaitlistWaiting, models.WaitlistNotified)
	if err != nil {
		return fmt.Errorf("failed to shift waitlist positions: %w", err)
	}
	return nil
}

// NextWaitingEntry returns the lowest-position entry still waiting.
func (s *store) NextWaitingEntry(ctx context.Context, classID int64) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries
              WHERE class_id = ? AND status = ? ORDER BY position ASC LIMIT 1`
	e, err := scanWaitlistEntry(s.q.QueryRowContext(ctx, query, classID, models.WaitlistWaiting))
	if err != nil {
		return nil, notFound(err, "waiting entry for class", classID)
	}
	return e, nil
}

// ListExpiredHolds returns notified entries whose hold ended at or before now.
func (s *store) ListExpiredHolds(ctx context.Context, now time.Time) ([]*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries
              WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
              ORDER BY expires_at ASC, id ASC`
	return s.queryWaitlist(ctx, query, models.WaitlistNotified, utc(now))
}
