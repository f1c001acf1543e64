package database

import (
	"context"
	"fmt"
	"time"

	"classbook/internal/models"
)

const classColumns = `id, name, class_type, starts_at, duration_minutes, max_occupancy,
	current_occupancy, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClass(row rowScanner) (*models.ScheduledClass, error) {
	var c models.ScheduledClass
	err := row.Scan(
		&c.ID, &c.Name, &c.ClassType, &c.StartsAt, &c.DurationMinutes, &c.MaxOccupancy,
		&c.CurrentOccupancy, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *store) GetClass(ctx context.Context, id int64) (*models.ScheduledClass, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE id = ?`
	c, err := scanClass(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "class", id)
	}
	return c, nil
}

func (s *store) CreateClass(ctx context.Context, class *models.ScheduledClass) error {
	if class.StartsAt.IsZero() || class.DurationMinutes < 0 {
		return fmt.Errorf("class %q: %w", class.Name, ErrInvalidSchedule)
	}
	if class.MaxOccupancy < 0 || class.CurrentOccupancy != 0 {
		return fmt.Errorf("class %q: invalid capacity %d/%d", class.Name, class.CurrentOccupancy, class.MaxOccupancy)
	}
	if class.Status == "" {
		class.Status = models.ClassActive
	}

	now := utc(time.Now())
	query := `INSERT INTO classes (
				name, class_type, starts_at, duration_minutes, max_occupancy,
				current_occupancy, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`
	result, err := s.q.ExecContext(ctx, query,
		class.Name,
		class.ClassType,
		utc(class.StartsAt),
		class.DurationMinutes,
		class.MaxOccupancy,
		class.Status,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create class: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	class.ID = id
	class.StartsAt = utc(class.StartsAt)
	class.CreatedAt = now
	class.UpdatedAt = now
	return nil
}

// ListClasses returns classes starting in [from, to), soonest first.
func (s *store) ListClasses(ctx context.Context, from, to time.Time) ([]*models.ScheduledClass, error) {
	query := `SELECT ` + classColumns + ` FROM classes
              WHERE starts_at >= ? AND starts_at < ? ORDER BY starts_at ASC, id ASC`
	rows, err := s.q.QueryContext(ctx, query, utc(from), utc(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}
	defer rows.Close()

	var classes []*models.ScheduledClass
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// AdjustOccupancy is the only writer of current_occupancy. It refuses to move
// the count outside [0, max_occupancy] instead of clamping.
func (s *store) AdjustOccupancy(ctx context.Context, classID int64, delta int) error {
	if delta == 0 {
		return nil
	}

	query := `UPDATE classes SET current_occupancy = current_occupancy + ?, updated_at = ?
              WHERE id = ? AND current_occupancy + ? BETWEEN 0 AND max_occupancy`
	result, err := s.q.ExecContext(ctx, query, delta, utc(time.Now()), classID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust occupancy: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to adjust occupancy: %w", err)
	}
	if rows == 1 {
		return nil
	}

	class, err := s.GetClass(ctx, classID)
	if err != nil {
		return err
	}
	return fmt.Errorf("class %d occupancy %d%+d outside [0, %d]: %w",
		classID, class.CurrentOccupancy, delta, class.MaxOccupancy, ErrCapacityExceeded)
}

// CountOccupyingBookings counts the bookings that hold a seat in the class.
func (s *store) CountOccupyingBookings(ctx context.Context, classID int64) (int, error) {
	query := `SELECT COUNT(*) FROM bookings WHERE class_id = ? AND status IN (?, ?, ?)`
	var count int
	err := s.q.QueryRowContext(ctx, query, classID,
		models.StatusConfirmed, models.StatusCheckedIn, models.StatusCompleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count occupying bookings: %w", err)
	}
	return count, nil
}
