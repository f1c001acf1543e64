// Package policy turns the time left before a class into cancellation and
// reschedule permissions. Everything here is pure; callers load policies and
// reschedule counts themselves.
package policy

import (
	"fmt"
	"time"

	"classbook/internal/database"
	"classbook/internal/models"
)

// Input describes the booking being evaluated.
type Input struct {
	BookingID            int64
	ClassStartsAt        time.Time
	ClassType            string
	PackageID            *int64
	Now                  time.Time
	ReschedulesThisMonth int
	AdminOverride        bool
}

// Select picks the first active policy, in ascending priority, whose filter
// matches the class. With no match the fallback applies.
func Select(policies []*models.CancellationPolicy, classType string, packageID *int64, fallback models.CancellationPolicy) models.CancellationPolicy {
	var best *models.CancellationPolicy
	for _, p := range policies {
		if p == nil || !p.IsActive || !p.ApplicableTo.Matches(classType, packageID) {
			continue
		}
		if best == nil || p.Priority < best.Priority || (p.Priority == best.Priority && p.ID < best.ID) {
			best = p
		}
	}
	if best == nil {
		return fallback
	}
	return *best
}

// HoursUntil returns the signed number of hours from now to start.
func HoursUntil(start, now time.Time) float64 {
	return start.Sub(now).Hours()
}

// Evaluate applies p to in. A zero start time is rejected rather than guessed.
func Evaluate(p models.CancellationPolicy, in Input) (models.PolicyEvaluation, error) {
	if in.ClassStartsAt.IsZero() {
		return models.PolicyEvaluation{}, fmt.Errorf("booking %d has no class start: %w", in.BookingID, database.ErrInvalidSchedule)
	}

	hours := HoursUntil(in.ClassStartsAt, in.Now)
	eligible := hours
	if eligible < 0 {
		eligible = 0
	}

	free := eligible >= p.HoursBefore
	penalty := 0.0
	if !free {
		penalty = p.PenaltyPercentage
	}

	return models.PolicyEvaluation{
		BookingID:               in.BookingID,
		CanCancel:               eligible > 0 || in.AdminOverride,
		CanCancelWithoutPenalty: free,
		CanReschedule: p.AllowReschedule &&
			eligible >= p.RescheduleHoursBefore &&
			in.ReschedulesThisMonth < p.MaxReschedulesPerMonth,
		PenaltyPercentage:    penalty,
		HoursUntilClass:      hours,
		ReschedulesThisMonth: in.ReschedulesThisMonth,
		Policy:               p,
	}, nil
}

// MonthBounds returns [first instant of t's calendar month, first instant of
// the next month) in UTC.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
