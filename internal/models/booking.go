package models

import "time"

type BookingStatus string

const (
	StatusConfirmed BookingStatus = "confirmed"
	StatusWaitlist  BookingStatus = "waitlist"
	StatusCancelled BookingStatus = "cancelled"
	StatusCheckedIn BookingStatus = "checked_in"
	StatusCompleted BookingStatus = "completed"
	StatusNoShow    BookingStatus = "no_show"
)

type Booking struct {
	ID                 int64         `json:"id"`
	UserID             int64         `json:"user_id"`
	ClassID            int64         `json:"class_id"`
	PackageID          *int64        `json:"package_id,omitempty"`
	Status             BookingStatus `json:"status"`
	Attended           bool          `json:"attended"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	PenaltyPercentage  float64       `json:"penalty_percentage"`
	ClassStartsAt      time.Time     `json:"class_starts_at"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	Version            int64         `json:"version"`
}

// transitions lists every allowed status change. Creation edges are not
// listed here; see CanCreateWith.
var transitions = map[BookingStatus][]BookingStatus{
	StatusWaitlist:  {StatusConfirmed},
	StatusConfirmed: {StatusCancelled, StatusCheckedIn, StatusNoShow},
	StatusCheckedIn: {StatusCompleted},
}

// CanTransition reports whether a booking may move from one status to another.
// confirmed -> confirmed is the reschedule edge and is only valid together
// with a class change, which the caller checks.
func CanTransition(from, to BookingStatus) bool {
	if from == StatusConfirmed && to == StatusConfirmed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanCreateWith reports whether a new booking may start in the given status.
func CanCreateWith(status BookingStatus) bool {
	return status == StatusConfirmed || status == StatusWaitlist
}

// CountsTowardOccupancy reports whether bookings in this status hold a seat.
func (s BookingStatus) CountsTowardOccupancy() bool {
	switch s {
	case StatusConfirmed, StatusCheckedIn, StatusCompleted:
		return true
	}
	return false
}

// IsActive reports whether the booking still blocks the user from booking the
// same class again.
func (s BookingStatus) IsActive() bool {
	return s.CountsTowardOccupancy() || s == StatusWaitlist
}

// FreesSeat reports whether entering this status releases a held seat.
func (s BookingStatus) FreesSeat() bool {
	return s == StatusCancelled || s == StatusNoShow
}
