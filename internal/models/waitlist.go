package models

import "time"

type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "waiting"
	WaitlistNotified WaitlistStatus = "notified"
	WaitlistExpired  WaitlistStatus = "expired"
)

// WaitlistEntry is a user's place in a class queue. Queued entries (waiting
// or notified) have Position 1..N; expired entries are out of the queue and
// have Position 0. A notified entry records the booking its promotion
// confirmed in HeldBookingID.
type WaitlistEntry struct {
	ID            int64          `json:"id"`
	ClassID       int64          `json:"class_id"`
	UserID        int64          `json:"user_id"`
	Position      int            `json:"position"`
	Status        WaitlistStatus `json:"status"`
	HeldBookingID *int64         `json:"held_booking_id,omitempty"`
	NotifiedAt    *time.Time     `json:"notified_at,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (e *WaitlistEntry) IsQueued() bool {
	return e.Status == WaitlistWaiting || e.Status == WaitlistNotified
}

// HoldExpired reports whether a notified entry's hold has run out at now.
func (e *WaitlistEntry) HoldExpired(now time.Time) bool {
	return e.Status == WaitlistNotified && e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// WaitlistPosition is the answer to a status query.
type WaitlistPosition struct {
	InWaitlist bool           `json:"in_waitlist"`
	Position   int            `json:"position,omitempty"`
	Status     WaitlistStatus `json:"status,omitempty"`
	NotifiedAt *time.Time     `json:"notified_at,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
}

// Promotion describes one promoted waitlist entry.
type Promotion struct {
	Entry   WaitlistEntry `json:"entry"`
	Booking Booking       `json:"booking"`
}
