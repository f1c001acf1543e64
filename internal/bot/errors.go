package bot

import (
	"errors"

	"classbook/internal/database"
)

// userMessage turns an engine error into text for the member.
func userMessage(err error) string {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return "That class or booking no longer exists."
	case errors.Is(err, database.ErrAlreadyBooked):
		return "You already have a booking for this class."
	case errors.Is(err, database.ErrAlreadyWaitlisted):
		return "You are already on the waitlist for this class."
	case errors.Is(err, database.ErrNotInWaitlist):
		return "You are not on the waitlist for this class."
	case errors.Is(err, database.ErrClassFull):
		return "This class is full."
	case errors.Is(err, database.ErrClassNotActive):
		return "This class is no longer open for booking."
	case errors.Is(err, database.ErrBookingNotActive):
		return "This booking is no longer active."
	case errors.Is(err, database.ErrCancelWindowClosed):
		return "This class has already started and can no longer be cancelled."
	case errors.Is(err, database.ErrForbidden):
		return "That booking belongs to someone else."
	case errors.Is(err, database.ErrConcurrentModification):
		return "Someone else changed this at the same time. Please try again."
	default:
		return msgFailed
	}
}
