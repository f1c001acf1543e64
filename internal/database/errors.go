package database

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// Precondition violations: valid business states, returned to the caller as is.
	ErrClassNotFull           = errors.New("class still has open spots")
	ErrClassFull              = errors.New("class is full")
	ErrClassNotActive         = errors.New("class is not active")
	ErrAlreadyBooked          = errors.New("user already has a booking for this class")
	ErrAlreadyWaitlisted      = errors.New("user is already on the waitlist for this class")
	ErrNotInWaitlist          = errors.New("user is not on the waitlist for this class")
	ErrTargetClassFull        = errors.New("target class is full")
	ErrRescheduleWindowClosed = errors.New("booking can no longer be rescheduled")
	ErrCancelWindowClosed     = errors.New("booking can no longer be cancelled")
	ErrAlreadyProcessed       = errors.New("reschedule request already processed")
	ErrReschedulePending      = errors.New("booking already has a pending reschedule request")
	ErrBookingNotActive       = errors.New("booking is not active")
	ErrInvalidSchedule        = errors.New("invalid class schedule")
	ErrForbidden              = errors.New("actor is not allowed to perform this operation")
	ErrInvalidInput           = errors.New("invalid input")

	// Invariant violations: the transaction is rolled back and the failure logged.
	ErrCapacityExceeded        = errors.New("capacity exceeded")
	ErrInvalidStatusTransition = errors.New("invalid booking status transition")
	ErrConcurrentModification  = errors.New("concurrent modification detected")
)

var preconditions = []error{
	ErrClassNotFull,
	ErrClassFull,
	ErrClassNotActive,
	ErrAlreadyBooked,
	ErrAlreadyWaitlisted,
	ErrNotInWaitlist,
	ErrTargetClassFull,
	ErrRescheduleWindowClosed,
	ErrCancelWindowClosed,
	ErrAlreadyProcessed,
	ErrReschedulePending,
	ErrBookingNotActive,
	ErrInvalidSchedule,
	ErrInvalidInput,
}

// IsPrecondition reports whether err is a business precondition failure.
func IsPrecondition(err error) bool {
	for _, target := range preconditions {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInvariant reports whether err signals a broken ledger or state machine.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrConcurrentModification)
}
