package worker

import (
	"encoding/json"
	"fmt"

	"classbook/internal/events"
	"classbook/internal/models"
)

const timeLayout = "Mon 02 Jan 15:04 MST"

// renderMessage builds the member-facing text for an event. An empty
// message means the event is not announced.
func renderMessage(event *events.Event) (int64, string, error) {
	switch event.Type {
	case events.EventWaitlistSpotAvailable:
		var p events.SpotAvailablePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return 0, "", fmt.Errorf("decode %s: %w", event.Type, err)
		}
		return p.UserID, fmt.Sprintf(
			"A spot opened up in %s on %s. It is held for you until %s.",
			p.ClassName, p.StartsAt.Format(timeLayout), p.ExpiresAt.Format(timeLayout),
		), nil

	case events.EventWaitlistHoldExpired:
		var p events.WaitlistEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return 0, "", fmt.Errorf("decode %s: %w", event.Type, err)
		}
		return p.UserID, fmt.Sprintf("Your held spot in class %d expired and was offered to the next member.", p.ClassID), nil

	case events.EventBookingCancelled:
		var p events.BookingEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return 0, "", fmt.Errorf("decode %s: %w", event.Type, err)
		}
		msg := fmt.Sprintf("Booking %d for %s was cancelled.", p.BookingID, p.ClassStartsAt.Format(timeLayout))
		if p.PenaltyPercentage > 0 {
			msg += fmt.Sprintf(" A %.0f%% late cancellation fee applies.", p.PenaltyPercentage)
		}
		return p.UserID, msg, nil

	case events.EventRescheduleApproved, events.EventRescheduleRejected:
		var p events.ReschedulePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return 0, "", fmt.Errorf("decode %s: %w", event.Type, err)
		}
		if p.Status == string(models.RescheduleApproved) {
			return p.UserID, fmt.Sprintf("Your booking %d was moved to class %d.", p.BookingID, p.TargetClassID), nil
		}
		return p.UserID, fmt.Sprintf("Your request to move booking %d to class %d was declined.", p.BookingID, p.TargetClassID), nil
	}
	return 0, "", nil
}
