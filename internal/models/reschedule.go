package models

import "time"

type RescheduleStatus string

const (
	ReschedulePending  RescheduleStatus = "pending"
	RescheduleApproved RescheduleStatus = "approved"
	RescheduleRejected RescheduleStatus = "rejected"
)

type RescheduleDecision string

const (
	DecisionApprove RescheduleDecision = "approve"
	DecisionReject  RescheduleDecision = "reject"
)

type RescheduleRequest struct {
	ID              int64            `json:"id"`
	BookingID       int64            `json:"booking_id"`
	UserID          int64            `json:"user_id"`
	OriginalClassID int64            `json:"original_class_id"`
	TargetClassID   int64            `json:"target_class_id"`
	PolicyID        int64            `json:"policy_id"`
	RequestedBy     int64            `json:"requested_by"`
	Status          RescheduleStatus `json:"status"`
	Reason          string           `json:"reason,omitempty"`
	AdminNotes      string           `json:"admin_notes,omitempty"`
	RequestedAt     time.Time        `json:"requested_at"`
	ProcessedAt     *time.Time       `json:"processed_at,omitempty"`
	ProcessedBy     *int64           `json:"processed_by,omitempty"`
}

func (r *RescheduleRequest) IsProcessed() bool {
	return r.Status != ReschedulePending
}
