package domain

import (
	"context"
	"time"

	"classbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Queries is the data access surface shared by the store and its transactions.
type Queries interface {
	GetClass(ctx context.Context, id int64) (*models.ScheduledClass, error)
	CreateClass(ctx context.Context, class *models.ScheduledClass) error
	ListClasses(ctx context.Context, from, to time.Time) ([]*models.ScheduledClass, error)
	AdjustOccupancy(ctx context.Context, classID int64, delta int) error
	CountOccupyingBookings(ctx context.Context, classID int64) (int, error)

	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	FindActiveBooking(ctx context.Context, classID, userID int64) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBooking(ctx context.Context, booking *models.Booking) error
	DeleteBooking(ctx context.Context, id int64) error
	GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error)

	GetWaitlistEntry(ctx context.Context, classID, userID int64) (*models.WaitlistEntry, error)
	ListWaitlist(ctx context.Context, classID int64) ([]*models.WaitlistEntry, error)
	MaxWaitlistPosition(ctx context.Context, classID int64) (int, error)
	CreateWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error
	UpdateWaitlistEntry(ctx context.Context, entry *models.WaitlistEntry) error
	DeleteWaitlistEntry(ctx context.Context, id int64) error
	ShiftWaitlistPositions(ctx context.Context, classID int64, after int) error
	NextWaitingEntry(ctx context.Context, classID int64) (*models.WaitlistEntry, error)
	ListExpiredHolds(ctx context.Context, now time.Time) ([]*models.WaitlistEntry, error)

	ListActivePolicies(ctx context.Context) ([]*models.CancellationPolicy, error)
	ListPolicies(ctx context.Context) ([]*models.CancellationPolicy, error)
	CreatePolicy(ctx context.Context, policy *models.CancellationPolicy) error

	CreateRescheduleRequest(ctx context.Context, req *models.RescheduleRequest) error
	GetRescheduleRequest(ctx context.Context, id int64) (*models.RescheduleRequest, error)
	UpdateRescheduleRequest(ctx context.Context, req *models.RescheduleRequest) error
	HasPendingReschedule(ctx context.Context, bookingID int64) (bool, error)
	CountApprovedReschedules(ctx context.Context, userID, policyID int64, from, to time.Time) (int, error)

	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
}

// Tx is a unit of work. Everything done through it commits or rolls back together.
type Tx interface {
	Queries
}

// Store is the single consistent backing store.
type Store interface {
	Queries
	// InClassTx runs fn in one transaction while holding the locks of every
	// listed class. No two calls sharing a class interleave.
	InClassTx(ctx context.Context, classIDs []int64, fn func(tx Tx) error) error
	PingContext(ctx context.Context) error
}

type NotificationQueue interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error)
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier delivers a message to a member through some channel.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string) error
}

type RateLimitRepository interface {
	CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramService is the part of the bot API the member bot drives.
type TelegramService interface {
	TelegramSender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

type BookingService interface {
	BookClass(ctx context.Context, actor models.Actor, req BookRequest) (*BookResult, error)
	CancelBooking(ctx context.Context, actor models.Actor, bookingID int64, reason string) (*CancelResult, error)
	CheckIn(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error)
	Complete(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error)
	MarkNoShow(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error)
	GetBooking(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error)
	ClassOccupancy(ctx context.Context, classID int64) (*models.Occupancy, error)
}

type WaitlistService interface {
	Join(ctx context.Context, actor models.Actor, classID, userID int64) (*models.WaitlistEntry, error)
	Leave(ctx context.Context, actor models.Actor, classID, userID int64) error
	Status(ctx context.Context, classID, userID int64) (*models.WaitlistPosition, error)
	AcceptSpot(ctx context.Context, actor models.Actor, classID, userID int64) (*models.Booking, error)
	PromoteNext(ctx context.Context, actor models.Actor, classID int64) ([]models.Promotion, error)
	ExpireHolds(ctx context.Context, now time.Time) (*SweepResult, error)
}

type PolicyService interface {
	CheckPolicy(ctx context.Context, actor models.Actor, bookingID int64) (*models.PolicyEvaluation, error)
	CreatePolicy(ctx context.Context, policy *models.CancellationPolicy) error
	ListPolicies(ctx context.Context) ([]*models.CancellationPolicy, error)
}

type RescheduleService interface {
	RequestReschedule(ctx context.Context, actor models.Actor, bookingID, targetClassID int64, reason string) (*models.RescheduleRequest, error)
	ProcessReschedule(
		ctx context.Context,
		actor models.Actor,
		requestID int64,
		decision models.RescheduleDecision,
		adminNotes string,
	) (*models.RescheduleRequest, error)
}

type BookRequest struct {
	ClassID            int64  `json:"class_id"`
	UserID             int64  `json:"user_id"`
	PackageID          *int64 `json:"package_id,omitempty"`
	JoinWaitlistIfFull bool   `json:"join_waitlist_if_full"`
}

type BookResult struct {
	Booking       *models.Booking       `json:"booking"`
	WaitlistEntry *models.WaitlistEntry `json:"waitlist_entry,omitempty"`
}

type CancelResult struct {
	Booking    *models.Booking          `json:"booking"`
	Evaluation *models.PolicyEvaluation `json:"evaluation"`
	Promoted   []models.Promotion       `json:"promoted,omitempty"`
}

type SweepResult struct {
	Expired  []models.WaitlistEntry `json:"expired"`
	Promoted []models.Promotion     `json:"promoted"`
}
