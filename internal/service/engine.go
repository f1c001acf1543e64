package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classbook/internal/config"
	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/metrics"
	"classbook/internal/models"
	"classbook/internal/policy"

	"github.com/rs/zerolog"
)

// Options tune the booking engine.
type Options struct {
	HoldWindow       time.Duration
	AutoApprove      bool
	AutoApproveHours float64
	DefaultPolicy    models.CancellationPolicy
	Now              func() time.Time
}

func OptionsFromConfig(cfg config.BookingConfig) Options {
	return Options{
		HoldWindow:       cfg.HoldWindow,
		AutoApprove:      cfg.AutoApprove(),
		AutoApproveHours: cfg.AutoApproveHours,
		DefaultPolicy:    cfg.DefaultCancellationPolicy(),
	}
}

func (o Options) withDefaults() Options {
	if o.HoldWindow <= 0 {
		o.HoldWindow = models.DefaultHoldWindow
	}
	if o.DefaultPolicy.Name == "" {
		o.DefaultPolicy = models.CancellationPolicy{
			Name:                   "default",
			HoursBefore:            models.DefaultPolicyHoursBefore,
			RescheduleHoursBefore:  models.DefaultPolicyRescheduleHoursBefore,
			AllowReschedule:        true,
			MaxReschedulesPerMonth: models.DefaultPolicyMaxReschedulesPerMonth,
			ApplicableTo:           models.AnyFilter(),
			IsActive:               true,
		}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// engine is shared by the workflow services. All capacity and queue
// mutations go through run, which pairs them in one transaction.
type engine struct {
	store     domain.Store
	publisher domain.EventPublisher
	opts      Options
	logger    *zerolog.Logger
}

func newEngine(store domain.Store, publisher domain.EventPublisher, opts Options, logger *zerolog.Logger) *engine {
	return &engine{
		store:     store,
		publisher: publisher,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

func (e *engine) now() time.Time {
	return e.opts.Now().UTC().Truncate(time.Second)
}

type pendingEvent struct {
	eventType string
	payload   interface{}
}

// outbox collects side effects produced inside a transaction. They only run
// once the transaction has committed.
type outbox struct {
	events []pendingEvent
	after  []func()
}

func (o *outbox) publish(eventType string, payload interface{}) {
	o.events = append(o.events, pendingEvent{eventType: eventType, payload: payload})
}

func (o *outbox) onCommit(fn func()) {
	o.after = append(o.after, fn)
}

func (e *engine) run(ctx context.Context, op string, classIDs []int64, fn func(tx domain.Tx, out *outbox) error) error {
	out := &outbox{}
	err := e.store.InClassTx(ctx, classIDs, func(tx domain.Tx) error {
		return fn(tx, out)
	})
	if err != nil {
		if database.IsInvariant(err) {
			metrics.IncInvariantViolation(op)
			e.logger.Error().Err(err).Str("operation", op).Interface("classes", classIDs).Msg("Operation rolled back")
		}
		return err
	}

	for _, fn := range out.after {
		fn()
	}
	for _, ev := range out.events {
		if e.publisher == nil {
			break
		}
		if err := e.publisher.PublishJSON(ev.eventType, ev.payload); err != nil {
			e.logger.Error().Err(err).Str("event_type", ev.eventType).Msg("publish event error")
		}
	}
	return nil
}

// evaluate selects the booking's policy and applies it at the current time.
func (e *engine) evaluate(
	ctx context.Context,
	q domain.Queries,
	booking *models.Booking,
	class *models.ScheduledClass,
	actor models.Actor,
) (models.PolicyEvaluation, error) {
	policies, err := q.ListActivePolicies(ctx)
	if err != nil {
		return models.PolicyEvaluation{}, err
	}
	p := policy.Select(policies, class.ClassType, booking.PackageID, e.opts.DefaultPolicy)

	now := e.now()
	from, to := policy.MonthBounds(now)
	count, err := q.CountApprovedReschedules(ctx, booking.UserID, p.ID, from, to)
	if err != nil {
		return models.PolicyEvaluation{}, err
	}

	eval, err := policy.Evaluate(p, policy.Input{
		BookingID:            booking.ID,
		ClassStartsAt:        class.StartsAt,
		ClassType:            class.ClassType,
		PackageID:            booking.PackageID,
		Now:                  now,
		ReschedulesThisMonth: count,
		AdminOverride:        actor.IsAdmin(),
	})
	if err != nil {
		return models.PolicyEvaluation{}, err
	}
	metrics.IncPolicyEvaluation(p.Name)
	return eval, nil
}

// lockedBooking reloads a booking inside the transaction and makes sure it
// still belongs to the class whose lock is held.
func lockedBooking(ctx context.Context, tx domain.Tx, bookingID, classID int64) (*models.Booking, error) {
	b, err := tx.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.ClassID != classID {
		return nil, fmt.Errorf("booking %d moved to class %d: %w", bookingID, b.ClassID, database.ErrConcurrentModification)
	}
	return b, nil
}

func requireOpen(class *models.ScheduledClass, now time.Time) error {
	if class.Status != models.ClassActive {
		return fmt.Errorf("class %d is %s: %w", class.ID, class.Status, database.ErrClassNotActive)
	}
	if !class.StartsAt.After(now) {
		return fmt.Errorf("class %d already started: %w", class.ID, database.ErrClassNotActive)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}
