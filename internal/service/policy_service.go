package service

import (
	"context"
	"fmt"

	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/models"

	"github.com/rs/zerolog"
)

type PolicyService struct {
	*engine
}

var _ domain.PolicyService = (*PolicyService)(nil)

func NewPolicyService(store domain.Store, opts Options, logger *zerolog.Logger) *PolicyService {
	return &PolicyService{engine: newEngine(store, nil, opts, logger)}
}

// CheckPolicy evaluates a booking without changing anything, so it takes no locks.
func (s *PolicyService) CheckPolicy(ctx context.Context, actor models.Actor, bookingID int64) (*models.PolicyEvaluation, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActFor(b.UserID) {
		return nil, database.ErrForbidden
	}
	class, err := s.store.GetClass(ctx, b.ClassID)
	if err != nil {
		return nil, err
	}

	eval, err := s.evaluate(ctx, s.store, b, class, actor)
	if err != nil {
		return nil, err
	}
	return &eval, nil
}

func (s *PolicyService) CreatePolicy(ctx context.Context, p *models.CancellationPolicy) error {
	if err := validatePolicy(p); err != nil {
		return err
	}
	if err := s.store.CreatePolicy(ctx, p); err != nil {
		return err
	}
	s.logger.Info().Int64("policy_id", p.ID).Str("name", p.Name).Int("priority", p.Priority).Msg("Cancellation policy created")
	return nil
}

func (s *PolicyService) ListPolicies(ctx context.Context) ([]*models.CancellationPolicy, error) {
	return s.store.ListPolicies(ctx)
}

func validatePolicy(p *models.CancellationPolicy) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("policy name is required: %w", database.ErrInvalidInput)
	case p.HoursBefore < 0 || p.RescheduleHoursBefore < 0:
		return fmt.Errorf("policy %q: negative hour threshold: %w", p.Name, database.ErrInvalidInput)
	case p.PenaltyPercentage < 0 || p.PenaltyPercentage > 100:
		return fmt.Errorf("policy %q: penalty %.2f outside 0..100: %w", p.Name, p.PenaltyPercentage, database.ErrInvalidInput)
	case p.MaxReschedulesPerMonth < 0:
		return fmt.Errorf("policy %q: negative reschedule limit: %w", p.Name, database.ErrInvalidInput)
	}
	if err := p.ApplicableTo.Validate(); err != nil {
		return fmt.Errorf("policy %q: %v: %w", p.Name, err, database.ErrInvalidInput)
	}
	return nil
}
