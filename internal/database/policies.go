package database

import (
	"context"
	"fmt"
	"time"

	"classbook/internal/models"
)

const policyColumns = `id, name, hours_before, penalty_percentage, allow_reschedule, reschedule_hours_before,
	max_reschedules_per_month, priority, applicable_to, is_active, created_at, updated_at`

func (s *store) queryPolicies(ctx context.Context, query string, args ...interface{}) ([]*models.CancellationPolicy, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.CancellationPolicy
	for rows.Next() {
		var p models.CancellationPolicy
		var filter string
		err := rows.Scan(
			&p.ID, &p.Name, &p.HoursBefore, &p.PenaltyPercentage, &p.AllowReschedule, &p.RescheduleHoursBefore,
			&p.MaxReschedulesPerMonth, &p.Priority, &filter, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		p.ApplicableTo, err = models.DecodePolicyFilter(filter)
		if err != nil {
			return nil, fmt.Errorf("policy %d: %w", p.ID, err)
		}
		policies = append(policies, &p)
	}
	return policies, rows.Err()
}

// ListActivePolicies returns active policies in evaluation order.
func (s *store) ListActivePolicies(ctx context.Context) ([]*models.CancellationPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM cancellation_policies
              WHERE is_active = 1 ORDER BY priority ASC, id ASC`
	return s.queryPolicies(ctx, query)
}

func (s *store) ListPolicies(ctx context.Context) ([]*models.CancellationPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM cancellation_policies ORDER BY priority ASC, id ASC`
	return s.queryPolicies(ctx, query)
}

func (s *store) CreatePolicy(ctx context.Context, policy *models.CancellationPolicy) error {
	if err := policy.ApplicableTo.Validate(); err != nil {
		return fmt.Errorf("invalid policy %q: %w", policy.Name, err)
	}
	filter, err := policy.ApplicableTo.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode policy filter: %w", err)
	}

	query := `INSERT INTO cancellation_policies (
				name, hours_before, penalty_percentage, allow_reschedule, reschedule_hours_before,
				max_reschedules_per_month, priority, applicable_to, is_active, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := utc(time.Now())
	result, err := s.q.ExecContext(ctx, query,
		policy.Name,
		policy.HoursBefore,
		policy.PenaltyPercentage,
		policy.AllowReschedule,
		policy.RescheduleHoursBefore,
		policy.MaxReschedulesPerMonth,
		policy.Priority,
		filter,
		policy.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	policy.ID = id
	policy.CreatedAt = now
	policy.UpdatedAt = now
	return nil
}
