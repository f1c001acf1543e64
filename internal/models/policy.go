package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type FilterKind string

const (
	FilterAny       FilterKind = "any"
	FilterClassType FilterKind = "class_type"
	FilterPackageID FilterKind = "package_id"
)

// PolicyFilter selects which bookings a policy applies to.
type PolicyFilter struct {
	Kind       FilterKind `json:"kind" yaml:"kind"`
	ClassTypes []string   `json:"class_types,omitempty" yaml:"class_types"`
	PackageIDs []int64    `json:"package_ids,omitempty" yaml:"package_ids"`
}

func AnyFilter() PolicyFilter { return PolicyFilter{Kind: FilterAny} }

func ClassTypeFilter(types ...string) PolicyFilter {
	return PolicyFilter{Kind: FilterClassType, ClassTypes: types}
}

func PackageFilter(ids ...int64) PolicyFilter {
	return PolicyFilter{Kind: FilterPackageID, PackageIDs: ids}
}

// Matches is the single matcher for all filter variants.
func (f PolicyFilter) Matches(classType string, packageID *int64) bool {
	switch f.Kind {
	case FilterAny, "":
		return true
	case FilterClassType:
		for _, t := range f.ClassTypes {
			if t == classType {
				return true
			}
		}
		return false
	case FilterPackageID:
		if packageID == nil {
			return false
		}
		for _, id := range f.PackageIDs {
			if id == *packageID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (f PolicyFilter) Validate() error {
	switch f.Kind {
	case FilterAny, "":
		return nil
	case FilterClassType:
		if len(f.ClassTypes) == 0 {
			return fmt.Errorf("class_type filter requires at least one class type")
		}
		return nil
	case FilterPackageID:
		if len(f.PackageIDs) == 0 {
			return fmt.Errorf("package_id filter requires at least one package id")
		}
		return nil
	default:
		return fmt.Errorf("unknown policy filter kind %q", f.Kind)
	}
}

func (f PolicyFilter) Encode() (string, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func DecodePolicyFilter(raw string) (PolicyFilter, error) {
	if raw == "" {
		return AnyFilter(), nil
	}
	var f PolicyFilter
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return PolicyFilter{}, fmt.Errorf("decode policy filter: %w", err)
	}
	return f, nil
}

type CancellationPolicy struct {
	ID                     int64        `json:"id" yaml:"id"`
	Name                   string       `json:"name" yaml:"name"`
	HoursBefore            float64      `json:"hours_before" yaml:"hours_before"`
	PenaltyPercentage      float64      `json:"penalty_percentage" yaml:"penalty_percentage"`
	AllowReschedule        bool         `json:"allow_reschedule" yaml:"allow_reschedule"`
	RescheduleHoursBefore  float64      `json:"reschedule_hours_before" yaml:"reschedule_hours_before"`
	MaxReschedulesPerMonth int          `json:"max_reschedules_per_month" yaml:"max_reschedules_per_month"`
	Priority               int          `json:"priority" yaml:"priority"`
	ApplicableTo           PolicyFilter `json:"applicable_to" yaml:"applicable_to"`
	IsActive               bool         `json:"is_active" yaml:"is_active"`
	CreatedAt              time.Time    `json:"created_at" yaml:"-"`
	UpdatedAt              time.Time    `json:"updated_at" yaml:"-"`
}

// IsDefault reports whether this is the built-in fallback policy.
func (p *CancellationPolicy) IsDefault() bool {
	return p.ID == 0
}

// PolicyEvaluation is the outcome of evaluating a booking against its policy.
type PolicyEvaluation struct {
	BookingID               int64              `json:"booking_id"`
	CanCancel               bool               `json:"can_cancel"`
	CanCancelWithoutPenalty bool               `json:"can_cancel_without_penalty"`
	CanReschedule           bool               `json:"can_reschedule"`
	PenaltyPercentage       float64            `json:"penalty_percentage"`
	HoursUntilClass         float64            `json:"hours_until_class"`
	ReschedulesThisMonth    int                `json:"reschedules_this_month"`
	Policy                  CancellationPolicy `json:"policy"`
}
