package models

import "time"

type ClassStatus string

const (
	ClassActive    ClassStatus = "active"
	ClassCancelled ClassStatus = "cancelled"
	ClassCompleted ClassStatus = "completed"
)

// ScheduledClass is one occurrence of a class with a fixed capacity.
type ScheduledClass struct {
	ID               int64       `json:"id" yaml:"id"`
	Name             string      `json:"name" yaml:"name"`
	ClassType        string      `json:"class_type" yaml:"class_type"`
	StartsAt         time.Time   `json:"starts_at" yaml:"starts_at"`
	DurationMinutes  int         `json:"duration_minutes" yaml:"duration_minutes"`
	MaxOccupancy     int         `json:"max_occupancy" yaml:"max_occupancy"`
	CurrentOccupancy int         `json:"current_occupancy" yaml:"-"`
	Status           ClassStatus `json:"status" yaml:"status"`
	CreatedAt        time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time   `json:"updated_at" yaml:"-"`
}

func (c *ScheduledClass) HasAvailableSpots() bool {
	return c.CurrentOccupancy < c.MaxOccupancy
}

func (c *ScheduledClass) IsFull() bool {
	return !c.HasAvailableSpots()
}

func (c *ScheduledClass) AvailableSpots() int {
	if c.CurrentOccupancy >= c.MaxOccupancy {
		return 0
	}
	return c.MaxOccupancy - c.CurrentOccupancy
}

func (c *ScheduledClass) EndsAt() time.Time {
	return c.StartsAt.Add(time.Duration(c.DurationMinutes) * time.Minute)
}

// Occupancy is the read model returned by the occupancy endpoint.
type Occupancy struct {
	ClassID        int64 `json:"class_id"`
	MaxOccupancy   int   `json:"max_occupancy"`
	Current        int   `json:"current_occupancy"`
	Available      int   `json:"available"`
	WaitlistLength int   `json:"waitlist_length"`
}
