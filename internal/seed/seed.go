// Package seed loads classes, policies and members from a YAML file.
package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"classbook/internal/domain"
	"classbook/internal/models"

	"gopkg.in/yaml.v2"
)

// File is the seed document layout.
type File struct {
	Users    []models.User               `yaml:"users"`
	Policies []models.CancellationPolicy `yaml:"policies"`
	Classes  []Class                     `yaml:"classes"`
}

// Class describes one class, optionally repeated weekly.
type Class struct {
	Name            string `yaml:"name"`
	ClassType       string `yaml:"class_type"`
	StartsAt        string `yaml:"starts_at"`
	DurationMinutes int    `yaml:"duration_minutes"`
	MaxOccupancy    int    `yaml:"max_occupancy"`
	Weeks           int    `yaml:"weeks"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Users    int
	Policies int
	Classes  int
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// Occurrences expands the class into one ScheduledClass per week.
func (c Class) Occurrences() ([]*models.ScheduledClass, error) {
	start, err := time.Parse(time.RFC3339, c.StartsAt)
	if err != nil {
		return nil, fmt.Errorf("class %q: starts_at: %w", c.Name, err)
	}
	weeks := c.Weeks
	if weeks <= 0 {
		weeks = 1
	}

	out := make([]*models.ScheduledClass, 0, weeks)
	for i := 0; i < weeks; i++ {
		out = append(out, &models.ScheduledClass{
			Name:            c.Name,
			ClassType:       c.ClassType,
			StartsAt:        start.AddDate(0, 0, 7*i),
			DurationMinutes: c.DurationMinutes,
			MaxOccupancy:    c.MaxOccupancy,
		})
	}
	return out, nil
}

// Apply writes the seed. Users are upserted; policies and classes are
// always added, so applying the same file twice duplicates them.
func Apply(ctx context.Context, store domain.Store, policies domain.PolicyService, f *File) (Summary, error) {
	var sum Summary
	for i := range f.Users {
		if err := store.UpsertUser(ctx, &f.Users[i]); err != nil {
			return sum, fmt.Errorf("user %d: %w", f.Users[i].ID, err)
		}
		sum.Users++
	}

	for i := range f.Policies {
		if err := policies.CreatePolicy(ctx, &f.Policies[i]); err != nil {
			return sum, err
		}
		sum.Policies++
	}

	for _, c := range f.Classes {
		occurrences, err := c.Occurrences()
		if err != nil {
			return sum, err
		}
		for _, class := range occurrences {
			if err := store.CreateClass(ctx, class); err != nil {
				return sum, err
			}
			sum.Classes++
		}
	}
	return sum, nil
}
