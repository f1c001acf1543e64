package database

import (
	"context"
	"testing"

	"classbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicies(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	strict := &models.CancellationPolicy{
		Name: "strict yoga", HoursBefore: 12, PenaltyPercentage: 100, AllowReschedule: false,
		RescheduleHoursBefore: 12, Priority: 5, ApplicableTo: models.ClassTypeFilter("yoga"), IsActive: true,
	}
	loose := &models.CancellationPolicy{
		Name: "package 9", HoursBefore: 1, PenaltyPercentage: 10, AllowReschedule: true,
		RescheduleHoursBefore: 1, MaxReschedulesPerMonth: 4, Priority: 1, ApplicableTo: models.PackageFilter(9), IsActive: true,
	}
	inactive := &models.CancellationPolicy{
		Name: "old", HoursBefore: 48, Priority: 0, ApplicableTo: models.AnyFilter(), IsActive: false,
	}
	for _, p := range []*models.CancellationPolicy{strict, loose, inactive} {
		require.NoError(t, db.CreatePolicy(ctx, p))
		assert.NotZero(t, p.ID)
	}

	active, err := db.ListActivePolicies(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "package 9", active[0].Name)
	assert.Equal(t, models.FilterPackageID, active[0].ApplicableTo.Kind)
	assert.Equal(t, []int64{9}, active[0].ApplicableTo.PackageIDs)
	assert.Equal(t, 4, active[0].MaxReschedulesPerMonth)
	assert.Equal(t, "strict yoga", active[1].Name)
	assert.Equal(t, []string{"yoga"}, active[1].ApplicableTo.ClassTypes)

	all, err := db.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "old", all[0].Name)
}

func TestCreatePolicy_InvalidFilter(t *testing.T) {
	db := setupTestDB(t)
	p := &models.CancellationPolicy{Name: "broken", ApplicableTo: models.PolicyFilter{Kind: models.FilterClassType}}
	assert.Error(t, db.CreatePolicy(context.Background(), p))
}
