package seed

import (
	"context"
	"testing"
	"time"

	"classbook/internal/database"
	"classbook/internal/models"
	"classbook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
users:
  - id: 1
    name: Ana
    telegram_chat_id: 4242
  - id: 2
    name: Ben
policies:
  - name: yoga strict
    hours_before: 12
    penalty_percentage: 100
    allow_reschedule: true
    reschedule_hours_before: 24
    max_reschedules_per_month: 1
    priority: 1
    is_active: true
    applicable_to:
      kind: class_type
      class_types: [yoga]
classes:
  - name: Morning flow
    class_type: yoga
    starts_at: "2026-07-06T07:00:00Z"
    duration_minutes: 60
    max_occupancy: 12
    weeks: 3
  - name: Spin
    class_type: spin
    starts_at: "2026-07-07T18:30:00Z"
    duration_minutes: 45
    max_occupancy: 20
`

func TestParseAndApply(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Users, 2)
	require.Len(t, f.Policies, 1)
	assert.Equal(t, models.FilterClassType, f.Policies[0].ApplicableTo.Kind)
	assert.Equal(t, []string{"yoga"}, f.Policies[0].ApplicableTo.ClassTypes)

	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	sum, err := Apply(ctx, db, service.NewPolicyService(db, service.Options{}, &logger), f)
	require.NoError(t, err)
	assert.Equal(t, Summary{Users: 2, Policies: 1, Classes: 4}, sum)

	user, err := db.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), user.TelegramChatID)

	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	classes, err := db.ListClasses(ctx, from, from.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, classes, 4)
	assert.Equal(t, "Morning flow", classes[0].Name)
	assert.Equal(t, "Spin", classes[1].Name)
	assert.True(t, classes[3].StartsAt.Equal(time.Date(2026, 7, 20, 7, 0, 0, 0, time.UTC)))
}

func TestApply_InvalidPolicy(t *testing.T) {
	f, err := Parse([]byte(`
policies:
  - name: broken
    penalty_percentage: 140
    applicable_to:
      kind: any
`))
	require.NoError(t, err)

	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()

	_, err = Apply(context.Background(), db, service.NewPolicyService(db, service.Options{}, &logger), f)
	assert.ErrorIs(t, err, database.ErrInvalidInput)
}

func TestOccurrences(t *testing.T) {
	_, err := Class{Name: "x", StartsAt: "tomorrow"}.Occurrences()
	assert.Error(t, err)

	occ, err := Class{Name: "x", StartsAt: "2026-07-06T07:00:00Z", MaxOccupancy: 3}.Occurrences()
	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, 3, occ[0].MaxOccupancy)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}
