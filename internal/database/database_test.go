package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"classbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestClass(t *testing.T, db *DB, capacity int, startsIn time.Duration) *models.ScheduledClass {
	t.Helper()
	class := &models.ScheduledClass{
		Name:            "Morning Flow",
		ClassType:       "yoga",
		StartsAt:        time.Now().Add(startsIn),
		DurationMinutes: 60,
		MaxOccupancy:    capacity,
	}
	require.NoError(t, db.CreateClass(context.Background(), class))
	return class
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestEnsureColumn(t *testing.T) {
	db := setupTestDB(t)

	// Calling it twice should not fail (testing the "duplicate column" suppression)
	require.NoError(t, db.ensureColumn("bookings", "penalty_percentage", "REAL NOT NULL DEFAULT 0"))
	assert.Error(t, db.ensureColumn("missing_table", "x", "TEXT"))
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.PingContext(context.Background()))
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, IsPrecondition(ErrClassNotFull))
	assert.True(t, IsPrecondition(ErrAlreadyProcessed))
	assert.True(t, IsPrecondition(ErrReschedulePending))
	assert.True(t, IsPrecondition(fmt.Errorf("booking 1: %w", ErrBookingNotActive)))
	assert.False(t, IsInvariant(ErrBookingNotActive))
	assert.False(t, IsPrecondition(ErrCapacityExceeded))
	assert.True(t, IsInvariant(ErrCapacityExceeded))
	assert.True(t, IsInvariant(ErrInvalidStatusTransition))
	assert.False(t, IsInvariant(ErrNotFound))
}
