package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
)

const roster = `[
  {"code": "DEN-01", "name": "Asha Rao", "active": true, "working_hours": {
    "sunday": "09:00 - 17:00", "monday": "09:00 - 17:00", "tuesday": "09:00 - 17:00",
    "wednesday": "09:00 - 17:00", "thursday": "09:00 - 17:00", "friday": "09:00 - 17:00",
    "saturday": "09:00 - 17:00"}}
]`

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dentists.json")
	require.NoError(t, os.WriteFile(path, []byte(roster), 0o600))

	return config.Config{
		Store:           config.StoreMemory,
		DirectoryFile:   path,
		RedisDisabled:   true,
		DailyCap:        20,
		PendingWindow:   4 * time.Hour,
		CancelledTTL:    3 * time.Hour,
		DefaultDuration: 30 * time.Minute,
		StoreTimeout:    5 * time.Second,
		NotifyTimeout:   time.Second,
		Location:        time.UTC,
	}
}

func TestBuildMemoryMode(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Nil(t, a.Pool)
	assert.Nil(t, a.Redis)
	assert.Empty(t, a.Dependencies())
	require.NotNil(t, a.Reconciler)

	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	start := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 10, 0, 0, 0, time.UTC)

	created, err := a.Service.CreateAppointment(context.Background(), appointment.CreateInput{
		DentistCode: "DEN-01",
		StartsAt:    start,
		Patient:     appointment.RegisteredPatient{Code: "PT-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusPending, created.Status)

	_, err = a.Service.CreateAppointment(context.Background(), appointment.CreateInput{
		DentistCode: "DEN-02",
		StartsAt:    start,
		Patient:     appointment.RegisteredPatient{Code: "PT-2"},
	})
	assert.ErrorIs(t, err, appointment.ErrSlotUnavailable, "dentists not on the roster have no hours")
}

func TestBuildFailsOnMissingRoster(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.DirectoryFile = filepath.Join(t.TempDir(), "missing.json")

	_, err := Build(context.Background(), cfg)
	assert.ErrorContains(t, err, "read directory file")
}

func TestBuildRejectsUnknownStore(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store = "sqlite"

	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}
