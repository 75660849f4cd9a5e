package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chefbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestBooking(eventDate time.Time) *models.Booking {
	pricing := models.NewPricing(20000, 0, models.DefaultServiceFeeBps, 0)
	b := &models.Booking{
		ID:          uuid.NewString(),
		ClientID:    "client-1",
		ProviderID:  "chef-1",
		ServiceType: models.ServicePrivateDinner,
		Event: models.EventDetails{
			Date:          eventDate,
			StartTime:     "19:00",
			DurationHours: 3,
			GuestCount:    6,
			Category:      "birthday",
		},
		Pricing: pricing,
		Payment: models.Payment{
			Status:        models.PaymentPending,
			Currency:      models.DefaultCurrency,
			DepositAmount: models.DepositFor(pricing.TotalAmount, models.DefaultDepositBps),
		},
		Status: models.StatusPending,
	}
	b.Timeline.Append(models.TimelineEntry{
		Status:    models.StatusPending,
		At:        time.Now(),
		Note:      "Booking pending",
		ActorID:   "client-1",
		ActorRole: models.RoleClient,
	})
	return b
}

func createTestBooking(t *testing.T, db *DB, eventDate time.Time) *models.Booking {
	b := newTestBooking(eventDate)
	require.NoError(t, db.CreateBooking(context.Background(), b))
	return b
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	b := createTestBooking(t, db, time.Now().AddDate(0, 0, 7))
	require.NoError(t, db.Close())

	// Schema creation is idempotent and data survives.
	db, err = NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}

func TestClosedDBErrors(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()
	assert.Error(t, db.CreateBooking(ctx, newTestBooking(time.Now())))
	_, err = db.GetBooking(ctx, "missing")
	assert.Error(t, err)
	_, err = db.ListNotifications(ctx, "client-1", false, 10)
	assert.Error(t, err)
	_, err = db.GetPendingOutboxEvents(ctx, 10)
	assert.Error(t, err)
}
