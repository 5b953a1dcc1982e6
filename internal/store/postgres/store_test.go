// README: Postgres store tests (run against CAMPUSRIDE_TEST_DSN, with -race).
package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/domain"
	"campusride/internal/store"
	"campusride/internal/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("CAMPUSRIDE_TEST_DSN")
	if dsn == "" {
		t.Skip("CAMPUSRIDE_TEST_DSN not set; skipping DB-backed store tests")
	}

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, dsn))

	db, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(ctx, "TRUNCATE TABLE ride_events, reviews, bookings, rides")
	require.NoError(t, err)

	return NewStore(db)
}

func insertRide(t *testing.T, s *Store, seats int) *domain.Ride {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	r := &domain.Ride{
		ID:             types.NewID(),
		DriverID:       "driver-1",
		Origin:         "Campus",
		Destination:    "Airport",
		Coordinates:    []types.Point{{Lat: 25.03, Lng: 121.56}},
		DepartureTime:  now.Add(48 * time.Hour),
		TotalSeats:     seats,
		AvailableSeats: seats,
		Price:          types.MoneyFromUnits(12.5),
		Status:         domain.RideScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.InsertRide(ctx, r) }))
	return r
}

func TestRideRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	r := insertRide(t, s, 3)

	got, err := s.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Coordinates, got.Coordinates)
	assert.Equal(t, int64(1250), got.Price.Amount)
	assert.True(t, r.DepartureTime.Equal(got.DepartureTime))

	_, err = s.GetRide(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateRideStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	r := insertRide(t, s, 3)

	stale := r.Clone()
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.UpdateRide(ctx, r) }))
	assert.Equal(t, 1, r.Version)

	err := s.InTx(ctx, func(tx store.Tx) error { return tx.UpdateRide(ctx, stale) })
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestActiveBookingUniqueIndex(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	r := insertRide(t, s, 3)
	now := time.Now().UTC()

	insert := func() error {
		return s.InTx(ctx, func(tx store.Tx) error {
			return tx.InsertBooking(ctx, &domain.Booking{
				ID: types.NewID(), RideID: r.ID, PassengerID: "p1",
				Status: domain.BookingPending, BookedAt: now, UpdatedAt: now,
			})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), domain.ErrDuplicateBooking)
}

func TestWithRideLocksRow(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	r := insertRide(t, s, 4)

	const workers = 10
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- s.WithRide(ctx, r.ID, func(tx store.Tx, ride *domain.Ride) error {
				if err := ride.ReserveSeat(); err != nil {
					return err
				}
				return tx.UpdateRide(ctx, ride)
			})
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, domain.ErrCapacity) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 4, success)

	got, err := s.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableSeats)
}

func TestWithDriverRideUsesOneConnection(t *testing.T) {
	setupTestStore(t)

	cfg, err := pgxpool.ParseConfig(os.Getenv("CAMPUSRIDE_TEST_DSN"))
	require.NoError(t, err)
	cfg.MaxConns = 2
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(db)
	r := insertRide(t, s, 4)

	const workers = 6
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- s.WithDriverRide(ctx, r.DriverID, r.ID, func(tx store.Tx, ride *domain.Ride) error {
				ride.UpdatedAt = time.Now().UTC()
				return tx.UpdateRide(ctx, ride)
			})
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	got, err := s.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Version+workers, got.Version)
}

func TestListBookingsByDriverFiltersStatus(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	r := insertRide(t, s, 3)
	now := time.Now().UTC()

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		for i, st := range []domain.BookingStatus{domain.BookingPending, domain.BookingConfirmed} {
			err := tx.InsertBooking(ctx, &domain.Booking{
				ID: types.NewID(), RideID: r.ID, PassengerID: types.ID([]string{"p1", "p2"}[i]),
				Status: st, BookedAt: now, UpdatedAt: now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := s.ListBookingsByDriver(ctx, "driver-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := s.ListBookingsByDriver(ctx, "driver-1", domain.BookingPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, types.ID("p1"), pending[0].PassengerID)
}
