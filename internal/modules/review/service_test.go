// README: Review service tests.
package review

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/authz"
	"campusride/internal/domain"
	"campusride/internal/policy"
	"campusride/internal/store"
	"campusride/internal/store/memory"
	"campusride/internal/types"
)

var now = time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	az, err := authz.NewPolicy(context.Background())
	require.NoError(t, err)
	st := memory.New()
	clock := policy.ClockFunc(func() time.Time { return now })
	return NewService(st, az, clock, nil), st
}

// seedBooking stores a ride of driver-1 and a booking of passenger with the given status.
func seedBooking(t *testing.T, st *memory.Store, passenger types.ID, status domain.BookingStatus) *domain.Booking {
	t.Helper()
	ctx := context.Background()
	r := &domain.Ride{
		ID: types.NewID(), DriverID: "driver-1", Origin: "Campus", Destination: "Mall",
		DepartureTime: now.Add(-2 * time.Hour), TotalSeats: 2, AvailableSeats: 1,
		Status: domain.RideCompleted, CreatedAt: now, UpdatedAt: now,
	}
	b := &domain.Booking{
		ID: types.NewID(), RideID: r.ID, PassengerID: passenger, Status: status,
		BookedAt: now.Add(-48 * time.Hour), UpdatedAt: now,
	}
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertRide(ctx, r); err != nil {
			return err
		}
		return tx.InsertBooking(ctx, b)
	}))
	return b
}

func TestCreateReviewAndRating(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	p1 := types.Identity{ID: "p1", Role: types.RoleStudent}
	p2 := types.Identity{ID: "p2", Role: types.RoleStudent}
	b1 := seedBooking(t, st, p1.ID, domain.BookingCompleted)
	b2 := seedBooking(t, st, p2.ID, domain.BookingCompleted)

	ok, err := svc.CanReview(ctx, b1.ID, p1.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	rv, err := svc.Create(ctx, p1, CreateCommand{BookingID: b1.ID, Rating: 5, Comment: "  smooth ride "})
	require.NoError(t, err)
	assert.Equal(t, types.ID("driver-1"), rv.DriverID)
	assert.Equal(t, "smooth ride", rv.Comment)

	_, err = svc.Create(ctx, p2, CreateCommand{BookingID: b2.ID, Rating: 4})
	require.NoError(t, err)

	ok, err = svc.CanReview(ctx, b1.ID, p1.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Create(ctx, p1, CreateCommand{BookingID: b1.ID, Rating: 3})
	assert.ErrorIs(t, err, domain.ErrDuplicateReview)

	rating, err := svc.DriverRating(ctx, "driver-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rating.Count)
	assert.Equal(t, 4.5, rating.Average)

	byDriver, err := svc.ListByDriver(ctx, "driver-1")
	require.NoError(t, err)
	assert.Len(t, byDriver, 2)
	mine, err := svc.ListByReviewer(ctx, p1, p1.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, 5, mine[0].Rating)
	_, err = svc.ListByReviewer(ctx, p2, p1.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestCreateReviewRules(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	p1 := types.Identity{ID: "p1", Role: types.RoleStudent}
	done := seedBooking(t, st, p1.ID, domain.BookingCompleted)
	open := seedBooking(t, st, p1.ID, domain.BookingConfirmed)

	cases := []struct {
		name  string
		actor types.Identity
		cmd   CreateCommand
		want  error
	}{
		{"rating too low", p1, CreateCommand{BookingID: done.ID, Rating: 0}, domain.ErrValidation},
		{"rating too high", p1, CreateCommand{BookingID: done.ID, Rating: 6}, domain.ErrValidation},
		{"comment too long", p1, CreateCommand{BookingID: done.ID, Rating: 4, Comment: strings.Repeat("a", 1001)}, domain.ErrValidation},
		{"booking not completed", p1, CreateCommand{BookingID: open.ID, Rating: 4}, domain.ErrValidation},
		{"not the passenger", types.Identity{ID: "p9", Role: types.RoleStudent}, CreateCommand{BookingID: done.ID, Rating: 4}, domain.ErrNotAuthorized},
		{"driver cannot review", types.Identity{ID: "p1", Role: types.RoleDriver, DriverVerified: true}, CreateCommand{BookingID: done.ID, Rating: 4}, domain.ErrNotAuthorized},
		{"unknown booking", p1, CreateCommand{BookingID: "missing", Rating: 4}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.actor, tc.cmd)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	ok, err := svc.CanReview(ctx, open.ID, p1.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.CanReview(ctx, "missing", p1.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDriverRatingWithoutReviews(t *testing.T) {
	svc, _ := newService(t)
	rating, err := svc.DriverRating(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, domain.Rating{DriverID: "nobody"}, rating)
}
