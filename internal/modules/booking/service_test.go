// README: Booking service tests (booking flow, waitlist scenarios, cancellation rules).
package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/authz"
	"campusride/internal/domain"
	"campusride/internal/modules/waitlist"
	"campusride/internal/notify"
	"campusride/internal/store"
	"campusride/internal/store/memory"
	"campusride/internal/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var driver = types.Identity{ID: "driver-1", Role: types.RoleDriver, DriverVerified: true}

func student(id string) types.Identity {
	return types.Identity{ID: types.ID(id), Role: types.RoleStudent}
}

type fixture struct {
	st    *memory.Store
	clock *testClock
	sink  *notify.Recorder
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	st := memory.New()
	sink := &notify.Recorder{}
	az, err := authz.NewPolicy(context.Background())
	require.NoError(t, err)
	wl := waitlist.NewManager(st, clock, sink, nil)
	return &fixture{st: st, clock: clock, sink: sink, svc: NewService(st, wl, az, clock, sink, nil)}
}

func (f *fixture) ride(t *testing.T, seats int, departIn time.Duration) *domain.Ride {
	t.Helper()
	now := f.clock.Now()
	r := &domain.Ride{
		ID:             types.NewID(),
		DriverID:       driver.ID,
		Origin:         "Campus",
		Destination:    "Airport",
		DepartureTime:  now.Add(departIn),
		TotalSeats:     seats,
		AvailableSeats: seats,
		Price:          types.MoneyFromUnits(10),
		Status:         domain.RideScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ctx := context.Background()
	require.NoError(t, f.st.InTx(ctx, func(tx store.Tx) error { return tx.InsertRide(ctx, r) }))
	return r
}

func (f *fixture) seats(t *testing.T, rideID types.ID) int {
	t.Helper()
	r, err := f.st.GetRide(context.Background(), rideID)
	require.NoError(t, err)
	return r.AvailableSeats
}

func (f *fixture) book(t *testing.T, rideID types.ID, passenger string) *domain.Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), student(passenger), CreateCommand{RideID: rideID})
	require.NoError(t, err)
	return b
}

func (f *fixture) confirm(t *testing.T, bookingID types.ID) {
	t.Helper()
	_, err := f.svc.Respond(context.Background(), driver, RespondCommand{BookingID: bookingID, Decision: domain.BookingConfirmed})
	require.NoError(t, err)
}

func TestBookConfirmThenWaitlistThenPromote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.ride(t, 2, 72*time.Hour)

	p1 := f.book(t, r.ID, "p1")
	assert.Equal(t, domain.BookingPending, p1.Status)
	assert.Equal(t, 2, f.seats(t, r.ID), "pending bookings do not hold seats")
	f.confirm(t, p1.ID)
	assert.Equal(t, 1, f.seats(t, r.ID))

	p2 := f.book(t, r.ID, "p2")
	f.confirm(t, p2.ID)
	assert.Equal(t, 0, f.seats(t, r.ID))

	p3 := f.book(t, r.ID, "p3")
	assert.Equal(t, domain.BookingWaitlisted, p3.Status)
	assert.Equal(t, 1, p3.Position())

	count, err := f.svc.WaitlistCount(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	cancelled, err := f.svc.Cancel(ctx, student("p1"), CancelCommand{BookingID: p1.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, cancelled.Status)

	got, err := f.svc.Get(ctx, p3.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)
	assert.Nil(t, got.WaitlistPosition)
	assert.Equal(t, 0, f.seats(t, r.ID))

	confirmed, err := f.svc.ListConfirmedForRide(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, confirmed, 2)
	assert.ElementsMatch(t, []types.ID{p2.ID, p3.ID}, []types.ID{confirmed[0].ID, confirmed[1].ID})

	want := []notify.Kind{notify.KindWaitlistJoined, notify.KindWaitlistPromoted, notify.KindBookingCancelled}
	require.Eventually(t, func() bool {
		seen := map[notify.Kind]bool{}
		for _, u := range f.sink.Updates() {
			seen[u.Kind] = true
		}
		for _, k := range want {
			if !seen[k] {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestCancelInsideTwentyFourHoursIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.ride(t, 2, 10*time.Hour)
	b := f.book(t, r.ID, "p1")
	f.confirm(t, b.ID)

	_, err := f.svc.Cancel(ctx, student("p1"), CancelCommand{BookingID: b.ID})
	require.ErrorIs(t, err, domain.ErrCancellationWindow)
	var werr *domain.WindowError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, r.DepartureTime.Add(-24*time.Hour), werr.Cutoff)

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)
	assert.Equal(t, 1, f.seats(t, r.ID))
}

func TestSecondCancelIsRejectedWithoutSeatChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.ride(t, 2, 72*time.Hour)
	b := f.book(t, r.ID, "p1")
	f.confirm(t, b.ID)

	_, err := f.svc.Cancel(ctx, student("p1"), CancelCommand{BookingID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, f.seats(t, r.ID))

	_, err = f.svc.Cancel(ctx, student("p1"), CancelCommand{BookingID: b.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 2, f.seats(t, r.ID))
}

func TestOneActiveBookingPerPassenger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.ride(t, 2, 72*time.Hour)
	b := f.book(t, r.ID, "p1")

	_, err := f.svc.Create(ctx, student("p1"), CreateCommand{RideID: r.ID})
	assert.ErrorIs(t, err, domain.ErrDuplicateBooking)

	_, err = f.svc.Cancel(ctx, student("p1"), CancelCommand{BookingID: b.ID})
	require.NoError(t, err)
	again := f.book(t, r.ID, "p1")
	assert.NotEqual(t, b.ID, again.ID)
}

func TestConfirmWithoutSeatsKeepsBookingPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.ride(t, 1, 72*time.Hour)
	a := f.book(t, r.ID, "a")
	b := f.book(t, r.ID, "b")
	f.confirm(t, a.ID)

	_, err := f.svc.Respond(ctx, driver, RespondCommand{BookingID: b.ID, Decision: domain.BookingConfirmed})
	var cerr *domain.CapacityError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 0, cerr.Available)

	got, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, got.Status)

	rejected, err := f.svc.Respond(ctx, driver, RespondCommand{BookingID: b.ID, Decision: domain.BookingCancelled})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, rejected.Status)
	assert.Equal(t, 0, f.seats(t, r.ID))
}

func TestRespondRejectsUnknownDecisionAndNonPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.ride(t, 2, 72*time.Hour)
	b := f.book(t, r.ID, "p1")

	_, err := f.svc.Respond(ctx, driver, RespondCommand{BookingID: b.ID, Decision: domain.BookingCompleted})
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.confirm(t, b.ID)
	_, err = f.svc.Respond(ctx, driver, RespondCommand{BookingID: b.ID, Decision: domain.BookingConfirmed})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, f.seats(t, r.ID))
}

func TestAuthorizationRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.ride(t, 2, 72*time.Hour)

	_, err := f.svc.Create(ctx, driver, CreateCommand{RideID: r.ID})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized, "the ride's driver cannot book it")

	b := f.book(t, r.ID, "p1")
	_, err = f.svc.Respond(ctx, student("p1"), RespondCommand{BookingID: b.ID, Decision: domain.BookingConfirmed})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	other := types.Identity{ID: "driver-2", Role: types.RoleDriver, DriverVerified: true}
	_, err = f.svc.Respond(ctx, other, RespondCommand{BookingID: b.ID, Decision: domain.BookingConfirmed})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = f.svc.Cancel(ctx, student("p2"), CancelCommand{BookingID: b.ID})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.Equal(t, "cancel booking: booking.cancel: not permitted", err.Error())
}

func TestCreateRequiresOpenFutureRide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, student("p1"), CreateCommand{RideID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	soon := f.ride(t, 2, time.Hour)
	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Create(ctx, student("p1"), CreateCommand{RideID: soon.ID})
	assert.ErrorIs(t, err, domain.ErrTimeWindow)

	cancelled := f.ride(t, 2, 72*time.Hour)
	require.NoError(t, f.st.WithRide(ctx, cancelled.ID, func(tx store.Tx, r *domain.Ride) error {
		if err := r.TransitionTo(domain.RideCancelled, f.clock.Now()); err != nil {
			return err
		}
		return tx.UpdateRide(ctx, r)
	}))
	_, err = f.svc.Create(ctx, student("p1"), CreateCommand{RideID: cancelled.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelWaitlistedCompactsPositions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.ride(t, 1, 72*time.Hour)
	f.confirm(t, f.book(t, r.ID, "seated").ID)

	a := f.book(t, r.ID, "a")
	b := f.book(t, r.ID, "b")
	c := f.book(t, r.ID, "c")
	assert.Equal(t, []int{1, 2, 3}, []int{a.Position(), b.Position(), c.Position()})

	_, err := f.svc.Cancel(ctx, student("b"), CancelCommand{BookingID: b.ID})
	require.NoError(t, err)

	gotA, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	gotC, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotA.Position())
	assert.Equal(t, 2, gotC.Position())
	assert.Equal(t, 0, f.seats(t, r.ID))
}

func TestOverdueOfferReadsExpiredAndFreesPassenger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.ride(t, 1, 72*time.Hour)
	f.confirm(t, f.book(t, r.ID, "seated").ID)
	w := f.book(t, r.ID, "late")

	f.clock.Advance(61 * time.Minute)
	got, err := f.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingExpired, got.Status)
	assert.Nil(t, got.WaitlistPosition)

	count, err := f.svc.WaitlistCount(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// cancelling an expired offer is not a valid transition
	_, err = f.svc.Cancel(ctx, student("late"), CancelCommand{BookingID: w.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// the expired offer no longer blocks a new request
	again := f.book(t, r.ID, "late")
	assert.Equal(t, domain.BookingWaitlisted, again.Status)
	assert.Equal(t, 1, again.Position())
}

func TestDriverListings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.ride(t, 3, 72*time.Hour)
	a := f.book(t, r.ID, "a")
	f.clock.Advance(time.Minute)
	b := f.book(t, r.ID, "b")
	f.confirm(t, a.ID)

	all, err := f.svc.ListByDriver(ctx, driver, driver.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.svc.ListPendingByDriver(ctx, driver, driver.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	passengerA := types.Identity{ID: "a", Role: types.RoleStudent}
	mine, err := f.svc.ListByPassenger(ctx, passengerA, "a")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, domain.BookingConfirmed, mine[0].Status)

	_, err = f.svc.ListByPassenger(ctx, passengerA, "b")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = f.svc.ListByDriver(ctx, passengerA, driver.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	other := types.Identity{ID: "driver-9", Role: types.RoleDriver, DriverVerified: true}
	_, err = f.svc.ListPendingByDriver(ctx, other, driver.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	admin := types.Identity{ID: "admin-1", Role: types.RoleAdmin}
	all, err = f.svc.ListByDriver(ctx, admin, driver.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
