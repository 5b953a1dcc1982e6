// README: Waitlist manager tests (FIFO promotion, expiry, renumbering, sweep).
package waitlist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusride/internal/domain"
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

type fixture struct {
	st    *memory.Store
	clock *testClock
	sink  *notify.Recorder
	mgr   *Manager
	ride  *domain.Ride
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	st := memory.New()
	sink := &notify.Recorder{}
	ride := &domain.Ride{
		ID:             types.NewID(),
		DriverID:       "driver-1",
		Origin:         "Campus",
		Destination:    "Downtown",
		DepartureTime:  clock.now.Add(72 * time.Hour),
		TotalSeats:     1,
		AvailableSeats: 0,
		Status:         domain.RideScheduled,
		CreatedAt:      clock.now,
		UpdatedAt:      clock.now,
	}
	ctx := context.Background()
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error { return tx.InsertRide(ctx, ride) }))
	return &fixture{st: st, clock: clock, sink: sink, mgr: NewManager(st, clock, sink, nil), ride: ride}
}

func (f *fixture) join(t *testing.T, passenger types.ID) *domain.Booking {
	t.Helper()
	var b *domain.Booking
	err := f.st.WithRide(context.Background(), f.ride.ID, func(tx store.Tx, ride *domain.Ride) error {
		var err error
		b, err = f.mgr.Join(context.Background(), tx, ride, passenger)
		return err
	})
	require.NoError(t, err)
	return b
}

// freeSeats raises availability as a cancelled confirmed booking would, then promotes.
func (f *fixture) freeSeats(t *testing.T, n int, all bool) Outcome {
	t.Helper()
	ctx := context.Background()
	var out Outcome
	err := f.st.WithRide(ctx, f.ride.ID, func(tx store.Tx, ride *domain.Ride) error {
		ride.TotalSeats += n
		ride.AvailableSeats += n
		var err error
		if all {
			out, err = f.mgr.PromoteAll(ctx, tx, ride)
		} else {
			out, err = f.mgr.PromoteNext(ctx, tx, ride)
		}
		if err != nil {
			return err
		}
		return tx.UpdateRide(ctx, ride)
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) booking(t *testing.T, id types.ID) *domain.Booking {
	t.Helper()
	b, err := f.st.GetBooking(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestJoinAssignsSequentialPositions(t *testing.T) {
	f := newFixture(t)
	a := f.join(t, "a")
	f.clock.Advance(time.Minute)
	b := f.join(t, "b")

	assert.Equal(t, 1, a.Position())
	assert.Equal(t, 2, b.Position())
	assert.Equal(t, domain.BookingWaitlisted, b.Status)
	require.NotNil(t, b.WaitlistExpiresAt)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *b.WaitlistExpiresAt)

	n, err := f.mgr.Count(context.Background(), f.ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPromoteNextIsFIFOAndCompacts(t *testing.T) {
	f := newFixture(t)
	a := f.join(t, "a")
	b := f.join(t, "b")
	c := f.join(t, "c")

	out := f.freeSeats(t, 1, false)
	require.Len(t, out.Promoted, 1)
	assert.Equal(t, a.ID, out.Promoted[0].ID)

	gotA := f.booking(t, a.ID)
	assert.Equal(t, domain.BookingConfirmed, gotA.Status)
	assert.Nil(t, gotA.WaitlistPosition)
	assert.Nil(t, gotA.WaitlistExpiresAt)
	assert.Equal(t, 1, f.booking(t, b.ID).Position())
	assert.Equal(t, 2, f.booking(t, c.ID).Position())

	ride, err := f.st.GetRide(context.Background(), f.ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, ride.AvailableSeats)

	require.Len(t, f.sink.Updates(), 0, "manager does not notify before commit")
	f.mgr.Notify(context.Background(), ride, out)
	updates := f.sink.Wait(1, time.Second)
	require.Len(t, updates, 1)
	assert.Equal(t, notify.KindWaitlistPromoted, updates[0].Kind)
	assert.Equal(t, []types.ID{"a"}, updates[0].Recipients)
}

func TestExpiredOfferIsNeverPromoted(t *testing.T) {
	f := newFixture(t)
	a := f.join(t, "a")
	f.clock.Advance(30 * time.Minute)
	b := f.join(t, "b")
	f.clock.Advance(31 * time.Minute)

	// a's offer is overdue; reads report it as expired before it is materialized
	n, err := f.mgr.Count(context.Background(), f.ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.BookingExpired, f.booking(t, a.ID).View(f.clock.Now()).Status)

	out := f.freeSeats(t, 1, false)
	require.Len(t, out.Promoted, 1)
	assert.Equal(t, b.ID, out.Promoted[0].ID)
	require.Len(t, out.Expired, 1)
	assert.Equal(t, a.ID, out.Expired[0].ID)

	gotA := f.booking(t, a.ID)
	assert.Equal(t, domain.BookingExpired, gotA.Status)
	assert.Nil(t, gotA.WaitlistPosition)
}

func TestPromoteWithoutCandidatesKeepsSeat(t *testing.T) {
	f := newFixture(t)
	out := f.freeSeats(t, 1, false)
	assert.True(t, out.Empty())

	ride, err := f.st.GetRide(context.Background(), f.ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ride.AvailableSeats)
}

func TestPromoteAllFillsFreedSeats(t *testing.T) {
	f := newFixture(t)
	a := f.join(t, "a")
	b := f.join(t, "b")
	c := f.join(t, "c")

	out := f.freeSeats(t, 2, true)
	require.Len(t, out.Promoted, 2)
	assert.Equal(t, a.ID, out.Promoted[0].ID)
	assert.Equal(t, b.ID, out.Promoted[1].ID)
	assert.Equal(t, 1, f.booking(t, c.ID).Position())

	ride, err := f.st.GetRide(context.Background(), f.ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, ride.AvailableSeats)
	assert.Equal(t, 3, ride.TotalSeats)
}

func TestSweepMaterializesExpiry(t *testing.T) {
	f := newFixture(t)
	a := f.join(t, "a")
	f.clock.Advance(10 * time.Minute)
	b := f.join(t, "b")
	f.clock.Advance(55 * time.Minute)

	n, err := f.mgr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, domain.BookingExpired, f.booking(t, a.ID).Status)
	gotB := f.booking(t, b.ID)
	assert.Equal(t, domain.BookingWaitlisted, gotB.Status)
	assert.Equal(t, 1, gotB.Position())

	updates := f.sink.Wait(1, time.Second)
	require.Len(t, updates, 1)
	assert.Equal(t, notify.KindWaitlistExpired, updates[0].Kind)

	// nothing left to do
	n, err = f.mgr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
