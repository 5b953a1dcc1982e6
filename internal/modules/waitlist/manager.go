// README: Waitlist positions, offer expiry and promotion; every mutation runs inside the caller's ride lock.
package waitlist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"campusride/internal/domain"
	"campusride/internal/notify"
	"campusride/internal/policy"
	"campusride/internal/store"
	"campusride/internal/types"
)

type Manager struct {
	store store.Store
	clock policy.Clock
	sink  notify.Sink
	log   *slog.Logger
}

func NewManager(st store.Store, clock policy.Clock, sink notify.Sink, log *slog.Logger) *Manager {
	if clock == nil {
		clock = policy.SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: st, clock: clock, sink: sink, log: log}
}

// Outcome lists the bookings a waitlist operation changed, for post-commit notification.
type Outcome struct {
	Promoted []*domain.Booking
	Expired  []*domain.Booking
}

func (o *Outcome) Merge(other Outcome) {
	o.Promoted = append(o.Promoted, other.Promoted...)
	o.Expired = append(o.Expired, other.Expired...)
}

func (o Outcome) Empty() bool {
	return len(o.Promoted) == 0 && len(o.Expired) == 0
}

// Join inserts a WAITLISTED booking at the tail of the ride's live waitlist.
func (m *Manager) Join(ctx context.Context, tx store.Tx, ride *domain.Ride, passengerID types.ID) (*domain.Booking, error) {
	now := m.clock.Now()
	live, err := m.live(ctx, tx, ride.ID)
	if err != nil {
		return nil, err
	}
	pos := len(live) + 1
	exp := policy.WaitlistDeadline(now)
	b := &domain.Booking{
		ID:                types.NewID(),
		RideID:            ride.ID,
		PassengerID:       passengerID,
		Status:            domain.BookingWaitlisted,
		BookedAt:          now,
		UpdatedAt:         now,
		WaitlistPosition:  &pos,
		WaitlistExpiresAt: &exp,
	}
	if err := tx.InsertBooking(ctx, b); err != nil {
		return nil, err
	}
	actor := passengerID
	if err := tx.AppendEvent(ctx, domain.BookingEvent(b, "", &actor, now)); err != nil {
		return nil, err
	}
	return b, nil
}

// Count returns the number of live offers on the ride.
func (m *Manager) Count(ctx context.Context, rideID types.ID) (int, error) {
	bookings, err := m.store.ListBookingsByRide(ctx, rideID, domain.BookingWaitlisted)
	if err != nil {
		return 0, fmt.Errorf("count waitlist: %w", err)
	}
	now := m.clock.Now()
	n := 0
	for _, b := range bookings {
		if !b.OfferExpired(now) {
			n++
		}
	}
	return n, nil
}

// ExpireStale moves overdue offers to EXPIRED and closes the gaps they leave.
func (m *Manager) ExpireStale(ctx context.Context, tx store.Tx, ride *domain.Ride) (Outcome, error) {
	var out Outcome
	now := m.clock.Now()
	waiting, err := tx.ListBookingsByRide(ctx, ride.ID, domain.BookingWaitlisted)
	if err != nil {
		return out, fmt.Errorf("list waitlist: %w", err)
	}
	sortByPosition(waiting)

	live := waiting[:0:0]
	for _, b := range waiting {
		if !b.OfferExpired(now) {
			live = append(live, b)
			continue
		}
		if err := m.transition(ctx, tx, b, domain.BookingExpired); err != nil {
			return out, err
		}
		out.Expired = append(out.Expired, b)
	}
	if len(out.Expired) == 0 {
		return out, nil
	}
	if err := renumber(ctx, tx, live, now); err != nil {
		return out, err
	}
	return out, nil
}

// Compact renumbers the live waitlist after a booking left it.
func (m *Manager) Compact(ctx context.Context, tx store.Tx, ride *domain.Ride) error {
	live, err := m.live(ctx, tx, ride.ID)
	if err != nil {
		return err
	}
	return renumber(ctx, tx, live, m.clock.Now())
}

// PromoteNext expires stale offers, then confirms the head of the waitlist if a seat is free.
// The ride is mutated in place; the caller persists it.
func (m *Manager) PromoteNext(ctx context.Context, tx store.Tx, ride *domain.Ride) (Outcome, error) {
	out, err := m.ExpireStale(ctx, tx, ride)
	if err != nil {
		return out, err
	}
	b, err := m.promoteOne(ctx, tx, ride)
	if err != nil {
		return out, err
	}
	if b != nil {
		out.Promoted = append(out.Promoted, b)
	}
	return out, nil
}

// PromoteAll fills every free seat from the waitlist.
func (m *Manager) PromoteAll(ctx context.Context, tx store.Tx, ride *domain.Ride) (Outcome, error) {
	out, err := m.ExpireStale(ctx, tx, ride)
	if err != nil {
		return out, err
	}
	for ride.AvailableSeats > 0 {
		b, err := m.promoteOne(ctx, tx, ride)
		if err != nil {
			return out, err
		}
		if b == nil {
			break
		}
		out.Promoted = append(out.Promoted, b)
	}
	return out, nil
}

func (m *Manager) promoteOne(ctx context.Context, tx store.Tx, ride *domain.Ride) (*domain.Booking, error) {
	if ride.Status != domain.RideScheduled || ride.AvailableSeats <= 0 {
		return nil, nil
	}
	live, err := m.live(ctx, tx, ride.ID)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, nil
	}
	next := live[0]
	if err := ride.ReserveSeat(); err != nil {
		return nil, err
	}
	if err := m.transition(ctx, tx, next, domain.BookingConfirmed); err != nil {
		return nil, err
	}
	if err := renumber(ctx, tx, live[1:], m.clock.Now()); err != nil {
		return nil, err
	}
	m.log.InfoContext(ctx, "waitlist promoted",
		slog.String("ride_id", string(ride.ID)),
		slog.String("booking_id", string(next.ID)),
		slog.Int("available_seats", ride.AvailableSeats),
	)
	return next, nil
}

// Sweep expires overdue offers on every ride that has them.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	ids, err := m.store.ListRidesWithOverdueOffers(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep waitlist: %w", err)
	}
	total := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var (
			out    Outcome
			locked *domain.Ride
		)
		err := m.store.WithRide(ctx, id, func(tx store.Tx, ride *domain.Ride) error {
			locked = ride
			var err error
			out, err = m.ExpireStale(ctx, tx, ride)
			return err
		})
		if err != nil {
			m.log.ErrorContext(ctx, "waitlist sweep failed", slog.String("ride_id", string(id)), slog.Any("error", err))
			continue
		}
		total += len(out.Expired)
		m.Notify(ctx, locked, out)
	}
	if total > 0 {
		m.log.InfoContext(ctx, "waitlist sweep", slog.Int("expired", total), slog.Int("rides", len(ids)))
	}
	return total, nil
}

// Notify tells each affected passenger about a committed outcome.
func (m *Manager) Notify(ctx context.Context, ride *domain.Ride, out Outcome) {
	now := m.clock.Now()
	updates := make([]notify.Update, 0, len(out.Promoted)+len(out.Expired))
	for _, b := range out.Promoted {
		updates = append(updates, notify.Update{
			RideID:     ride.ID,
			Kind:       notify.KindWaitlistPromoted,
			Message:    fmt.Sprintf("A seat opened up: your booking for %s to %s is confirmed", ride.Origin, ride.Destination),
			Recipients: []types.ID{b.PassengerID},
			Timestamp:  now,
		})
	}
	for _, b := range out.Expired {
		updates = append(updates, notify.Update{
			RideID:     ride.ID,
			Kind:       notify.KindWaitlistExpired,
			Message:    fmt.Sprintf("Your waitlist spot for %s to %s has expired", ride.Origin, ride.Destination),
			Recipients: []types.ID{b.PassengerID},
			Timestamp:  now,
		})
	}
	notify.Deliver(ctx, m.sink, m.log, updates...)
}

func (m *Manager) transition(ctx context.Context, tx store.Tx, b *domain.Booking, to domain.BookingStatus) error {
	now := m.clock.Now()
	from := b.Status
	if err := b.TransitionTo(to, now); err != nil {
		return err
	}
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return err
	}
	return tx.AppendEvent(ctx, domain.BookingEvent(b, from, nil, now))
}

// live returns unexpired WAITLISTED bookings in position order.
func (m *Manager) live(ctx context.Context, tx store.Tx, rideID types.ID) ([]*domain.Booking, error) {
	waiting, err := tx.ListBookingsByRide(ctx, rideID, domain.BookingWaitlisted)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	now := m.clock.Now()
	out := waiting[:0]
	for _, b := range waiting {
		if !b.OfferExpired(now) {
			out = append(out, b)
		}
	}
	sortByPosition(out)
	return out, nil
}

// renumber rewrites positions to 1..n in the given order.
func renumber(ctx context.Context, tx store.Tx, live []*domain.Booking, now time.Time) error {
	for i, b := range live {
		want := i + 1
		if b.Position() == want {
			continue
		}
		b.WaitlistPosition = &want
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func sortByPosition(bs []*domain.Booking) {
	sort.SliceStable(bs, func(i, j int) bool {
		if bs[i].Position() != bs[j].Position() {
			return bs[i].Position() < bs[j].Position()
		}
		if !bs[i].BookedAt.Equal(bs[j].BookedAt) {
			return bs[i].BookedAt.Before(bs[j].BookedAt)
		}
		return bs[i].ID < bs[j].ID
	})
}
