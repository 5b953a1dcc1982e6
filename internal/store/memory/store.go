// README: In-memory store; keyed mutex per ride, staged writes applied atomically on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"campusride/internal/domain"
	"campusride/internal/store"
	"campusride/internal/types"
)

type reviewKey struct {
	booking  types.ID
	reviewer types.ID
}

type Store struct {
	*reader

	mu       sync.RWMutex
	rides    map[types.ID]*domain.Ride
	bookings map[types.ID]*domain.Booking
	reviews  map[reviewKey]*domain.Review
	events   []*domain.Event
	locks    *keyedMutex
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	s := &Store{
		rides:    make(map[types.ID]*domain.Ride),
		bookings: make(map[types.ID]*domain.Booking),
		reviews:  make(map[reviewKey]*domain.Review),
		locks:    newKeyedMutex(),
	}
	s.reader = &reader{s: s}
	return s
}

func (s *Store) WithRide(ctx context.Context, rideID types.ID, fn func(tx store.Tx, ride *domain.Ride) error) error {
	unlock := s.locks.Lock("ride:" + string(rideID))
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	t := s.begin()
	ride, err := t.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if err := fn(t, ride); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) WithDriver(ctx context.Context, driverID types.ID, fn func(tx store.Tx) error) error {
	unlock := s.locks.Lock("driver:" + string(driverID))
	defer unlock()
	return s.InTx(ctx, fn)
}

func (s *Store) WithDriverRide(ctx context.Context, driverID, rideID types.ID, fn func(tx store.Tx, ride *domain.Ride) error) error {
	unlock := s.locks.Lock("driver:" + string(driverID))
	defer unlock()
	return s.WithRide(ctx, rideID, fn)
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := s.begin()
	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

// Events returns a copy of the audit trail.
func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Event, len(s.events))
	for i, e := range s.events {
		out[i] = *e
	}
	return out
}

func (s *Store) begin() *tx {
	t := &tx{
		s:            s,
		rides:        make(map[types.ID]*domain.Ride),
		baseVersions: make(map[types.ID]int),
		bookings:     make(map[types.ID]*domain.Booking),
		reviews:      make(map[reviewKey]*domain.Review),
	}
	t.reader = &reader{s: s, tx: t}
	return t
}

type tx struct {
	*reader

	s            *Store
	rides        map[types.ID]*domain.Ride
	baseVersions map[types.ID]int
	bookings     map[types.ID]*domain.Booking
	reviews      map[reviewKey]*domain.Review
	events       []*domain.Event
}

func (t *tx) InsertRide(ctx context.Context, r *domain.Ride) error {
	if _, err := t.GetRide(ctx, r.ID); err == nil {
		return fmt.Errorf("insert ride %s: already exists", r.ID)
	}
	t.rides[r.ID] = r.Clone()
	return nil
}

func (t *tx) UpdateRide(ctx context.Context, r *domain.Ride) error {
	current, err := t.GetRide(ctx, r.ID)
	if err != nil {
		return err
	}
	if current.Version != r.Version {
		return fmt.Errorf("update ride %s: %w", r.ID, domain.ErrConflict)
	}
	if _, staged := t.rides[r.ID]; !staged {
		t.s.mu.RLock()
		if base, ok := t.s.rides[r.ID]; ok {
			t.baseVersions[r.ID] = base.Version
		}
		t.s.mu.RUnlock()
	}
	r.Version++
	t.rides[r.ID] = r.Clone()
	return nil
}

func (t *tx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	if b.Status.Active() {
		existing, err := t.FindActiveBooking(ctx, b.RideID, b.PassengerID)
		if err == nil {
			return &domain.DuplicateBookingError{RideID: b.RideID, PassengerID: b.PassengerID, BookingID: existing.ID}
		}
	}
	t.bookings[b.ID] = b.Clone()
	return nil
}

func (t *tx) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	if _, err := t.GetBooking(ctx, b.ID); err != nil {
		return err
	}
	t.bookings[b.ID] = b.Clone()
	return nil
}

func (t *tx) InsertReview(ctx context.Context, rv *domain.Review) error {
	if _, err := t.GetReview(ctx, rv.BookingID, rv.ReviewerID); err == nil {
		return domain.ErrDuplicateReview
	}
	c := *rv
	t.reviews[reviewKey{rv.BookingID, rv.ReviewerID}] = &c
	return nil
}

func (t *tx) AppendEvent(_ context.Context, e *domain.Event) error {
	c := *e
	t.events = append(t.events, &c)
	return nil
}

// commit re-checks the constraints a concurrent unlocked transaction could have broken,
// then applies every staged write at once.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, v := range t.baseVersions {
		if base, ok := s.rides[id]; ok && base.Version != v {
			return fmt.Errorf("commit ride %s: %w", id, domain.ErrConflict)
		}
	}
	for k := range t.reviews {
		if _, ok := s.reviews[k]; ok {
			return domain.ErrDuplicateReview
		}
	}
	for _, b := range t.bookings {
		if !b.Status.Active() {
			continue
		}
		for _, other := range s.bookings {
			if other.ID == b.ID || other.RideID != b.RideID || other.PassengerID != b.PassengerID {
				continue
			}
			if staged, ok := t.bookings[other.ID]; ok && !staged.Status.Active() {
				continue
			}
			if other.Status.Active() {
				return &domain.DuplicateBookingError{RideID: b.RideID, PassengerID: b.PassengerID, BookingID: other.ID}
			}
		}
	}

	for id, r := range t.rides {
		s.rides[id] = r
	}
	for id, b := range t.bookings {
		s.bookings[id] = b
	}
	for k, rv := range t.reviews {
		s.reviews[k] = rv
	}
	for _, e := range t.events {
		e.ID = int64(len(s.events) + 1)
		s.events = append(s.events, e)
	}
	return nil
}

// reader merges committed state with the staged writes of its transaction, if any.
type reader struct {
	s  *Store
	tx *tx
}

func (r *reader) rideMap() map[types.ID]*domain.Ride {
	r.s.mu.RLock()
	out := make(map[types.ID]*domain.Ride, len(r.s.rides))
	for id, v := range r.s.rides {
		out[id] = v
	}
	r.s.mu.RUnlock()
	if r.tx != nil {
		for id, v := range r.tx.rides {
			out[id] = v
		}
	}
	return out
}

func (r *reader) bookingList() []*domain.Booking {
	r.s.mu.RLock()
	merged := make(map[types.ID]*domain.Booking, len(r.s.bookings))
	for id, v := range r.s.bookings {
		merged[id] = v
	}
	r.s.mu.RUnlock()
	if r.tx != nil {
		for id, v := range r.tx.bookings {
			merged[id] = v
		}
	}
	out := make([]*domain.Booking, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	return out
}

func (r *reader) reviewList() []*domain.Review {
	r.s.mu.RLock()
	merged := make(map[reviewKey]*domain.Review, len(r.s.reviews))
	for k, v := range r.s.reviews {
		merged[k] = v
	}
	r.s.mu.RUnlock()
	if r.tx != nil {
		for k, v := range r.tx.reviews {
			merged[k] = v
		}
	}
	out := make([]*domain.Review, 0, len(merged))
	for _, rv := range merged {
		c := *rv
		out = append(out, &c)
	}
	return out
}

func (r *reader) GetRide(_ context.Context, id types.ID) (*domain.Ride, error) {
	if r.tx != nil {
		if v, ok := r.tx.rides[id]; ok {
			return v.Clone(), nil
		}
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.rides[id]
	if !ok {
		return nil, domain.NotFound("ride", id)
	}
	return v.Clone(), nil
}

func (r *reader) ListRidesByDriver(_ context.Context, driverID types.ID) ([]*domain.Ride, error) {
	var out []*domain.Ride
	for _, v := range r.rideMap() {
		if v.DriverID == driverID {
			out = append(out, v.Clone())
		}
	}
	sortRides(out)
	return out, nil
}

func (r *reader) ListScheduledRides(_ context.Context, after time.Time) ([]*domain.Ride, error) {
	var out []*domain.Ride
	for _, v := range r.rideMap() {
		if v.Status == domain.RideScheduled && v.DepartureTime.After(after) {
			out = append(out, v.Clone())
		}
	}
	sortRides(out)
	return out, nil
}

func (r *reader) ListRidesWithOverdueOffers(_ context.Context, now time.Time) ([]types.ID, error) {
	seen := make(map[types.ID]bool)
	var out []types.ID
	for _, b := range r.bookingList() {
		if b.OfferExpired(now) && !seen[b.RideID] {
			seen[b.RideID] = true
			out = append(out, b.RideID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *reader) GetBooking(_ context.Context, id types.ID) (*domain.Booking, error) {
	if r.tx != nil {
		if v, ok := r.tx.bookings[id]; ok {
			return v.Clone(), nil
		}
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.bookings[id]
	if !ok {
		return nil, domain.NotFound("booking", id)
	}
	return v.Clone(), nil
}

func (r *reader) FindActiveBooking(_ context.Context, rideID, passengerID types.ID) (*domain.Booking, error) {
	for _, b := range r.bookingList() {
		if b.RideID == rideID && b.PassengerID == passengerID && b.Status.Active() {
			return b.Clone(), nil
		}
	}
	return nil, fmt.Errorf("active booking for passenger %s on ride %s: %w", passengerID, rideID, domain.ErrNotFound)
}

func (r *reader) ListBookingsByRide(_ context.Context, rideID types.ID, statuses ...domain.BookingStatus) ([]*domain.Booking, error) {
	var out []*domain.Booking
	for _, b := range r.bookingList() {
		if b.RideID == rideID && hasStatus(b.Status, statuses) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BookedAt.Equal(out[j].BookedAt) {
			return out[i].BookedAt.Before(out[j].BookedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *reader) ListBookingsByPassenger(_ context.Context, passengerID types.ID) ([]*domain.Booking, error) {
	var out []*domain.Booking
	for _, b := range r.bookingList() {
		if b.PassengerID == passengerID {
			out = append(out, b.Clone())
		}
	}
	sortBookingsDesc(out)
	return out, nil
}

func (r *reader) ListBookingsByDriver(_ context.Context, driverID types.ID, statuses ...domain.BookingStatus) ([]*domain.Booking, error) {
	owned := make(map[types.ID]bool)
	for id, v := range r.rideMap() {
		if v.DriverID == driverID {
			owned[id] = true
		}
	}
	var out []*domain.Booking
	for _, b := range r.bookingList() {
		if owned[b.RideID] && hasStatus(b.Status, statuses) {
			out = append(out, b.Clone())
		}
	}
	sortBookingsDesc(out)
	return out, nil
}

func (r *reader) GetReview(_ context.Context, bookingID, reviewerID types.ID) (*domain.Review, error) {
	k := reviewKey{bookingID, reviewerID}
	if r.tx != nil {
		if v, ok := r.tx.reviews[k]; ok {
			c := *v
			return &c, nil
		}
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	v, ok := r.s.reviews[k]
	if !ok {
		return nil, domain.NotFound("review", bookingID)
	}
	c := *v
	return &c, nil
}

func (r *reader) ListReviewsByDriver(_ context.Context, driverID types.ID) ([]*domain.Review, error) {
	var out []*domain.Review
	for _, rv := range r.reviewList() {
		if rv.DriverID == driverID {
			out = append(out, rv)
		}
	}
	sortReviews(out)
	return out, nil
}

func (r *reader) ListReviewsByReviewer(_ context.Context, reviewerID types.ID) ([]*domain.Review, error) {
	var out []*domain.Review
	for _, rv := range r.reviewList() {
		if rv.ReviewerID == reviewerID {
			out = append(out, rv)
		}
	}
	sortReviews(out)
	return out, nil
}

func hasStatus(s domain.BookingStatus, statuses []domain.BookingStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func sortRides(rs []*domain.Ride) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].DepartureTime.Equal(rs[j].DepartureTime) {
			return rs[i].DepartureTime.Before(rs[j].DepartureTime)
		}
		return rs[i].ID < rs[j].ID
	})
}

func sortBookingsDesc(bs []*domain.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].BookedAt.Equal(bs[j].BookedAt) {
			return bs[i].BookedAt.After(bs[j].BookedAt)
		}
		return bs[i].ID > bs[j].ID
	})
}

func sortReviews(rs []*domain.Review) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].BookingID < rs[j].BookingID
	})
}
