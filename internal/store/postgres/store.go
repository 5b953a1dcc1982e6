// README: Store backed by PostgreSQL; ride row locks, version CAS and unique indexes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"campusride/internal/domain"
	"campusride/internal/store"
	"campusride/internal/types"
)

const (
	uniqueViolation      = "23505"
	activeBookingIndex   = "bookings_active_passenger_uq"
	reviewPrimaryKey     = "reviews_pkey"
	rideColumns          = `id, driver_id, origin, destination, coordinates, departure_time, total_seats, available_seats, price_cents, currency, status, version, created_at, updated_at, started_at, completed_at, cancelled_at`
	bookingColumns       = `id, ride_id, passenger_id, status, booked_at, updated_at, waitlist_position, waitlist_expires_at`
	bookingColumnsPrefix = `b.id, b.ride_id, b.passenger_id, b.status, b.booked_at, b.updated_at, b.waitlist_position, b.waitlist_expires_at`
	reviewColumns        = `booking_id, ride_id, driver_id, reviewer_id, rating, comment, created_at`
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	*reader
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{reader: &reader{q: db}, db: db}
}

func (s *Store) WithRide(ctx context.Context, rideID types.ID, fn func(tx store.Tx, ride *domain.Ride) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		t := newTx(tx)
		ride, err := t.getRide(ctx, rideID, true)
		if err != nil {
			return err
		}
		return fn(t, ride)
	})
}

func (s *Store) WithDriver(ctx context.Context, driverID types.ID, fn func(tx store.Tx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := lockDriver(ctx, tx, driverID); err != nil {
			return err
		}
		return fn(newTx(tx))
	})
}

// WithDriverRide holds a single pooled connection for both locks.
func (s *Store) WithDriverRide(ctx context.Context, driverID, rideID types.ID, fn func(tx store.Tx, ride *domain.Ride) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := lockDriver(ctx, tx, driverID); err != nil {
			return err
		}
		t := newTx(tx)
		ride, err := t.getRide(ctx, rideID, true)
		if err != nil {
			return err
		}
		return fn(t, ride)
	})
}

func lockDriver(ctx context.Context, tx pgx.Tx, driverID types.ID) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "driver:"+string(driverID)); err != nil {
		return fmt.Errorf("lock driver %s: %w", driverID, err)
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(newTx(tx))
	})
}

type pgTx struct {
	*reader
}

func newTx(tx pgx.Tx) *pgTx {
	return &pgTx{reader: &reader{q: tx}}
}

func (t *pgTx) InsertRide(ctx context.Context, r *domain.Ride) error {
	coords, err := encodeCoordinates(r.Coordinates)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO rides (`+rideColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		string(r.ID),
		string(r.DriverID),
		r.Origin,
		r.Destination,
		coords,
		r.DepartureTime,
		r.TotalSeats,
		r.AvailableSeats,
		r.Price.Amount,
		currencyOrDefault(r.Price.Currency),
		string(r.Status),
		r.Version,
		r.CreatedAt,
		r.UpdatedAt,
		r.StartedAt,
		r.CompletedAt,
		r.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateRide(ctx context.Context, r *domain.Ride) error {
	coords, err := encodeCoordinates(r.Coordinates)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE rides
		SET origin = $3,
			destination = $4,
			coordinates = $5,
			departure_time = $6,
			total_seats = $7,
			available_seats = $8,
			price_cents = $9,
			currency = $10,
			status = $11,
			version = version + 1,
			updated_at = $12,
			started_at = $13,
			completed_at = $14,
			cancelled_at = $15
		WHERE id = $1 AND version = $2`,
		string(r.ID),
		r.Version,
		r.Origin,
		r.Destination,
		coords,
		r.DepartureTime,
		r.TotalSeats,
		r.AvailableSeats,
		r.Price.Amount,
		currencyOrDefault(r.Price.Currency),
		string(r.Status),
		r.UpdatedAt,
		r.StartedAt,
		r.CompletedAt,
		r.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("update ride: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update ride %s: %w", r.ID, domain.ErrConflict)
	}
	r.Version++
	return nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(b.ID),
		string(b.RideID),
		string(b.PassengerID),
		string(b.Status),
		b.BookedAt,
		b.UpdatedAt,
		b.WaitlistPosition,
		b.WaitlistExpiresAt,
	)
	if constraint, ok := uniqueConstraint(err); ok && constraint == activeBookingIndex {
		return &domain.DuplicateBookingError{RideID: b.RideID, PassengerID: b.PassengerID}
	}
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE bookings
		SET status = $2,
			updated_at = $3,
			waitlist_position = $4,
			waitlist_expires_at = $5
		WHERE id = $1`,
		string(b.ID),
		string(b.Status),
		b.UpdatedAt,
		b.WaitlistPosition,
		b.WaitlistExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.NotFound("booking", b.ID)
	}
	return nil
}

func (t *pgTx) InsertReview(ctx context.Context, rv *domain.Review) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(rv.BookingID),
		string(rv.RideID),
		string(rv.DriverID),
		string(rv.ReviewerID),
		rv.Rating,
		rv.Comment,
		rv.CreatedAt,
	)
	if constraint, ok := uniqueConstraint(err); ok && constraint == reviewPrimaryKey {
		return domain.ErrDuplicateReview
	}
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, e *domain.Event) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO ride_events (ride_id, booking_id, from_status, to_status, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(e.RideID),
		toStringPtr(e.BookingID),
		e.FromStatus,
		e.ToStatus,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

type reader struct {
	q querier
}

func (r *reader) GetRide(ctx context.Context, id types.ID) (*domain.Ride, error) {
	return r.getRide(ctx, id, false)
}

func (r *reader) getRide(ctx context.Context, id types.ID, forUpdate bool) (*domain.Ride, error) {
	q := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	ride, err := scanRide(r.q.QueryRow(ctx, q, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("ride", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get ride: %w", err)
	}
	return ride, nil
}

func (r *reader) ListRidesByDriver(ctx context.Context, driverID types.ID) ([]*domain.Ride, error) {
	return r.queryRides(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE driver_id = $1
		ORDER BY departure_time, id`, string(driverID))
}

func (r *reader) ListScheduledRides(ctx context.Context, after time.Time) ([]*domain.Ride, error) {
	return r.queryRides(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE status = $1 AND departure_time > $2
		ORDER BY departure_time, id`, string(domain.RideScheduled), after)
}

func (r *reader) ListRidesWithOverdueOffers(ctx context.Context, now time.Time) ([]types.ID, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT ride_id FROM bookings
		WHERE status = $1 AND waitlist_expires_at <= $2
		ORDER BY ride_id`, string(domain.BookingWaitlisted), now)
	if err != nil {
		return nil, fmt.Errorf("list overdue offers: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ID, error) {
		var id string
		err := row.Scan(&id)
		return types.ID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("list overdue offers: %w", err)
	}
	return ids, nil
}

func (r *reader) GetBooking(ctx context.Context, id types.ID) (*domain.Booking, error) {
	b, err := scanBooking(r.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("booking", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (r *reader) FindActiveBooking(ctx context.Context, rideID, passengerID types.ID) (*domain.Booking, error) {
	b, err := scanBooking(r.q.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE ride_id = $1 AND passenger_id = $2 AND status NOT IN ($3, $4)
		LIMIT 1`,
		string(rideID), string(passengerID), string(domain.BookingCancelled), string(domain.BookingExpired)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active booking for passenger %s on ride %s: %w", passengerID, rideID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find active booking: %w", err)
	}
	return b, nil
}

func (r *reader) ListBookingsByRide(ctx context.Context, rideID types.ID, statuses ...domain.BookingStatus) ([]*domain.Booking, error) {
	return r.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE ride_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY booked_at, id`, string(rideID), statusStrings(statuses))
}

func (r *reader) ListBookingsByPassenger(ctx context.Context, passengerID types.ID) ([]*domain.Booking, error) {
	return r.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE passenger_id = $1
		ORDER BY booked_at DESC, id DESC`, string(passengerID))
}

func (r *reader) ListBookingsByDriver(ctx context.Context, driverID types.ID, statuses ...domain.BookingStatus) ([]*domain.Booking, error) {
	return r.queryBookings(ctx, `
		SELECT `+bookingColumnsPrefix+`
		FROM bookings b
		JOIN rides r ON r.id = b.ride_id
		WHERE r.driver_id = $1 AND (cardinality($2::text[]) = 0 OR b.status = ANY($2))
		ORDER BY b.booked_at DESC, b.id DESC`, string(driverID), statusStrings(statuses))
}

func (r *reader) GetReview(ctx context.Context, bookingID, reviewerID types.ID) (*domain.Review, error) {
	rv, err := scanReview(r.q.QueryRow(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE booking_id = $1 AND reviewer_id = $2`, string(bookingID), string(reviewerID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("review", bookingID)
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return rv, nil
}

func (r *reader) ListReviewsByDriver(ctx context.Context, driverID types.ID) ([]*domain.Review, error) {
	return r.queryReviews(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE driver_id = $1
		ORDER BY created_at DESC, booking_id`, string(driverID))
}

func (r *reader) ListReviewsByReviewer(ctx context.Context, reviewerID types.ID) ([]*domain.Review, error) {
	return r.queryReviews(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE reviewer_id = $1
		ORDER BY created_at DESC, booking_id`, string(reviewerID))
}

func (r *reader) queryRides(ctx context.Context, sql string, args ...any) ([]*domain.Ride, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query rides: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Ride, error) { return scanRide(row) })
	if err != nil {
		return nil, fmt.Errorf("scan rides: %w", err)
	}
	return out, nil
}

func (r *reader) queryBookings(ctx context.Context, sql string, args ...any) ([]*domain.Booking, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Booking, error) { return scanBooking(row) })
	if err != nil {
		return nil, fmt.Errorf("scan bookings: %w", err)
	}
	return out, nil
}

func (r *reader) queryReviews(ctx context.Context, sql string, args ...any) ([]*domain.Review, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Review, error) { return scanReview(row) })
	if err != nil {
		return nil, fmt.Errorf("scan reviews: %w", err)
	}
	return out, nil
}

func scanRide(row pgx.Row) (*domain.Ride, error) {
	var (
		rd                     domain.Ride
		id, driverID, status   string
		coords                 []byte
		startedAt, completedAt *time.Time
		cancelledAt            *time.Time
	)
	err := row.Scan(
		&id, &driverID, &rd.Origin, &rd.Destination, &coords, &rd.DepartureTime,
		&rd.TotalSeats, &rd.AvailableSeats, &rd.Price.Amount, &rd.Price.Currency,
		&status, &rd.Version, &rd.CreatedAt, &rd.UpdatedAt,
		&startedAt, &completedAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}
	rd.ID = types.ID(id)
	rd.DriverID = types.ID(driverID)
	rd.Status = domain.RideStatus(status)
	rd.StartedAt = startedAt
	rd.CompletedAt = completedAt
	rd.CancelledAt = cancelledAt
	if len(coords) > 0 {
		if err := json.Unmarshal(coords, &rd.Coordinates); err != nil {
			return nil, fmt.Errorf("decode coordinates: %w", err)
		}
		if len(rd.Coordinates) == 0 {
			rd.Coordinates = nil
		}
	}
	return &rd, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b                           domain.Booking
		id, rideID, passengerID, st string
		position                    *int32
		expiresAt                   *time.Time
	)
	err := row.Scan(&id, &rideID, &passengerID, &st, &b.BookedAt, &b.UpdatedAt, &position, &expiresAt)
	if err != nil {
		return nil, err
	}
	b.ID = types.ID(id)
	b.RideID = types.ID(rideID)
	b.PassengerID = types.ID(passengerID)
	b.Status = domain.BookingStatus(st)
	if position != nil {
		p := int(*position)
		b.WaitlistPosition = &p
	}
	b.WaitlistExpiresAt = expiresAt
	return &b, nil
}

func scanReview(row pgx.Row) (*domain.Review, error) {
	var (
		rv                                  domain.Review
		bookingID, rideID, driverID, author string
	)
	err := row.Scan(&bookingID, &rideID, &driverID, &author, &rv.Rating, &rv.Comment, &rv.CreatedAt)
	if err != nil {
		return nil, err
	}
	rv.BookingID = types.ID(bookingID)
	rv.RideID = types.ID(rideID)
	rv.DriverID = types.ID(driverID)
	rv.ReviewerID = types.ID(author)
	return &rv, nil
}

func encodeCoordinates(points []types.Point) ([]byte, error) {
	if points == nil {
		points = []types.Point{}
	}
	b, err := json.Marshal(points)
	if err != nil {
		return nil, fmt.Errorf("encode coordinates: %w", err)
	}
	return b, nil
}

func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func statusStrings(statuses []domain.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func currencyOrDefault(c string) string {
	if c == "" {
		return types.DefaultCurrency
	}
	return c
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
