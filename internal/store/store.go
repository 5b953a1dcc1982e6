// README: Persistence ports; every seat or status mutation runs inside a ride-scoped transaction.
package store

import (
	"context"
	"time"

	"campusride/internal/domain"
	"campusride/internal/types"
)

// Reader is the read side shared by the store and by open transactions.
type Reader interface {
	GetRide(ctx context.Context, id types.ID) (*domain.Ride, error)
	ListRidesByDriver(ctx context.Context, driverID types.ID) ([]*domain.Ride, error)
	// ListScheduledRides returns SCHEDULED rides departing after the given instant.
	ListScheduledRides(ctx context.Context, after time.Time) ([]*domain.Ride, error)
	// ListRidesWithOverdueOffers returns ids of rides holding WAITLISTED offers expired at now.
	ListRidesWithOverdueOffers(ctx context.Context, now time.Time) ([]types.ID, error)

	GetBooking(ctx context.Context, id types.ID) (*domain.Booking, error)
	// FindActiveBooking returns the passenger's non-cancelled booking on a ride or ErrNotFound.
	FindActiveBooking(ctx context.Context, rideID, passengerID types.ID) (*domain.Booking, error)
	ListBookingsByRide(ctx context.Context, rideID types.ID, statuses ...domain.BookingStatus) ([]*domain.Booking, error)
	ListBookingsByPassenger(ctx context.Context, passengerID types.ID) ([]*domain.Booking, error)
	ListBookingsByDriver(ctx context.Context, driverID types.ID, statuses ...domain.BookingStatus) ([]*domain.Booking, error)

	GetReview(ctx context.Context, bookingID, reviewerID types.ID) (*domain.Review, error)
	ListReviewsByDriver(ctx context.Context, driverID types.ID) ([]*domain.Review, error)
	ListReviewsByReviewer(ctx context.Context, reviewerID types.ID) ([]*domain.Review, error)
}

// Tx is an open transaction. Writes become visible to other callers only on commit.
type Tx interface {
	Reader

	InsertRide(ctx context.Context, r *domain.Ride) error
	// UpdateRide writes r if its Version still matches the stored row and bumps r.Version.
	UpdateRide(ctx context.Context, r *domain.Ride) error
	InsertBooking(ctx context.Context, b *domain.Booking) error
	UpdateBooking(ctx context.Context, b *domain.Booking) error
	InsertReview(ctx context.Context, rv *domain.Review) error
	AppendEvent(ctx context.Context, e *domain.Event) error
}

type Store interface {
	Reader

	// WithRide runs fn in a transaction holding the ride's exclusive lock. fn receives the
	// freshly locked ride. A non-nil error from fn rolls everything back.
	WithRide(ctx context.Context, rideID types.ID, fn func(tx Tx, ride *domain.Ride) error) error
	// WithDriver runs fn in a transaction serialized per driver.
	WithDriver(ctx context.Context, driverID types.ID, fn func(tx Tx) error) error
	// WithDriverRide takes the driver lock and then the ride lock inside one transaction.
	WithDriverRide(ctx context.Context, driverID, rideID types.ID, fn func(tx Tx, ride *domain.Ride) error) error
	// InTx runs fn in a plain transaction.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
