// README: Booking service; creation, driver responses and passenger cancellation under the ride lock.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"campusride/internal/authz"
	"campusride/internal/domain"
	"campusride/internal/modules/waitlist"
	"campusride/internal/notify"
	"campusride/internal/policy"
	"campusride/internal/store"
	"campusride/internal/types"
)

type Service struct {
	store    store.Store
	waitlist *waitlist.Manager
	authz    authz.Authorizer
	clock    policy.Clock
	sink     notify.Sink
	log      *slog.Logger
}

func NewService(st store.Store, wl *waitlist.Manager, az authz.Authorizer, clock policy.Clock, sink notify.Sink, log *slog.Logger) *Service {
	if clock == nil {
		clock = policy.SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, waitlist: wl, authz: az, clock: clock, sink: sink, log: log}
}

type CreateCommand struct {
	RideID types.ID
}

type RespondCommand struct {
	BookingID types.ID
	Decision  domain.BookingStatus
}

type CancelCommand struct {
	BookingID types.ID
}

// Create books a seat request: PENDING while seats remain, otherwise a waitlist offer.
func (s *Service) Create(ctx context.Context, actor types.Identity, cmd CreateCommand) (*domain.Booking, error) {
	var (
		created *domain.Booking
		ride    *domain.Ride
		expired waitlist.Outcome
	)
	err := s.store.WithRide(ctx, cmd.RideID, func(tx store.Tx, r *domain.Ride) error {
		ride = r
		if err := s.authz.Authorize(ctx, authz.Request{
			Action:   authz.BookingCreate,
			Actor:    actor,
			Resource: authz.Resource{DriverID: r.DriverID},
		}); err != nil {
			return err
		}
		if r.Status != domain.RideScheduled {
			return &domain.InvalidTransitionError{
				Entity: "booking", ID: r.ID, To: string(domain.BookingPending),
				Reason: fmt.Sprintf("ride is %s", r.Status),
			}
		}
		now := s.clock.Now()
		if !now.Before(r.DepartureTime) {
			return &domain.WindowError{Kind: domain.WindowBook, Departure: r.DepartureTime, Cutoff: r.DepartureTime}
		}

		var err error
		if expired, err = s.waitlist.ExpireStale(ctx, tx, r); err != nil {
			return err
		}
		existing, err := tx.FindActiveBooking(ctx, r.ID, actor.ID)
		if err == nil {
			return &domain.DuplicateBookingError{RideID: r.ID, PassengerID: actor.ID, BookingID: existing.ID}
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if r.AvailableSeats <= 0 {
			created, err = s.waitlist.Join(ctx, tx, r, actor.ID)
			return err
		}
		created = &domain.Booking{
			ID:          types.NewID(),
			RideID:      r.ID,
			PassengerID: actor.ID,
			Status:      domain.BookingPending,
			BookedAt:    now,
			UpdatedAt:   now,
		}
		if err := tx.InsertBooking(ctx, created); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.BookingEvent(created, "", &actor.ID, now))
	})
	if err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.log.InfoContext(ctx, "booking created",
		slog.String("booking_id", string(created.ID)),
		slog.String("ride_id", string(ride.ID)),
		slog.String("status", string(created.Status)),
		slog.Int("waitlist_position", created.Position()),
	)
	s.waitlist.Notify(ctx, ride, expired)
	if created.Status == domain.BookingWaitlisted {
		s.notify(ctx, ride, notify.KindWaitlistJoined,
			fmt.Sprintf("You are number %d on the waitlist for %s to %s", created.Position(), ride.Origin, ride.Destination),
			created.PassengerID)
	} else {
		s.notify(ctx, ride, notify.KindBookingRequested,
			fmt.Sprintf("New booking request for %s to %s", ride.Origin, ride.Destination),
			ride.DriverID)
	}
	return created, nil
}

// Respond lets the ride's driver confirm or reject a PENDING booking.
func (s *Service) Respond(ctx context.Context, actor types.Identity, cmd RespondCommand) (*domain.Booking, error) {
	if cmd.Decision != domain.BookingConfirmed && cmd.Decision != domain.BookingCancelled {
		return nil, domain.Invalid("status", "must be CONFIRMED or CANCELLED")
	}
	rideID, err := s.rideOf(ctx, cmd.BookingID)
	if err != nil {
		return nil, fmt.Errorf("respond to booking: %w", err)
	}

	var (
		b    *domain.Booking
		ride *domain.Ride
	)
	err = s.store.WithRide(ctx, rideID, func(tx store.Tx, r *domain.Ride) error {
		ride = r
		var err error
		if b, err = tx.GetBooking(ctx, cmd.BookingID); err != nil {
			return err
		}
		if err := s.authz.Authorize(ctx, authz.Request{
			Action:   authz.BookingRespond,
			Actor:    actor,
			Resource: authz.Resource{DriverID: r.DriverID, PassengerID: b.PassengerID},
		}); err != nil {
			return err
		}
		if b.Status != domain.BookingPending {
			return &domain.InvalidTransitionError{
				Entity: "booking", ID: b.ID, From: string(b.Status), To: string(cmd.Decision),
				Reason: "only pending bookings can be answered",
			}
		}

		now := s.clock.Now()
		from := b.Status
		if cmd.Decision == domain.BookingConfirmed {
			if err := r.ReserveSeat(); err != nil {
				return err
			}
			r.UpdatedAt = now
			if err := tx.UpdateRide(ctx, r); err != nil {
				return err
			}
		}
		if err := b.TransitionTo(cmd.Decision, now); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.BookingEvent(b, from, &actor.ID, now))
	})
	if err != nil {
		return nil, fmt.Errorf("respond to booking: %w", err)
	}

	s.log.InfoContext(ctx, "booking answered",
		slog.String("booking_id", string(b.ID)),
		slog.String("status", string(b.Status)),
		slog.Int("available_seats", ride.AvailableSeats),
	)
	if b.Status == domain.BookingConfirmed {
		s.notify(ctx, ride, notify.KindBookingConfirmed,
			fmt.Sprintf("Your booking for %s to %s is confirmed", ride.Origin, ride.Destination), b.PassengerID)
	} else {
		s.notify(ctx, ride, notify.KindBookingRejected,
			fmt.Sprintf("Your booking for %s to %s was declined", ride.Origin, ride.Destination), b.PassengerID)
	}
	return b, nil
}

// Cancel withdraws the passenger's booking; a freed seat goes to the head of the waitlist.
func (s *Service) Cancel(ctx context.Context, actor types.Identity, cmd CancelCommand) (*domain.Booking, error) {
	rideID, err := s.rideOf(ctx, cmd.BookingID)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	var (
		b    *domain.Booking
		ride *domain.Ride
		out  waitlist.Outcome
	)
	err = s.store.WithRide(ctx, rideID, func(tx store.Tx, r *domain.Ride) error {
		ride = r
		var err error
		if b, err = tx.GetBooking(ctx, cmd.BookingID); err != nil {
			return err
		}
		if err := s.authz.Authorize(ctx, authz.Request{
			Action:   authz.BookingCancel,
			Actor:    actor,
			Resource: authz.Resource{DriverID: r.DriverID, PassengerID: b.PassengerID},
		}); err != nil {
			return err
		}

		if out, err = s.waitlist.ExpireStale(ctx, tx, r); err != nil {
			return err
		}
		// the booking may just have expired
		if b, err = tx.GetBooking(ctx, cmd.BookingID); err != nil {
			return err
		}
		if !domain.CanTransitionBooking(b.Status, domain.BookingCancelled) {
			return &domain.InvalidTransitionError{
				Entity: "booking", ID: b.ID, From: string(b.Status), To: string(domain.BookingCancelled),
			}
		}
		now := s.clock.Now()
		if !policy.CanCancelBooking(now, r.DepartureTime) {
			return &domain.WindowError{
				Kind:      domain.WindowBookingCancel,
				Departure: r.DepartureTime,
				Cutoff:    policy.BookingCancelDeadline(r.DepartureTime),
			}
		}

		from := b.Status
		if err := b.TransitionTo(domain.BookingCancelled, now); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, domain.BookingEvent(b, from, &actor.ID, now)); err != nil {
			return err
		}

		switch from {
		case domain.BookingConfirmed:
			r.ReleaseSeat()
			promoted, err := s.waitlist.PromoteNext(ctx, tx, r)
			if err != nil {
				return err
			}
			out.Merge(promoted)
			r.UpdatedAt = now
			return tx.UpdateRide(ctx, r)
		case domain.BookingWaitlisted:
			return s.waitlist.Compact(ctx, tx, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	s.log.InfoContext(ctx, "booking cancelled",
		slog.String("booking_id", string(b.ID)),
		slog.String("ride_id", string(ride.ID)),
		slog.Int("promoted", len(out.Promoted)),
	)
	s.waitlist.Notify(ctx, ride, out)
	s.notify(ctx, ride, notify.KindBookingCancelled,
		fmt.Sprintf("A passenger cancelled their booking for %s to %s", ride.Origin, ride.Destination), ride.DriverID)
	return b, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.View(s.clock.Now()), nil
}

// ListByPassenger is open to the passenger themself and to admins.
func (s *Service) ListByPassenger(ctx context.Context, actor types.Identity, passengerID types.ID) ([]*domain.Booking, error) {
	if err := s.authz.Authorize(ctx, authz.Request{
		Action:   authz.BookingListByPassenger,
		Actor:    actor,
		Resource: authz.Resource{PassengerID: passengerID},
	}); err != nil {
		return nil, err
	}
	bs, err := s.store.ListBookingsByPassenger(ctx, passengerID)
	if err != nil {
		return nil, err
	}
	return s.views(bs), nil
}

// ListByDriver is open to the driver themself and to admins.
func (s *Service) ListByDriver(ctx context.Context, actor types.Identity, driverID types.ID) ([]*domain.Booking, error) {
	if err := s.authorizeDriverList(ctx, actor, driverID); err != nil {
		return nil, err
	}
	bs, err := s.store.ListBookingsByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	return s.views(bs), nil
}

func (s *Service) ListPendingByDriver(ctx context.Context, actor types.Identity, driverID types.ID) ([]*domain.Booking, error) {
	if err := s.authorizeDriverList(ctx, actor, driverID); err != nil {
		return nil, err
	}
	bs, err := s.store.ListBookingsByDriver(ctx, driverID, domain.BookingPending)
	if err != nil {
		return nil, err
	}
	return s.views(bs), nil
}

func (s *Service) authorizeDriverList(ctx context.Context, actor types.Identity, driverID types.ID) error {
	return s.authz.Authorize(ctx, authz.Request{
		Action:   authz.BookingListByDriver,
		Actor:    actor,
		Resource: authz.Resource{DriverID: driverID},
	})
}

func (s *Service) ListConfirmedForRide(ctx context.Context, rideID types.ID) ([]*domain.Booking, error) {
	if _, err := s.store.GetRide(ctx, rideID); err != nil {
		return nil, err
	}
	bs, err := s.store.ListBookingsByRide(ctx, rideID, domain.BookingConfirmed)
	if err != nil {
		return nil, err
	}
	return s.views(bs), nil
}

func (s *Service) WaitlistCount(ctx context.Context, rideID types.ID) (int, error) {
	if _, err := s.store.GetRide(ctx, rideID); err != nil {
		return 0, err
	}
	return s.waitlist.Count(ctx, rideID)
}

func (s *Service) rideOf(ctx context.Context, bookingID types.ID) (types.ID, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return "", err
	}
	return b.RideID, nil
}

func (s *Service) views(bs []*domain.Booking) []*domain.Booking {
	now := s.clock.Now()
	out := make([]*domain.Booking, len(bs))
	for i, b := range bs {
		out[i] = b.View(now)
	}
	return out
}

func (s *Service) notify(ctx context.Context, ride *domain.Ride, kind notify.Kind, msg string, recipients ...types.ID) {
	notify.Deliver(ctx, s.sink, s.log, notify.Update{
		RideID:     ride.ID,
		Kind:       kind,
		Message:    msg,
		Recipients: recipients,
		Timestamp:  s.clock.Now(),
	})
}
