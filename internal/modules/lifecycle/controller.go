// README: Ride lifecycle; status transitions with booking cascades and the pre-ride update gate.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"campusride/internal/authz"
	"campusride/internal/domain"
	"campusride/internal/notify"
	"campusride/internal/policy"
	"campusride/internal/store"
	"campusride/internal/types"
)

const MaxUpdateLength = 500

// Feed returns the latest updates published for a ride.
type Feed interface {
	Recent(ctx context.Context, rideID types.ID, limit int) ([]notify.Update, error)
}

type Controller struct {
	store store.Store
	authz authz.Authorizer
	clock policy.Clock
	sink  notify.Sink
	feed  Feed
	log   *slog.Logger
}

func NewController(st store.Store, az authz.Authorizer, clock policy.Clock, sink notify.Sink, feed Feed, log *slog.Logger) *Controller {
	if clock == nil {
		clock = policy.SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{store: st, authz: az, clock: clock, sink: sink, feed: feed, log: log}
}

var transitionActions = map[domain.RideStatus]authz.Action{
	domain.RideInProgress: authz.RideStart,
	domain.RideCompleted:  authz.RideComplete,
	domain.RideCancelled:  authz.RideCancel,
}

// cascades maps a ride target status to the booking statuses it sweeps and where they land.
var cascades = map[domain.RideStatus]struct {
	from []domain.BookingStatus
	to   domain.BookingStatus
}{
	domain.RideInProgress: {[]domain.BookingStatus{domain.BookingPending, domain.BookingWaitlisted}, domain.BookingCancelled},
	domain.RideCompleted:  {[]domain.BookingStatus{domain.BookingConfirmed}, domain.BookingCompleted},
	domain.RideCancelled:  {domain.OpenStatuses, domain.BookingCancelled},
}

// Transition moves the ride to the target status and applies the booking cascade in the same transaction.
func (c *Controller) Transition(ctx context.Context, actor types.Identity, rideID types.ID, to domain.RideStatus) (*domain.Ride, error) {
	action, ok := transitionActions[to]
	if !ok {
		return nil, domain.Invalid("status", "must be IN_PROGRESS, COMPLETED or CANCELLED")
	}

	var (
		ride     *domain.Ride
		from     domain.RideStatus
		affected []*domain.Booking
		riders   []types.ID
	)
	err := c.store.WithRide(ctx, rideID, func(tx store.Tx, r *domain.Ride) error {
		if err := c.authz.Authorize(ctx, authz.Request{
			Action:   action,
			Actor:    actor,
			Resource: authz.Resource{DriverID: r.DriverID},
		}); err != nil {
			return err
		}
		from = r.Status
		if !domain.CanTransitionRide(from, to) {
			return &domain.InvalidTransitionError{Entity: "ride", ID: r.ID, From: string(from), To: string(to)}
		}

		now := c.clock.Now()
		switch to {
		case domain.RideInProgress:
			if !policy.CanStart(now, r.DepartureTime) {
				return &domain.WindowError{Kind: domain.WindowRideStart, Departure: r.DepartureTime, Cutoff: policy.StartCutoff(r.DepartureTime)}
			}
		case domain.RideCancelled:
			if !policy.CanCancelRide(now, r.DepartureTime) {
				return &domain.WindowError{Kind: domain.WindowRideCancel, Departure: r.DepartureTime, Cutoff: policy.RideCancelDeadline(r.DepartureTime)}
			}
		}

		if err := r.TransitionTo(to, now); err != nil {
			return err
		}
		r.UpdatedAt = now
		if err := tx.UpdateRide(ctx, r); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, domain.RideEvent(r, from, &actor.ID, now)); err != nil {
			return err
		}

		cascade := cascades[to]
		bookings, err := tx.ListBookingsByRide(ctx, r.ID, cascade.from...)
		if err != nil {
			return err
		}
		for _, b := range bookings {
			prev := b.Status
			if err := b.TransitionTo(cascade.to, now); err != nil {
				return err
			}
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, domain.BookingEvent(b, prev, &actor.ID, now)); err != nil {
				return err
			}
			affected = append(affected, b)
		}
		if to == domain.RideInProgress {
			// riding passengers hear about the start, not the dropped requests
			confirmed, err := tx.ListBookingsByRide(ctx, r.ID, domain.BookingConfirmed)
			if err != nil {
				return err
			}
			for _, b := range confirmed {
				riders = append(riders, b.PassengerID)
			}
		}
		ride = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transition ride to %s: %w", to, err)
	}

	c.log.InfoContext(ctx, "ride transitioned",
		slog.String("ride_id", string(ride.ID)),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int("bookings_affected", len(affected)),
	)
	c.announce(ctx, ride, affected, riders)
	return ride, nil
}

func (c *Controller) announce(ctx context.Context, ride *domain.Ride, affected []*domain.Booking, riders []types.ID) {
	var (
		kind       notify.Kind
		msg        string
		recipients []types.ID
		updates    []notify.Update
	)
	now := c.clock.Now()
	for _, b := range affected {
		recipients = append(recipients, b.PassengerID)
	}
	switch ride.Status {
	case domain.RideCancelled:
		kind, msg = notify.KindRideCancelled, fmt.Sprintf("Your ride from %s to %s was cancelled by the driver", ride.Origin, ride.Destination)
	case domain.RideCompleted:
		kind, msg = notify.KindRideCompleted, fmt.Sprintf("Your ride from %s to %s is complete. You can now leave a review", ride.Origin, ride.Destination)
	case domain.RideInProgress:
		kind, msg = notify.KindRideStarted, fmt.Sprintf("Your ride from %s to %s has started", ride.Origin, ride.Destination)
		if len(affected) > 0 {
			updates = append(updates, notify.Update{
				RideID:     ride.ID,
				Kind:       notify.KindBookingCancelled,
				Message:    fmt.Sprintf("The ride from %s to %s has left without your booking", ride.Origin, ride.Destination),
				Recipients: recipients,
				Timestamp:  now,
			})
		}
		recipients = riders
	}
	if len(recipients) > 0 {
		updates = append(updates, notify.Update{
			RideID:     ride.ID,
			Kind:       kind,
			Message:    msg,
			Recipients: recipients,
			Timestamp:  now,
		})
	}
	notify.Deliver(ctx, c.sink, c.log, updates...)
}

// SendPreRideUpdate relays a driver message to confirmed passengers; it changes no state.
func (c *Controller) SendPreRideUpdate(ctx context.Context, actor types.Identity, rideID types.ID, message string) (*notify.Update, error) {
	message = strings.TrimSpace(message)
	if message == "" || utf8.RuneCountInString(message) > MaxUpdateLength {
		return nil, domain.Invalid("message", "must be between 1 and 500 characters")
	}
	r, err := c.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, fmt.Errorf("send ride update: %w", err)
	}
	if err := c.authz.Authorize(ctx, authz.Request{
		Action:   authz.RideSendUpdate,
		Actor:    actor,
		Resource: authz.Resource{DriverID: r.DriverID},
	}); err != nil {
		return nil, fmt.Errorf("send ride update: %w", err)
	}
	if r.Status != domain.RideScheduled && r.Status != domain.RideInProgress {
		return nil, fmt.Errorf("send ride update: %w", &domain.InvalidTransitionError{
			Entity: "ride", ID: r.ID, From: string(r.Status), To: string(r.Status),
			Reason: "updates are only sent for scheduled or running rides",
		})
	}
	now := c.clock.Now()
	if !policy.CanSendPreRideUpdate(now, r.DepartureTime) {
		return nil, fmt.Errorf("send ride update: %w", &domain.WindowError{
			Kind:      domain.WindowPreRideUpdate,
			Departure: r.DepartureTime,
			Cutoff:    policy.PreRideUpdateOpens(r.DepartureTime),
		})
	}

	confirmed, err := c.store.ListBookingsByRide(ctx, r.ID, domain.BookingConfirmed)
	if err != nil {
		return nil, fmt.Errorf("send ride update: %w", err)
	}
	recipients := make([]types.ID, 0, len(confirmed))
	for _, b := range confirmed {
		recipients = append(recipients, b.PassengerID)
	}
	u := notify.Update{
		RideID:     r.ID,
		Kind:       notify.KindPreRideUpdate,
		Message:    message,
		Recipients: recipients,
		Timestamp:  now,
	}
	notify.Deliver(ctx, c.sink, c.log, u)
	return &u, nil
}

// RecentUpdates returns the ride's latest published updates, newest first.
func (c *Controller) RecentUpdates(ctx context.Context, rideID types.ID, limit int) ([]notify.Update, error) {
	if _, err := c.store.GetRide(ctx, rideID); err != nil {
		return nil, err
	}
	if c.feed == nil {
		return []notify.Update{}, nil
	}
	return c.feed.Recent(ctx, rideID, limit)
}
