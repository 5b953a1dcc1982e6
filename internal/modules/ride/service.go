// README: Ride service; driver-owned ride offers, edits and the public search listing.
package ride

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"campusride/internal/authz"
	"campusride/internal/domain"
	"campusride/internal/modules/waitlist"
	"campusride/internal/policy"
	"campusride/internal/store"
	"campusride/internal/types"
)

// Transitioner moves a ride along its lifecycle; Delete goes through it.
type Transitioner interface {
	Transition(ctx context.Context, actor types.Identity, rideID types.ID, to domain.RideStatus) (*domain.Ride, error)
}

type Service struct {
	store     store.Store
	waitlist  *waitlist.Manager
	lifecycle Transitioner
	authz     authz.Authorizer
	clock     policy.Clock
	log       *slog.Logger
}

func NewService(st store.Store, wl *waitlist.Manager, lc Transitioner, az authz.Authorizer, clock policy.Clock, log *slog.Logger) *Service {
	if clock == nil {
		clock = policy.SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, waitlist: wl, lifecycle: lc, authz: az, clock: clock, log: log}
}

type CreateCommand struct {
	Origin        string
	Destination   string
	Coordinates   []types.Point
	DepartureTime time.Time
	TotalSeats    int
	// Price in major currency units.
	Price float64
}

// UpdateCommand carries a partial edit; nil fields are left unchanged.
type UpdateCommand struct {
	Origin        *string
	Destination   *string
	Coordinates   *[]types.Point
	DepartureTime *time.Time
	TotalSeats    *int
	Price         *float64
}

// Filter narrows the available-rides listing. Empty fields match everything.
type Filter struct {
	Origin      string
	Destination string
	// Date is a YYYY-MM-DD departure date in UTC.
	Date string
}

const dateLayout = "2006-01-02"

func (s *Service) Create(ctx context.Context, actor types.Identity, cmd CreateCommand) (*domain.Ride, error) {
	if err := s.authz.Authorize(ctx, authz.Request{Action: authz.RideCreate, Actor: actor}); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}
	now := s.clock.Now()
	r := &domain.Ride{
		ID:             types.NewID(),
		DriverID:       actor.ID,
		Origin:         strings.TrimSpace(cmd.Origin),
		Destination:    strings.TrimSpace(cmd.Destination),
		Coordinates:    cmd.Coordinates,
		DepartureTime:  cmd.DepartureTime.UTC(),
		TotalSeats:     cmd.TotalSeats,
		AvailableSeats: cmd.TotalSeats,
		Price:          types.MoneyFromUnits(cmd.Price),
		Status:         domain.RideScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}
	if !r.DepartureTime.After(now) {
		return nil, fmt.Errorf("create ride: %w", domain.Invalid("departure_time", "must be in the future"))
	}

	err := s.store.WithDriver(ctx, actor.ID, func(tx store.Tx) error {
		if err := s.checkOverlap(ctx, tx, actor.ID, r.DepartureTime, ""); err != nil {
			return err
		}
		if err := tx.InsertRide(ctx, r); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.RideEvent(r, "", &actor.ID, now))
	})
	if err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}

	s.log.InfoContext(ctx, "ride created",
		slog.String("ride_id", string(r.ID)),
		slog.String("driver_id", string(r.DriverID)),
		slog.Time("departure_time", r.DepartureTime),
		slog.Int("total_seats", r.TotalSeats),
	)
	return r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*domain.Ride, error) {
	return s.store.GetRide(ctx, id)
}

// Update edits a SCHEDULED ride. A raised seat count is offered to the waitlist at once.
func (s *Service) Update(ctx context.Context, actor types.Identity, id types.ID, cmd UpdateCommand) (*domain.Ride, error) {
	current, err := s.store.GetRide(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update ride: %w", err)
	}

	var (
		updated *domain.Ride
		out     waitlist.Outcome
	)
	err = s.store.WithDriverRide(ctx, current.DriverID, id, func(tx store.Tx, r *domain.Ride) error {
		if err := s.authz.Authorize(ctx, authz.Request{
			Action:   authz.RideUpdate,
			Actor:    actor,
			Resource: authz.Resource{DriverID: r.DriverID},
		}); err != nil {
			return err
		}
		if r.Status != domain.RideScheduled {
			return &domain.InvalidTransitionError{
				Entity: "ride", ID: r.ID, From: string(r.Status), To: string(r.Status),
				Reason: "only scheduled rides can be edited",
			}
		}

		now := s.clock.Now()
		before := r.TotalSeats
		if cmd.Origin != nil {
			r.Origin = strings.TrimSpace(*cmd.Origin)
		}
		if cmd.Destination != nil {
			r.Destination = strings.TrimSpace(*cmd.Destination)
		}
		if cmd.Coordinates != nil {
			r.Coordinates = *cmd.Coordinates
		}
		if cmd.Price != nil {
			r.Price = types.MoneyFromUnits(*cmd.Price)
		}
		if cmd.TotalSeats != nil {
			confirmed, err := tx.ListBookingsByRide(ctx, r.ID, domain.BookingConfirmed)
			if err != nil {
				return err
			}
			if err := r.Resize(*cmd.TotalSeats, len(confirmed)); err != nil {
				return err
			}
		}
		if err := r.Validate(); err != nil {
			return err
		}
		if cmd.DepartureTime != nil && !cmd.DepartureTime.Equal(r.DepartureTime) {
			dep := cmd.DepartureTime.UTC()
			if !dep.After(now) {
				return domain.Invalid("departure_time", "must be in the future")
			}
			if err := s.checkOverlap(ctx, tx, r.DriverID, dep, r.ID); err != nil {
				return err
			}
			r.DepartureTime = dep
		}
		if r.TotalSeats > before {
			promoted, err := s.waitlist.PromoteAll(ctx, tx, r)
			if err != nil {
				return err
			}
			out = promoted
		}
		r.UpdatedAt = now
		if err := tx.UpdateRide(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update ride: %w", err)
	}

	s.log.InfoContext(ctx, "ride updated",
		slog.String("ride_id", string(updated.ID)),
		slog.Int("available_seats", updated.AvailableSeats),
		slog.Int("promoted", len(out.Promoted)),
	)
	s.waitlist.Notify(ctx, updated, out)
	return updated, nil
}

// Delete soft-cancels the ride with the same rules as a CANCELLED transition.
func (s *Service) Delete(ctx context.Context, actor types.Identity, id types.ID) (*domain.Ride, error) {
	return s.lifecycle.Transition(ctx, actor, id, domain.RideCancelled)
}

// ListAvailable returns future SCHEDULED rides, full ones included, soonest first.
func (s *Service) ListAvailable(ctx context.Context, f Filter) ([]*domain.Ride, error) {
	var day time.Time
	if f.Date != "" {
		d, err := time.ParseInLocation(dateLayout, f.Date, time.UTC)
		if err != nil {
			return nil, domain.Invalid("date", "must be formatted YYYY-MM-DD")
		}
		day = d
	}
	rides, err := s.store.ListScheduledRides(ctx, s.clock.Now())
	if err != nil {
		return nil, err
	}
	out := rides[:0]
	for _, r := range rides {
		if !containsFold(r.Origin, f.Origin) || !containsFold(r.Destination, f.Destination) {
			continue
		}
		if !day.IsZero() && r.DepartureTime.UTC().Format(dateLayout) != day.Format(dateLayout) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) ListByDriver(ctx context.Context, driverID types.ID) ([]*domain.Ride, error) {
	return s.store.ListRidesByDriver(ctx, driverID)
}

// checkOverlap rejects a departure within the overlap window of another SCHEDULED ride of the driver.
func (s *Service) checkOverlap(ctx context.Context, tx store.Tx, driverID types.ID, dep time.Time, exclude types.ID) error {
	rides, err := tx.ListRidesByDriver(ctx, driverID)
	if err != nil {
		return err
	}
	for _, other := range rides {
		if other.ID == exclude || other.Status != domain.RideScheduled {
			continue
		}
		if policy.Overlaps(dep, other.DepartureTime) {
			return domain.Invalid("departure_time",
				fmt.Sprintf("overlaps ride %s departing %s", other.ID, other.DepartureTime.Format(time.RFC3339)))
		}
	}
	return nil
}

func containsFold(s, sub string) bool {
	if sub == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(sub)))
}
