// README: Ride aggregate, status definitions and seat bookkeeping.
package domain

import (
	"strings"
	"time"

	"campusride/internal/types"
)

type RideStatus string

const (
	RideScheduled  RideStatus = "SCHEDULED"
	RideInProgress RideStatus = "IN_PROGRESS"
	RideCompleted  RideStatus = "COMPLETED"
	RideCancelled  RideStatus = "CANCELLED"
)

func (s RideStatus) Valid() bool {
	switch s {
	case RideScheduled, RideInProgress, RideCompleted, RideCancelled:
		return true
	}
	return false
}

const (
	MinSeats = 1
	MaxSeats = 8
	// MaxPrice is expressed in major currency units.
	MaxPrice = 1000
)

type Ride struct {
	ID             types.ID
	DriverID       types.ID
	Origin         string
	Destination    string
	Coordinates    []types.Point
	DepartureTime  time.Time
	TotalSeats     int
	AvailableSeats int
	Price          types.Money
	Status         RideStatus
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CancelledAt    *time.Time
}

// RideTransitions represents the ride state flow as code.
var RideTransitions = map[RideStatus][]RideStatus{
	RideScheduled:  {RideInProgress, RideCancelled},
	RideInProgress: {RideCompleted},
}

func CanTransitionRide(from, to RideStatus) bool {
	for _, s := range RideTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate checks the caller-editable fields of a ride.
func (r *Ride) Validate() error {
	if strings.TrimSpace(r.Origin) == "" {
		return Invalid("origin", "is required")
	}
	if strings.TrimSpace(r.Destination) == "" {
		return Invalid("destination", "is required")
	}
	if r.TotalSeats < MinSeats || r.TotalSeats > MaxSeats {
		return Invalid("total_seats", "must be between 1 and 8")
	}
	if r.Price.Amount < 0 || r.Price.Amount > MaxPrice*100 {
		return Invalid("price", "must be between 0 and 1000")
	}
	for _, p := range r.Coordinates {
		if !p.Valid() {
			return Invalid("coordinates", "latitude or longitude out of range")
		}
	}
	return nil
}

// ReserveSeat takes one seat for a confirmed booking.
func (r *Ride) ReserveSeat() error {
	if r.AvailableSeats <= 0 {
		return &CapacityError{RideID: r.ID, Available: r.AvailableSeats, Total: r.TotalSeats}
	}
	r.AvailableSeats--
	return nil
}

// ReleaseSeat returns the seat of a cancelled confirmed booking.
func (r *Ride) ReleaseSeat() {
	if r.AvailableSeats < r.TotalSeats {
		r.AvailableSeats++
	}
}

// Resize changes the seat total while keeping every confirmed passenger seated.
func (r *Ride) Resize(total, confirmed int) error {
	if total < MinSeats || total > MaxSeats {
		return Invalid("total_seats", "must be between 1 and 8")
	}
	if total-confirmed < 0 {
		return &CapacityError{RideID: r.ID, Available: total - confirmed, Total: total}
	}
	r.TotalSeats = total
	r.AvailableSeats = total - confirmed
	return nil
}

// TransitionTo moves the ride along the state machine and stamps the matching timestamp.
func (r *Ride) TransitionTo(to RideStatus, now time.Time) error {
	if !CanTransitionRide(r.Status, to) {
		return &InvalidTransitionError{Entity: "ride", ID: r.ID, From: string(r.Status), To: string(to)}
	}
	r.Status = to
	switch to {
	case RideInProgress:
		r.StartedAt = &now
	case RideCompleted:
		r.CompletedAt = &now
	case RideCancelled:
		r.CancelledAt = &now
	}
	return nil
}

func (r *Ride) Clone() *Ride {
	c := *r
	if r.Coordinates != nil {
		c.Coordinates = append([]types.Point(nil), r.Coordinates...)
	}
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
