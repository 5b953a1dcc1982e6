// README: Post-ride review and the audit event trail.
package domain

import (
	"time"

	"campusride/internal/types"
)

const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 1000
)

type Review struct {
	BookingID  types.ID
	RideID     types.ID
	DriverID   types.ID
	ReviewerID types.ID
	Rating     int
	Comment    string
	CreatedAt  time.Time
}

type Rating struct {
	DriverID types.ID
	Average  float64
	Count    int
}

// Event records one status change of a ride or booking.
type Event struct {
	ID         int64
	RideID     types.ID
	BookingID  *types.ID
	FromStatus string
	ToStatus   string
	ActorID    *types.ID
	CreatedAt  time.Time
}

func RideEvent(r *Ride, from RideStatus, actor *types.ID, at time.Time) *Event {
	return &Event{
		RideID:     r.ID,
		FromStatus: string(from),
		ToStatus:   string(r.Status),
		ActorID:    actor,
		CreatedAt:  at,
	}
}

func BookingEvent(b *Booking, from BookingStatus, actor *types.ID, at time.Time) *Event {
	id := b.ID
	return &Event{
		RideID:     b.RideID,
		BookingID:  &id,
		FromStatus: string(from),
		ToStatus:   string(b.Status),
		ActorID:    actor,
		CreatedAt:  at,
	}
}
