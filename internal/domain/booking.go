// README: Booking aggregate, status definitions and waitlist fields.
package domain

import (
	"time"

	"campusride/internal/types"
)

type BookingStatus string

const (
	BookingPending    BookingStatus = "PENDING"
	BookingConfirmed  BookingStatus = "CONFIRMED"
	BookingWaitlisted BookingStatus = "WAITLISTED"
	BookingCancelled  BookingStatus = "CANCELLED"
	BookingCompleted  BookingStatus = "COMPLETED"
	// BookingExpired is the terminal state of a waitlist offer whose deadline passed.
	BookingExpired BookingStatus = "EXPIRED"
)

// ActiveStatuses are the statuses that count towards the one-booking-per-passenger rule.
var ActiveStatuses = []BookingStatus{BookingPending, BookingConfirmed, BookingWaitlisted, BookingCompleted}

// OpenStatuses are the statuses a ride cancellation cascades over.
var OpenStatuses = []BookingStatus{BookingPending, BookingConfirmed, BookingWaitlisted}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingWaitlisted, BookingCancelled, BookingCompleted, BookingExpired:
		return true
	}
	return false
}

func (s BookingStatus) Active() bool {
	return s != BookingCancelled && s != BookingExpired && s != ""
}

var BookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:    {BookingConfirmed, BookingCancelled},
	BookingWaitlisted: {BookingConfirmed, BookingCancelled, BookingExpired},
	BookingConfirmed:  {BookingCancelled, BookingCompleted},
}

func CanTransitionBooking(from, to BookingStatus) bool {
	for _, s := range BookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Booking struct {
	ID                types.ID
	RideID            types.ID
	PassengerID       types.ID
	Status            BookingStatus
	BookedAt          time.Time
	UpdatedAt         time.Time
	WaitlistPosition  *int
	WaitlistExpiresAt *time.Time
}

// TransitionTo changes status and clears the waitlist fields on the way out of WAITLISTED.
func (b *Booking) TransitionTo(to BookingStatus, now time.Time) error {
	if !CanTransitionBooking(b.Status, to) {
		return &InvalidTransitionError{Entity: "booking", ID: b.ID, From: string(b.Status), To: string(to)}
	}
	b.Status = to
	b.UpdatedAt = now
	if to != BookingWaitlisted {
		b.WaitlistPosition = nil
		b.WaitlistExpiresAt = nil
	}
	return nil
}

// OfferExpired reports whether a waitlist offer has passed its deadline.
func (b *Booking) OfferExpired(now time.Time) bool {
	return b.Status == BookingWaitlisted && b.WaitlistExpiresAt != nil && !now.Before(*b.WaitlistExpiresAt)
}

// View returns the booking as readers should see it at now: an overdue offer reads as EXPIRED
// even before a locked operation has materialized the transition.
func (b *Booking) View(now time.Time) *Booking {
	c := b.Clone()
	if c.OfferExpired(now) {
		c.Status = BookingExpired
		c.WaitlistPosition = nil
		c.WaitlistExpiresAt = nil
	}
	return c
}

func (b *Booking) Clone() *Booking {
	c := *b
	if b.WaitlistPosition != nil {
		p := *b.WaitlistPosition
		c.WaitlistPosition = &p
	}
	c.WaitlistExpiresAt = cloneTime(b.WaitlistExpiresAt)
	return &c
}

// Position returns the waitlist position or zero when not waitlisted.
func (b *Booking) Position() int {
	if b.WaitlistPosition == nil {
		return 0
	}
	return *b.WaitlistPosition
}
