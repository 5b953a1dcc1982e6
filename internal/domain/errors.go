// README: Error taxonomy shared by every engine module.
package domain

import (
	"errors"
	"fmt"
	"time"

	"campusride/internal/types"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrCapacity           = errors.New("no seats available")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrTimeWindow         = errors.New("outside allowed time window")
	ErrCancellationWindow = errors.New("cancellation window closed")
	ErrEditWindow         = errors.New("edit window closed")
	ErrDuplicateBooking   = errors.New("passenger already has an active booking for this ride")
	ErrDuplicateReview    = errors.New("booking already reviewed by this reviewer")
	ErrNotAuthorized      = errors.New("not permitted")
	ErrConflict           = errors.New("concurrent update conflict")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// CapacityError carries the seat counts observed when the reservation failed.
type CapacityError struct {
	RideID    types.ID
	Available int
	Total     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("ride %s has %d of %d seats available", e.RideID, e.Available, e.Total)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacity }

type InvalidTransitionError struct {
	Entity string
	ID     types.ID
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s transition %s -> %s: %s", e.Entity, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type WindowKind string

const (
	WindowBookingCancel WindowKind = "booking_cancel"
	WindowRideCancel    WindowKind = "ride_cancel"
	WindowRideStart     WindowKind = "ride_start"
	WindowPreRideUpdate WindowKind = "pre_ride_update"
	WindowBook          WindowKind = "book"
)

// WindowError reports a temporal policy violation together with the cutoff that applied.
type WindowError struct {
	Kind      WindowKind
	Departure time.Time
	Cutoff    time.Time
}

func (e *WindowError) Error() string {
	switch e.Kind {
	case WindowBookingCancel:
		return fmt.Sprintf("bookings can only be cancelled before %s", e.Cutoff.Format(time.RFC3339))
	case WindowRideCancel:
		return fmt.Sprintf("rides can only be cancelled before %s", e.Cutoff.Format(time.RFC3339))
	case WindowRideStart:
		return fmt.Sprintf("ride cannot start before %s", e.Cutoff.Format(time.RFC3339))
	case WindowPreRideUpdate:
		return fmt.Sprintf("pre-ride updates are allowed from %s until departure", e.Cutoff.Format(time.RFC3339))
	default:
		return fmt.Sprintf("%s not allowed after %s", e.Kind, e.Cutoff.Format(time.RFC3339))
	}
}

func (e *WindowError) Is(target error) bool {
	switch target {
	case ErrTimeWindow:
		return true
	case ErrCancellationWindow:
		return e.Kind == WindowBookingCancel
	case ErrEditWindow:
		return e.Kind == WindowRideCancel
	}
	return false
}

type DuplicateBookingError struct {
	RideID      types.ID
	PassengerID types.ID
	BookingID   types.ID
}

func (e *DuplicateBookingError) Error() string {
	return fmt.Sprintf("passenger %s already has booking %s on ride %s", e.PassengerID, e.BookingID, e.RideID)
}

func (e *DuplicateBookingError) Is(target error) bool { return target == ErrDuplicateBooking }

// NotAuthorizedError deliberately carries nothing beyond the attempted action.
type NotAuthorizedError struct {
	Action string
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("%s: not permitted", e.Action)
}

func (e *NotAuthorizedError) Is(target error) bool { return target == ErrNotAuthorized }

func NotFound(entity string, id types.ID) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}
