// README: Time policy; pure functions deciding time-relative eligibility around a departure.
package policy

import "time"

const (
	StartWindow         = 15 * time.Minute
	RideCancelCutoff    = 60 * time.Minute
	BookingCancelCutoff = 24 * time.Hour
	WaitlistOfferTTL    = 60 * time.Minute
	PreRideUpdateWindow = 60 * time.Minute
	OverlapWindow       = 60 * time.Minute
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock in UTC.
var SystemClock Clock = systemClock{}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

func StartCutoff(departure time.Time) time.Time { return departure.Add(-StartWindow) }

// CanStart reports whether a ride may move to IN_PROGRESS.
func CanStart(now, departure time.Time) bool {
	return !now.Before(StartCutoff(departure))
}

func RideCancelDeadline(departure time.Time) time.Time { return departure.Add(-RideCancelCutoff) }

// CanCancelRide reports whether the driver may still cancel (or delete) the ride.
func CanCancelRide(now, departure time.Time) bool {
	return now.Before(RideCancelDeadline(departure))
}

func BookingCancelDeadline(departure time.Time) time.Time {
	return departure.Add(-BookingCancelCutoff)
}

func CanCancelBooking(now, departure time.Time) bool {
	return now.Before(BookingCancelDeadline(departure))
}

func WaitlistDeadline(now time.Time) time.Time { return now.Add(WaitlistOfferTTL) }

func WaitlistExpired(now, expiresAt time.Time) bool {
	return !now.Before(expiresAt)
}

func PreRideUpdateOpens(departure time.Time) time.Time {
	return departure.Add(-PreRideUpdateWindow)
}

// CanSendPreRideUpdate is true from one hour before departure up to departure itself.
func CanSendPreRideUpdate(now, departure time.Time) bool {
	return !now.Before(PreRideUpdateOpens(departure)) && !now.After(departure)
}

// Overlaps reports whether two departures by the same driver are too close together.
func Overlaps(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < OverlapWindow
}
