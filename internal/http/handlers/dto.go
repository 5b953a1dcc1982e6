// README: JSON shapes for rides, bookings and reviews.
package handlers

import (
	"time"

	"campusride/internal/domain"
	"campusride/internal/types"
)

type rideResponse struct {
	ID             types.ID      `json:"id"`
	DriverID       types.ID      `json:"driver_id"`
	Origin         string        `json:"origin"`
	Destination    string        `json:"destination"`
	Coordinates    []types.Point `json:"coordinates,omitempty"`
	DepartureTime  time.Time     `json:"departure_time"`
	TotalSeats     int           `json:"total_seats"`
	AvailableSeats int           `json:"available_seats"`
	Price          float64       `json:"price"`
	Currency       string        `json:"currency"`
	Status         string        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	CancelledAt    *time.Time    `json:"cancelled_at,omitempty"`
}

func toRide(r *domain.Ride) rideResponse {
	return rideResponse{
		ID:             r.ID,
		DriverID:       r.DriverID,
		Origin:         r.Origin,
		Destination:    r.Destination,
		Coordinates:    r.Coordinates,
		DepartureTime:  r.DepartureTime,
		TotalSeats:     r.TotalSeats,
		AvailableSeats: r.AvailableSeats,
		Price:          r.Price.Units(),
		Currency:       r.Price.Currency,
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		CancelledAt:    r.CancelledAt,
	}
}

func toRides(rs []*domain.Ride) []rideResponse {
	out := make([]rideResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, toRide(r))
	}
	return out
}

type bookingResponse struct {
	ID                types.ID   `json:"id"`
	RideID            types.ID   `json:"ride_id"`
	PassengerID       types.ID   `json:"passenger_id"`
	Status            string     `json:"status"`
	BookedAt          time.Time  `json:"booked_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	WaitlistPosition  *int       `json:"waitlist_position,omitempty"`
	WaitlistExpiresAt *time.Time `json:"waitlist_expires_at,omitempty"`
}

func toBooking(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:                b.ID,
		RideID:            b.RideID,
		PassengerID:       b.PassengerID,
		Status:            string(b.Status),
		BookedAt:          b.BookedAt,
		UpdatedAt:         b.UpdatedAt,
		WaitlistPosition:  b.WaitlistPosition,
		WaitlistExpiresAt: b.WaitlistExpiresAt,
	}
}

func toBookings(bs []*domain.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBooking(b))
	}
	return out
}

type reviewResponse struct {
	BookingID  types.ID  `json:"booking_id"`
	RideID     types.ID  `json:"ride_id"`
	DriverID   types.ID  `json:"driver_id"`
	ReviewerID types.ID  `json:"reviewer_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toReview(rv *domain.Review) reviewResponse {
	return reviewResponse{
		BookingID:  rv.BookingID,
		RideID:     rv.RideID,
		DriverID:   rv.DriverID,
		ReviewerID: rv.ReviewerID,
		Rating:     rv.Rating,
		Comment:    rv.Comment,
		CreatedAt:  rv.CreatedAt,
	}
}

func toReviews(rvs []*domain.Review) []reviewResponse {
	out := make([]reviewResponse, 0, len(rvs))
	for _, rv := range rvs {
		out = append(out, toReview(rv))
	}
	return out
}
