// README: API gateway; holds module services and hands them to the router.
package http

import (
	"log/slog"

	"campusride/internal/infra"
	"campusride/internal/modules/booking"
	"campusride/internal/modules/lifecycle"
	"campusride/internal/modules/review"
	"campusride/internal/modules/ride"
)

type ServerDeps struct {
	Rides     *ride.Service
	Lifecycle *lifecycle.Controller
	Bookings  *booking.Service
	Reviews   *review.Service
	Verifier  infra.TokenVerifier
	Log       *slog.Logger
}

type Server struct {
	rides     *ride.Service
	lifecycle *lifecycle.Controller
	bookings  *booking.Service
	reviews   *review.Service
	verifier  infra.TokenVerifier
	log       *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		rides:     deps.Rides,
		lifecycle: deps.Lifecycle,
		bookings:  deps.Bookings,
		reviews:   deps.Reviews,
		verifier:  deps.Verifier,
		log:       log,
	}
}
