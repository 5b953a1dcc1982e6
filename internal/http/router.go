// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campusride/internal/http/handlers"
	"campusride/internal/http/middleware"
)

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(s.verifier))

	rides := handlers.NewRideHandler(s.rides, s.lifecycle, s.bookings)
	api.POST("/rides", rides.Create)
	api.GET("/rides/available", rides.Available)
	api.GET("/rides/:id", rides.Get)
	api.PUT("/rides/:id", rides.Update)
	api.DELETE("/rides/:id", rides.Delete)
	api.PUT("/rides/:id/status", rides.SetStatus)
	api.POST("/rides/:id/updates", rides.SendUpdate)
	api.GET("/rides/:id/updates", rides.Updates)
	api.GET("/rides/:id/waitlist/count", rides.WaitlistCount)
	api.GET("/rides/:id/bookings/confirmed", rides.Confirmed)
	api.GET("/drivers/:id/rides", rides.ByDriver)

	bookings := handlers.NewBookingHandler(s.bookings)
	api.POST("/bookings", bookings.Create)
	api.GET("/bookings/:id", bookings.Get)
	api.PUT("/bookings/:id/status", bookings.Respond)
	api.DELETE("/bookings/:id", bookings.Cancel)
	api.GET("/passengers/:id/bookings", bookings.ByPassenger)
	api.GET("/drivers/:id/bookings", bookings.ByDriver)
	api.GET("/drivers/:id/bookings/pending", bookings.PendingByDriver)

	reviews := handlers.NewReviewHandler(s.reviews)
	api.POST("/reviews", reviews.Create)
	api.GET("/reviews/driver/:id", reviews.ByDriver)
	api.GET("/reviews/reviewer/:id", reviews.ByReviewer)
	api.GET("/reviews/can-review", reviews.CanReview)
	api.GET("/reviews/rating/:id", reviews.Rating)

	return r
}
