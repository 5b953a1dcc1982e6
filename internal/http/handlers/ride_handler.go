// README: Ride handlers for offers, edits, lifecycle and pre-ride updates.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"campusride/internal/domain"
	"campusride/internal/modules/booking"
	"campusride/internal/modules/lifecycle"
	"campusride/internal/modules/ride"
	"campusride/internal/notify"
	"campusride/internal/types"
)

type RideHandler struct {
	rides     *ride.Service
	lifecycle *lifecycle.Controller
	bookings  *booking.Service
}

func NewRideHandler(rides *ride.Service, lc *lifecycle.Controller, bookings *booking.Service) *RideHandler {
	return &RideHandler{rides: rides, lifecycle: lc, bookings: bookings}
}

type createRideReq struct {
	Origin        string        `json:"origin" binding:"required"`
	Destination   string        `json:"destination" binding:"required"`
	Coordinates   []types.Point `json:"coordinates"`
	DepartureTime time.Time     `json:"departure_time" binding:"required"`
	TotalSeats    int           `json:"total_seats" binding:"required"`
	Price         float64       `json:"price"`
}

type updateRideReq struct {
	Origin        *string        `json:"origin"`
	Destination   *string        `json:"destination"`
	Coordinates   *[]types.Point `json:"coordinates"`
	DepartureTime *time.Time     `json:"departure_time"`
	TotalSeats    *int           `json:"total_seats"`
	Price         *float64       `json:"price"`
}

type rideStatusReq struct {
	Status string `json:"status" binding:"required"`
}

type rideUpdateReq struct {
	Message string `json:"message" binding:"required"`
}

func (h *RideHandler) Create(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	r, err := h.rides.Create(c.Request.Context(), actor, ride.CreateCommand{
		Origin:        req.Origin,
		Destination:   req.Destination,
		Coordinates:   req.Coordinates,
		DepartureTime: req.DepartureTime,
		TotalSeats:    req.TotalSeats,
		Price:         req.Price,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toRide(r))
}

func (h *RideHandler) Available(c *gin.Context) {
	rides, err := h.rides.ListAvailable(c.Request.Context(), ride.Filter{
		Origin:      c.Query("origin"),
		Destination: c.Query("destination"),
		Date:        c.Query("date"),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": toRides(rides)})
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRide(r))
}

func (h *RideHandler) Update(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	r, err := h.rides.Update(c.Request.Context(), actor, id, ride.UpdateCommand{
		Origin:        req.Origin,
		Destination:   req.Destination,
		Coordinates:   req.Coordinates,
		DepartureTime: req.DepartureTime,
		TotalSeats:    req.TotalSeats,
		Price:         req.Price,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRide(r))
}

func (h *RideHandler) Delete(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.rides.Delete(c.Request.Context(), actor, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRide(r))
}

func (h *RideHandler) SetStatus(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rideStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	r, err := h.lifecycle.Transition(c.Request.Context(), actor, id, domain.RideStatus(req.Status))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toRide(r))
}

func (h *RideHandler) SendUpdate(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rideUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.lifecycle.SendPreRideUpdate(c.Request.Context(), actor, id, req.Message)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, u)
}

func (h *RideHandler) Updates(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit := notify.FeedLength
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > notify.FeedLength {
			writeError(c, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(notify.FeedLength))
			return
		}
		limit = n
	}
	updates, err := h.lifecycle.RecentUpdates(c.Request.Context(), id, limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"updates": updates})
}

func (h *RideHandler) WaitlistCount(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, err := h.bookings.WaitlistCount(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": id, "count": n})
}

func (h *RideHandler) Confirmed(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	bs, err := h.bookings.ListConfirmedForRide(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": toBookings(bs)})
}

func (h *RideHandler) ByDriver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rides, err := h.rides.ListByDriver(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": toRides(rides)})
}
