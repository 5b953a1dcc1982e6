// README: Booking handlers for requests, driver responses and cancellation.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"campusride/internal/domain"
	"campusride/internal/modules/booking"
	"campusride/internal/types"
)

type BookingHandler struct {
	bookings *booking.Service
}

func NewBookingHandler(svc *booking.Service) *BookingHandler {
	return &BookingHandler{bookings: svc}
}

type createBookingReq struct {
	RideID string `json:"ride_id" binding:"required"`
}

type respondBookingReq struct {
	Status string `json:"status" binding:"required,oneof=CONFIRMED CANCELLED"`
}

func (h *BookingHandler) Create(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.RideID) {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	b, err := h.bookings.Create(c.Request.Context(), actor, booking.CreateCommand{RideID: types.ID(req.RideID)})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toBooking(b))
}

func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.bookings.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toBooking(b))
}

// Respond lets the ride's driver confirm or reject a pending request.
func (h *BookingHandler) Respond(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req respondBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "status must be CONFIRMED or CANCELLED")
		return
	}
	b, err := h.bookings.Respond(c.Request.Context(), actor, booking.RespondCommand{
		BookingID: id,
		Decision:  domain.BookingStatus(req.Status),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toBooking(b))
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.bookings.Cancel(c.Request.Context(), actor, booking.CancelCommand{BookingID: id})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toBooking(b))
}

func (h *BookingHandler) ByPassenger(c *gin.Context) {
	h.list(c, h.bookings.ListByPassenger)
}

func (h *BookingHandler) ByDriver(c *gin.Context) {
	h.list(c, h.bookings.ListByDriver)
}

func (h *BookingHandler) PendingByDriver(c *gin.Context) {
	h.list(c, h.bookings.ListPendingByDriver)
}

func (h *BookingHandler) list(c *gin.Context, fn func(context.Context, types.Identity, types.ID) ([]*domain.Booking, error)) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	bs, err := fn(c.Request.Context(), actor, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": toBookings(bs)})
}
