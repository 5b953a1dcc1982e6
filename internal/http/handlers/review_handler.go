// README: Review handlers and driver rating lookup.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campusride/internal/modules/review"
	"campusride/internal/types"
)

type ReviewHandler struct {
	reviews *review.Service
}

func NewReviewHandler(svc *review.Service) *ReviewHandler {
	return &ReviewHandler{reviews: svc}
}

type createReviewReq struct {
	BookingID string `json:"booking_id" binding:"required"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

func (h *ReviewHandler) Create(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	var req createReviewReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.BookingID) {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	rv, err := h.reviews.Create(c.Request.Context(), actor, review.CreateCommand{
		BookingID: types.ID(req.BookingID),
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toReview(rv))
}

func (h *ReviewHandler) ByDriver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rvs, err := h.reviews.ListByDriver(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"reviews": toReviews(rvs)})
}

func (h *ReviewHandler) ByReviewer(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rvs, err := h.reviews.ListByReviewer(c.Request.Context(), actor, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"reviews": toReviews(rvs)})
}

// CanReview answers for the caller and the booking_id query parameter.
func (h *ReviewHandler) CanReview(c *gin.Context) {
	actor, ok := caller(c)
	if !ok {
		return
	}
	bookingID := c.Query("booking_id")
	if !isValidID(bookingID) {
		writeError(c, http.StatusBadRequest, "invalid booking_id")
		return
	}
	can, err := h.reviews.CanReview(c.Request.Context(), types.ID(bookingID), actor.ID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": bookingID, "can_review": can})
}

func (h *ReviewHandler) Rating(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.reviews.DriverRating(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": r.DriverID, "average": r.Average, "count": r.Count})
}
