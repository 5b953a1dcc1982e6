// README: Base handler utilities (JSON helpers, caller lookup, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"campusride/internal/domain"
	"campusride/internal/http/middleware"
	"campusride/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// isValidID accepts the ids the engine mints (uuid) and externally issued user ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// pathID reads and checks an id path parameter, answering 400 itself when it is malformed.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

// caller returns the authenticated identity. Auth middleware always runs first.
func caller(c *gin.Context) (types.Identity, bool) {
	id, ok := middleware.Caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
	}
	return id, ok
}

func writeDomainError(c *gin.Context, err error) {
	var (
		verr *domain.ValidationError
		werr *domain.WindowError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: verr.Error(), Code: "validation", Field: verr.Field})
	case errors.Is(err, domain.ErrNotAuthorized):
		writeJSON(c, http.StatusForbidden, errorResponse{Error: "not permitted", Code: "not_authorized"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.As(err, &werr):
		writeJSON(c, http.StatusUnprocessableEntity, errorResponse{Error: werr.Error(), Code: string(werr.Kind)})
	case errors.Is(err, domain.ErrCapacity):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: "capacity"})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, domain.ErrDuplicateBooking), errors.Is(err, domain.ErrDuplicateReview):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: "duplicate"})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: "conflict"})
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
