// README: Bearer token authentication; resolves the caller identity for handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"campusride/internal/infra"
	"campusride/internal/types"
)

const identityKey = "identity"

// Auth verifies the bearer token and stores the caller identity on the context.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, raw, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		raw = strings.TrimSpace(raw)
		if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed bearer token"})
			return
		}
		tok, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		id, err := tok.Identity()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token carries no usable role"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// Caller returns the identity stored by Auth.
func Caller(c *gin.Context) (types.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return types.Identity{}, false
	}
	id, ok := v.(types.Identity)
	return id, ok
}
