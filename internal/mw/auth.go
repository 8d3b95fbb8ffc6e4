package mw

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"expo-booking-backend/internal/auth"
)

const identityKey = "identity"

// Authenticate requires a valid bearer token and stores the caller's
// identity on the context. When allowQuery is set a token query parameter is
// accepted too, for websocket handshakes that cannot set headers.
func Authenticate(v *auth.Verifier, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok && allowQuery {
			raw = c.Query("token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
			return
		}
		id, err := v.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
