package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"flirtmarket/pkg/response"
)

const identityKey = "auth.identity"

// Middleware requires a valid bearer token. WebSocket clients that cannot set
// headers may pass it as ?token=.
func Middleware(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			response.Unauthorized(c, "missing bearer token")
			return
		}
		id, err := issuer.Verify(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// FromContext returns the identity set by Middleware.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
