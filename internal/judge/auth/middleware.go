package auth

import (
	"context"

	"judgehub/pkg/utils/contextkey"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const identityKey = "judge_identity"

// Require rejects requests whose token lacks priv.
func Require(a *Authenticator, priv int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Authorize(c.Request.Context(), TokenFromRequest(c.Request), priv)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(identityKey, id)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, id.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// FromContext returns the identity stored by Require.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
