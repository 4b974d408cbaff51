package middleware

import (
	"strings"

	"britepool/pkg/errutil"
	"britepool/pkg/identity"

	"github.com/gin-gonic/gin"
)

type TokenVerifier interface {
	Verify(raw string) (identity.Actor, error)
}

// Authenticate requires a bearer token and stores the verified actor in the
// request context.
func Authenticate(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			_ = c.Error(errutil.Unauthorized("missing bearer token", nil))
			c.Abort()
			return
		}

		actor, err := v.Verify(raw)
		if err != nil {
			_ = c.Error(errutil.Unauthorized("invalid bearer token", err))
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(identity.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
