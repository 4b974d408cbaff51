package middleware

import (
	"britepool/pkg/errutil"
	"britepool/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached to the gin context as the JSON
// error body. Handlers call c.Error(err) and return.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		v := errutil.ToBaseError(last.Err)
		status := v.Code.HTTPStatus()
		if status >= 500 {
			logger.Ctx(c.Request.Context()).Error("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Error(last.Err),
			)
		}

		c.AbortWithStatusJSON(status, v.JSON())
	}
}
