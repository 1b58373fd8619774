package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortSessionWaitTimeout sends a 504 and aborts. Raised when the session
// pool could not hand out a warmed session before the wait deadline.
func AbortSessionWaitTimeout(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusGatewayTimeout, New(KindSessionWaitTimeout, message))
}
