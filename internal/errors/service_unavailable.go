package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortPeerMissing sends a 503 and aborts. Used when no browser peer is
// connected to serve the request.
func AbortPeerMissing(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, New(KindPeerMissing, message))
}

// AbortCapacity sends a 503 and aborts. Used when the request registry's
// cap on concurrent in-flight requests is already full, per spec.md §4.F
// step 4 and spec.md §7's "service returns 503 when full".
func AbortCapacity(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, New(KindCapacity, message))
}
