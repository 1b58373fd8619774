package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortBridgeError sends a 500 and aborts. The catch-all for translate
// failures, shutdown, and anything the codec didn't classify.
func AbortBridgeError(c *gin.Context, kind Kind, message string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, New(kind, message))
}
