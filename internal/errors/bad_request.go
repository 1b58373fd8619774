package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortBadRequest sends a 400 and aborts the gin context. Used for
// payload-translate failures and malformed endpoint-map lookups.
func AbortBadRequest(c *gin.Context, kind Kind, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, New(kind, message))
}
