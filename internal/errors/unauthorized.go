package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortUnauthorized sends a 401 and aborts. Used when the bridge requires
// a bearer token and the caller did not present a matching one.
func AbortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, New(KindAuth, message))
}
