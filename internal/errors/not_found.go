package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortModelUnknown sends a 404 and aborts. Used when the requested model
// is not present in the model registry.
func AbortModelUnknown(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusNotFound, New(KindModelUnknown, message))
}
