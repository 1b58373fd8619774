package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortAttachmentTooLarge sends a 413 and aborts. Non-streaming surface
// for the codec's attachment-too-large classification.
func AbortAttachmentTooLarge(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, New(KindAttachmentTooLarge, message))
}
