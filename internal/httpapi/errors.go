package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/irfndi/notifyhub/internal/errors"
)

// respondError maps err to a response, taxonomy: an
// *errors.AppError carries its own HTTPStatus, everything else is an
// unmapped internal error.
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func respondValidation(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

func respondNotFound(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, gin.H{"error": resource + " not found"})
}
