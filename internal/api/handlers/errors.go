package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/absens/pkg/apperr"
	"github.com/your-org/absens/pkg/dto"
)

// respondError renders err with the status for its apperr code. Uncoded errors are
// reported as a generic internal error.
func respondError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method, "path", c.FullPath(), "code", code, "error", err)
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: apperr.Message(err), Code: string(code)})
}

func badRequest(c *gin.Context, msg string) {
	respondError(c, apperr.New(apperr.CodeValidation, msg))
}
