package middleware

import (
	"errors"
	"net/http"
	"strconv"

	apperrors "github.com/eventcrew/eventcrew-backend/errors"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		last := c.Errors.Last()
		err := last.Err

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			status := appErr.GetHTTPStatus()
			logger.LogHTTPError(c, err, status, string(appErr.Type)+" error")

			resp := ErrorResponse{
				Type:    string(appErr.Type),
				Message: appErr.Message,
				Code:    strconv.Itoa(status),
			}
			if appErr.Detail != "" && (gin.IsDebugging() ||
				appErr.Type == apperrors.ValidationError ||
				appErr.Type == apperrors.NotFoundError) {
				resp.Details = appErr.Detail
			}
			c.JSON(status, resp)
			return
		}

		if last.Type == gin.ErrorTypeBind {
			logger.LogHTTPError(c, err, http.StatusBadRequest, "Request binding error")
			resp := ErrorResponse{
				Type:    string(apperrors.ValidationError),
				Message: "Failed to bind request",
				Code:    strconv.Itoa(http.StatusBadRequest),
			}
			if gin.IsDebugging() {
				resp.Details = err.Error()
			}
			c.JSON(http.StatusBadRequest, resp)
			return
		}

		logger.LogHTTPError(c, err, http.StatusInternalServerError, "Unexpected server error")
		resp := ErrorResponse{
			Type:    string(apperrors.ServerError),
			Message: "Internal Server Error",
			Code:    strconv.Itoa(http.StatusInternalServerError),
		}
		if gin.IsDebugging() {
			resp.Details = err.Error()
		}
		c.JSON(http.StatusInternalServerError, resp)
	}
}
