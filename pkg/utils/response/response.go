package response

import (
	"net/http"

	"judgehub/pkg/errors"
	"judgehub/pkg/utils/contextkey"
	"judgehub/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope of every JSON API reply.
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data,omitempty"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

// Success sends a successful response with data
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.Success,
		Message: "Success",
		Data:    data,
		TraceID: traceID(c),
	})
}

// Error sends an error response derived from err's code.
func Error(c *gin.Context, err error) {
	appErr := errors.GetError(err)
	logger.Warn(c.Request.Context(), "request error",
		zap.Int("code", int(appErr.Code)),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	var details interface{}
	if len(appErr.Details) > 0 {
		details = appErr.Details
	}
	c.AbortWithStatusJSON(appErr.Code.HTTPStatus(), Response{
		Code:    appErr.Code,
		Message: appErr.Error(),
		Details: details,
		TraceID: traceID(c),
	})
}

// ErrorWithCode sends an error response with a specific code.
func ErrorWithCode(c *gin.Context, code errors.ErrorCode, message string) {
	if message == "" {
		message = code.Message()
	}
	c.AbortWithStatusJSON(code.HTTPStatus(), Response{
		Code:    code,
		Message: message,
		TraceID: traceID(c),
	})
}

func traceID(c *gin.Context) string {
	if v, ok := c.Request.Context().Value(contextkey.TraceID).(string); ok {
		return v
	}
	return ""
}
