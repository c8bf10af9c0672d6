package respond

import (
	"github.com/gin-gonic/gin"

	"docchat-backend/internal/shared/telemetry"
)

// ErrorBody defines the standardized error object.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error aborts the request with the error envelope and logs it at warn for
// client errors and at error for server failures.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"method":     c.Request.Method,
		"route":      c.FullPath(),
		"request_id": c.GetString("requestId"),
	}
	for _, key := range []string{"userId", "documentId", "projectId", "conversationId"} {
		if v := c.GetString(key); v != "" {
			fields[logKey(key)] = v
		}
	}
	if status >= 500 {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{Code: code, Message: message, Details: details},
	})
}

func logKey(contextKey string) string {
	switch contextKey {
	case "userId":
		return "user_id"
	case "documentId":
		return "document_id"
	case "projectId":
		return "project_id"
	default:
		return "conversation_id"
	}
}
