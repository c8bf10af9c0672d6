package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/shared/telemetry"
)

// Logging emits one structured line per request. Handlers enrich it by
// setting documentId, projectId, conversationId or statusTransition on the
// gin context.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := map[string]any{
			"request_id":        RequestIDFromContext(c),
			"method":            c.Request.Method,
			"path":              c.Request.URL.Path,
			"route":             c.FullPath(),
			"status":            c.Writer.Status(),
			"status_transition": c.GetString("statusTransition"),
			"duration_ms":       float64(latency.Microseconds()) / 1000.0,
			"user_id":           UserIDFromContext(c),
			"document_id":       c.GetString("documentId"),
			"client_ip":         c.ClientIP(),
		}
		if id := c.GetString("projectId"); id != "" {
			fields["project_id"] = id
		}
		if id := c.GetString("conversationId"); id != "" {
			fields["conversation_id"] = id
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
		}
		telemetry.Info("request.complete", fields)
	}
}
