package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/conversations"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/projects"
	"docchat-backend/internal/services/health"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
)

// RouterDeps are the handlers and collaborators mounted on the router.
type RouterDeps struct {
	Config               config.Config
	Verifier             middleware.TokenVerifier
	Health               *health.Service
	RateLimiter          *middleware.RateLimiter
	ProjectHandler       *projects.Handler
	DocumentHandler      *documents.Handler
	ConversationsHandler *conversations.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if !deps.Config.DevLike() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.OK(c, gin.H{"ok": true})
	})
	api.GET("/ready", func(c *gin.Context) {
		report := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})

	authed := api.Group("")
	authed.Use(
		middleware.Auth(deps.Verifier, deps.Config.DevLike()),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    middleware.DefaultRules(),
			GroupFor: rateLimitGroup,
			Limiter:  deps.RateLimiter,
		}),
	)
	registerMeRoutes(authed)
	if deps.ProjectHandler != nil {
		deps.ProjectHandler.RegisterRoutes(authed)
	}
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(authed)
		deps.DocumentHandler.RegisterStatusRoutes(authed)
	}
	if deps.ConversationsHandler != nil {
		deps.ConversationsHandler.RegisterRoutes(authed)
	}

	return r
}

func rateLimitGroup(c *gin.Context) string {
	switch {
	case c.Request.Method == http.MethodGet && c.FullPath() == "/api/v1/documents/:documentId":
		return middleware.GroupPolling
	case c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/conversations/:conversationId/messages":
		return middleware.GroupReply
	default:
		return middleware.GroupDefault
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
