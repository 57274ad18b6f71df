package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"scribeflow/internal/auth"
	"scribeflow/pkg/logger"
	"scribeflow/pkg/middleware"
)

// SetupRoutes builds the router: shared middleware, public auth and
// health endpoints, and the authenticated job, transcript, and live
// groups.
func SetupRoutes(handler *Handler, authService *auth.AuthService) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger.SetGinOutput()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinLogger())
	router.Use(middleware.CompressionMiddleware())
	router.Use(corsMiddleware(handler.config.AllowedFrontendOrigin))

	// Health check (no auth required)
	router.GET("/healthz", handler.HealthCheck)

	// Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Credential issuance (no auth required)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/signup", handler.Signup)
		authGroup.POST("/token", handler.Token)
		authGroup.POST("/refresh", handler.Refresh)
	}

	// API key management requires a real user session, not another key.
	apiKeys := router.Group("/api-keys")
	apiKeys.Use(middleware.JWTOnlyMiddleware(authService))
	{
		apiKeys.GET("", handler.ListAPIKeys)
		apiKeys.POST("", handler.CreateAPIKey)
		apiKeys.DELETE("/:id", handler.DeleteAPIKey)
	}

	authed := router.Group("")
	authed.Use(middleware.AuthMiddleware(authService))
	{
		// Submission and the event stream. Uploads and SSE both opt out
		// of compression.
		submit := authed.Group("")
		submit.Use(middleware.NoCompressionMiddleware())
		{
			submit.POST("/transcribe", handler.Submit)
			submit.GET("/transcribe/:job_id", handler.Stream)
		}

		authed.GET("/jobs/:job_id", handler.JobStatus)
		authed.POST("/jobs/:job_id/kill", handler.KillJob)

		transcripts := authed.Group("/transcripts")
		{
			transcripts.GET("", handler.ListTranscripts)
			transcripts.GET("/:id", handler.GetTranscript)
			transcripts.GET("/:id/download", handler.DownloadTranscript)
			transcripts.POST("/:id/export", handler.ExportTranscript)
			transcripts.DELETE("/:id", handler.DeleteTranscript)
		}

		liveSessions := authed.Group("/transcriptions/live/sessions")
		{
			liveSessions.POST("", handler.CreateLiveSession)

			chunks := liveSessions.Group("")
			chunks.Use(middleware.NoCompressionMiddleware())
			{
				chunks.POST("/:id/chunk", handler.PushLiveChunk)
			}

			liveSessions.POST("/:id/finalize", handler.FinalizeLiveSession)
			liveSessions.DELETE("/:id", handler.DiscardLiveSession)
		}
	}

	return router
}

// corsMiddleware echoes the configured frontend origin ("*" allows any).
func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allow := allowedOrigin
		if allow == "*" && origin != "" {
			allow = origin
		}
		if allow != "" {
			c.Header("Access-Control-Allow-Origin", allow)
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
