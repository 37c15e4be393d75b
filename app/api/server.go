package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates the HTTP server with all routes configured.
func NewServer(handler *Handler, apiAccessKey string, version string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())

	// CORS middleware for API endpoints
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey, version)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string, version string) {
	// Public status endpoints
	r.GET("/health", handler.ListHealth)
	r.GET("/stats", handler.GetStats)

	// API endpoints (conditionally enabled with authentication)
	if apiAccessKey != "" {
		api := r.Group("/api")
		api.Use(authMiddleware(apiAccessKey))
		{
			api.POST("/tasks", handler.CreateTask)
			api.GET("/tasks", handler.ListTasks)
			api.GET("/tasks/:id", handler.GetTask)
			api.GET("/tasks/:id/logs", handler.GetTaskLogs)
			api.POST("/tasks/:id/pause", handler.PauseTask)
			api.POST("/tasks/:id/resume", handler.ResumeTask)
			api.POST("/tasks/:id/cancel", handler.CancelTask)
			api.DELETE("/tasks/:id", handler.DeleteTask)

			api.GET("/sources", handler.ListSources)
			api.GET("/sources/health", handler.ListHealth)
			api.POST("/health/check", handler.CheckAllHealth)
			api.POST("/sources/:id/check", handler.CheckSourceHealth)
		}
		slog.Info("API endpoints enabled with authentication")
	} else {
		slog.Info("API endpoints disabled (API_ACCESS_KEY not set)")
	}

	// Root endpoint with basic information
	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"health": "/health",
			"stats":  "/stats",
		}

		if apiAccessKey != "" {
			endpoints["tasks"] = "/api/tasks (requires X-API-Key header)"
			endpoints["sources"] = "/api/sources (requires X-API-Key header)"
		}

		c.JSON(200, gin.H{
			"service":     "VOD Comb",
			"version":     version,
			"description": "Video catalog collection engine with multi-source merging and health monitoring",
			"endpoints":   endpoints,
			"api_status": map[string]interface{}{
				"enabled":       apiAccessKey != "",
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	// Favicon handler (return 204 to avoid 404s)
	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
}

// authMiddleware creates authentication middleware for API endpoints.
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		// Also check Authorization header with Bearer prefix
		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
