package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/enterprise/risk-engine/internal/auth"
	"github.com/enterprise/risk-engine/internal/wiring"
)

// NewRouter assembles the full Gin route table over app, grounded on the
// teacher's setupRoutes: request-id/logging/CORS/rate-limit chain, a public
// auth group, and a JWT-protected group split further by role.
func NewRouter(app *wiring.App) *gin.Engine {
	if app.Config.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	limiter := newRateLimiter(100, time.Minute)
	router.Use(rateLimitMiddleware(limiter))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	v1 := router.Group("/api/v1")

	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/login", loginHandler(app))
		authRoutes.POST("/refresh", auth.AuthMiddleware(app.JWTManager), refreshTokenHandler(app))
		adminOnly := authRoutes.Group("")
		adminOnly.Use(auth.AuthMiddleware(app.JWTManager), auth.RoleMiddleware("admin"))
		adminOnly.POST("/operators", createOperatorHandler(app))
	}

	protected := v1.Group("")
	protected.Use(auth.AuthMiddleware(app.JWTManager))

	txRoutes := protected.Group("/transactions")
	{
		txRoutes.POST("", ingestTransactionHandler(app))
		txRoutes.POST("/batch", ingestBatchHandler(app))
		txRoutes.GET("/:id", getTransactionHandler(app))
	}

	reviewRoutes := protected.Group("/review")
	{
		reviewRoutes.POST("/feedback", submitFeedbackHandler(app))
		reviewRoutes.POST("/feedback/bulk", bulkFeedbackHandler(app))
		reviewRoutes.GET("/metrics", reviewMetricsHandler(app))
	}

	analyticsRoutes := protected.Group("/analytics")
	{
		analyticsRoutes.GET("/actions", actionSummaryHandler(app))
		analyticsRoutes.GET("/rules/performance", rulePerformanceHandler(app))
		analyticsRoutes.GET("/rules/precision", rulePrecisionHandler(app))
		analyticsRoutes.GET("/volume/hourly", hourlyVolumeHandler(app))
	}

	backtestRoutes := protected.Group("/backtest")
	backtestRoutes.Use(auth.RoleMiddleware("admin", "analyst"))
	{
		backtestRoutes.POST("/run", runBacktestHandler(app))
	}

	metricsRoutes := protected.Group("/metrics")
	metricsRoutes.Use(auth.RoleMiddleware("admin", "analyst"))
	{
		metricsRoutes.GET("/system", systemMetricsHandler(app))
	}

	return router
}
