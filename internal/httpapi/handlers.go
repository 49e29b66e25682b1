package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/enterprise/risk-engine/internal/auth"
	"github.com/enterprise/risk-engine/internal/ingestion"
	"github.com/enterprise/risk-engine/internal/scoring"
	"github.com/enterprise/risk-engine/internal/wiring"
)

func getIntParam(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func sinceParam(c *gin.Context, def time.Duration) time.Time {
	raw := c.Query("since_hours")
	if raw == "" {
		return time.Now().Add(-def)
	}
	hours, err := strconv.Atoi(raw)
	if err != nil {
		return time.Now().Add(-def)
	}
	return time.Now().Add(-time.Duration(hours) * time.Hour)
}

func dateParam(c *gin.Context) (time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return time.Now(), nil
	}
	return time.Parse("2006-01-02", raw)
}

// Auth handlers

func loginHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req auth.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := app.AuthService.Login(c.Request.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, auth.ErrInvalidCredentials) {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(auth.AuthorizationHeader)
		if len(token) > len(auth.BearerPrefix) {
			token = token[len(auth.BearerPrefix):]
		}

		resp, err := app.AuthService.RefreshToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func createOperatorHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req auth.CreateOperatorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := app.AuthService.CreateOperator(c.Request.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrOperatorAlreadyExists) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// Transaction handlers

func ingestTransactionHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestion.TransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := app.IngestionService.IngestTransaction(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

func ingestBatchHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestion.BatchTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := app.IngestionService.IngestBatch(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func getTransactionHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		txnID := c.Param("id")

		tx, err := app.IngestionService.GetTransaction(c.Request.Context(), txnID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tx)
	}
}

// Review handlers

func submitFeedbackHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TxnID  string `json:"txn_id" binding:"required"`
			Status string `json:"status" binding:"required,oneof=TRUE_POSITIVE FALSE_POSITIVE"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		by, _ := auth.GetOperatorIDFromContext(c)
		item, err := app.ReviewService.SubmitFeedback(c.Request.Context(), req.TxnID, req.Status, by.String())
		if err != nil {
			status := http.StatusBadRequest
			if strings.Contains(err.Error(), "no review item") {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func bulkFeedbackHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TxnIDs []string `json:"txn_ids" binding:"required,min=1"`
			Status string   `json:"status" binding:"required,oneof=TRUE_POSITIVE FALSE_POSITIVE"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		by, _ := auth.GetOperatorIDFromContext(c)
		requested, updated := app.ReviewService.BulkFeedback(c.Request.Context(), req.TxnIDs, req.Status, by.String())
		c.JSON(http.StatusOK, gin.H{"requested": requested, "updated": updated})
	}
}

func reviewMetricsHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, app.ReviewService.MetricsSnapshot())
	}
}

// Analytics handlers

func actionSummaryHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		since := sinceParam(c, 24*time.Hour)
		summary, err := app.AnalyticsService.ActionSummary(c.Request.Context(), since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func rulePerformanceHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		since := sinceParam(c, 7*24*time.Hour)
		limit := getIntParam(c, "limit", 10)

		rules, err := app.AnalyticsService.RulePerformance(c.Request.Context(), since, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

func rulePrecisionHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, app.AnalyticsService.RulePrecision(c.Request.Context()))
	}
}

func hourlyVolumeHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, err := dateParam(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, use YYYY-MM-DD"})
			return
		}

		volumes, err := app.AnalyticsService.GetHourlyTransactionVolume(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"volumes": volumes})
	}
}

func systemMetricsHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics, err := app.AnalyticsService.GetSystemMetrics(c.Request.Context(), app.StreamClient)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, metrics)
	}
}

// Backtest handler

func runBacktestHandler(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req scoring.BacktestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := app.AnalyticsService.RunBacktest(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
