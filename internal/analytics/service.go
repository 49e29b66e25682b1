// Package analytics serves the reporting surface over persisted evaluation
// results: action summaries, rule-performance leaderboards, hourly volume,
// and a dry-run backtest trigger. Grounded on the teacher's
// internal/analytics/service.go (cache-then-compute idiom, raw pgx aggregate
// queries), re-keyed from account/currency/merchant fields to the
// clientId/txnType domain.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/queue"
	"github.com/enterprise/risk-engine/internal/repositories"
	"github.com/enterprise/risk-engine/internal/review"
	"github.com/enterprise/risk-engine/internal/scoring"
)

// Service provides analytics and reporting functionality over persisted
// evaluation results.
type Service struct {
	db          *repositories.Database
	results     *repositories.ResultRepository
	cacheClient *queue.CacheClient
	backtest    *scoring.BacktestService
	review      *review.Service
}

// NewService creates a new analytics service.
func NewService(
	db *repositories.Database,
	results *repositories.ResultRepository,
	cacheClient *queue.CacheClient,
	backtest *scoring.BacktestService,
	reviewSvc *review.Service,
) *Service {
	return &Service{db: db, results: results, cacheClient: cacheClient, backtest: backtest, review: reviewSvc}
}

// ActionSummary reports PASS/ALERT/BLOCK counts since the given time,
// cache-then-compute with a short TTL since it backs a near-real-time
// dashboard tile.
func (s *Service) ActionSummary(ctx context.Context, since time.Time) (map[string]int, error) {
	cacheKey := fmt.Sprintf("analytics:action_summary:%s", since.Format(time.RFC3339))
	var cached map[string]int
	if s.cacheClient != nil {
		if err := s.cacheClient.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	summary, err := s.results.ActionSummary(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("get action summary: %w", err)
	}

	if s.cacheClient != nil {
		if err := s.cacheClient.Set(ctx, cacheKey, summary, 5*time.Minute); err != nil {
			log.Warn().Err(err).Msg("failed to cache action summary")
		}
	}
	return summary, nil
}

// RulePerformance returns the most frequently triggered rules in the window,
// cached for 5 minutes — backs /analytics/rules/performance.
func (s *Service) RulePerformance(ctx context.Context, since time.Time, limit int) ([]models.RuleCount, error) {
	cacheKey := fmt.Sprintf("analytics:rule_performance:%s:%d", since.Format(time.RFC3339), limit)
	var cached []models.RuleCount
	if s.cacheClient != nil {
		if err := s.cacheClient.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	rules, err := s.results.TopTriggeredRules(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("get rule performance: %w", err)
	}

	if s.cacheClient != nil {
		if err := s.cacheClient.Set(ctx, cacheKey, rules, 5*time.Minute); err != nil {
			log.Warn().Err(err).Msg("failed to cache rule performance")
		}
	}
	return rules, nil
}

// RulePrecision reports the review queue's overall feedback counters
// (true positives, false positives, auto-accepted items) for operator
// visibility. The counts are totals across all rules, not per rule.
func (s *Service) RulePrecision(ctx context.Context) review.Metrics {
	return s.review.MetricsSnapshot()
}

// RunBacktest delegates to the scoring package's scratch-engine replay.
func (s *Service) RunBacktest(ctx context.Context, req scoring.BacktestRequest) (*scoring.BacktestResult, error) {
	return s.backtest.RunBacktest(ctx, req)
}

// SystemMetrics reports pool/queue health for the operational-status endpoint.
type SystemMetrics struct {
	Timestamp           time.Time `json:"timestamp"`
	DBConnectionsActive int       `json:"db_connections_active"`
	DBConnectionsIdle   int       `json:"db_connections_idle"`
	QueueDepth          int64     `json:"queue_depth"`
}

// GetSystemMetrics returns current system metrics.
func (s *Service) GetSystemMetrics(ctx context.Context, streamClient *queue.RedisStreamClient) (*SystemMetrics, error) {
	metrics := &SystemMetrics{Timestamp: time.Now()}

	dbStats := s.db.Stats()
	metrics.DBConnectionsActive = int(dbStats.AcquiredConns())
	metrics.DBConnectionsIdle = int(dbStats.IdleConns())

	if streamClient != nil {
		if pending, err := streamClient.GetPendingCount(ctx); err == nil {
			metrics.QueueDepth = pending
		}
	}

	return metrics, nil
}

// HourlyVolume reports transaction count and amount total for an hour bucket.
type HourlyVolume struct {
	Hour        int     `json:"hour"`
	Count       int     `json:"count"`
	TotalAmount float64 `json:"total_amount"`
}

// GetHourlyTransactionVolume returns transaction volume by hour for the
// given calendar day.
func (s *Service) GetHourlyTransactionVolume(ctx context.Context, date time.Time) ([]HourlyVolume, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	query := `
		SELECT EXTRACT(HOUR FROM ts) as hour, COUNT(*) as count, COALESCE(SUM(amount), 0) as total_amount
		FROM transactions
		WHERE ts >= $1 AND ts < $2
		GROUP BY EXTRACT(HOUR FROM ts)
		ORDER BY hour
	`
	rows, err := s.db.Pool.Query(ctx, query, startOfDay, endOfDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var volumes []HourlyVolume
	for rows.Next() {
		var hv HourlyVolume
		if err := rows.Scan(&hv.Hour, &hv.Count, &hv.TotalAmount); err != nil {
			return nil, err
		}
		volumes = append(volumes, hv)
	}
	return volumes, rows.Err()
}
