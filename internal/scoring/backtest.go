package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/counters"
	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/profile"
)

// HistoryRepository resolves a client's historical transactions for replay,
// out of scope in detail per spec.md §1 (see internal/repositories).
type HistoryRepository interface {
	GetByClientID(ctx context.Context, clientID string, start, end time.Time, limit int) ([]models.Transaction, error)
}

// BacktestService replays historical transactions through a scratch Engine —
// its own fresh profile store and counter store, sharing only the rule cache
// and config with the live pipeline — so a backtest run never touches live
// client state. Grounded on the teacher's BacktestService.RunBacktest shape,
// replacing its live-engine-with-dry-run-flag approach with full state
// isolation, since replay must rebuild profile history from scratch rather
// than read the current (already-evolved) live profile.
type BacktestService struct {
	live    *Engine
	history HistoryRepository
}

// NewBacktestService builds a backtest service over the live engine's shared
// collaborators (rule cache, forest store, config) and a history reader.
func NewBacktestService(live *Engine, history HistoryRepository) *BacktestService {
	return &BacktestService{live: live, history: history}
}

// BacktestRequest parameterizes one replay run.
type BacktestRequest struct {
	ClientID   string    `json:"client_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	SampleSize int       `json:"sample_size,omitempty"`
}

// BacktestResult summarizes one replay run.
type BacktestResult struct {
	TotalTransactions  int                   `json:"total_transactions"`
	ProcessedCount     int                   `json:"processed_count"`
	FailedCount        int                   `json:"failed_count"`
	AverageScore       float64               `json:"average_score"`
	RiskDistribution   map[string]int        `json:"risk_distribution"`
	TopTriggeredRules  []models.RuleCount    `json:"top_triggered_rules"`
	ProcessingTimeMs   int64                 `json:"processing_time_ms"`
	TransactionResults []TransactionBacktest `json:"transaction_results,omitempty"`
}

// TransactionBacktest is one replayed transaction's outcome.
type TransactionBacktest struct {
	TxnID          string   `json:"txn_id"`
	CompositeScore float64  `json:"composite_score"`
	RiskLevel      string   `json:"risk_level"`
	Action         string   `json:"action"`
	RulesTriggered []string `json:"rules_triggered"`
}

// RunBacktest replays req.ClientID's transactions between StartDate and
// EndDate, in timestamp order, through a scratch Engine built fresh for this
// run so earlier replayed transactions build up the scratch profile exactly
// as they would have live, without perturbing the real one.
func (b *BacktestService) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	start := time.Now()
	log.Info().Str("client_id", req.ClientID).Time("start", req.StartDate).Time("end", req.EndDate).Msg("starting backtest replay")

	limit := req.SampleSize
	if limit <= 0 {
		limit = 10000
	}
	txns, err := b.history.GetByClientID(ctx, req.ClientID, req.StartDate, req.EndDate, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", req.ClientID, err)
	}

	scratch := &Engine{
		Profiles: profile.NewStore(nil, nil),
		Counters: counters.New(),
		Rules:    b.live.Rules,
		Risk:     b.live.Risk,
		Feedback: b.live.Feedback,
	}

	result := &BacktestResult{
		TotalTransactions: len(txns),
		RiskDistribution:  make(map[string]int),
	}
	ruleTriggers := make(map[string]int)
	var totalScore float64

	for _, txn := range txns {
		res, err := scratch.EvaluateTransaction(ctx, txn)
		if err != nil {
			result.FailedCount++
			log.Warn().Err(err).Str("txn_id", txn.TxnID).Msg("backtest evaluation failed")
			continue
		}

		result.ProcessedCount++
		totalScore += res.CompositeScore
		result.RiskDistribution[res.RiskLevel]++

		triggered := res.RulesTriggered()
		for _, ruleID := range triggered {
			ruleTriggers[ruleID]++
		}

		if len(result.TransactionResults) < 100 {
			result.TransactionResults = append(result.TransactionResults, TransactionBacktest{
				TxnID:          txn.TxnID,
				CompositeScore: res.CompositeScore,
				RiskLevel:      res.RiskLevel,
				Action:         res.Action,
				RulesTriggered: triggered,
			})
		}
	}

	if result.ProcessedCount > 0 {
		result.AverageScore = totalScore / float64(result.ProcessedCount)
	}

	for ruleID, count := range ruleTriggers {
		result.TopTriggeredRules = append(result.TopTriggeredRules, models.RuleCount{RuleID: ruleID, Count: count})
	}
	sortRuleCounts(result.TopTriggeredRules)
	if len(result.TopTriggeredRules) > 10 {
		result.TopTriggeredRules = result.TopTriggeredRules[:10]
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	log.Info().
		Int("total", result.TotalTransactions).
		Int("processed", result.ProcessedCount).
		Float64("avg_score", result.AverageScore).
		Int64("processing_ms", result.ProcessingTimeMs).
		Msg("backtest replay completed")

	return result, nil
}

// ScoreDryRun evaluates txn against the live client profile without
// persisting the result, enqueueing a review item, or advancing the profile
// or live counters (spec.md §9 engine extension).
func (e *Engine) ScoreDryRun(ctx context.Context, txn models.Transaction) (*models.EvaluationResult, error) {
	prof, ok := e.Profiles.Get(txn.ClientID)
	if !ok {
		return nil, fmt.Errorf("no profile for client %s yet", txn.ClientID)
	}

	var ruleResults []models.RuleResult
	if prof.TotalTxnCount >= int64(e.Risk.MinProfileTxns) {
		evalCtx := e.buildContext(prof, txn)
		ruleResults, _ = e.Rules.EvaluateAll(ctx, txn, prof, evalCtx, e.Risk.RuleDefaults)
	}

	composite, action := compositeScore(ruleResults, e.Risk.AlertThreshold, e.Risk.BlockThreshold)
	return &models.EvaluationResult{
		TxnID:          txn.TxnID,
		ClientID:       txn.ClientID,
		CompositeScore: composite,
		RiskLevel:      determineRiskLevel(composite),
		Action:         action,
		RuleResults:    ruleResults,
		EvaluatedAt:    time.Now(),
	}, nil
}

func sortRuleCounts(rules []models.RuleCount) {
	for i := 0; i < len(rules)-1; i++ {
		for j := 0; j < len(rules)-i-1; j++ {
			if rules[j].Count < rules[j+1].Count {
				rules[j], rules[j+1] = rules[j+1], rules[j]
			}
		}
	}
}
