// Package scoring orchestrates the end-to-end evaluation pipeline (spec.md
// §5): profile load, live-counter snapshot, rule dispatch, weighted composite
// scoring, threshold/action decision, persistence, and the post-persist
// profile/counter update. Grounded on the teacher's ScoringEngine.ScoreTransaction
// pipeline shape, restructured around the spec's weighted-average formula in
// place of the teacher's fixed 0.50/0.35/0.15 rule/behavioral/ML blend.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/counters"
	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/profile"
	"github.com/enterprise/risk-engine/internal/rules"
)

// ResultRepository persists evaluation results (out of scope in detail per
// spec.md §1; see internal/repositories for a pgx-backed adapter).
type ResultRepository interface {
	Save(ctx context.Context, result *models.EvaluationResult) error
}

// ReviewEnqueuer receives ALERT/BLOCK outcomes for operator adjudication
// (spec.md §4.7). PASS outcomes never reach it.
type ReviewEnqueuer interface {
	Enqueue(ctx context.Context, item models.ReviewQueueItem) error
}

// Engine ties the profile store, live counter store, rule dispatch engine and
// persistence/review collaborators into one evaluation pipeline.
type Engine struct {
	Profiles *profile.Store
	Counters *counters.Store
	Rules    *rules.Engine
	Results  ResultRepository
	Review   ReviewEnqueuer

	Risk     config.RiskConfig
	Feedback config.FeedbackConfig
}

// EvaluateTransaction runs the full pipeline for one transaction: grace
// period check, dispatch, composite scoring, threshold decision, persistence,
// and profile/counter update. The update step runs only after persistence
// succeeds, preserving spec.md §5's ordering guarantee that a transaction's
// own amount never appears in its own evaluation context.
func (e *Engine) EvaluateTransaction(ctx context.Context, txn models.Transaction) (*models.EvaluationResult, error) {
	today := profile.DayBucket(txn.Timestamp)

	prof, err := e.Profiles.GetOrCreate(ctx, txn.ClientID, today, e.Counters)
	if err != nil {
		return nil, fmt.Errorf("load profile for %s: %w", txn.ClientID, err)
	}

	var ruleResults []models.RuleResult
	if prof.TotalTxnCount >= int64(e.Risk.MinProfileTxns) {
		evalCtx := e.buildContext(prof, txn)
		if err := e.Rules.RefreshCache(); err != nil {
			log.Warn().Err(err).Msg("rule cache refresh failed, evaluating against stale snapshot")
		}
		var skipped []string
		ruleResults, skipped = e.Rules.EvaluateAll(ctx, txn, prof, evalCtx, e.Risk.RuleDefaults)
		for _, rt := range skipped {
			log.Warn().Str("rule_type", rt).Msg("no evaluator registered for rule type, skipped")
		}
	}

	composite, action := compositeScore(ruleResults, e.Risk.AlertThreshold, e.Risk.BlockThreshold)
	riskLevel := determineRiskLevel(composite)

	result := &models.EvaluationResult{
		TxnID:          txn.TxnID,
		ClientID:       txn.ClientID,
		CompositeScore: composite,
		RiskLevel:      riskLevel,
		Action:         action,
		RuleResults:    ruleResults,
		EvaluatedAt:    time.Now(),
	}

	if e.Results != nil {
		if err := e.Results.Save(ctx, result); err != nil {
			return nil, fmt.Errorf("persist evaluation result for %s: %w", txn.TxnID, err)
		}
	}

	if action != models.ActionPass && e.Review != nil {
		item := models.ReviewQueueItem{
			TxnID:              txn.TxnID,
			ClientID:           txn.ClientID,
			Action:             action,
			CompositeScore:     composite,
			RiskLevel:          riskLevel,
			TriggeredRuleIDs:   result.RulesTriggered(),
			EnqueuedAt:         result.EvaluatedAt,
			FeedbackStatus:     models.FeedbackPending,
			AutoAcceptDeadline: result.EvaluatedAt.Add(e.Feedback.AutoAcceptTimeout),
		}
		if err := e.Review.Enqueue(ctx, item); err != nil {
			log.Error().Err(err).Str("txn_id", txn.TxnID).Msg("failed to enqueue review item")
		}
	}

	profile.Update(prof, txn, e.Counters, e.Risk.EWMAAlpha)

	log.Info().
		Str("txn_id", txn.TxnID).
		Str("client_id", txn.ClientID).
		Float64("composite_score", composite).
		Str("risk_level", riskLevel).
		Str("action", action).
		Strs("rules_triggered", result.RulesTriggered()).
		Msg("transaction evaluated")

	return result, nil
}

// buildContext snapshots the live counters for txn.ClientID (and its
// beneficiary, if any) before dispatch — the same "snapshot window" as the
// profile read, per spec.md §5.
func (e *Engine) buildContext(prof *profile.ClientProfile, txn models.Transaction) rules.EvaluationContext {
	hourBucket := profile.HourBucket(txn.Timestamp)
	dayBucket := profile.DayBucket(txn.Timestamp)

	hourCount, hourAmount := e.Counters.SnapshotClientHour(txn.ClientID, hourBucket)
	dayCount, dayAmount := e.Counters.SnapshotClientDay(txn.ClientID, dayBucket)
	_ = dayCount

	ctx := rules.EvaluationContext{
		CurrentHourlyTxnCount: hourCount,
		CurrentHourlyAmount:   hourAmount,
		CurrentDailyAmount:    dayAmount,
		CurrentDailyTxnCount:  dayCount,
		NewBeneficiariesToday: int64(e.Counters.NewBeneficiaryCountToday(txn.ClientID, dayBucket)),
		CurrentBeneficiaryKey: txn.BeneficiaryKey,
	}

	if txn.BeneficiaryKey != "" {
		beneCount, beneAmount := e.Counters.SnapshotBeneficiaryHour(txn.ClientID, txn.BeneficiaryKey, hourBucket)
		ctx.CurrentWindowBeneficiaryTxnCount = beneCount
		ctx.CurrentWindowBeneficiaryAmount = beneAmount
	}

	return ctx
}

// compositeScore implements spec.md §4.6's weighted-average formula.
func compositeScore(results []models.RuleResult, alertThreshold, blockThreshold float64) (score float64, action string) {
	var weightedSum, triggeredWeight float64
	for _, r := range results {
		if !r.Triggered {
			continue
		}
		weightedSum += r.PartialScore * r.RiskWeight
		triggeredWeight += r.RiskWeight
	}

	if triggeredWeight == 0 {
		return 0, models.ActionPass
	}

	composite := weightedSum / triggeredWeight
	if composite > 100 {
		composite = 100
	}
	composite = math.Round(composite*100) / 100

	switch {
	case composite >= blockThreshold:
		action = models.ActionBlock
	case composite >= alertThreshold:
		action = models.ActionAlert
	default:
		action = models.ActionPass
	}
	return composite, action
}

// determineRiskLevel implements spec.md §4.6's composite-only risk-level bands.
func determineRiskLevel(composite float64) string {
	switch {
	case composite >= 80:
		return models.RiskLevelCritical
	case composite >= 60:
		return models.RiskLevelHigh
	case composite >= 30:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}
