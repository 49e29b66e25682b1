package review

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/rules"
)

// ruleStats accumulates one rule's TP/FP counts over the precision window.
type ruleStats struct {
	truePositive  int
	falsePositive int
}

func (s ruleStats) samples() int {
	return s.truePositive + s.falsePositive
}

func (s ruleStats) precision() float64 {
	if s.samples() == 0 {
		return 0
	}
	return float64(s.truePositive) / float64(s.samples())
}

// WeightAdjuster periodically recomputes per-rule precision from terminal
// review items and nudges rule weights accordingly (spec.md §4.7), pushing
// changes directly into the live rule cache so they take effect without
// waiting for the cache's own reload period.
type WeightAdjuster struct {
	svc    *Service
	cache  *rules.Cache
	cfg    config.FeedbackConfig
	stopCh chan struct{}
}

// NewWeightAdjuster builds an adjuster over svc's review repository and
// cache, the rule cache it mutates on precision-driven changes.
func NewWeightAdjuster(svc *Service, cache *rules.Cache, cfg config.FeedbackConfig) *WeightAdjuster {
	return &WeightAdjuster{svc: svc, cache: cache, cfg: cfg, stopCh: make(chan struct{})}
}

// Run blocks, recomputing weights on every tick until ctx is cancelled or
// Stop is called.
func (w *WeightAdjuster) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WeightAdjustInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.adjustOnce(ctx)
		}
	}
}

func (w *WeightAdjuster) adjustOnce(ctx context.Context) {
	since := time.Now().Add(-w.cfg.PrecisionWindow)
	items, err := w.svc.repo.ListTerminalSince(ctx, since)
	if err != nil {
		log.Error().Err(err).Msg("weight adjustment: failed to list terminal review items")
		return
	}

	perRule := make(map[string]*ruleStats)
	for _, item := range items {
		// AUTO_ACCEPTED items are excluded from precision: an expired timeout
		// is not an operator verdict (spec.md §4.7/§10).
		if item.FeedbackStatus != models.FeedbackTruePositive && item.FeedbackStatus != models.FeedbackFalsePositive {
			continue
		}
		for _, ruleID := range item.TriggeredRuleIDs {
			st, ok := perRule[ruleID]
			if !ok {
				st = &ruleStats{}
				perRule[ruleID] = st
			}
			if item.FeedbackStatus == models.FeedbackTruePositive {
				st.truePositive++
			} else {
				st.falsePositive++
			}
		}
	}

	for _, rule := range w.cache.ActiveRules() {
		st, ok := perRule[rule.RuleID]
		if !ok || st.samples() < w.cfg.MinSamples {
			continue
		}
		w.applyAdjustment(ctx, rule, st.precision())
	}
}

func (w *WeightAdjuster) applyAdjustment(ctx context.Context, rule models.AnomalyRule, precision float64) {
	oldWeight := rule.RiskWeight
	newWeight := oldWeight

	switch {
	case precision >= w.cfg.HighPrecision:
		newWeight = math.Min(w.cfg.WeightMax, oldWeight*w.cfg.UpFactor)
	case precision <= w.cfg.LowPrecision:
		newWeight = math.Max(w.cfg.WeightMin, oldWeight*w.cfg.DownFactor)
	default:
		return
	}

	if math.Abs(newWeight-oldWeight) < w.cfg.WeightChangeEpsilon {
		return
	}

	rule.RiskWeight = newWeight
	if err := w.cache.UpdateRule(rule); err != nil {
		log.Error().Err(err).Str("rule_id", rule.RuleID).Msg("weight adjustment: failed to update rule cache")
		return
	}

	change := models.RuleWeightChange{
		RuleID:    rule.RuleID,
		OldWeight: oldWeight,
		NewWeight: newWeight,
		Reason:    reasonFor(precision, w.cfg),
		Timestamp: time.Now(),
	}
	if err := w.svc.repo.AppendWeightChange(ctx, change); err != nil {
		log.Error().Err(err).Str("rule_id", rule.RuleID).Msg("weight adjustment: failed to append change log")
	}

	log.Info().
		Str("rule_id", rule.RuleID).
		Float64("precision", precision).
		Float64("old_weight", oldWeight).
		Float64("new_weight", newWeight).
		Msg("rule weight adjusted")
}

func reasonFor(precision float64, cfg config.FeedbackConfig) string {
	if precision >= cfg.HighPrecision {
		return "precision above high-precision threshold"
	}
	return "precision at or below low-precision threshold"
}

// Stop requests a graceful shutdown.
func (w *WeightAdjuster) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}
