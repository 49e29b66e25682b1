package rules

import (
	"context"
	"fmt"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/isolationforest"
	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/profile"
)

// statisticalEvaluators is the tagged-variant dispatch table (spec.md §9): every
// RuleType maps to exactly one pure function, replacing the teacher's
// closure-per-rule construction.
var statisticalEvaluators = map[models.RuleType]Evaluator{
	models.RuleAmountAnomaly:           EvalAmountAnomaly,
	models.RuleAmountPerType:           EvalAmountPerType,
	models.RuleHourlyAmount:            EvalHourlyAmount,
	models.RuleTPSSpike:                EvalTPSSpike,
	models.RuleTransactionType:         EvalTransactionType,
	models.RuleBeneficiaryConcentration: EvalBeneficiaryConcentration,
	models.RuleDailyCumulative:         EvalDailyCumulative,
	models.RuleNewBeneVelocity:         EvalNewBeneVelocity,
	models.RuleDormancyBreak:           EvalDormancyBreak,
	models.RuleCrossChannelBene:        EvalCrossChannelBene,
	models.RuleSeasonalDeviation:       EvalSeasonalDeviation,
	models.RuleCVStability:             EvalCVStability,
}

// ForestStore resolves the per-client Isolation Forest; satisfied by
// isolationforest.Store.
type ForestStore interface {
	Load(ctx context.Context, clientID string) (*isolationforest.Forest, bool, error)
}

// Engine dispatches a transaction to every active rule for its client.
type Engine struct {
	cache   *Cache
	forests ForestStore
}

// NewEngine builds a dispatch engine over a rule cache and a forest store.
func NewEngine(cache *Cache, forests ForestStore) *Engine {
	return &Engine{cache: cache, forests: forests}
}

// RefreshCache reloads the rule cache from its repository if due (spec.md
// §4.3's ruleCacheRefreshSeconds period); a no-op between refresh windows.
func (e *Engine) RefreshCache() error {
	return e.cache.Refresh()
}

// EvaluateAll runs every active rule for clientID against txn/profile/ctx
// (spec.md §4.3). A panicking or error-returning evaluator yields a
// not-triggered RuleResult for that rule rather than aborting the remaining
// rules (spec.md §7). Unregistered rule types are logged by the caller and
// skipped; EvaluateAll itself only reports them via the returned skipped slice.
func (e *Engine) EvaluateAll(ctx context.Context, txn models.Transaction, prof *profile.ClientProfile, evalCtx EvaluationContext, defaults config.RuleDefaults) (results []models.RuleResult, skipped []string) {
	for _, rule := range e.cache.ActiveRules() {
		if !rule.Active {
			continue
		}

		if rule.RuleType == models.RuleIsolationForest {
			res, ok, err := e.evaluateIsolationForest(ctx, txn, prof, evalCtx, rule)
			if err != nil || !ok {
				continue
			}
			results = append(results, res)
			continue
		}

		eval, ok := statisticalEvaluators[rule.RuleType]
		if !ok {
			skipped = append(skipped, string(rule.RuleType))
			continue
		}

		res := safeEvaluate(eval, EvalDeps{
			Txn:      txn,
			Profile:  prof,
			Ctx:      evalCtx,
			Rule:     rule,
			Defaults: defaults,
		})
		results = append(results, res)
	}
	return results, skipped
}

// safeEvaluate recovers from an evaluator panic and turns it into a
// not-triggered result so one bad rule can never take down the pipeline.
func safeEvaluate(eval Evaluator, d EvalDeps) (res models.RuleResult) {
	defer func() {
		if r := recover(); r != nil {
			res = notTriggered(d.Rule, fmt.Sprintf("evaluator panic: %v", r))
		}
	}()
	out, err := eval(d)
	if err != nil {
		return notTriggered(d.Rule, fmt.Sprintf("evaluator error: %v", err))
	}
	return out
}

func (e *Engine) evaluateIsolationForest(ctx context.Context, txn models.Transaction, prof *profile.ClientProfile, evalCtx EvaluationContext, rule models.AnomalyRule) (models.RuleResult, bool, error) {
	if e.forests == nil {
		return models.RuleResult{}, false, nil
	}
	forest, ok, err := e.forests.Load(ctx, prof.ClientID)
	if err != nil {
		return notTriggered(rule, fmt.Sprintf("forest load error: %v", err)), true, nil
	}
	if !ok {
		return notTriggered(rule, "no isolation forest trained for this client yet"), true, nil
	}

	x := BuildFeatureVector(txn, prof, evalCtx)
	score := forest.AnomalyScore(x)

	// spec.md §4.5: anomaly scores close to 1 are anomalous, close to 0.5 or
	// below are normal; variancePct (or its fallback) doubles as the
	// score-threshold-as-percent knob so operators tune it the same way as
	// every other detector.
	threshold := 0.5 + effectiveVariancePct(rule, 50)/200
	if threshold > 0.99 {
		threshold = 0.99
	}

	res := notTriggered(rule, "")
	if score < threshold {
		res.Reason = fmt.Sprintf("isolation-forest anomaly score %.3f below threshold %.3f", score, threshold)
		return res, true, nil
	}

	res.Triggered = true
	res.DeviationPct = capScore((score - threshold) / (1 - threshold) * 100)
	res.PartialScore = res.DeviationPct

	mean := clientFeatureMean(prof, x)
	top := forest.FeatureContributions(x, mean)
	label := featureLabel(top[0].Feature)
	res.Reason = fmt.Sprintf("isolation-forest anomaly score %.3f (threshold %.3f); top contributor: %s", score, threshold, label)
	return res, true, nil
}

// BuildFeatureVector constructs spec.md §4.5's fixed 6-feature vector:
// [amountZ, 1-typeFrequency, hourlyTpsRatio, hourlyAmountRatio, typeAmountZ, hourOfDay/24].
func BuildFeatureVector(txn models.Transaction, p *profile.ClientProfile, ctx EvaluationContext) []float64 {
	amountZ := 0.0
	if sd := p.AmountStdDev(); sd > 0 {
		amountZ = (txn.Amount - p.Amount.Value) / sd
	}

	typeFrequency := 0.0
	if p.TotalTxnCount > 0 {
		typeFrequency = float64(p.TxnTypeCounts[txn.TxnType]) / float64(p.TotalTxnCount)
	}

	hourlyTpsRatio := 1.0
	if p.HourlyTps.Value > 0 {
		hourlyTpsRatio = float64(ctx.CurrentHourlyTxnCount) / p.HourlyTps.Value
	}

	hourlyAmountRatio := 1.0
	if p.HourlyAmount.Value > 0 {
		hourlyAmountRatio = ctx.CurrentHourlyAmount / p.HourlyAmount.Value
	}

	typeAmountZ := 0.0
	if stat, ok := p.AmountByType[txn.TxnType]; ok {
		if sd := stat.StdDev(); sd > 0 {
			typeAmountZ = (txn.Amount - stat.Value) / sd
		}
	}

	hourOfDay := float64(txn.Timestamp.UTC().Hour()) / 24

	return []float64{amountZ, 1 - typeFrequency, hourlyTpsRatio, hourlyAmountRatio, typeAmountZ, hourOfDay}
}

// clientFeatureMean builds the "typical transaction" baseline vector
// FeatureContributions perturbs against: z-score features center on 0, ratio
// features center on 1, and the time-of-day feature is left unperturbed since
// no single baseline hour exists for a client.
func clientFeatureMean(p *profile.ClientProfile, x []float64) []float64 {
	typeCount := len(p.TxnTypeCounts)
	if typeCount == 0 {
		typeCount = 1
	}
	return []float64{0, 1 - 1/float64(typeCount), 1, 1, 0, x[5]}
}

func featureLabel(i int) string {
	labels := []string{"amount deviation", "transaction-type rarity", "hourly transaction-count spike", "hourly amount spike", "type-specific amount deviation", "unusual time of day"}
	if i < 0 || i >= len(labels) {
		return "unknown"
	}
	return labels[i]
}

