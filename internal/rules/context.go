// Package rules implements the Rule Engine (spec.md §4.3): dispatch of a
// transaction to each active rule's evaluator, the 12 statistical detectors plus
// the Isolation Forest detector, and the hot-reloadable rule cache.
package rules

import (
	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/profile"
)

// EvaluationContext is passed to every evaluator (spec.md §4.3). It is a
// snapshot taken after the profile load and before dispatch; live counters are
// only incremented after the evaluation result is persisted, so a transaction's
// own amount never appears in its own context (spec.md §5).
type EvaluationContext struct {
	CurrentHourlyTxnCount            int64
	CurrentHourlyAmount              float64
	CurrentWindowBeneficiaryTxnCount int64
	CurrentWindowBeneficiaryAmount   float64
	CurrentBeneficiaryKey            string

	// Daily and new-beneficiary figures are not named in the evaluator-context
	// list spec.md §4.3 spells out, but DAILY_CUMULATIVE and NEW_BENE_VELOCITY
	// (spec.md §4.4) need them; they are filled from the same pre-dispatch
	// snapshot as the hourly fields above.
	CurrentDailyAmount    float64
	CurrentDailyTxnCount  int64
	NewBeneficiariesToday int64
}

// effectiveVariancePct resolves DESIGN.md Open Question #1: variancePct <= 0
// falls back to the config default, treated as a contract rather than
// source-mimicry ambiguity.
func effectiveVariancePct(rule models.AnomalyRule, fallback float64) float64 {
	if rule.VariancePct > 0 {
		return rule.VariancePct
	}
	return fallback
}

// param reads a named rule parameter, falling back to def when absent.
func param(rule models.AnomalyRule, name string, def float64) float64 {
	if v, ok := rule.Params[name]; ok {
		return v
	}
	return def
}

// paramInt is param truncated to int.
func paramInt(rule models.AnomalyRule, name string, def int) int {
	if v, ok := rule.Params[name]; ok {
		return int(v)
	}
	return def
}

// notTriggered builds the zero-partial-score result every evaluator returns
// when its precondition is not met (spec.md §4.4).
func notTriggered(rule models.AnomalyRule, reason string) models.RuleResult {
	return models.RuleResult{
		RuleID:     rule.RuleID,
		RuleName:   rule.Name,
		RuleType:   rule.RuleType,
		Triggered:  false,
		RiskWeight: rule.RiskWeight,
		Reason:     reason,
	}
}

// capScore clamps a deviation-derived partial score to [0, 100].
func capScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// EvalDeps bundles the read-only state every statistical evaluator may consult.
type EvalDeps struct {
	Txn      models.Transaction
	Profile  *profile.ClientProfile
	Ctx      EvaluationContext
	Rule     models.AnomalyRule
	Defaults config.RuleDefaults
}
