// Package models holds the domain types shared across the evaluation pipeline:
// transactions, client behavioral profiles, rules, rule results, evaluation
// results, review-queue items, and the rule-weight change log.
package models

import (
	"encoding/json"
	"time"
)

// Transaction is an immutable record ingested at the pipeline's edge.
type Transaction struct {
	TxnID          string    `json:"txnId"`
	ClientID       string    `json:"clientId"`
	TxnType        string    `json:"txnType"`
	Amount         float64   `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
	BeneficiaryKey string    `json:"beneficiaryKey,omitempty"`
}

// Transaction type enum values (representative; the active set is config-driven,
// see config.RiskConfig.TransactionTypes).
const (
	TxnTypeNEFT = "NEFT"
	TxnTypeRTGS = "RTGS"
	TxnTypeIMPS = "IMPS"
	TxnTypeUPI  = "UPI"
	TxnTypeIFT  = "IFT"
)

// RiskLevel enum values.
const (
	RiskLevelLow      = "LOW"
	RiskLevelMedium   = "MED"
	RiskLevelHigh     = "HIGH"
	RiskLevelCritical = "CRITICAL"
)

// Action enum values.
const (
	ActionPass  = "PASS"
	ActionAlert = "ALERT"
	ActionBlock = "BLOCK"
)

// FeedbackStatus enum values.
const (
	FeedbackPending        = "PENDING"
	FeedbackTruePositive    = "TRUE_POSITIVE"
	FeedbackFalsePositive   = "FALSE_POSITIVE"
	FeedbackAutoAccepted    = "AUTO_ACCEPTED"
)

// RuleType drives evaluator dispatch (spec.md §9: tagged-variant enum, not an
// inheritance chain).
type RuleType string

const (
	RuleAmountAnomaly          RuleType = "AMOUNT_ANOMALY"
	RuleAmountPerType          RuleType = "AMOUNT_PER_TYPE"
	RuleHourlyAmount           RuleType = "HOURLY_AMOUNT"
	RuleTPSSpike               RuleType = "TPS_SPIKE"
	RuleTransactionType        RuleType = "TRANSACTION_TYPE"
	RuleBeneficiaryConcentration RuleType = "BENEFICIARY_CONCENTRATION"
	RuleDailyCumulative        RuleType = "DAILY_CUMULATIVE"
	RuleNewBeneVelocity        RuleType = "NEW_BENE_VELOCITY"
	RuleDormancyBreak          RuleType = "DORMANCY_BREAK"
	RuleCrossChannelBene       RuleType = "CROSS_CHANNEL_BENE"
	RuleSeasonalDeviation      RuleType = "SEASONAL_DEVIATION"
	RuleCVStability            RuleType = "CV_STABILITY"
	RuleIsolationForest        RuleType = "ISOLATION_FOREST"
)

// AnomalyRule configures one evaluator instance.
type AnomalyRule struct {
	RuleID      string             `json:"ruleId" yaml:"ruleId"`
	Name        string             `json:"name" yaml:"name"`
	RuleType    RuleType           `json:"ruleType" yaml:"ruleType"`
	RiskWeight  float64            `json:"riskWeight" yaml:"riskWeight"`
	VariancePct float64            `json:"variancePct" yaml:"variancePct"`
	Params      map[string]float64 `json:"params" yaml:"params"`
	Active      bool               `json:"active" yaml:"active"`
}

// RuleResult is the outcome of dispatching one transaction to one rule's evaluator.
type RuleResult struct {
	RuleID       string   `json:"ruleId"`
	RuleName     string   `json:"ruleName"`
	RuleType     RuleType `json:"ruleType"`
	Triggered    bool     `json:"triggered"`
	DeviationPct float64  `json:"deviationPct"`
	PartialScore float64  `json:"partialScore"`
	RiskWeight   float64  `json:"riskWeight"`
	Reason       string   `json:"reason"`
}

// EvaluationResult is the final, persisted outcome of one transaction's pipeline run.
type EvaluationResult struct {
	TxnID          string       `json:"txnId"`
	ClientID       string       `json:"clientId"`
	CompositeScore float64      `json:"compositeScore"`
	RiskLevel      string       `json:"riskLevel"`
	Action         string       `json:"action"`
	RuleResults    []RuleResult `json:"ruleResults"`
	EvaluatedAt    time.Time    `json:"evaluatedAt"`
}

// RulesTriggered returns the rule IDs that fired, in result order.
func (r *EvaluationResult) RulesTriggered() []string {
	ids := make([]string, 0, len(r.RuleResults))
	for _, rr := range r.RuleResults {
		if rr.Triggered {
			ids = append(ids, rr.RuleID)
		}
	}
	return ids
}

// ReviewQueueItem tracks an ALERT/BLOCK transaction through operator adjudication.
type ReviewQueueItem struct {
	TxnID              string     `json:"txnId"`
	ClientID           string     `json:"clientId"`
	Action             string     `json:"action"`
	CompositeScore     float64    `json:"compositeScore"`
	RiskLevel          string     `json:"riskLevel"`
	TriggeredRuleIDs   []string   `json:"triggeredRuleIds"`
	EnqueuedAt         time.Time  `json:"enqueuedAt"`
	FeedbackStatus     string     `json:"feedbackStatus"`
	FeedbackAt         *time.Time `json:"feedbackAt,omitempty"`
	FeedbackBy         string     `json:"feedbackBy,omitempty"`
	AutoAcceptDeadline time.Time  `json:"autoAcceptDeadline"`
}

// IsTerminal reports whether the item has reached a terminal feedback state.
func (i *ReviewQueueItem) IsTerminal() bool {
	return i.FeedbackStatus != FeedbackPending
}

// RuleWeightChange is an append-only audit entry for weight-adjustment decisions.
type RuleWeightChange struct {
	RuleID    string    `json:"ruleId"`
	OldWeight float64   `json:"oldWeight"`
	NewWeight float64   `json:"newWeight"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// BeneficiaryKey identifies a payee as "IFSC:Account".
type BeneficiaryKey = string

// JSONB is retained from the teacher's persistence idiom for adapters that store
// semi-structured payloads (e.g. IF model blobs, audit payloads) in Postgres JSONB
// columns.
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Pagination mirrors the teacher's cursor-ish page/pageSize/total shape used by the
// thin HTTP surface (§6).
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// PaginatedResponse wraps paginated results for the HTTP surface.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// RuleCount pairs a rule with its trigger count, used by analytics/backtest.
type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}
