package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/enterprise/risk-engine/internal/models"
)

// ResultRepository persists evaluation results and serves the rule-trigger
// aggregate queries analytics reports on. Grounded on the teacher's
// RiskScoreRepository (batch insert shape, GetDailySummary/top-rules
// aggregate pattern), re-keyed to EvaluationResult's txnId/clientId shape.
type ResultRepository struct {
	db *Database
}

// NewResultRepository creates a new evaluation-result repository.
func NewResultRepository(db *Database) *ResultRepository {
	return &ResultRepository{db: db}
}

// Save implements scoring.ResultRepository, persisting one transaction's full
// pipeline outcome including its per-rule result breakdown as JSONB.
func (r *ResultRepository) Save(ctx context.Context, result *models.EvaluationResult) error {
	ruleResults, err := json.Marshal(result.RuleResults)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO evaluation_results (txn_id, client_id, composite_score, risk_level, action, rule_results, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (txn_id) DO NOTHING
	`
	_, err = r.db.Pool.Exec(ctx, query,
		result.TxnID, result.ClientID, result.CompositeScore, result.RiskLevel, result.Action, ruleResults, result.EvaluatedAt)
	return err
}

// TopTriggeredRules returns the most frequently triggered rules in
// [since, now], ordered by trigger count descending, for the analytics
// rule-performance report. Triggered rule IDs are unnested from each result's
// JSONB rule_results array.
func (r *ResultRepository) TopTriggeredRules(ctx context.Context, since time.Time, limit int) ([]models.RuleCount, error) {
	query := `
		SELECT elem->>'ruleId' AS rule_id, count(*) AS cnt
		FROM evaluation_results, jsonb_array_elements(rule_results) AS elem
		WHERE evaluated_at >= $1 AND (elem->>'triggered')::boolean = true
		GROUP BY rule_id
		ORDER BY cnt DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RuleCount
	for rows.Next() {
		var rc models.RuleCount
		if err := rows.Scan(&rc.RuleID, &rc.Count); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// ActionSummary reports PASS/ALERT/BLOCK counts in [since, now], for the
// analytics daily-summary endpoint.
func (r *ResultRepository) ActionSummary(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `SELECT action, count(*) FROM evaluation_results WHERE evaluated_at >= $1 GROUP BY action`
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		out[action] = count
	}
	return out, rows.Err()
}
