package repositories

import (
	"context"
	"encoding/json"

	"github.com/enterprise/risk-engine/internal/models"
)

// RuleRepository persists the evaluator rule set, backing the copy-on-write
// rule cache's periodic refresh and hot weight updates (spec.md §4.3).
type RuleRepository struct {
	db *Database
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *Database) *RuleRepository {
	return &RuleRepository{db: db}
}

// ListRules implements rules.Repository, returning every configured rule
// regardless of active status — the cache itself filters on Active.
func (r *RuleRepository) ListRules() ([]models.AnomalyRule, error) {
	ctx := context.Background()
	query := `SELECT rule_id, name, rule_type, risk_weight, variance_pct, params, active FROM anomaly_rules ORDER BY rule_id`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AnomalyRule
	for rows.Next() {
		var rule models.AnomalyRule
		var params []byte
		if err := rows.Scan(&rule.RuleID, &rule.Name, &rule.RuleType, &rule.RiskWeight, &rule.VariancePct, &params, &rule.Active); err != nil {
			return nil, err
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &rule.Params); err != nil {
				return nil, err
			}
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// SaveRule implements rules.Repository, upserting a rule's definition — used
// both by the YAML-manifest seed path and by the weight-adjustment loop's
// persisted weight changes.
func (r *RuleRepository) SaveRule(rule models.AnomalyRule) error {
	ctx := context.Background()
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO anomaly_rules (rule_id, name, rule_type, risk_weight, variance_pct, params, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (rule_id) DO UPDATE SET
			name = $2, rule_type = $3, risk_weight = $4, variance_pct = $5, params = $6, active = $7
	`
	_, err = r.db.Pool.Exec(ctx, query, rule.RuleID, rule.Name, rule.RuleType, rule.RiskWeight, rule.VariancePct, params, rule.Active)
	return err
}
