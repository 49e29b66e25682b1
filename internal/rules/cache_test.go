package rules

import (
	"testing"
	"time"

	"github.com/enterprise/risk-engine/internal/models"
)

func TestCache_SeedInstallsRulesWithoutRepository(t *testing.T) {
	cache := NewCache(nil, time.Hour)
	cache.Seed([]models.AnomalyRule{ruleWith(models.RuleAmountAnomaly, 1)})

	rules := cache.ActiveRules()
	if len(rules) != 1 || rules[0].RuleType != models.RuleAmountAnomaly {
		t.Fatalf("ActiveRules = %v, want one AMOUNT_ANOMALY rule", rules)
	}
}

func TestCache_RefreshIsNoOpWithoutRepository(t *testing.T) {
	cache := NewCache(nil, 0) // always "stale", but nil repo means no-op
	cache.Seed([]models.AnomalyRule{ruleWith(models.RuleAmountAnomaly, 1)})

	if err := cache.Refresh(); err != nil {
		t.Fatalf("Refresh returned an error with a nil repository: %v", err)
	}
	if len(cache.ActiveRules()) != 1 {
		t.Fatal("Refresh with a nil repository must leave the seeded snapshot untouched")
	}
}

type fakeRuleRepo struct {
	rules []models.AnomalyRule
	saved []models.AnomalyRule
}

func (f *fakeRuleRepo) ListRules() ([]models.AnomalyRule, error) { return f.rules, nil }
func (f *fakeRuleRepo) SaveRule(rule models.AnomalyRule) error {
	f.saved = append(f.saved, rule)
	return nil
}

func TestCache_RefreshPullsFromRepositoryWhenStale(t *testing.T) {
	repo := &fakeRuleRepo{rules: []models.AnomalyRule{ruleWith(models.RuleAmountPerType, 1)}}
	cache := NewCache(repo, 0) // reloadPeriod 0: always stale

	if err := cache.Refresh(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rules := cache.ActiveRules()
	if len(rules) != 1 || rules[0].RuleType != models.RuleAmountPerType {
		t.Fatalf("ActiveRules = %v, want the repository's rule set after a stale refresh", rules)
	}
}

func TestCache_UpdateRule_ReplacesExistingByID(t *testing.T) {
	cache := NewCache(nil, time.Hour)
	original := ruleWith(models.RuleAmountAnomaly, 1)
	original.RuleID = "r1"
	cache.Seed([]models.AnomalyRule{original})

	updated := original
	updated.RiskWeight = 9
	if err := cache.UpdateRule(updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rules := cache.ActiveRules()
	if len(rules) != 1 || rules[0].RiskWeight != 9 {
		t.Fatalf("ActiveRules = %v, want the updated weight for r1", rules)
	}
}

func TestCache_UpdateRule_AppendsWhenIDAbsent(t *testing.T) {
	cache := NewCache(nil, time.Hour)
	cache.Seed(nil)

	fresh := ruleWith(models.RuleAmountAnomaly, 1)
	fresh.RuleID = "new-rule"
	if err := cache.UpdateRule(fresh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rules := cache.ActiveRules()
	if len(rules) != 1 || rules[0].RuleID != "new-rule" {
		t.Fatalf("ActiveRules = %v, want the appended new-rule entry", rules)
	}
}
