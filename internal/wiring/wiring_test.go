package wiring

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/rules"
)

type fakeRuleRepo struct {
	listed []models.AnomalyRule
	listErr error
	saved   []models.AnomalyRule
}

func (f *fakeRuleRepo) ListRules() ([]models.AnomalyRule, error) {
	return f.listed, f.listErr
}

func (f *fakeRuleRepo) SaveRule(rule models.AnomalyRule) error {
	f.saved = append(f.saved, rule)
	return nil
}

func TestSeedRuleCache_PrefersExistingRepositoryRules(t *testing.T) {
	repo := &fakeRuleRepo{listed: []models.AnomalyRule{{RuleID: "RULE_FROM_DB", Active: true}}}
	cache := rules.NewCache(repo, time.Hour)

	seedRuleCache(cache, repo, "/nonexistent/manifest.yaml")

	active := cache.ActiveRules()
	if len(active) != 1 || active[0].RuleID != "RULE_FROM_DB" {
		t.Fatalf("ActiveRules() = %v, want the single repository-provided rule", active)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("SaveRule called %d times, want 0 when the repository already has rules", len(repo.saved))
	}
}

func TestSeedRuleCache_FallsBackToManifestWhenRepositoryEmpty(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "rules.yaml")
	manifest := "rules:\n  - ruleId: RULE_X\n    name: Rule X\n    ruleType: AMOUNT_ANOMALY\n    riskWeight: 1.5\n    variancePct: 0\n    params: {}\n    active: true\n"
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repo := &fakeRuleRepo{}
	cache := rules.NewCache(repo, time.Hour)

	seedRuleCache(cache, repo, manifestPath)

	active := cache.ActiveRules()
	if len(active) != 1 || active[0].RuleID != "RULE_X" {
		t.Fatalf("ActiveRules() = %v, want the single manifest-provided rule", active)
	}
	if len(repo.saved) != 1 || repo.saved[0].RuleID != "RULE_X" {
		t.Fatalf("seeded rules were not persisted back to the repository: %v", repo.saved)
	}
}

func TestSeedRuleCache_FallsBackToBuiltinDefaultsWhenManifestUnreadable(t *testing.T) {
	repo := &fakeRuleRepo{}
	cache := rules.NewCache(repo, time.Hour)

	seedRuleCache(cache, repo, filepath.Join(t.TempDir(), "missing.yaml"))

	active := cache.ActiveRules()
	if len(active) != len(rules.DefaultRuleSet()) {
		t.Fatalf("ActiveRules() len = %d, want %d built-in defaults", len(active), len(rules.DefaultRuleSet()))
	}
	if len(repo.saved) != len(active) {
		t.Fatalf("SaveRule called %d times, want one per seeded default rule (%d)", len(repo.saved), len(active))
	}
}
