package rules

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/enterprise/risk-engine/internal/models"
)

// Repository is the persistence-adapter boundary for rule definitions
// (spec.md §1 Non-goals; see internal/repositories for a pgx-backed adapter).
type Repository interface {
	ListRules() ([]models.AnomalyRule, error)
	SaveRule(rule models.AnomalyRule) error
}

// Cache is the copy-on-write rule cache (spec.md §4.3, §9): reads never block
// on a refresh in progress, and ActiveRules returns a snapshot slice callers may
// range over without locking. Grounded on the teacher's RuleEngine
// mutex-guarded-slice-swap idiom, replacing its DB-condition-tree shape with
// the tagged AnomalyRule/RuleType model.
type Cache struct {
	mu           sync.RWMutex
	rules        []models.AnomalyRule
	lastReload   time.Time
	reloadPeriod time.Duration
	repo         Repository
}

// NewCache builds a rule cache that periodically refreshes from repo (or
// stays on its seeded defaults when repo is nil, e.g. in tests).
func NewCache(repo Repository, reloadPeriod time.Duration) *Cache {
	return &Cache{reloadPeriod: reloadPeriod, repo: repo}
}

// ActiveRules returns the current rule snapshot; the returned slice must be
// treated as read-only by callers.
func (c *Cache) ActiveRules() []models.AnomalyRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rules
}

// Seed installs an initial rule set directly, bypassing the repository —
// used for tests and for first-boot bootstrap from the YAML defaults manifest.
func (c *Cache) Seed(rules []models.AnomalyRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = rules
	c.lastReload = time.Now()
}

// Refresh reloads the rule set from the repository if reloadPeriod has
// elapsed since the last reload. Safe to call on every dispatch; it is a
// no-op between refresh windows.
func (c *Cache) Refresh() error {
	c.mu.RLock()
	stale := time.Since(c.lastReload) >= c.reloadPeriod
	c.mu.RUnlock()
	if !stale || c.repo == nil {
		return nil
	}

	fresh, err := c.repo.ListRules()
	if err != nil {
		log.Warn().Err(err).Msg("rule cache refresh failed, keeping previous snapshot")
		return err
	}

	c.mu.Lock()
	c.rules = fresh
	c.lastReload = time.Now()
	c.mu.Unlock()
	log.Info().Int("rule_count", len(fresh)).Msg("rule cache refreshed")
	return nil
}

// UpdateRule replaces one rule by ID in the in-memory snapshot (copy-on-write:
// a fresh slice is built so any in-flight ActiveRules() callers keep the
// slice they already captured) and persists it via the repository when one is
// configured. Used by the weight-adjustment loop (spec.md §4.7) to push a
// RuleWeightChange's new weight live without waiting for the next scheduled refresh.
func (c *Cache) UpdateRule(updated models.AnomalyRule) error {
	c.mu.Lock()
	next := make([]models.AnomalyRule, len(c.rules))
	copy(next, c.rules)
	found := false
	for i, r := range next {
		if r.RuleID == updated.RuleID {
			next[i] = updated
			found = true
			break
		}
	}
	if !found {
		next = append(next, updated)
	}
	c.rules = next
	c.mu.Unlock()

	if c.repo != nil {
		if err := c.repo.SaveRule(updated); err != nil {
			return fmt.Errorf("persist rule %s: %w", updated.RuleID, err)
		}
	}
	return nil
}

// ruleManifest is the on-disk shape of the YAML rule-defaults manifest loaded
// at first boot (spec.md §4.4's per-rule variancePct/params are operator
// tunable; shipping them as data rather than Go literals lets ops change
// defaults without a redeploy).
type ruleManifest struct {
	Rules []models.AnomalyRule `yaml:"rules"`
}

// LoadDefaultsFromYAML reads a rule-defaults manifest (see configs/rules.yaml)
// and returns its rule set, for use as Cache.Seed's argument before the first
// repository refresh completes.
func LoadDefaultsFromYAML(path string) ([]models.AnomalyRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule manifest %s: %w", path, err)
	}
	var manifest ruleManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse rule manifest %s: %w", path, err)
	}
	return manifest.Rules, nil
}

// DefaultRuleSet is the built-in fallback used when no YAML manifest is
// reachable and no repository has rules yet, so the engine never runs with an
// empty rule set (spec.md §4.3's "rule not applicable" semantics apply per
// rule, not to a total absence of rules).
func DefaultRuleSet() []models.AnomalyRule {
	def := func(id, name string, rt models.RuleType, weight float64) models.AnomalyRule {
		return models.AnomalyRule{
			RuleID:      id,
			Name:        name,
			RuleType:    rt,
			RiskWeight:  weight,
			VariancePct: 0,
			Params:      map[string]float64{},
			Active:      true,
		}
	}
	return []models.AnomalyRule{
		def("RULE_AMOUNT_ANOMALY", "Amount Anomaly", models.RuleAmountAnomaly, 1.5),
		def("RULE_AMOUNT_PER_TYPE", "Amount Per Type", models.RuleAmountPerType, 1.2),
		def("RULE_HOURLY_AMOUNT", "Hourly Amount Spike", models.RuleHourlyAmount, 1.3),
		def("RULE_TPS_SPIKE", "Transaction Rate Spike", models.RuleTPSSpike, 1.3),
		def("RULE_TRANSACTION_TYPE", "Unusual Transaction Type", models.RuleTransactionType, 0.8),
		def("RULE_BENEFICIARY_CONCENTRATION", "Beneficiary Concentration", models.RuleBeneficiaryConcentration, 1.0),
		def("RULE_DAILY_CUMULATIVE", "Daily Cumulative Amount", models.RuleDailyCumulative, 1.4),
		def("RULE_NEW_BENE_VELOCITY", "New Beneficiary Velocity", models.RuleNewBeneVelocity, 1.6),
		def("RULE_DORMANCY_BREAK", "Dormancy Break", models.RuleDormancyBreak, 1.7),
		def("RULE_CROSS_CHANNEL_BENE", "Cross-Channel Beneficiary", models.RuleCrossChannelBene, 0.9),
		def("RULE_SEASONAL_DEVIATION", "Seasonal Deviation", models.RuleSeasonalDeviation, 1.0),
		def("RULE_CV_STABILITY", "Beneficiary Amount Instability", models.RuleCVStability, 0.9),
		def("RULE_ISOLATION_FOREST", "Isolation Forest", models.RuleIsolationForest, 2.0),
	}
}
