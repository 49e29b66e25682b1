package review

import (
	"context"
	"testing"
	"time"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/rules"
)

func testFeedbackConfig() config.FeedbackConfig {
	return config.FeedbackConfig{
		AutoAcceptTimeout:       24 * time.Hour,
		AutoAcceptSweepInterval: time.Hour,
		WeightAdjustInterval:    time.Hour,
		PrecisionWindow:         24 * time.Hour,
		MinSamples:              3,
		HighPrecision:            0.8,
		LowPrecision:             0.2,
		UpFactor:                 1.1,
		DownFactor:               0.9,
		WeightMin:                0.1,
		WeightMax:                5.0,
		WeightChangeEpsilon:      0.01,
	}
}

func terminalItem(txnID, ruleID, status string, at time.Time) models.ReviewQueueItem {
	item := pendingItem(txnID)
	item.FeedbackStatus = status
	item.FeedbackAt = &at
	item.TriggeredRuleIDs = []string{ruleID}
	return item
}

func TestAdjustOnce_RaisesWeightOnHighPrecision(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	now := time.Now()

	for i := 0; i < 4; i++ {
		repo.Save(context.Background(), terminalItem(string(rune('a'+i)), "r1", models.FeedbackTruePositive, now))
	}

	cache := rules.NewCache(nil, time.Hour)
	rule := models.AnomalyRule{RuleID: "r1", RuleType: models.RuleAmountAnomaly, RiskWeight: 1.0, Active: true}
	cache.Seed([]models.AnomalyRule{rule})

	adjuster := NewWeightAdjuster(svc, cache, testFeedbackConfig())
	adjuster.adjustOnce(context.Background())

	updated := cache.ActiveRules()[0]
	if updated.RiskWeight <= 1.0 {
		t.Fatalf("RiskWeight = %v, want an increase above 1.0 after all-TP feedback", updated.RiskWeight)
	}
}

func TestAdjustOnce_LowersWeightOnLowPrecision(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	now := time.Now()

	for i := 0; i < 4; i++ {
		repo.Save(context.Background(), terminalItem(string(rune('a'+i)), "r1", models.FeedbackFalsePositive, now))
	}

	cache := rules.NewCache(nil, time.Hour)
	rule := models.AnomalyRule{RuleID: "r1", RuleType: models.RuleAmountAnomaly, RiskWeight: 1.0, Active: true}
	cache.Seed([]models.AnomalyRule{rule})

	adjuster := NewWeightAdjuster(svc, cache, testFeedbackConfig())
	adjuster.adjustOnce(context.Background())

	updated := cache.ActiveRules()[0]
	if updated.RiskWeight >= 1.0 {
		t.Fatalf("RiskWeight = %v, want a decrease below 1.0 after all-FP feedback", updated.RiskWeight)
	}
}

func TestAdjustOnce_BelowMinSamplesLeavesWeightUnchanged(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	now := time.Now()

	repo.Save(context.Background(), terminalItem("a", "r1", models.FeedbackTruePositive, now))

	cache := rules.NewCache(nil, time.Hour)
	rule := models.AnomalyRule{RuleID: "r1", RuleType: models.RuleAmountAnomaly, RiskWeight: 1.0, Active: true}
	cache.Seed([]models.AnomalyRule{rule})

	adjuster := NewWeightAdjuster(svc, cache, testFeedbackConfig())
	adjuster.adjustOnce(context.Background())

	if got := cache.ActiveRules()[0].RiskWeight; got != 1.0 {
		t.Fatalf("RiskWeight = %v, want unchanged at 1.0 below minSamples", got)
	}
}

// AUTO_ACCEPTED items are not operator verdicts and must not count toward
// precision (spec.md §4.7/§10).
func TestAdjustOnce_ExcludesAutoAcceptedFromPrecision(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	now := time.Now()

	for i := 0; i < 4; i++ {
		repo.Save(context.Background(), terminalItem(string(rune('a'+i)), "r1", models.FeedbackAutoAccepted, now))
	}

	cache := rules.NewCache(nil, time.Hour)
	rule := models.AnomalyRule{RuleID: "r1", RuleType: models.RuleAmountAnomaly, RiskWeight: 1.0, Active: true}
	cache.Seed([]models.AnomalyRule{rule})

	adjuster := NewWeightAdjuster(svc, cache, testFeedbackConfig())
	adjuster.adjustOnce(context.Background())

	if got := cache.ActiveRules()[0].RiskWeight; got != 1.0 {
		t.Fatalf("RiskWeight = %v, want unchanged: AUTO_ACCEPTED items carry no precision signal", got)
	}
}
