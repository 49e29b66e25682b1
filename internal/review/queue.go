// Package review implements the operator adjudication loop (spec.md §4.7):
// the review queue state machine, the auto-accept sweep, and the precision-
// driven weight-adjustment loop that feeds changes back into the rule cache.
package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/models"
)

// Repository is the persistence boundary for review-queue items and the
// weight-change audit log (spec.md §1 Non-goals; see internal/repositories
// for a pgx-backed adapter).
type Repository interface {
	Save(ctx context.Context, item models.ReviewQueueItem) error
	Get(ctx context.Context, txnID string) (*models.ReviewQueueItem, bool, error)
	UpdateFeedback(ctx context.Context, txnID, status, by string, at time.Time) (*models.ReviewQueueItem, error)
	ListPendingExpired(ctx context.Context, now time.Time) ([]models.ReviewQueueItem, error)
	ListTerminalSince(ctx context.Context, since time.Time) ([]models.ReviewQueueItem, error)
	AppendWeightChange(ctx context.Context, change models.RuleWeightChange) error
}

// Metrics counts feedback outcomes by status, read by the operational-status
// endpoint; modeled on internal/scoring's WorkerMetrics counting idiom.
type Metrics struct {
	mu            sync.Mutex
	TruePositive  int64
	FalsePositive int64
	AutoAccepted  int64
}

func (m *Metrics) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{TruePositive: m.TruePositive, FalsePositive: m.FalsePositive, AutoAccepted: m.AutoAccepted}
}

// Service is the review-queue boundary the scoring pipeline enqueues into and
// operators submit feedback through.
type Service struct {
	repo    Repository
	metrics Metrics
}

// NewService builds a review service over repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Enqueue records a newly-flagged transaction as PENDING; called by the
// scoring pipeline for every ALERT/BLOCK outcome (spec.md §4.7).
func (s *Service) Enqueue(ctx context.Context, item models.ReviewQueueItem) error {
	if item.FeedbackStatus == "" {
		item.FeedbackStatus = models.FeedbackPending
	}
	return s.repo.Save(ctx, item)
}

// SubmitFeedback records an operator's TRUE_POSITIVE/FALSE_POSITIVE verdict
// for one transaction (spec.md §4.7). Idempotent on terminal items: a second
// call returns the already-recorded item unchanged rather than erroring.
func (s *Service) SubmitFeedback(ctx context.Context, txnID, status, by string) (*models.ReviewQueueItem, error) {
	if status != models.FeedbackTruePositive && status != models.FeedbackFalsePositive {
		return nil, fmt.Errorf("invalid feedback status %q: must be TRUE_POSITIVE or FALSE_POSITIVE", status)
	}

	item, ok, err := s.repo.Get(ctx, txnID)
	if err != nil {
		return nil, fmt.Errorf("load review item %s: %w", txnID, err)
	}
	if !ok {
		return nil, fmt.Errorf("no review item for txn %s", txnID)
	}
	if item.IsTerminal() {
		return item, nil
	}

	updated, err := s.repo.UpdateFeedback(ctx, txnID, status, by, time.Now())
	if err != nil {
		return nil, fmt.Errorf("update feedback for %s: %w", txnID, err)
	}

	s.metrics.mu.Lock()
	if status == models.FeedbackTruePositive {
		s.metrics.TruePositive++
	} else {
		s.metrics.FalsePositive++
	}
	s.metrics.mu.Unlock()
	return updated, nil
}

// BulkFeedback submits the same verdict for a list of transactions. A
// per-item failure is logged and does not abort the remaining items
// (spec.md §4.7's partial-failure tolerance).
func (s *Service) BulkFeedback(ctx context.Context, txnIDs []string, status, by string) (requested, updated int) {
	requested = len(txnIDs)
	for _, id := range txnIDs {
		if _, err := s.SubmitFeedback(ctx, id, status, by); err != nil {
			log.Warn().Err(err).Str("txn_id", id).Msg("bulk feedback item failed")
			continue
		}
		updated++
	}
	return requested, updated
}

// MetricsSnapshot returns a copy of the service's feedback counters.
func (s *Service) MetricsSnapshot() Metrics {
	return s.metrics.snapshot()
}
