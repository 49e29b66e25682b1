package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/enterprise/risk-engine/internal/models"
)

// ReviewRepository persists the review queue and its weight-change audit
// trail. Grounded on the teacher's AuditRepository (batch-friendly insert,
// time-ranged listing queries) and risk_score_repository.go's pq.Array
// binding for the rule-ids column, re-keyed to review.Repository's
// PENDING/terminal state machine.
type ReviewRepository struct {
	db *Database
}

// NewReviewRepository creates a new review-queue repository.
func NewReviewRepository(db *Database) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Save implements review.Repository, inserting a newly enqueued item.
func (r *ReviewRepository) Save(ctx context.Context, item models.ReviewQueueItem) error {
	query := `
		INSERT INTO review_queue_items
			(txn_id, client_id, action, composite_score, risk_level, triggered_rule_ids,
			 enqueued_at, feedback_status, feedback_at, feedback_by, auto_accept_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (txn_id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		item.TxnID, item.ClientID, item.Action, item.CompositeScore, item.RiskLevel, pq.Array(item.TriggeredRuleIDs),
		item.EnqueuedAt, item.FeedbackStatus, item.FeedbackAt, item.FeedbackBy, item.AutoAcceptDeadline)
	return err
}

// Get implements review.Repository.
func (r *ReviewRepository) Get(ctx context.Context, txnID string) (*models.ReviewQueueItem, bool, error) {
	query := `
		SELECT txn_id, client_id, action, composite_score, risk_level, triggered_rule_ids,
		       enqueued_at, feedback_status, feedback_at, feedback_by, auto_accept_deadline
		FROM review_queue_items WHERE txn_id = $1
	`
	item, err := scanReviewItem(r.db.Pool.QueryRow(ctx, query, txnID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item, true, nil
}

// UpdateFeedback implements review.Repository, transitioning an item's
// feedback status and returning the updated row.
func (r *ReviewRepository) UpdateFeedback(ctx context.Context, txnID, status, by string, at time.Time) (*models.ReviewQueueItem, error) {
	query := `
		UPDATE review_queue_items
		SET feedback_status = $2, feedback_at = $3, feedback_by = $4
		WHERE txn_id = $1
		RETURNING txn_id, client_id, action, composite_score, risk_level, triggered_rule_ids,
		          enqueued_at, feedback_status, feedback_at, feedback_by, auto_accept_deadline
	`
	return scanReviewItem(r.db.Pool.QueryRow(ctx, query, txnID, status, at, by))
}

// ListPendingExpired implements review.Repository, for the auto-accept sweep.
func (r *ReviewRepository) ListPendingExpired(ctx context.Context, now time.Time) ([]models.ReviewQueueItem, error) {
	query := `
		SELECT txn_id, client_id, action, composite_score, risk_level, triggered_rule_ids,
		       enqueued_at, feedback_status, feedback_at, feedback_by, auto_accept_deadline
		FROM review_queue_items
		WHERE feedback_status = $1 AND auto_accept_deadline <= $2
	`
	rows, err := r.db.Pool.Query(ctx, query, models.FeedbackPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReviewItems(rows)
}

// ListTerminalSince implements review.Repository, feeding the
// weight-adjustment loop's per-rule precision computation.
func (r *ReviewRepository) ListTerminalSince(ctx context.Context, since time.Time) ([]models.ReviewQueueItem, error) {
	query := `
		SELECT txn_id, client_id, action, composite_score, risk_level, triggered_rule_ids,
		       enqueued_at, feedback_status, feedback_at, feedback_by, auto_accept_deadline
		FROM review_queue_items
		WHERE feedback_status <> $1 AND feedback_at >= $2
	`
	rows, err := r.db.Pool.Query(ctx, query, models.FeedbackPending, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReviewItems(rows)
}

// AppendWeightChange implements review.Repository, logging one
// weight-adjustment decision to the append-only audit trail.
func (r *ReviewRepository) AppendWeightChange(ctx context.Context, change models.RuleWeightChange) error {
	query := `
		INSERT INTO rule_weight_changes (rule_id, old_weight, new_weight, reason, ts)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Pool.Exec(ctx, query, change.RuleID, change.OldWeight, change.NewWeight, change.Reason, change.Timestamp)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReviewItem(row rowScanner) (*models.ReviewQueueItem, error) {
	item := &models.ReviewQueueItem{}
	err := row.Scan(
		&item.TxnID, &item.ClientID, &item.Action, &item.CompositeScore, &item.RiskLevel, pq.Array(&item.TriggeredRuleIDs),
		&item.EnqueuedAt, &item.FeedbackStatus, &item.FeedbackAt, &item.FeedbackBy, &item.AutoAcceptDeadline,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func scanReviewItems(rows pgx.Rows) ([]models.ReviewQueueItem, error) {
	var out []models.ReviewQueueItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}
