package review

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/models"
)

// AutoAcceptSweeper periodically transitions PENDING review items past their
// autoAcceptDeadline to AUTO_ACCEPTED (spec.md §4.7), grounded on the
// teacher's internal/scoring/worker.go ticker/stopCh shutdown shape.
type AutoAcceptSweeper struct {
	svc      *Service
	interval time.Duration
	stopCh   chan struct{}
}

// NewAutoAcceptSweeper builds a sweeper that runs every interval.
func NewAutoAcceptSweeper(svc *Service, interval time.Duration) *AutoAcceptSweeper {
	return &AutoAcceptSweeper{svc: svc, interval: interval, stopCh: make(chan struct{})}
}

// Run blocks, sweeping on every tick until ctx is cancelled or Stop is called.
func (a *AutoAcceptSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.sweepOnce(ctx)
		}
	}
}

func (a *AutoAcceptSweeper) sweepOnce(ctx context.Context) {
	now := time.Now()
	expired, err := a.svc.repo.ListPendingExpired(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("auto-accept sweep: failed to list expired pending items")
		return
	}
	if len(expired) == 0 {
		return
	}

	accepted := 0
	for _, item := range expired {
		if _, err := a.svc.repo.UpdateFeedback(ctx, item.TxnID, models.FeedbackAutoAccepted, "", now); err != nil {
			log.Warn().Err(err).Str("txn_id", item.TxnID).Msg("auto-accept sweep: failed to transition item")
			continue
		}
		accepted++
	}

	a.svc.metrics.mu.Lock()
	a.svc.metrics.AutoAccepted += int64(accepted)
	a.svc.metrics.mu.Unlock()

	log.Info().Int("expired", len(expired)).Int("accepted", accepted).Msg("auto-accept sweep completed")
}

// Stop requests a graceful shutdown; in-flight sweeps run to completion.
func (a *AutoAcceptSweeper) Stop() {
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
}
