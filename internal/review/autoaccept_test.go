package review

import (
	"context"
	"testing"
	"time"

	"github.com/enterprise/risk-engine/internal/models"
)

func TestSweepOnce_AutoAcceptsExpiredPendingItems(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	expired := pendingItem("t1")
	expired.AutoAcceptDeadline = time.Now().Add(-time.Minute)
	repo.Save(context.Background(), expired)

	fresh := pendingItem("t2")
	fresh.AutoAcceptDeadline = time.Now().Add(time.Hour)
	repo.Save(context.Background(), fresh)

	sweeper := NewAutoAcceptSweeper(svc, time.Hour)
	sweeper.sweepOnce(context.Background())

	item, ok, err := repo.Get(context.Background(), "t1")
	if err != nil || !ok {
		t.Fatalf("Get(t1) = %v, %v, %v", item, ok, err)
	}
	if item.FeedbackStatus != models.FeedbackAutoAccepted {
		t.Fatalf("t1 FeedbackStatus = %s, want AUTO_ACCEPTED", item.FeedbackStatus)
	}

	stillPending, _, _ := repo.Get(context.Background(), "t2")
	if stillPending.FeedbackStatus != models.FeedbackPending {
		t.Fatalf("t2 FeedbackStatus = %s, want still PENDING (deadline not yet reached)", stillPending.FeedbackStatus)
	}

	if got := svc.MetricsSnapshot().AutoAccepted; got != 1 {
		t.Fatalf("AutoAccepted metric = %d, want 1", got)
	}
}

func TestSweepOnce_NoExpiredItemsIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	fresh := pendingItem("t1")
	fresh.AutoAcceptDeadline = time.Now().Add(time.Hour)
	repo.Save(context.Background(), fresh)

	sweeper := NewAutoAcceptSweeper(svc, time.Hour)
	sweeper.sweepOnce(context.Background())

	if got := svc.MetricsSnapshot().AutoAccepted; got != 0 {
		t.Fatalf("AutoAccepted metric = %d, want 0 when nothing has expired", got)
	}
}
