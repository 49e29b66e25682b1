package profile

import (
	"context"
	"testing"
	"time"

	"github.com/enterprise/risk-engine/internal/counters"
	"github.com/enterprise/risk-engine/internal/models"
)

func TestStore_GetOrCreate_CreatesOnFirstAccess(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()

	p, err := s.GetOrCreate(ctx, "client-1", "19000", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ClientID != "client-1" {
		t.Fatalf("ClientID = %s, want client-1", p.ClientID)
	}
	if p.TotalTxnCount != 0 {
		t.Fatalf("TotalTxnCount = %d, want 0 for a fresh profile", p.TotalTxnCount)
	}

	again, err := s.GetOrCreate(ctx, "client-1", "19000", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != p {
		t.Fatal("GetOrCreate returned a different pointer on second call, want the same in-memory profile")
	}
}

func TestStore_Get_FalseWhenAbsent(t *testing.T) {
	s := NewStore(nil, nil)
	if _, ok := s.Get("missing"); ok {
		t.Fatal("Get reported a profile for a client never created")
	}
}

func TestStore_Snapshot_ReturnsAllHeldProfiles(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	if _, err := s.GetOrCreate(ctx, "a", "19000", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.GetOrCreate(ctx, "b", "19000", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(s.Snapshot()); got != 2 {
		t.Fatalf("Snapshot length = %d, want 2", got)
	}
}

// Update must fold the transaction's amount into the profile and bump counts
// before the next hour/day bucket is recorded, without touching the live
// counter store until after the profile's own statistics are updated.
func TestUpdate_FoldsAmountAndAdvancesCounts(t *testing.T) {
	p := NewClientProfile("client-1")
	cs := counters.New()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	txn := models.Transaction{
		TxnID:          "t1",
		ClientID:       "client-1",
		TxnType:        models.TxnTypeNEFT,
		Amount:         1000,
		Timestamp:      ts,
		BeneficiaryKey: "bene-1",
	}

	Update(p, txn, cs, 0.3)

	if p.TotalTxnCount != 1 {
		t.Fatalf("TotalTxnCount = %d, want 1", p.TotalTxnCount)
	}
	if p.Amount.Value != 1000 {
		t.Fatalf("Amount.Value = %v, want 1000 on first sample", p.Amount.Value)
	}
	if p.TxnTypeCounts[models.TxnTypeNEFT] != 1 {
		t.Fatalf("TxnTypeCounts[NEFT] = %d, want 1", p.TxnTypeCounts[models.TxnTypeNEFT])
	}
	if !p.SeenBeneficiaries["bene-1"] {
		t.Fatal("beneficiary bene-1 not marked seen")
	}
	if p.DistinctBeneficiaryCount != 1 {
		t.Fatalf("DistinctBeneficiaryCount = %d, want 1", p.DistinctBeneficiaryCount)
	}
	if p.LastHourBucket != HourBucket(ts) {
		t.Fatalf("LastHourBucket = %s, want %s", p.LastHourBucket, HourBucket(ts))
	}

	count, amount := cs.SnapshotClientHour("client-1", HourBucket(ts))
	if count != 1 || amount != 1000 {
		t.Fatalf("live counter snapshot = (%d, %v), want (1, 1000)", count, amount)
	}
}

// Crossing an hour boundary rolls the completed hour's count/amount into the
// HourlyTps/HourlyAmount stats exactly once, then resets the live counter via
// RotateClientHour.
func TestUpdate_RolloverFoldsCompletedHourIntoStats(t *testing.T) {
	p := NewClientProfile("client-1")
	cs := counters.New()
	hour1 := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	hour2 := time.Date(2026, 3, 1, 11, 5, 0, 0, time.UTC)

	Update(p, models.Transaction{ClientID: "client-1", TxnType: models.TxnTypeNEFT, Amount: 100, Timestamp: hour1}, cs, 0.3)
	Update(p, models.Transaction{ClientID: "client-1", TxnType: models.TxnTypeNEFT, Amount: 200, Timestamp: hour1.Add(10 * time.Minute)}, cs, 0.3)

	if p.HourlyTps.Count != 0 {
		t.Fatalf("HourlyTps.Count = %d, want 0 before any hour boundary is crossed", p.HourlyTps.Count)
	}

	Update(p, models.Transaction{ClientID: "client-1", TxnType: models.TxnTypeNEFT, Amount: 50, Timestamp: hour2}, cs, 0.3)

	if p.HourlyTps.Count != 1 {
		t.Fatalf("HourlyTps.Count = %d, want 1 after the first completed hour", p.HourlyTps.Count)
	}
	if p.HourlyTps.Value != 2 {
		t.Fatalf("HourlyTps.Value = %v, want 2 (two transactions in the completed hour)", p.HourlyTps.Value)
	}
	if p.HourlyAmount.Value != 300 {
		t.Fatalf("HourlyAmount.Value = %v, want 300 (sum of the completed hour's amounts)", p.HourlyAmount.Value)
	}

	// the completed hour's counter must have been rotated, not left to accumulate
	count, _ := cs.SnapshotClientHour("client-1", HourBucket(hour1))
	if count != 0 {
		t.Fatalf("completed hour's live counter = %d, want 0 after rotation", count)
	}
}
