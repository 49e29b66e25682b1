package counters

import (
	"sync"
	"testing"
)

func TestIncrClient_AccumulatesCountAndAmount(t *testing.T) {
	s := New()
	s.IncrClient("c1", "h1", "d1", 100.50)
	s.IncrClient("c1", "h1", "d1", 50.25)

	count, amount := s.SnapshotClientHour("c1", "h1")
	if count != 2 {
		t.Fatalf("hour count = %d, want 2", count)
	}
	if amount != 150.75 {
		t.Fatalf("hour amount = %v, want 150.75", amount)
	}

	dayCount, dayAmount := s.SnapshotClientDay("c1", "d1")
	if dayCount != 2 || dayAmount != 150.75 {
		t.Fatalf("day snapshot = (%d, %v), want (2, 150.75)", dayCount, dayAmount)
	}
}

func TestIncrClient_SeparatesByBucket(t *testing.T) {
	s := New()
	s.IncrClient("c1", "h1", "d1", 100)
	s.IncrClient("c1", "h2", "d1", 200)

	count, amount := s.SnapshotClientHour("c1", "h1")
	if count != 1 || amount != 100 {
		t.Fatalf("h1 snapshot = (%d, %v), want (1, 100)", count, amount)
	}
	count, amount = s.SnapshotClientHour("c1", "h2")
	if count != 1 || amount != 200 {
		t.Fatalf("h2 snapshot = (%d, %v), want (1, 200)", count, amount)
	}
}

func TestSnapshotClientHour_AbsentBucketReturnsZero(t *testing.T) {
	s := New()
	count, amount := s.SnapshotClientHour("unknown", "h1")
	if count != 0 || amount != 0 {
		t.Fatalf("snapshot for an untouched bucket = (%d, %v), want (0, 0)", count, amount)
	}
}

func TestIncrBeneficiary_AccumulatesPerClientBeneficiaryBucket(t *testing.T) {
	s := New()
	s.IncrBeneficiary("c1", "bene-1", "h1", "d1", 75)
	s.IncrBeneficiary("c1", "bene-1", "h1", "d1", 25)
	s.IncrBeneficiary("c1", "bene-2", "h1", "d1", 10)

	count, amount := s.SnapshotBeneficiaryHour("c1", "bene-1", "h1")
	if count != 2 || amount != 100 {
		t.Fatalf("bene-1 hour snapshot = (%d, %v), want (2, 100)", count, amount)
	}
	count, amount = s.SnapshotBeneficiaryDay("c1", "bene-2", "d1")
	if count != 1 || amount != 10 {
		t.Fatalf("bene-2 day snapshot = (%d, %v), want (1, 10)", count, amount)
	}
}

func TestRotateClientHour_ReturnsSnapshotAndDeletesBucket(t *testing.T) {
	s := New()
	s.IncrClient("c1", "h1", "d1", 300)

	count, amount := s.RotateClientHour("c1", "h1")
	if count != 1 || amount != 300 {
		t.Fatalf("RotateClientHour = (%d, %v), want (1, 300)", count, amount)
	}

	// the bucket must be gone after rotation, not merely reset in place
	afterCount, afterAmount := s.SnapshotClientHour("c1", "h1")
	if afterCount != 0 || afterAmount != 0 {
		t.Fatalf("snapshot after rotation = (%d, %v), want (0, 0)", afterCount, afterAmount)
	}
}

func TestRotateClientHour_AbsentBucketReturnsZero(t *testing.T) {
	s := New()
	count, amount := s.RotateClientHour("c1", "never-touched")
	if count != 0 || amount != 0 {
		t.Fatalf("RotateClientHour on an absent bucket = (%d, %v), want (0, 0)", count, amount)
	}
}

func TestRotateClientDay_ReturnsSnapshotAndDeletesBucket(t *testing.T) {
	s := New()
	s.IncrClient("c1", "h1", "d1", 500)

	count, amount := s.RotateClientDay("c1", "d1")
	if count != 1 || amount != 500 {
		t.Fatalf("RotateClientDay = (%d, %v), want (1, 500)", count, amount)
	}
	afterCount, _ := s.SnapshotClientDay("c1", "d1")
	if afterCount != 0 {
		t.Fatalf("snapshot after rotation = %d, want 0", afterCount)
	}
}

func TestAddNewBeneficiaryToday_TrueOnlyOnFirstSighting(t *testing.T) {
	s := New()
	if !s.AddNewBeneficiaryToday("c1", "d1", "bene-1") {
		t.Fatal("first sighting of bene-1 must return true")
	}
	if s.AddNewBeneficiaryToday("c1", "d1", "bene-1") {
		t.Fatal("second sighting of the same beneficiary on the same day must return false")
	}
	if !s.AddNewBeneficiaryToday("c1", "d1", "bene-2") {
		t.Fatal("first sighting of a distinct beneficiary must return true")
	}
	if got := s.NewBeneficiaryCountToday("c1", "d1"); got != 2 {
		t.Fatalf("NewBeneficiaryCountToday = %d, want 2", got)
	}
}

func TestSeedNewBeneficiariesToday_PopulatesSetWithoutDuplicates(t *testing.T) {
	s := New()
	s.SeedNewBeneficiariesToday("c1", "d1", []string{"bene-1", "bene-2", "bene-1"})
	if got := s.NewBeneficiaryCountToday("c1", "d1"); got != 2 {
		t.Fatalf("NewBeneficiaryCountToday after seeding = %d, want 2", got)
	}
	// a later sighting of an already-seeded beneficiary is not "new"
	if s.AddNewBeneficiaryToday("c1", "d1", "bene-1") {
		t.Fatal("a seeded beneficiary must not register as newly sighted")
	}
}

func TestResetNewBeneficiariesToday_ClearsTheSet(t *testing.T) {
	s := New()
	s.SeedNewBeneficiariesToday("c1", "d1", []string{"bene-1"})
	s.ResetNewBeneficiariesToday("c1", "d1")
	if got := s.NewBeneficiaryCountToday("c1", "d1"); got != 0 {
		t.Fatalf("NewBeneficiaryCountToday after reset = %d, want 0", got)
	}
}

func TestStore_ConcurrentIncrIsRaceFree(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrClient("c1", "h1", "d1", 1)
		}()
	}
	wg.Wait()

	count, amount := s.SnapshotClientHour("c1", "h1")
	if count != 100 || amount != 100 {
		t.Fatalf("concurrent increments = (%d, %v), want (100, 100)", count, amount)
	}
}
