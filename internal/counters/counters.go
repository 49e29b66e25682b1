// Package counters implements the Live Counter Store (spec.md §4.2): current-hour
// and current-day rolling counters keyed by client, type, and beneficiary, with
// atomic increment-on-transaction and rotate-on-bucket-change semantics.
package counters

import (
	"sync"
	"sync/atomic"
)

// bucketCounter holds the scalar counters for one (client, bucket) pair.
type bucketCounter struct {
	txnCount     int64 // atomic
	amountMicros int64 // atomic; amount accumulated in micro-rupees to keep Add atomic
}

func (b *bucketCounter) add(amount float64) {
	atomic.AddInt64(&b.txnCount, 1)
	atomic.AddInt64(&b.amountMicros, int64(amount*1e6))
}

func (b *bucketCounter) snapshot() (count int64, amount float64) {
	return atomic.LoadInt64(&b.txnCount), float64(atomic.LoadInt64(&b.amountMicros)) / 1e6
}

// Store is the Live Counter Store. Keys older than two buckets may be evicted by
// Rotate; callers rotate explicitly when the profile updater closes a bucket
// (spec.md §4.1 step 2), so the store itself stays a simple atomic map.
type Store struct {
	mu sync.RWMutex

	clientHour map[string]*bucketCounter // key: clientID|hourBucket
	clientDay  map[string]*bucketCounter // key: clientID|dayBucket

	beneHour map[string]*bucketCounter // key: clientID|beneKey|hourBucket
	beneDay  map[string]*bucketCounter // key: clientID|beneKey|dayBucket

	newBeneToday map[string]map[string]struct{} // key: clientID|dayBucket -> set<beneKey>
}

// New creates an empty live counter store.
func New() *Store {
	return &Store{
		clientHour:   make(map[string]*bucketCounter),
		clientDay:    make(map[string]*bucketCounter),
		beneHour:     make(map[string]*bucketCounter),
		beneDay:      make(map[string]*bucketCounter),
		newBeneToday: make(map[string]map[string]struct{}),
	}
}

func key2(a, b string) string { return a + "|" + b }
func key3(a, b, c string) string { return a + "|" + b + "|" + c }

func (s *Store) getOrCreate(m map[string]*bucketCounter, k string) *bucketCounter {
	s.mu.RLock()
	c, ok := m[k]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = m[k]; ok {
		return c
	}
	c = &bucketCounter{}
	m[k] = c
	return c
}

// IncrClient records one transaction of amount for clientID in the given
// hour/day buckets.
func (s *Store) IncrClient(clientID, hourBucket, dayBucket string, amount float64) {
	s.getOrCreate(s.clientHour, key2(clientID, hourBucket)).add(amount)
	s.getOrCreate(s.clientDay, key2(clientID, dayBucket)).add(amount)
}

// IncrBeneficiary records one transaction toward beneKey for clientID in the
// given hour/day buckets.
func (s *Store) IncrBeneficiary(clientID, beneKey, hourBucket, dayBucket string, amount float64) {
	s.getOrCreate(s.beneHour, key3(clientID, beneKey, hourBucket)).add(amount)
	s.getOrCreate(s.beneDay, key3(clientID, beneKey, dayBucket)).add(amount)
}

// SnapshotClientHour returns the current-hour txn count and amount for a client.
func (s *Store) SnapshotClientHour(clientID, hourBucket string) (int64, float64) {
	s.mu.RLock()
	c, ok := s.clientHour[key2(clientID, hourBucket)]
	s.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	return c.snapshot()
}

// SnapshotClientDay returns the current-day txn count and amount for a client.
func (s *Store) SnapshotClientDay(clientID, dayBucket string) (int64, float64) {
	s.mu.RLock()
	c, ok := s.clientDay[key2(clientID, dayBucket)]
	s.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	return c.snapshot()
}

// SnapshotBeneficiaryHour returns the current-hour txn count/amount toward beneKey.
func (s *Store) SnapshotBeneficiaryHour(clientID, beneKey, hourBucket string) (int64, float64) {
	s.mu.RLock()
	c, ok := s.beneHour[key3(clientID, beneKey, hourBucket)]
	s.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	return c.snapshot()
}

// SnapshotBeneficiaryDay returns the current-day txn count/amount toward beneKey.
func (s *Store) SnapshotBeneficiaryDay(clientID, beneKey, dayBucket string) (int64, float64) {
	s.mu.RLock()
	c, ok := s.beneDay[key3(clientID, beneKey, dayBucket)]
	s.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	return c.snapshot()
}

// RotateClientHour resets the client's hour counter after the profile updater
// has folded its values into ewmaHourlyTps/ewmaHourlyAmount, returning the
// pre-reset snapshot.
func (s *Store) RotateClientHour(clientID, hourBucket string) (int64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key2(clientID, hourBucket)
	c, ok := s.clientHour[k]
	if !ok {
		return 0, 0
	}
	count, amount := c.snapshot()
	delete(s.clientHour, k)
	return count, amount
}

// RotateClientDay resets the client's day counter, returning the pre-reset
// snapshot. The "new beneficiaries today" set is left in place;
// ResetNewBeneficiariesToday clears it.
func (s *Store) RotateClientDay(clientID, dayBucket string) (int64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key2(clientID, dayBucket)
	c, ok := s.clientDay[k]
	if !ok {
		return 0, 0
	}
	count, amount := c.snapshot()
	delete(s.clientDay, k)
	return count, amount
}

// AddNewBeneficiaryToday records beneKey as newly seen for clientID on dayBucket.
// Returns true if it was not already present (a genuinely new beneficiary today).
func (s *Store) AddNewBeneficiaryToday(clientID, dayBucket, beneKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key2(clientID, dayBucket)
	set, ok := s.newBeneToday[k]
	if !ok {
		set = make(map[string]struct{})
		s.newBeneToday[k] = set
	}
	if _, exists := set[beneKey]; exists {
		return false
	}
	set[beneKey] = struct{}{}
	return true
}

// NewBeneficiaryCountToday returns how many distinct beneficiaries clientID has
// sent to for the first time on dayBucket.
func (s *Store) NewBeneficiaryCountToday(clientID, dayBucket string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.newBeneToday[key2(clientID, dayBucket)])
}

// SeedNewBeneficiariesToday pre-populates the set, used by profile rehydration on
// restart (DESIGN.md Open Question #2) rather than accepting the discontinuity.
func (s *Store) SeedNewBeneficiariesToday(clientID, dayBucket string, beneKeys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key2(clientID, dayBucket)
	set, ok := s.newBeneToday[k]
	if !ok {
		set = make(map[string]struct{})
		s.newBeneToday[k] = set
	}
	for _, b := range beneKeys {
		set[b] = struct{}{}
	}
}

// ResetNewBeneficiariesToday clears the set for a rolled-over day bucket.
func (s *Store) ResetNewBeneficiariesToday(clientID, dayBucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.newBeneToday, key2(clientID, dayBucket))
}
