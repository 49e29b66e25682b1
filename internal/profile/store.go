package profile

import (
	"context"
	"sync"

	"github.com/enterprise/risk-engine/internal/counters"
	"github.com/enterprise/risk-engine/internal/models"
)

// Repository is the persistence-adapter boundary for profiles (out of scope in
// detail per spec.md §1; see internal/repositories for a pgx-backed
// implementation).
type Repository interface {
	Get(ctx context.Context, clientID string) (*ClientProfile, error)
	Save(ctx context.Context, p *ClientProfile) error
}

// ErrNotFound is returned by Repository.Get when no profile has been persisted yet.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "profile: not found" }

// TransactionHistoryReader resolves same-day beneficiary history, used only to
// rehydrate "new beneficiaries today" on restart (DESIGN.md Open Question #2).
type TransactionHistoryReader interface {
	BeneficiariesSeenOnDay(ctx context.Context, clientID, dayBucket string) ([]string, error)
}

// Store holds one ClientProfile per client. Mutation of a given profile is the
// exclusive responsibility of the single writer that owns that clientID (the
// sharded worker pool, spec.md §9); Store itself only guards the top-level map
// so concurrent GetOrCreate/Get calls across shards (and HTTP-surface reads)
// never race on map access.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]*ClientProfile

	repo   Repository               // optional; nil means in-memory only
	txRead TransactionHistoryReader // optional; nil disables rehydration
}

// NewStore creates an in-memory profile store, optionally backed by a
// persistence adapter and a transaction-history reader for rehydration.
func NewStore(repo Repository, txRead TransactionHistoryReader) *Store {
	return &Store{
		profiles: make(map[string]*ClientProfile),
		repo:     repo,
		txRead:   txRead,
	}
}

// Get returns the profile for clientID if one already exists in memory, without
// creating it or touching the repository.
func (s *Store) Get(clientID string) (*ClientProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[clientID]
	return p, ok
}

// GetOrCreate returns the in-memory profile for clientID, loading it from the
// repository (or creating a fresh one) on first access, and rehydrating the
// "new beneficiaries today" set from transaction history when needed.
func (s *Store) GetOrCreate(ctx context.Context, clientID string, today string, cs *counters.Store) (*ClientProfile, error) {
	if p, ok := s.Get(clientID); ok {
		return p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[clientID]; ok {
		return p, nil
	}

	var p *ClientProfile
	if s.repo != nil {
		loaded, err := s.repo.Get(ctx, clientID)
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		if loaded != nil {
			p = loaded
		}
	}
	if p == nil {
		p = NewClientProfile(clientID)
	}

	if p.TotalTxnCount > 0 && s.txRead != nil && cs != nil {
		if cs.NewBeneficiaryCountToday(clientID, today) == 0 {
			if keys, err := s.txRead.BeneficiariesSeenOnDay(ctx, clientID, today); err == nil && len(keys) > 0 {
				cs.SeedNewBeneficiariesToday(clientID, today, keys)
			}
		}
	}

	s.profiles[clientID] = p
	return p, nil
}

// Snapshot returns every profile currently held in memory, for the silence
// detector's periodic scan (spec.md §4.9). The returned slice is a point-in-time
// copy of the map's pointers; the profiles themselves may still be mutated
// concurrently by their owning shard.
func (s *Store) Snapshot() []*ClientProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ClientProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out
}

// Update folds txn into profile p's statistics per spec.md §4.1, then advances
// the live counter store. It must be called by the single writer that owns
// p.ClientID, and only after the evaluation result for txn has been persisted
// (spec.md §5: a transaction's own amount is not counted in its own context).
func Update(p *ClientProfile, txn models.Transaction, cs *counters.Store, alpha float64) {
	// Step 1: EWMA + Welford on amount, amount-per-type, amount-per-beneficiary.
	p.Amount.Update(alpha, txn.Amount)

	byType, ok := p.AmountByType[txn.TxnType]
	if !ok {
		byType = &Stat{}
		p.AmountByType[txn.TxnType] = byType
	}
	byType.Update(alpha, txn.Amount)

	if txn.BeneficiaryKey != "" {
		byBene, ok := p.AmountByBeneficiary[txn.BeneficiaryKey]
		if !ok {
			byBene = &Stat{}
			p.AmountByBeneficiary[txn.BeneficiaryKey] = byBene
		}
		byBene.Update(alpha, txn.Amount)
		p.BeneficiaryTxnCount[txn.BeneficiaryKey]++

		channels, ok := p.BeneficiaryChannels[txn.BeneficiaryKey]
		if !ok {
			channels = make(map[string]bool)
			p.BeneficiaryChannels[txn.BeneficiaryKey] = channels
		}
		channels[txn.TxnType] = true
	}

	// Step 2: hour/day bucket rollover.
	hourBucket := HourBucket(txn.Timestamp)
	if p.LastHourBucket != "" && hourBucket != p.LastHourBucket {
		count, amount := cs.RotateClientHour(p.ClientID, p.LastHourBucket)
		p.HourlyTps.Update(alpha, float64(count))
		p.HourlyAmount.Update(alpha, amount)
	}
	p.LastHourBucket = hourBucket

	dayBucket := DayBucket(txn.Timestamp)
	if p.LastDayBucket != "" && dayBucket != p.LastDayBucket {
		_, amount := cs.RotateClientDay(p.ClientID, p.LastDayBucket)
		newBeneCount := cs.NewBeneficiaryCountToday(p.ClientID, p.LastDayBucket)
		cs.ResetNewBeneficiariesToday(p.ClientID, p.LastDayBucket)
		p.DailyAmount.Update(alpha, amount)
		p.DailyNewBeneficiaries.Update(alpha, float64(newBeneCount))
	}
	p.LastDayBucket = dayBucket

	// Step 3: seasonal slots (amount-based, paired with the amount-anomaly family).
	hourSlot := HourOfDay(txn.Timestamp)
	hStat, ok := p.SeasonalHourly[hourSlot]
	if !ok {
		hStat = &Stat{}
		p.SeasonalHourly[hourSlot] = hStat
	}
	hStat.Update(alpha, txn.Amount)

	daySlot := DayOfWeek(txn.Timestamp)
	dStat, ok := p.SeasonalDaily[daySlot]
	if !ok {
		dStat = &Stat{}
		p.SeasonalDaily[daySlot] = dStat
	}
	dStat.Update(alpha, txn.Amount)

	// Step 4: counts.
	p.TotalTxnCount++
	p.TxnTypeCounts[txn.TxnType]++
	p.AmountCountByType[txn.TxnType]++

	isNewBene := false
	if txn.BeneficiaryKey != "" && !p.SeenBeneficiaries[txn.BeneficiaryKey] {
		p.SeenBeneficiaries[txn.BeneficiaryKey] = true
		p.DistinctBeneficiaryCount++
		isNewBene = true
	}

	// Step 5.
	p.LastUpdated = txn.Timestamp

	// Live-counter advance happens last and is the only counter-store mutation
	// this call performs; the context snapshot read by the rule engine for this
	// same transaction was taken before this update ran (spec.md §5).
	cs.IncrClient(p.ClientID, hourBucket, dayBucket, txn.Amount)
	if txn.BeneficiaryKey != "" {
		cs.IncrBeneficiary(p.ClientID, txn.BeneficiaryKey, hourBucket, dayBucket, txn.Amount)
		if isNewBene {
			cs.AddNewBeneficiaryToday(p.ClientID, dayBucket, txn.BeneficiaryKey)
		}
	}
}
