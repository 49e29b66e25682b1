// Package profile implements the Profile Store & Updater (spec.md §4.1): the
// per-client behavioral aggregate built from streaming transactions using EWMA +
// Welford statistics across temporal and categorical slots.
package profile

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Stat is a combined EWMA + Welford accumulator. The mean tracked is the EWMA
// (not the plain running mean); M2 accumulates squared deviations from that
// EWMA mean sample-by-sample, giving a variance estimate that still reacts to
// distribution drift the way a plain Welford running-mean variance would not.
// Keep both — do not substitute one estimator for the other (spec.md §9).
type Stat struct {
	Value float64 // EWMA
	M2    float64 // Welford squared-delta sum
	Count int64   // samples folded in
}

// Update folds one sample into the accumulator with smoothing factor alpha. The
// first sample initializes Value directly (spec.md §4.1 EWMA convention).
func (s *Stat) Update(alpha, sample float64) {
	if s.Count == 0 {
		s.Value = sample
	} else {
		delta := sample - s.Value
		s.Value = (1-alpha)*s.Value + alpha*sample
		delta2 := sample - s.Value
		s.M2 += delta * delta2
	}
	s.Count++
}

// StdDev returns the sample standard deviation, 0 below two samples.
func (s *Stat) StdDev() float64 {
	if s.Count < 2 {
		return 0
	}
	v := s.M2 / float64(s.Count-1)
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

// CV returns the coefficient of variation (stddev/mean), 0 when mean is 0.
func (s *Stat) CV() float64 {
	if s.Value == 0 {
		return 0
	}
	return s.StdDev() / math.Abs(s.Value)
}

// ClientProfile is the mutable, per-client aggregate. It is mutated only by the
// single writer that owns clientID (see Store), so it carries no internal lock.
type ClientProfile struct {
	ClientID          string
	TotalTxnCount     int64
	TxnTypeCounts     map[string]int64
	AmountCountByType map[string]int64

	Amount       Stat
	AmountByType map[string]*Stat

	AmountByBeneficiary map[string]*Stat
	BeneficiaryTxnCount map[string]int64

	SeasonalHourly map[string]*Stat // "00".."23"
	SeasonalDaily  map[string]*Stat // "1".."7"

	LastHourBucket string
	LastDayBucket  string

	HourlyTps    Stat // one sample per completed hour
	HourlyAmount Stat // one sample per completed hour

	DailyAmount           Stat // one sample per completed day
	DailyNewBeneficiaries Stat // one sample per completed day

	DistinctBeneficiaryCount int64
	SeenBeneficiaries        map[string]bool

	BeneficiaryChannels map[string]map[string]bool // beneKey -> set of txn types seen

	LastUpdated time.Time
}

// NewClientProfile creates an empty profile for a client on its first transaction.
func NewClientProfile(clientID string) *ClientProfile {
	return &ClientProfile{
		ClientID:            clientID,
		TxnTypeCounts:       make(map[string]int64),
		AmountCountByType:   make(map[string]int64),
		AmountByType:        make(map[string]*Stat),
		AmountByBeneficiary: make(map[string]*Stat),
		BeneficiaryTxnCount: make(map[string]int64),
		SeasonalHourly:      make(map[string]*Stat),
		SeasonalDaily:       make(map[string]*Stat),
		SeenBeneficiaries:   make(map[string]bool),
		BeneficiaryChannels: make(map[string]map[string]bool),
	}
}

// CompletedHoursCount approximates how many hourly buckets have closed for this
// client, used by the silence detector's warm-up gate (spec.md §4.9).
func (p *ClientProfile) CompletedHoursCount() int64 { return p.HourlyTps.Count }

// CompletedDaysCount is used by DAILY_CUMULATIVE's warm-up gate.
func (p *ClientProfile) CompletedDaysCount() int64 { return p.DailyAmount.Count }

// CompletedDaysForBeneCount is used by NEW_BENE_VELOCITY's warm-up gate.
func (p *ClientProfile) CompletedDaysForBeneCount() int64 { return p.DailyNewBeneficiaries.Count }

// AmountStdDev implements spec.md §3's invariant directly off the Stat helper.
func (p *ClientProfile) AmountStdDev() float64 { return p.Amount.StdDev() }

// HourBucket computes the floor(ts/3600s) bucket key for a timestamp.
func HourBucket(ts time.Time) string {
	return strconv.FormatInt(ts.Unix()/3600, 10)
}

// DayBucket computes the floor(ts/86400s) bucket key for a timestamp.
func DayBucket(ts time.Time) string {
	return strconv.FormatInt(ts.Unix()/86400, 10)
}

// HourOfDay returns the "00".."23" seasonal slot key for a timestamp (UTC).
func HourOfDay(ts time.Time) string {
	return fmt.Sprintf("%02d", ts.UTC().Hour())
}

// DayOfWeek returns the "1".."7" seasonal slot key (Monday=1) for a timestamp.
func DayOfWeek(ts time.Time) string {
	wd := int(ts.UTC().Weekday()) // Sunday=0 .. Saturday=6
	if wd == 0 {
		wd = 7
	}
	return strconv.Itoa(wd)
}
