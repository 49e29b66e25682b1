package silence

import (
	"context"
	"testing"
	"time"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/profile"
)

type recordingNotifier struct {
	notifications []string
}

func (r *recordingNotifier) Notify(ctx context.Context, subject, body string) {
	r.notifications = append(r.notifications, subject)
}

type recordingGauge struct {
	last int
}

func (g *recordingGauge) Set(alertedCount int) { g.last = alertedCount }

func testSilenceConfig() config.SilenceConfig {
	return config.SilenceConfig{
		Enabled:              true,
		CheckIntervalMinutes: 5,
		SilenceMultiplier:    3,
		MinExpectedTps:       0.001,
		MinCompletedHours:    1,
	}
}

func primedProfile(clientID string, hourlyTps float64, lastUpdated time.Time) *profile.ClientProfile {
	p := profile.NewClientProfile(clientID)
	p.HourlyTps.Update(0.3, hourlyTps)
	p.HourlyTps.Update(0.3, hourlyTps) // two samples so CompletedHoursCount >= 1 and the value has settled
	p.LastUpdated = lastUpdated
	return p
}

func TestScanOnce_FlagsClientPastExpectedGap(t *testing.T) {
	store := profile.NewStore(nil, nil)
	p := primedProfile("client-1", 10, time.Now().Add(-1*time.Hour))
	storeSet(store, p)

	notifier := &recordingNotifier{}
	gauge := &recordingGauge{}
	d := NewDetector(store, notifier, gauge, testSilenceConfig())
	d.scanOnce(context.Background())

	alerted := d.AlertedClients()
	if len(alerted) != 1 || alerted[0] != "client-1" {
		t.Fatalf("AlertedClients() = %v, want [client-1]", alerted)
	}
	if len(notifier.notifications) != 1 {
		t.Fatalf("notifications = %v, want exactly one alert", notifier.notifications)
	}
	if gauge.last != 1 {
		t.Fatalf("gauge = %d, want 1", gauge.last)
	}
}

func TestScanOnce_RecentActivityDoesNotTrigger(t *testing.T) {
	store := profile.NewStore(nil, nil)
	p := primedProfile("client-1", 10, time.Now())
	storeSet(store, p)

	notifier := &recordingNotifier{}
	d := NewDetector(store, notifier, nil, testSilenceConfig())
	d.scanOnce(context.Background())

	if len(d.AlertedClients()) != 0 {
		t.Fatalf("AlertedClients() = %v, want none", d.AlertedClients())
	}
	if len(notifier.notifications) != 0 {
		t.Fatalf("notifications = %v, want none", notifier.notifications)
	}
}

func TestScanOnce_BelowMinCompletedHoursIsSkipped(t *testing.T) {
	store := profile.NewStore(nil, nil)
	p := profile.NewClientProfile("client-1")
	p.LastUpdated = time.Now().Add(-24 * time.Hour)
	storeSet(store, p)

	notifier := &recordingNotifier{}
	d := NewDetector(store, notifier, nil, testSilenceConfig())
	d.scanOnce(context.Background())

	if len(d.AlertedClients()) != 0 {
		t.Fatalf("AlertedClients() = %v, want none: profile has zero completed hours", d.AlertedClients())
	}
}

func TestScanOnce_ResolvesWhenActivityResumes(t *testing.T) {
	store := profile.NewStore(nil, nil)
	p := primedProfile("client-1", 10, time.Now().Add(-1*time.Hour))
	storeSet(store, p)

	notifier := &recordingNotifier{}
	d := NewDetector(store, notifier, nil, testSilenceConfig())
	d.scanOnce(context.Background())
	if len(d.AlertedClients()) != 1 {
		t.Fatalf("expected client-1 to be alerted after the first scan")
	}

	p.LastUpdated = time.Now()
	d.scanOnce(context.Background())

	if len(d.AlertedClients()) != 0 {
		t.Fatalf("AlertedClients() = %v, want none after activity resumed", d.AlertedClients())
	}
	if len(notifier.notifications) != 2 {
		t.Fatalf("notifications = %v, want one alert and one resolution", notifier.notifications)
	}
}

func TestRun_NoopWhenDisabled(t *testing.T) {
	store := profile.NewStore(nil, nil)
	cfg := testSilenceConfig()
	cfg.Enabled = false
	d := NewDetector(store, &recordingNotifier{}, nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	d.Run(ctx) // must return immediately, not block on a ticker
}

// storeSet installs a profile directly into an in-memory Store for test setup,
// bypassing GetOrCreate's repository round trip.
func storeSet(s *profile.Store, p *profile.ClientProfile) {
	if existing, ok := s.Get(p.ClientID); ok && existing == p {
		return
	}
	s.GetOrCreate(context.Background(), p.ClientID, "", nil)
	got, _ := s.Get(p.ClientID)
	*got = *p
}
