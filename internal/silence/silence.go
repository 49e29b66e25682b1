// Package silence implements the silence detector (spec.md §4.9): a
// periodic scan that flags clients whose transaction flow has gone quiet for
// longer than their own EWMA-predicted cadence would suggest.
package silence

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-engine/internal/config"
	"github.com/enterprise/risk-engine/internal/profile"
)

// Notifier receives a silence alert or resolution; fire-and-forget per
// spec.md §5/§7 (see internal/notify).
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// GaugeSetter reports the current alerted-client count to an external metric.
type GaugeSetter interface {
	Set(alertedCount int)
}

// Detector scans every client profile on each tick and maintains the set of
// currently-alerted clients.
type Detector struct {
	profiles *profile.Store
	notifier Notifier
	gauge    GaugeSetter
	cfg      config.SilenceConfig

	mu      sync.RWMutex
	alerted map[string]time.Time // clientID -> time first alerted

	stopCh chan struct{}
}

// NewDetector builds a detector over profiles, notifying via notifier and
// optionally reporting the alerted-client count via gauge (nil disables it).
func NewDetector(profiles *profile.Store, notifier Notifier, gauge GaugeSetter, cfg config.SilenceConfig) *Detector {
	return &Detector{
		profiles: profiles,
		notifier: notifier,
		gauge:    gauge,
		cfg:      cfg,
		alerted:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, scanning every checkIntervalMinutes until ctx is cancelled or
// Stop is called. A no-op when cfg.Enabled is false.
func (d *Detector) Run(ctx context.Context) {
	if !d.cfg.Enabled {
		return
	}
	interval := time.Duration(d.cfg.CheckIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.scanOnce(ctx)
		}
	}
}

func (d *Detector) scanOnce(ctx context.Context) {
	now := time.Now()
	for _, p := range d.profiles.Snapshot() {
		if p.CompletedHoursCount() < int64(d.cfg.MinCompletedHours) {
			continue
		}
		ewmaHourlyTps := p.HourlyTps.Value
		if ewmaHourlyTps < d.cfg.MinExpectedTps {
			continue
		}

		expectedGap := time.Duration(3600/ewmaHourlyTps) * time.Second
		actualGap := now.Sub(p.LastUpdated)

		silent := actualGap > time.Duration(float64(expectedGap)*d.cfg.SilenceMultiplier)

		d.mu.Lock()
		_, wasAlerted := d.alerted[p.ClientID]
		switch {
		case silent && !wasAlerted:
			d.alerted[p.ClientID] = now
			d.mu.Unlock()
			d.notifier.Notify(ctx, "client silence detected",
				"client "+p.ClientID+" last transacted "+humanize.Time(p.LastUpdated)+
					"; expected one every "+humanize.RelTime(now, now.Add(expectedGap), "", ""))
			log.Warn().Str("client_id", p.ClientID).
				Float64("ewma_hourly_tps", ewmaHourlyTps).
				Dur("actual_gap", actualGap).
				Dur("expected_gap", expectedGap).
				Msg("client silence alert raised")
		case !silent && wasAlerted:
			delete(d.alerted, p.ClientID)
			d.mu.Unlock()
			d.notifier.Notify(ctx, "client silence resolved", "client "+p.ClientID+" has resumed transacting")
			log.Info().Str("client_id", p.ClientID).Msg("client silence resolved")
		default:
			d.mu.Unlock()
		}
	}

	if d.gauge != nil {
		d.mu.RLock()
		count := len(d.alerted)
		d.mu.RUnlock()
		d.gauge.Set(count)
	}
}

// AlertedClients returns the set of currently-alerted client IDs.
func (d *Detector) AlertedClients() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.alerted))
	for id := range d.alerted {
		out = append(out, id)
	}
	return out
}

// Stop requests a graceful shutdown.
func (d *Detector) Stop() {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
}
