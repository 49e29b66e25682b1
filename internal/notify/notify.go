// Package notify is the fire-and-forget notification boundary used by the
// silence detector (spec.md §5/§7): failures are counted, never propagated,
// and never apply back-pressure to the caller. The scoring engine does not
// call it; a BLOCK outcome sends no notification.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Sender delivers one notification to an external channel (SMS, WhatsApp,
// webhook — concrete transport is out of scope per spec.md §1). Notify must
// not block the caller for longer than a short timeout.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// Notifier wraps a Sender with the fire-and-forget contract: Notify spawns a
// goroutine and returns immediately, so a slow or failing downstream channel
// never delays the evaluation pipeline or the silence detector's scan.
type Notifier struct {
	sender  Sender
	timeout time.Duration

	sent   atomic.Int64
	failed atomic.Int64
}

// New builds a Notifier over sender, bounding each delivery attempt to timeout.
func New(sender Sender, timeout time.Duration) *Notifier {
	return &Notifier{sender: sender, timeout: timeout}
}

// Notify fires a notification asynchronously; the caller never observes its
// outcome directly — see Sent/Failed for aggregate counts.
func (n *Notifier) Notify(ctx context.Context, subject, body string) {
	if n.sender == nil {
		return
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.sender.Send(sendCtx, subject, body); err != nil {
			n.failed.Add(1)
			log.Warn().Err(err).Str("subject", subject).Msg("notification delivery failed")
			return
		}
		n.sent.Add(1)
	}()
}

// Sent returns the running count of successfully delivered notifications.
func (n *Notifier) Sent() int64 { return n.sent.Load() }

// Failed returns the running count of failed delivery attempts.
func (n *Notifier) Failed() int64 { return n.failed.Load() }

// NoopSender discards every notification; used when no concrete channel is
// configured so the Notify call site never needs a nil check.
type NoopSender struct{}

// Send always succeeds without doing anything.
func (NoopSender) Send(ctx context.Context, subject, body string) error { return nil }
