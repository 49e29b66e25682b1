package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu    sync.Mutex
	calls []string
	err   error
	delay time.Duration
}

func (s *recordingSender) Send(ctx context.Context, subject, body string) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.calls = append(s.calls, subject)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestNotify_DeliversAsynchronouslyAndCountsSuccess(t *testing.T) {
	sender := &recordingSender{}
	n := New(sender, time.Second)

	n.Notify(context.Background(), "subject", "body")

	waitUntil(t, func() bool { return n.Sent() == 1 })
	if n.Failed() != 0 {
		t.Fatalf("Failed() = %d, want 0", n.Failed())
	}
	if sender.callCount() != 1 {
		t.Fatalf("sender calls = %d, want 1", sender.callCount())
	}
}

func TestNotify_CountsFailureWithoutPropagatingError(t *testing.T) {
	sender := &recordingSender{err: errors.New("delivery failed")}
	n := New(sender, time.Second)

	n.Notify(context.Background(), "subject", "body") // must not panic or return an error

	waitUntil(t, func() bool { return n.Failed() == 1 })
	if n.Sent() != 0 {
		t.Fatalf("Sent() = %d, want 0", n.Sent())
	}
}

func TestNotify_NilSenderIsNoop(t *testing.T) {
	n := New(nil, time.Second)
	n.Notify(context.Background(), "subject", "body")
	time.Sleep(10 * time.Millisecond)
	if n.Sent() != 0 || n.Failed() != 0 {
		t.Fatalf("Sent/Failed = %d/%d, want 0/0 with a nil sender", n.Sent(), n.Failed())
	}
}

func TestNotify_BoundsDeliveryToTimeoutIndependentOfCallerContext(t *testing.T) {
	sender := &recordingSender{delay: 50 * time.Millisecond}
	n := New(sender, 5*time.Millisecond)

	callerCtx, cancel := context.WithCancel(context.Background())
	n.Notify(callerCtx, "subject", "body")
	cancel() // cancelling the caller's context must not affect the detached send

	waitUntil(t, func() bool { return n.Failed() == 1 })
	if n.Sent() != 0 {
		t.Fatalf("Sent() = %d, want 0: the short timeout should have fired first", n.Sent())
	}
}

func TestNoopSender_AlwaysSucceeds(t *testing.T) {
	if err := (NoopSender{}).Send(context.Background(), "s", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
