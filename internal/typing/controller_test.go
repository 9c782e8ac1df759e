package typing

import (
	"sync/atomic"
	"testing"
	"time"
)

func newTestController(starts *atomic.Int64) *Controller {
	return NewController(Options{
		Interval:     10 * time.Millisecond,
		TTL:          time.Hour,
		OnReplyStart: func() { starts.Add(1) },
	})
}

func TestEnsureStart_FiresOnce(t *testing.T) {
	var starts atomic.Int64
	c := newTestController(&starts)

	c.EnsureStart()
	c.EnsureStart()
	c.EnsureStart()

	if got := starts.Load(); got != 1 {
		t.Errorf("onReplyStart fired %d times, want 1", got)
	}
}

func TestStartTypingLoop_PeriodicRefresh(t *testing.T) {
	var starts atomic.Int64
	c := newTestController(&starts)

	c.StartTypingLoop()
	time.Sleep(55 * time.Millisecond)
	c.MarkRunComplete()
	c.MarkDispatchIdle()

	// Initial call plus several ticks.
	if got := starts.Load(); got < 3 {
		t.Errorf("onReplyStart fired %d times, want >= 3", got)
	}
}

func TestStartTypingOnText_SkipsSilentReplies(t *testing.T) {
	var starts atomic.Int64
	c := newTestController(&starts)

	c.StartTypingOnText("")
	c.StartTypingOnText("   ")
	c.StartTypingOnText("NO_REPLY")
	c.StartTypingOnText("  NO_REPLY  ")
	if got := starts.Load(); got != 0 {
		t.Fatalf("silent replies started typing %d times", got)
	}

	c.StartTypingOnText("real content")
	if got := starts.Load(); got != 1 {
		t.Errorf("real content fired %d times, want 1", got)
	}
}

// Once run-complete and dispatch-idle have both been seen, the controller
// is sealed: stale tool-stream events must not restart typing.
func TestSeal_BlocksLateEvents(t *testing.T) {
	var starts atomic.Int64
	c := newTestController(&starts)

	c.StartTypingLoop()
	before := starts.Load()

	c.MarkRunComplete()
	c.MarkDispatchIdle()
	if !c.Sealed() {
		t.Fatal("controller not sealed after both flags")
	}

	// Stale events from a tool stream that outlived the reply.
	c.EnsureStart()
	c.StartTypingLoop()
	c.StartTypingOnText("late tool output")
	c.RefreshTypingTTL()
	time.Sleep(30 * time.Millisecond)

	if got := starts.Load(); got != before {
		t.Errorf("onReplyStart fired %d more times after seal", got-before)
	}
}

func TestSeal_RequiresBothFlags(t *testing.T) {
	var starts atomic.Int64
	c := newTestController(&starts)
	c.StartTypingLoop()

	c.MarkRunComplete()
	if c.Sealed() {
		t.Fatal("sealed with only runComplete")
	}

	c2 := newTestController(&starts)
	c2.StartTypingLoop()
	c2.MarkDispatchIdle()
	if c2.Sealed() {
		t.Fatal("sealed with only dispatchIdle")
	}

	c2.MarkRunComplete()
	if !c2.Sealed() {
		t.Fatal("not sealed with both flags")
	}
}

func TestEnsureStart_NoopAfterRunComplete(t *testing.T) {
	var starts atomic.Int64
	c := newTestController(&starts)

	c.MarkRunComplete()
	c.EnsureStart()
	if got := starts.Load(); got != 0 {
		t.Errorf("onReplyStart fired %d times after run complete", got)
	}
}

func TestTTLExpiry_StopsTypingButFiresTimeout(t *testing.T) {
	var starts atomic.Int64
	timeouts := make(chan int64, 5)
	c := NewController(Options{
		Interval:         5 * time.Millisecond,
		TTL:              30 * time.Millisecond,
		ReminderInterval: time.Hour,
		OnReplyStart:     func() { starts.Add(1) },
		OnTypingTimeout:  func(ms int64) { timeouts <- ms },
	})

	c.StartTypingLoop()

	var elapsed int64
	select {
	case elapsed = <-timeouts:
	case <-time.After(time.Second):
		t.Fatal("onTypingTimeout never fired")
	}
	if elapsed < 0 {
		t.Errorf("elapsed = %d", elapsed)
	}

	// Periodic typing stopped after the TTL, but the controller is alive.
	at := starts.Load()
	time.Sleep(30 * time.Millisecond)
	if got := starts.Load(); got != at {
		t.Errorf("typing kept firing after ttl: %d -> %d", at, got)
	}
	if c.Sealed() {
		t.Error("ttl expiry must not seal the controller")
	}

	// A fresh loop call revives typing for the same cycle.
	c.StartTypingLoop()
	time.Sleep(20 * time.Millisecond)
	if got := starts.Load(); got <= at {
		t.Error("typing did not restart after ttl + new loop call")
	}

	c.MarkRunComplete()
	c.MarkDispatchIdle()
}
