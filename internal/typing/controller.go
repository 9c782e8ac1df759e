// Package typing keeps an outbound "typing…" indicator alive while a
// reply is being produced, and seals itself once the reply cycle is over
// so late tool-stream events cannot restart it.
package typing

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	// Interval between periodic onReplyStart invocations.
	Interval time.Duration // default 6s
	// TTL after which the periodic indicator stops.
	TTL time.Duration // default 2m
	// ReminderInterval between onTypingTimeout reminders after the TTL
	// fired.
	ReminderInterval time.Duration // default 5m
	// SilentToken suppresses typing for sentinel replies.
	SilentToken string // default "NO_REPLY"

	// OnReplyStart refreshes the channel-side typing indicator.
	OnReplyStart func()
	// OnTypingTimeout is invoked with the elapsed milliseconds when the
	// TTL expires, then again on every reminder tick. Optional.
	OnTypingTimeout func(elapsedMS int64)
}

// Controller bridges a run's liveness to the outbound channel's typing
// indicator. All methods are safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	opts Options

	started      bool
	active       bool
	runComplete  bool
	dispatchIdle bool
	sealed       bool

	typingStartedAt time.Time

	typingTimer    *time.Timer
	typingTTLTimer *time.Timer
	reminderTimer  *time.Timer

	now func() time.Time
}

// NewController creates a controller for one reply cycle.
func NewController(opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = 6 * time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	if opts.ReminderInterval <= 0 {
		opts.ReminderInterval = 5 * time.Minute
	}
	if opts.SilentToken == "" {
		opts.SilentToken = "NO_REPLY"
	}
	return &Controller{opts: opts, now: time.Now}
}

// EnsureStart marks the cycle active and fires the first indicator.
// No-op once sealed or after the run completed.
func (c *Controller) EnsureStart() {
	c.mu.Lock()
	if c.sealed || c.runComplete {
		c.mu.Unlock()
		return
	}
	c.active = true
	fire := !c.started
	if fire {
		c.started = true
		c.typingStartedAt = c.now()
	}
	cb := c.opts.OnReplyStart
	c.mu.Unlock()

	if fire && cb != nil {
		cb()
	}
}

// StartTypingLoop starts (or keeps alive) the periodic indicator.
// Idempotent; every call refreshes the TTL.
func (c *Controller) StartTypingLoop() {
	c.EnsureStart()

	c.mu.Lock()
	if c.sealed || c.runComplete {
		c.mu.Unlock()
		return
	}
	c.refreshTTLLocked()
	if c.typingTimer == nil {
		interval := c.opts.Interval
		c.typingTimer = time.AfterFunc(interval, c.typingTick)
	}
	c.mu.Unlock()
}

// StartTypingOnText starts the loop for real content; empty text and the
// silent-reply sentinel do not count as content.
func (c *Controller) StartTypingOnText(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == c.opts.SilentToken {
		return
	}
	c.StartTypingLoop()
}

// RefreshTypingTTL pushes the TTL deadline out without touching the
// periodic timer.
func (c *Controller) RefreshTypingTTL() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return
	}
	c.refreshTTLLocked()
}

// MarkRunComplete records that the LLM run finished. When the dispatcher
// is also idle the controller cleans up and seals.
func (c *Controller) MarkRunComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return
	}
	c.runComplete = true
	c.maybeCleanupLocked()
}

// MarkDispatchIdle records that the dispatcher drained its queue. When
// the run is also complete the controller cleans up and seals.
func (c *Controller) MarkDispatchIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return
	}
	c.dispatchIdle = true
	c.maybeCleanupLocked()
}

// Sealed reports whether the cycle is over and the controller inert.
func (c *Controller) Sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}

// typingTick is the periodic timer body.
func (c *Controller) typingTick() {
	c.mu.Lock()
	if c.sealed || c.runComplete || c.typingTimer == nil {
		c.mu.Unlock()
		return
	}
	c.typingTimer.Reset(c.opts.Interval)
	cb := c.opts.OnReplyStart
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// refreshTTLLocked resets the TTL deadline. Caller holds c.mu.
func (c *Controller) refreshTTLLocked() {
	if c.typingTTLTimer != nil {
		c.typingTTLTimer.Stop()
	}
	c.typingTTLTimer = time.AfterFunc(c.opts.TTL, c.ttlExpired)
	if c.reminderTimer != nil {
		c.reminderTimer.Stop()
		c.reminderTimer = nil
	}
}

// ttlExpired stops the periodic indicator but keeps the controller alive
// for reminders.
func (c *Controller) ttlExpired() {
	c.mu.Lock()
	if c.sealed || c.runComplete {
		c.mu.Unlock()
		return
	}
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	cb := c.opts.OnTypingTimeout
	var elapsed int64
	if cb != nil && !c.typingStartedAt.IsZero() {
		elapsed = c.now().Sub(c.typingStartedAt).Milliseconds()
	} else {
		cb = nil
	}
	if cb != nil && c.reminderTimer == nil {
		c.reminderTimer = time.AfterFunc(c.opts.ReminderInterval, c.reminderTick)
	}
	c.mu.Unlock()

	if cb != nil {
		slog.Debug("typing ttl expired", "elapsed_ms", elapsed)
		cb(elapsed)
	}
}

// reminderTick re-fires the timeout callback until sealed or run-complete.
func (c *Controller) reminderTick() {
	c.mu.Lock()
	if c.sealed || c.runComplete || c.reminderTimer == nil {
		c.mu.Unlock()
		return
	}
	c.reminderTimer.Reset(c.opts.ReminderInterval)
	cb := c.opts.OnTypingTimeout
	var elapsed int64
	if cb != nil && !c.typingStartedAt.IsZero() {
		elapsed = c.now().Sub(c.typingStartedAt).Milliseconds()
	} else {
		cb = nil
	}
	c.mu.Unlock()

	if cb != nil {
		cb(elapsed)
	}
}

// maybeCleanupLocked seals the controller once both completion flags are
// set. Caller holds c.mu. Seal is permanent for the cycle.
func (c *Controller) maybeCleanupLocked() {
	if !c.runComplete || !c.dispatchIdle {
		return
	}
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	if c.typingTTLTimer != nil {
		c.typingTTLTimer.Stop()
		c.typingTTLTimer = nil
	}
	if c.reminderTimer != nil {
		c.reminderTimer.Stop()
		c.reminderTimer = nil
	}
	c.started = false
	c.active = false
	c.typingStartedAt = time.Time{}
	c.sealed = true
}
