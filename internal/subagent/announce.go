package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/openclaw/internal/cliexec"
	"github.com/nextlevelbuilder/openclaw/internal/config"
	"github.com/nextlevelbuilder/openclaw/internal/gateway"
	"github.com/nextlevelbuilder/openclaw/internal/store"
	"github.com/nextlevelbuilder/openclaw/internal/transcript"
)

// announceWaitCap bounds how long the announce flow waits for the child
// run to finalize, regardless of the run's own timeout.
const announceWaitCap = 60_000

// summaryLimit caps the extracted child summary.
const summaryLimit = 200

// summaryMarker lets a child flag the part of its reply meant for the
// parent.
const summaryMarker = "SUMMARY:"

// Dispatcher is the parent session's cooperative queue, consulted before
// sending an announcement directly.
type Dispatcher interface {
	// QueueMode returns the session's queue settings mode
	// (store.QueueMode* constants).
	QueueMode(sessionKey string) string
	// RunActive reports whether an LLM run is currently executing for the
	// session.
	RunActive(sessionKey string) bool
	// Steer injects a message into the session's running LLM run so it
	// arrives mid-dialogue. Returns false when no run accepted it.
	Steer(sessionKey, message string) bool
	// EnqueueAnnouncement queues the message for delivery when the current
	// run finishes. Returns false when the queue refused it.
	EnqueueAnnouncement(sessionKey, message string) bool
}

// Announcer converts finished children into bounded parent messages.
// Every outbound step is best-effort: failures are logged and swallowed;
// core invariants never depend on external success.
type Announcer struct {
	mgr        *Manager
	gw         *gateway.Client
	sessions   *store.SessionStore
	dispatcher Dispatcher
	models     map[string]config.ModelConfig
	waitMS     int
}

// NewAnnouncer wires the announce flow. dispatcher may be nil (direct
// sends only).
func NewAnnouncer(mgr *Manager, gw *gateway.Client, sessions *store.SessionStore, dispatcher Dispatcher, models map[string]config.ModelConfig, waitMS int) *Announcer {
	if waitMS <= 0 || waitMS > announceWaitCap {
		waitMS = announceWaitCap
	}
	return &Announcer{mgr: mgr, gw: gw, sessions: sessions, dispatcher: dispatcher, models: models, waitMS: waitMS}
}

var announceTracer = otel.Tracer("github.com/nextlevelbuilder/openclaw/internal/subagent")

// Announce runs the full announce flow for a completed child run.
func (a *Announcer) Announce(ctx context.Context, runID string) {
	ctx, span := announceTracer.Start(ctx, "subagent.announce")
	span.SetAttributes(attribute.String("run_id", runID))
	defer span.End()

	res, ok := a.mgr.Get(runID)
	if !ok {
		slog.Debug("announce: run not completed", "run_id", runID)
		return
	}
	if res.Notified {
		return
	}

	// Let the gateway-side run settle; backfill timing from its reply.
	if a.gw != nil {
		if wait, err := a.gw.AgentWait(ctx, runID, a.waitMS); err != nil {
			slog.Warn("announce: agent.wait failed", "run_id", runID, "error", err)
		} else {
			if res.StartedAt.IsZero() && wait.StartedAt > 0 {
				res.StartedAt = time.UnixMilli(wait.StartedAt)
			}
			if res.EndedAt.IsZero() && wait.EndedAt > 0 {
				res.EndedAt = time.UnixMilli(wait.EndedAt)
			}
		}
	}

	childMeta := a.sessions.GetOrCreate(res.ChildSessionKey)
	reply := a.latestReply(childMeta.TranscriptPath)

	summary := res.Summary
	if summary == "" {
		summary = ExtractSummary(reply, summaryLimit)
	}

	stats := a.statsLine(res, childMeta)
	message := a.triggerMessage(res, summary, stats)

	delivered := a.deliver(ctx, res, message)
	if delivered {
		a.mgr.MarkNotified(runID)
	}

	// Best-effort follow-ups.
	if a.gw != nil && res.Label != "" {
		if err := a.gw.SessionsPatch(ctx, res.ChildSessionKey, res.Label); err != nil {
			slog.Warn("announce: sessions.patch failed", "run_id", runID, "error", err)
		}
	}
	if res.Cleanup == CleanupDelete && !res.PlanMode {
		if a.gw != nil {
			if err := a.gw.SessionsDelete(ctx, res.ChildSessionKey, true); err != nil {
				slog.Warn("announce: sessions.delete failed", "run_id", runID, "error", err)
			}
		}
		if err := a.sessions.Delete(res.ChildSessionKey, true); err != nil {
			slog.Warn("announce: local session delete failed", "run_id", runID, "error", err)
		}
	}
}

func (a *Announcer) latestReply(path string) string {
	if path == "" {
		return ""
	}
	reply, err := transcript.LatestAssistantText(path)
	if err != nil {
		slog.Debug("announce: transcript read failed", "path", path, "error", err)
		return ""
	}
	return reply
}

// deliver routes the trigger message: steer into a running run, queue on
// the dispatcher, or send directly through the gateway.
func (a *Announcer) deliver(ctx context.Context, res *Result, message string) bool {
	parent := res.RequesterSessionKey

	mode := store.QueueModeOff
	if a.dispatcher != nil {
		mode = a.dispatcher.QueueMode(parent)
	}

	if mode == store.QueueModeSteer || mode == store.QueueModeSteerBacklog {
		if a.dispatcher.Steer(parent, message) {
			slog.Info("announce steered", "run_id", res.RunID, "session", parent)
			return true
		}
	}

	switch mode {
	case store.QueueModeFollowup, store.QueueModeCollect, store.QueueModeSteerBacklog,
		store.QueueModeInterrupt, store.QueueModeSteer:
		if a.dispatcher.RunActive(parent) && a.dispatcher.EnqueueAnnouncement(parent, message) {
			slog.Info("announce queued", "run_id", res.RunID, "session", parent)
			return true
		}
	}

	if a.gw == nil {
		return false
	}
	origin := a.resolveOrigin(res)
	err := a.gw.Agent(ctx, gateway.AgentParams{
		SessionKey:     parent,
		Message:        message,
		Channel:        origin.Channel,
		AccountID:      origin.AccountID,
		To:             origin.To,
		ThreadID:       origin.ThreadID,
		Deliver:        true,
		ExpectFinal:    true,
		IdempotencyKey: "subagent-announce:" + res.RunID,
	})
	if err != nil {
		slog.Warn("announce delivery failed", "run_id", res.RunID, "error", err)
		return false
	}
	slog.Info("announce delivered", "run_id", res.RunID, "session", parent)
	return true
}

// resolveOrigin merges the spawn-captured requester origin over the
// session's stored last-channel address; spawn-captured values are fresher
// and win. An empty origin routes by session alone.
func (a *Announcer) resolveOrigin(res *Result) store.Origin {
	stored := a.sessions.GetOrCreate(res.RequesterSessionKey).StoredOrigin()
	return stored.Merge(res.Origin)
}

// triggerMessage builds the parent-facing announcement: a plan-approval
// prompt, a plan-failure notice, or the standard completion summary.
func (a *Announcer) triggerMessage(res *Result, summary, stats string) string {
	label := displayLabel(res.Label, res.Task)

	if res.PlanMode {
		if res.Outcome.Status == StatusOK {
			return fmt.Sprintf("Subagent '%s' finished planning.\nPlan summary: %s\n%s\nReply 'approve' to execute the plan or give new instructions.",
				label, orNA(summary), stats)
		}
		return fmt.Sprintf("Subagent '%s' failed while planning (%s).\n%s\n%s",
			label, res.Outcome.Status, orNA(res.Outcome.Error), stats)
	}

	return fmt.Sprintf("Subagent task completed.\nLabel: %s\nStatus: %s\nSummary: %s\n%s",
		label, res.Outcome.Status, orNA(summary), stats)
}

// statsLine renders runtime, tokens, estimated cost, and child session
// coordinates. Missing values render as n/a.
func (a *Announcer) statsLine(res *Result, childMeta *store.SessionMeta) string {
	runtime := "n/a"
	if !res.StartedAt.IsZero() && !res.EndedAt.IsZero() && res.EndedAt.After(res.StartedAt) {
		runtime = formatDurationCompact(res.EndedAt.Sub(res.StartedAt))
	}

	tokens := "n/a"
	if !res.Usage.IsZero() {
		total := res.Usage.TotalTokens
		if total == 0 {
			total = res.Usage.InputTokens + res.Usage.OutputTokens
		}
		tokens = fmt.Sprintf("%d in / %d out / %d total",
			res.Usage.InputTokens, res.Usage.OutputTokens, total)
	}

	cost := "n/a"
	if c := a.estimateCost(res.Model, res.Usage); c > 0 {
		cost = fmt.Sprintf("$%.4f", c)
	}

	return fmt.Sprintf("Stats: runtime %s | tokens %s | cost %s | session %s | id %s | transcript %s",
		runtime, tokens, cost,
		orNA(res.ChildSessionKey), orNA(childMeta.CLISessionID), orNA(childMeta.TranscriptPath))
}

func (a *Announcer) estimateCost(model string, u cliexec.Usage) float64 {
	mc, ok := a.models[model]
	if !ok || mc.Cost == nil {
		return 0
	}
	return float64(u.InputTokens)/1e6*mc.Cost.Input + float64(u.OutputTokens)/1e6*mc.Cost.Output
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "n/a"
	}
	return s
}

// ExtractSummary pulls a bounded summary out of a child reply: the text
// after the last SUMMARY: marker when present, otherwise the trailing
// limit characters.
func ExtractSummary(reply string, limit int) string {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ""
	}
	if idx := strings.LastIndex(reply, summaryMarker); idx >= 0 {
		reply = strings.TrimSpace(reply[idx+len(summaryMarker):])
	}
	if len(reply) > limit {
		reply = reply[len(reply)-limit:]
	}
	return reply
}

// formatDurationCompact renders a duration like 45s, 3m12s, or 1h04m.
func formatDurationCompact(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
