package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/openclaw/internal/backend"
	"github.com/nextlevelbuilder/openclaw/internal/bus"
	"github.com/nextlevelbuilder/openclaw/internal/cliexec"
	"github.com/nextlevelbuilder/openclaw/internal/config"
	"github.com/nextlevelbuilder/openclaw/internal/gateway"
	"github.com/nextlevelbuilder/openclaw/internal/interact"
	"github.com/nextlevelbuilder/openclaw/internal/memory"
	"github.com/nextlevelbuilder/openclaw/internal/sessions"
	"github.com/nextlevelbuilder/openclaw/internal/store"
	"github.com/nextlevelbuilder/openclaw/internal/subagent"
	"github.com/nextlevelbuilder/openclaw/internal/tools"
	"github.com/nextlevelbuilder/openclaw/internal/tracing"
	"github.com/nextlevelbuilder/openclaw/internal/transcript"
	"github.com/nextlevelbuilder/openclaw/internal/typing"
	"github.com/nextlevelbuilder/openclaw/pkg/protocol"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		slog.Error("failed to setup tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("trace shutdown failed", "error", err)
		}
	}()

	msgBus := bus.NewMessageBus()

	sessionStore, err := store.NewSessionStore(cfg.Sessions.Storage)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}

	gw := gateway.NewClient(gateway.Options{
		URL:         cfg.Gateway.URL,
		Token:       cfg.GatewayToken(),
		CallsPerSec: cfg.Gateway.CallsPerSec,
		CallBurst:   cfg.Gateway.CallBurst,
		DialTimeout: time.Duration(cfg.Gateway.DialTimeoutS) * time.Second,
	})
	defer gw.Close()

	resolver := backend.NewResolver(cfg)
	queue := cliexec.NewRunQueue()
	transcripts := transcript.NewWriter(msgBus)
	runner := cliexec.NewRunner(resolver, queue, transcripts)

	registry := subagent.NewRegistry(cfg.Subagents.RegistryPath)
	mgr := subagent.NewManager(subagent.Config{
		MaxConcurrent:     cfg.Subagents.MaxConcurrent,
		MaxRetained:       cfg.Subagents.MaxRetained,
		ReservationTTL:    time.Duration(cfg.Subagents.ReservationTTLSec) * time.Second,
		HeartbeatCoalesce: time.Duration(cfg.Subagents.HeartbeatCoalesceMS) * time.Millisecond,
	}, registry, msgBus, func() {
		hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gw.Heartbeat(hctx); err != nil {
			slog.Debug("heartbeat failed", "error", err)
		}
	})

	dispatcher := subagent.NewStoreDispatcher(sessionStore)
	announcer := subagent.NewAnnouncer(mgr, gw, sessionStore, dispatcher, cfg.Models, cfg.Subagents.AnnounceWaitMS)

	interactions := interact.NewManager(
		time.Duration(cfg.Interact.TTLSeconds)*time.Second,
		time.Duration(cfg.Interact.CleanupSeconds)*time.Second,
	)

	var memIndex *memory.Index
	if cfg.Memory.Enabled {
		path := cfg.Memory.Path
		if path == "" {
			path = filepath.Join(cfg.Sessions.Storage, "memory.db")
		}
		memIndex, err = memory.Open(path, msgBus)
		if err != nil {
			slog.Error("failed to open memory index", "error", err)
			os.Exit(1)
		}
		defer memIndex.Close()
	}

	toolReg := tools.NewRegistry()
	toolReg.Register(tools.NewSessionsSpawnTool(mgr, gw, sessionStore))
	toolReg.Register(tools.NewSessionsSubagentRemoveTool(mgr))
	toolReg.Register(tools.NewSessionsListTool(sessionStore, mgr))
	toolReg.Register(tools.NewSessionsSendTool(sessionStore, gw))
	toolReg.Register(tools.NewSessionsHistoryTool(sessionStore, memIndex))

	rl := &runLoop{
		provider:     defaultProvider(cfg),
		mgr:          mgr,
		runner:       runner,
		sessions:     sessionStore,
		interactions: interactions,
		typing: typing.Options{
			Interval:         time.Duration(cfg.Typing.IntervalSeconds) * time.Second,
			TTL:              time.Duration(cfg.Typing.TTLSeconds) * time.Second,
			ReminderInterval: time.Duration(cfg.Typing.ReminderIntervalS) * time.Second,
			SilentToken:      cfg.Typing.SilentReplyToken,
		},
		notifyTyping: func(sessionKey string) {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := gw.Typing(tctx, sessionKey); err != nil {
				slog.Debug("typing signal failed", "session", sessionKey, "error", err)
			}
		},
	}

	// Execute the child run when a subagent is registered, and announce
	// completed children as the registry observes them.
	msgBus.Subscribe("run-loop", func(ev bus.Event) {
		p, ok := ev.Payload.(bus.AgentEventPayload)
		if !ok || p.Type != protocol.AgentEventSpawned {
			return
		}
		go rl.runSubagent(ctx, p.RunID)
	})

	// Inbound messages to a session with a pending question answer it and
	// resume the paused run.
	gw.OnEvent(func(name string, payload json.RawMessage) {
		if name != protocol.PushMessageReceived {
			return
		}
		var msg struct {
			SessionKey string `json:"sessionKey"`
			Text       string `json:"text"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil || msg.SessionKey == "" {
			return
		}
		rl.answer(ctx, msg.SessionKey, msg.Text)
	})
	msgBus.Subscribe("announce-flow", func(ev bus.Event) {
		p, ok := ev.Payload.(bus.AgentEventPayload)
		if !ok || p.Type != protocol.AgentEventCompleted {
			return
		}
		go announcer.Announce(ctx, p.RunID)
	})

	// Restore the durable registry. Live records republish as spawned, so
	// the run-loop subscription above re-drives them to completion.
	if err := mgr.Restore(func(c subagent.Context) {
		slog.Info("subagent run restored", "run_id", c.RunID, "label", c.Label)
	}); err != nil {
		slog.Warn("registry restore failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return config.Watch(ctx, cfgPath, func(next *config.Config) {
			resolver.Reload(next)
			msgBus.Broadcast(bus.Event{Name: protocol.EventConfigChanged})
			slog.Info("config reloaded", "path", cfgPath)
		})
	})

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				mgr.ExpireReservations()
			}
		}
	})

	slog.Info("openclaw core started",
		"backends", len(cfg.Backends),
		"gateway", cfg.Gateway.URL,
		"tools", toolReg.List(),
	)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("core exited", "error", err)
		os.Exit(1)
	}
	slog.Info("openclaw core stopped")
}

// defaultProvider picks the backend subagent runs execute on.
func defaultProvider(cfg *config.Config) string {
	if _, ok := cfg.Backends["claude-cli"]; ok {
		return "claude-cli"
	}
	for id := range cfg.Backends {
		return id
	}
	return "claude-cli"
}

// runLoop executes registered child runs through the CLI pipeline. A
// detected interaction pauses the run instead of completing it; answer
// resumes it with a tool result. Each run cycle drives a typing controller
// so the requester's channel shows activity while the child works.
type runLoop struct {
	provider     string
	mgr          *subagent.Manager
	runner       *cliexec.Runner
	sessions     *store.SessionStore
	interactions *interact.Manager
	typing       typing.Options
	notifyTyping func(sessionKey string)
}

// newTyping builds the typing controller for one reply cycle addressed to
// the requester's channel.
func (rl *runLoop) newTyping(sessionKey string) *typing.Controller {
	opts := rl.typing
	opts.OnReplyStart = func() {
		if rl.notifyTyping != nil {
			rl.notifyTyping(sessionKey)
		}
	}
	opts.OnTypingTimeout = func(elapsedMS int64) {
		slog.Warn("run still working past typing ttl",
			"session", sessionKey, "elapsed_ms", elapsedMS)
	}
	return typing.NewController(opts)
}

func (rl *runLoop) runSubagent(ctx context.Context, runID string) {
	c, ok := rl.mgr.Running(runID)
	if !ok {
		return
	}
	meta := rl.sessions.GetOrCreate(c.ChildSessionKey)

	tc := rl.newTyping(c.RequesterSessionKey)
	tc.StartTypingLoop()

	res, err := rl.runner.Run(ctx, cliexec.RunRequest{
		SessionKey:   c.ChildSessionKey,
		SessionFile:  meta.TranscriptPath,
		Prompt:       c.Task,
		Provider:     rl.provider,
		Model:        c.Model,
		RunID:        runID,
		CLISessionID: meta.CLISessionID,
	})
	rl.finish(tc, runID, c.ChildSessionKey, res, err)
}

// answer resolves a pending interaction with the user's reply and resumes
// the paused run. Messages to sessions without a pending question are the
// gateway's business, not ours.
func (rl *runLoop) answer(ctx context.Context, sessionKey, text string) {
	p, ok := rl.interactions.Get(sessionKey)
	if !ok {
		return
	}
	c, ok := rl.mgr.RunningForChild(sessionKey)
	if !ok {
		rl.interactions.Clear(sessionKey)
		return
	}
	rl.interactions.Clear(sessionKey)

	if p.Type == cliexec.InteractionPlanApproval {
		approved := strings.EqualFold(strings.TrimSpace(text), "approve")
		rl.mgr.SetPlanApproved(c.RunID, approved)
	}
	answer := interact.ParseAnswer(text, p.Options, p.MultiSelect)

	meta := rl.sessions.GetOrCreate(sessionKey)
	cliSessionID := p.CLISessionID
	if cliSessionID == "" {
		cliSessionID = meta.CLISessionID
	}
	provider := p.Provider
	if provider == "" {
		provider = rl.provider
	}

	tc := rl.newTyping(c.RequesterSessionKey)
	tc.StartTypingOnText(text)

	res, err := rl.runner.Run(ctx, cliexec.RunRequest{
		SessionKey:   sessionKey,
		SessionFile:  meta.TranscriptPath,
		Provider:     provider,
		Model:        c.Model,
		RunID:        c.RunID,
		CLISessionID: cliSessionID,
		ToolResult:   &cliexec.ToolResultPayload{ToolUseID: p.ToolCallID, Content: answer},
	})
	rl.finish(tc, c.RunID, sessionKey, res, err)
}

// finish records the run outcome: failure or success completes the run,
// another detected interaction pauses it again. Either way the reply cycle
// is over, so the typing controller is sealed.
func (rl *runLoop) finish(tc *typing.Controller, runID, sessionKey string, res *cliexec.RunResult, err error) {
	defer func() {
		tc.MarkRunComplete()
		tc.MarkDispatchIdle()
	}()

	if err != nil {
		status := subagent.StatusError
		if errors.Is(err, context.DeadlineExceeded) {
			status = subagent.StatusTimeout
		}
		rl.mgr.MarkCompleted(runID, subagent.Outcome{Status: status, Error: err.Error()}, "", time.Now())
		return
	}

	if res.CLISessionID != "" {
		rl.sessions.Update(sessionKey, func(s *store.SessionMeta) {
			s.CLISessionID = res.CLISessionID
		})
	}
	rl.mgr.RecordUsage(runID, res.Usage)

	if res.Interaction != nil {
		rl.interactions.Set(sessionKey, res.CLISessionID,
			sessions.AgentID(sessionKey), rl.provider, res.Interaction)
		slog.Info("subagent paused on interaction",
			"run_id", runID, "type", res.Interaction.Type)
		return
	}

	rl.mgr.MarkCompleted(runID, subagent.Outcome{Status: subagent.StatusOK}, res.Text, time.Now())
}
