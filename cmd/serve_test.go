package cmd

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/backend"
	"github.com/nextlevelbuilder/openclaw/internal/cliexec"
	"github.com/nextlevelbuilder/openclaw/internal/config"
	"github.com/nextlevelbuilder/openclaw/internal/interact"
	"github.com/nextlevelbuilder/openclaw/internal/store"
	"github.com/nextlevelbuilder/openclaw/internal/subagent"
	"github.com/nextlevelbuilder/openclaw/internal/typing"
)

func testRunLoop(t *testing.T) (*runLoop, *subagent.Manager, *atomic.Int32) {
	t.Helper()

	cfg := config.Default()
	cfg.Backends = map[string]config.BackendConfig{
		"echo-cli": {Command: "echo", Output: "text"},
	}

	st, err := store.NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr := subagent.NewManager(subagent.Config{}, nil, nil, nil)
	runner := cliexec.NewRunner(backend.NewResolver(cfg), cliexec.NewRunQueue(), nil)

	var typingStarts atomic.Int32
	rl := &runLoop{
		provider:     "echo-cli",
		mgr:          mgr,
		runner:       runner,
		sessions:     st,
		interactions: interact.NewManager(time.Minute, time.Minute),
		typing:       typing.Options{Interval: 10 * time.Millisecond, TTL: time.Minute},
		notifyTyping: func(string) { typingStarts.Add(1) },
	}
	return rl, mgr, &typingStarts
}

func registerRun(t *testing.T, mgr *subagent.Manager, runID, task string) {
	t.Helper()
	requester := "agent:main:telegram:direct:1"
	d := mgr.ReserveSlot(requester)
	if !d.Allowed {
		t.Fatalf("reservation denied: %+v", d)
	}
	err := mgr.Register(subagent.Context{
		RunID:               runID,
		ChildSessionKey:     "agent:main:subagent:child-" + runID,
		RequesterSessionKey: requester,
		Task:                task,
	}, d.ReserveID)
	if err != nil {
		t.Fatal(err)
	}
}

// A registered run is executed through the CLI pipeline and completes with
// the backend's reply as its summary; the requester's channel sees at
// least one typing signal while it runs.
func TestRunLoop_RunSubagent(t *testing.T) {
	rl, mgr, typingStarts := testRunLoop(t)
	registerRun(t, mgr, "run-1", "hello world")

	rl.runSubagent(context.Background(), "run-1")

	res, ok := mgr.Get("run-1")
	if !ok {
		t.Fatal("run not completed")
	}
	if res.Outcome.Status != subagent.StatusOK {
		t.Fatalf("outcome = %+v", res.Outcome)
	}
	if res.Summary != "hello world" {
		t.Errorf("summary = %q", res.Summary)
	}
	if typingStarts.Load() == 0 {
		t.Error("typing indicator never signaled")
	}
	if _, stillRunning := mgr.Running("run-1"); stillRunning {
		t.Error("completed run still holds its slot")
	}
}

// An execution failure completes the run as an error instead of leaving it
// running, and the typing cycle still ends.
func TestRunLoop_RunSubagentError(t *testing.T) {
	rl, mgr, _ := testRunLoop(t)
	rl.provider = "missing-backend"
	registerRun(t, mgr, "run-2", "t")

	rl.runSubagent(context.Background(), "run-2")

	res, ok := mgr.Get("run-2")
	if !ok {
		t.Fatal("failed run not completed")
	}
	if res.Outcome.Status != subagent.StatusError || res.Outcome.Error == "" {
		t.Errorf("outcome = %+v", res.Outcome)
	}
}
