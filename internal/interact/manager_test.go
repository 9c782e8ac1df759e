package interact

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/cliexec"
)

func askInteraction() *cliexec.DetectedInteraction {
	return &cliexec.DetectedInteraction{
		Type:       cliexec.InteractionAskUser,
		ToolCallID: "toolu_1",
		Question:   "Which?",
		Options:    []cliexec.InteractionOption{{Label: "A"}},
	}
}

func TestManager_SetGetClear(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)

	p := m.Set("sess", "cli-1", "agent-1", "claude-cli", askInteraction())
	if p.ID == "" {
		t.Fatal("no id assigned")
	}
	if p.ExpiresAt.Sub(p.CreatedAt) != time.Minute {
		t.Errorf("ttl = %v", p.ExpiresAt.Sub(p.CreatedAt))
	}

	got, ok := m.Get("sess")
	if !ok || got.ToolCallID != "toolu_1" || got.CLISessionID != "cli-1" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	m.Clear("sess")
	if _, ok := m.Get("sess"); ok {
		t.Error("entry survived Clear")
	}
}

func TestManager_SetReplaces(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)
	m.Set("sess", "cli-1", "", "", askInteraction())
	di := askInteraction()
	di.ToolCallID = "toolu_2"
	m.Set("sess", "cli-1", "", "", di)

	got, ok := m.Get("sess")
	if !ok || got.ToolCallID != "toolu_2" {
		t.Errorf("Get = %+v, want toolu_2", got)
	}
}

func TestManager_ExpiredEntryDropsOnGet(t *testing.T) {
	m := NewManager(time.Minute, time.Hour)
	current := time.Unix(1000, 0)
	m.now = func() time.Time { return current }

	m.Set("sess", "cli-1", "", "", askInteraction())

	current = current.Add(2 * time.Minute)
	if _, ok := m.Get("sess"); ok {
		t.Fatal("expired entry returned")
	}
	// And it is gone even if time rolls back.
	current = time.Unix(1000, 0)
	if _, ok := m.Get("sess"); ok {
		t.Fatal("expired entry resurrected")
	}
}

func TestManager_CleanupExpired(t *testing.T) {
	m := NewManager(time.Minute, time.Hour)
	current := time.Unix(1000, 0)
	m.now = func() time.Time { return current }

	m.Set("old", "cli-1", "", "", askInteraction())
	current = current.Add(30 * time.Second)
	m.Set("fresh", "cli-2", "", "", askInteraction())

	current = current.Add(45 * time.Second) // old is past its minute, fresh is not
	m.CleanupExpired()

	if _, ok := m.Get("old"); ok {
		t.Error("old entry survived cleanup")
	}
	if _, ok := m.Get("fresh"); !ok {
		t.Error("fresh entry dropped by cleanup")
	}
}
