package tools

import (
	"os"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/openclaw/internal/store"
)

func writeChildTranscript(t *testing.T, st *store.SessionStore, key string, lines ...string) {
	t.Helper()
	path := st.GetOrCreate(key).TranscriptPath
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHistory_TranscriptFallback(t *testing.T) {
	st, err := store.NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := "agent:main:subagent:child"
	writeChildTranscript(t, st, key,
		`{"type":"session","version":1,"id":"x"}`,
		`{"type":"message","role":"assistant","text":"step one","timestamp":"t1"}`,
		`{"type":"message","role":"toolResult","content":"ls output","timestamp":"t2"}`,
	)

	tool := NewSessionsHistoryTool(st, nil)
	res := tool.Execute(spawnCtx("agent:main:telegram:direct:1"), map[string]interface{}{
		"sessionKey": key,
	})
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "assistant: step one") ||
		!strings.Contains(res.ForLLM, "toolResult: ls output") {
		t.Errorf("history = %q", res.ForLLM)
	}
}

func TestHistory_LimitKeepsNewest(t *testing.T) {
	st, err := store.NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := "agent:main:subagent:child"
	writeChildTranscript(t, st, key,
		`{"type":"message","role":"assistant","text":"old","timestamp":"t1"}`,
		`{"type":"message","role":"assistant","text":"mid","timestamp":"t2"}`,
		`{"type":"message","role":"assistant","text":"new","timestamp":"t3"}`,
	)

	tool := NewSessionsHistoryTool(st, nil)
	res := tool.Execute(spawnCtx("agent:main:subagent:other"), map[string]interface{}{
		"sessionKey": key,
		"limit":      float64(2),
	})
	if strings.Contains(res.ForLLM, "old") {
		t.Errorf("oldest record kept: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "mid") || !strings.Contains(res.ForLLM, "new") {
		t.Errorf("newest records missing: %q", res.ForLLM)
	}
}

func TestHistory_CrossAgentDenied(t *testing.T) {
	st, err := store.NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tool := NewSessionsHistoryTool(st, nil)
	res := tool.Execute(spawnCtx("agent:main:telegram:direct:1"), map[string]interface{}{
		"sessionKey": "agent:other:subagent:x",
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "access denied") {
		t.Errorf("result = %+v", res)
	}
}

func TestHistory_EmptySession(t *testing.T) {
	st, err := store.NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tool := NewSessionsHistoryTool(st, nil)
	res := tool.Execute(spawnCtx("agent:main:subagent:a"), map[string]interface{}{
		"sessionKey": "agent:main:subagent:fresh",
	})
	if res.IsError || res.ForLLM != "(no history)" {
		t.Errorf("result = %+v", res)
	}
}

func TestSessionsList_FiltersByAgent(t *testing.T) {
	st, err := store.NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	st.SetLabel("agent:main:subagent:a", "mine")
	st.SetLabel("agent:other:subagent:b", "theirs")

	tool := NewSessionsListTool(st, nil)
	res := tool.Execute(spawnCtx("agent:main:telegram:direct:1"), nil)
	if res.IsError {
		t.Fatal(res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "agent:main:subagent:a") {
		t.Errorf("own session missing: %q", res.ForLLM)
	}
	if strings.Contains(res.ForLLM, "agent:other:subagent:b") {
		t.Errorf("foreign session leaked: %q", res.ForLLM)
	}
}
