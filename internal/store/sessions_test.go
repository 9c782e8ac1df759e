package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOriginMerge(t *testing.T) {
	base := Origin{Channel: "telegram", To: "chat-1", ThreadID: "th-1"}
	got := base.Merge(Origin{To: "chat-2"})
	if got.To != "chat-2" {
		t.Errorf("To = %q, overlay should win", got.To)
	}
	if got.Channel != "telegram" || got.ThreadID != "th-1" {
		t.Errorf("base fields lost: %+v", got)
	}

	if got := base.Merge(Origin{}); got != base {
		t.Errorf("empty overlay changed origin: %+v", got)
	}
}

func TestOriginIsZero(t *testing.T) {
	if !(Origin{}).IsZero() {
		t.Error("empty origin not zero")
	}
	if (Origin{To: "x"}).IsZero() {
		t.Error("populated origin reported zero")
	}
}

func TestSessionStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := NewSessionStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	key := "agent:main:telegram:direct:123"
	s := st.GetOrCreate(key)
	if s.Key != key {
		t.Fatalf("Key = %q", s.Key)
	}
	if s.TranscriptPath == "" {
		t.Fatal("transcript path not defaulted")
	}

	st.SetLabel(key, "research")
	st.Update(key, func(m *SessionMeta) {
		m.CLISessionID = "cli-1"
		m.SpawnedBy = "agent:main:telegram:direct:9"
	})
	st.RecordOrigin(key, Origin{Channel: "telegram", To: "chat-1"})

	// A fresh store reads everything back from disk.
	st2, err := NewSessionStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	s2 := st2.GetOrCreate(key)
	if s2.Label != "research" || s2.CLISessionID != "cli-1" || s2.SpawnedBy == "" {
		t.Errorf("reloaded = %+v", s2)
	}
	if got := s2.StoredOrigin(); got.Channel != "telegram" || got.To != "chat-1" {
		t.Errorf("origin = %+v", got)
	}
}

func TestSessionStore_RecordOriginKeepsUnsetFields(t *testing.T) {
	st, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	st.RecordOrigin("k", Origin{Channel: "telegram", To: "chat-1", ThreadID: "th-1"})
	st.RecordOrigin("k", Origin{To: "chat-2"})

	got := st.GetOrCreate("k").StoredOrigin()
	if got.To != "chat-2" || got.Channel != "telegram" || got.ThreadID != "th-1" {
		t.Errorf("origin = %+v", got)
	}
}

// GetOrCreate and List hand out snapshots: concurrent readers (the
// announce flow) never see a half-written Update, and caller scribbles
// never leak into stored state.
func TestSessionStore_ReturnsSnapshots(t *testing.T) {
	st, err := NewSessionStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key := "agent:main:subagent:x"

	a := st.GetOrCreate(key)
	a.CLISessionID = "scribbled"
	if got := st.GetOrCreate(key).CLISessionID; got != "" {
		t.Errorf("caller mutation leaked into store: %q", got)
	}

	st.Update(key, func(s *SessionMeta) { s.CLISessionID = "cli-1" })
	if a.CLISessionID != "scribbled" {
		t.Errorf("snapshot changed under caller: %q", a.CLISessionID)
	}
	if got := st.GetOrCreate(key).CLISessionID; got != "cli-1" {
		t.Errorf("Update lost: %q", got)
	}

	st.List()[0].Label = "scribbled"
	if got := st.GetOrCreate(key).Label; got != "" {
		t.Errorf("List mutation leaked into store: %q", got)
	}
}

func TestSessionStore_List(t *testing.T) {
	dir := t.TempDir()
	st, err := NewSessionStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	st.SetLabel("agent:main:subagent:a", "one")
	st.SetLabel("agent:main:subagent:b", "two")

	st2, err := NewSessionStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	all := st2.List()
	if len(all) != 2 {
		t.Fatalf("List = %d sessions", len(all))
	}
	seen := map[string]string{}
	for _, s := range all {
		seen[s.Key] = s.Label
	}
	if seen["agent:main:subagent:a"] != "one" || seen["agent:main:subagent:b"] != "two" {
		t.Errorf("labels = %v", seen)
	}
}

func TestSessionStore_Delete(t *testing.T) {
	dir := t.TempDir()
	st, err := NewSessionStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	key := "agent:main:subagent:gone"
	st.SetLabel(key, "x")
	tpath := st.GetOrCreate(key).TranscriptPath
	if err := os.WriteFile(tpath, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := st.Delete(key, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(tpath); !os.IsNotExist(err) {
		t.Error("transcript not deleted")
	}
	if len(st.List()) != 0 {
		t.Error("session still listed after delete")
	}
}

func TestFileSafe(t *testing.T) {
	key := "agent:main:telegram:direct:123"
	got := fileSafe(key)
	if got != "agent_main_telegram_direct_123" {
		t.Errorf("fileSafe = %q", got)
	}
	if filepath.Base(fileSafe("a/b\\c")) != "a_b_c" {
		t.Errorf("separators not stripped: %q", fileSafe("a/b\\c"))
	}
}
