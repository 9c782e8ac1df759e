package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/bus"
	"github.com/nextlevelbuilder/openclaw/internal/cliexec"
	"github.com/nextlevelbuilder/openclaw/pkg/protocol"
)

func readRecords(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestAppendRun_WritesHeaderAndRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "sess.jsonl")
	w := NewWriter(nil)

	w.AppendRun(path, "agent:main:subagent:x", "/work", "final text",
		cliexec.Usage{InputTokens: 10},
		[]cliexec.ToolUseEvent{{ID: "t1", Name: "Bash", Input: map[string]interface{}{"command": "ls"}}},
		[]cliexec.ToolResultEvent{{ToolUseID: "t1", Content: "file.txt"}},
	)

	recs := readRecords(t, path)
	if len(recs) != 3 {
		t.Fatalf("records = %d, want header+assistant+toolResult", len(recs))
	}

	hdr := recs[0]
	if hdr["type"] != "session" || hdr["cwd"] != "/work" || hdr["id"] == "" {
		t.Errorf("header = %v", hdr)
	}

	asst := recs[1]
	if asst["role"] != "assistant" || asst["text"] != "final text" || asst["stopReason"] != "toolUse" {
		t.Errorf("assistant = %v", asst)
	}
	calls := asst["toolCalls"].([]interface{})
	if len(calls) != 1 || calls[0].(map[string]interface{})["name"] != "Bash" {
		t.Errorf("toolCalls = %v", calls)
	}

	tr := recs[2]
	if tr["role"] != "toolResult" || tr["toolUseId"] != "t1" || tr["content"] != "file.txt" {
		t.Errorf("toolResult = %v", tr)
	}
	// Tool result timestamp sorts after the assistant record.
	at, err := time.Parse(time.RFC3339Nano, asst["timestamp"].(string))
	if err != nil {
		t.Fatal(err)
	}
	rt, err := time.Parse(time.RFC3339Nano, tr["timestamp"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if !rt.After(at) {
		t.Errorf("timestamps not monotonic: %v <= %v", rt, at)
	}
}

func TestAppendRun_NoHeaderOnExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.jsonl")
	w := NewWriter(nil)

	w.AppendRun(path, "k", "", "one", cliexec.Usage{}, nil, nil)
	w.AppendRun(path, "k", "", "two", cliexec.Usage{}, nil, nil)

	recs := readRecords(t, path)
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 1 header + 2 messages", len(recs))
	}
	if recs[1]["stopReason"] != "stop" {
		t.Errorf("stopReason = %v, want stop without tool calls", recs[1]["stopReason"])
	}
}

func TestAppendRun_EmptyPathIsNoop(t *testing.T) {
	w := NewWriter(nil)
	w.AppendRun("", "k", "", "text", cliexec.Usage{}, nil, nil)
}

func TestAppendRun_BroadcastsUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.jsonl")
	b := bus.NewMessageBus()
	var got []bus.Event
	b.Subscribe("test", func(ev bus.Event) { got = append(got, ev) })

	w := NewWriter(b)
	w.AppendRun(path, "agent:main:subagent:x", "", "text", cliexec.Usage{}, nil, nil)

	if len(got) != 1 || got[0].Name != protocol.EventSessionTranscriptUpdate {
		t.Fatalf("events = %+v", got)
	}
	p := got[0].Payload.(bus.TranscriptUpdatePayload)
	if p.SessionKey != "agent:main:subagent:x" || p.Path != path {
		t.Errorf("payload = %+v", p)
	}
}

func TestLatestAssistantText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess.jsonl")
	w := NewWriter(nil)
	w.AppendRun(path, "k", "", "first reply", cliexec.Usage{}, nil, nil)
	w.AppendRun(path, "k", "", "second reply", cliexec.Usage{},
		nil, []cliexec.ToolResultEvent{{ToolUseID: "t", Content: "x"}})

	got, err := LatestAssistantText(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "second reply" {
		t.Errorf("got %q", got)
	}

	if _, err := LatestAssistantText(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("missing file should error")
	}
}
