// Package transcript appends CLI run records to per-session JSONL
// transcript files. Transcript writing is best-effort: failures are logged
// and never fail the run.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/openclaw/internal/bus"
	"github.com/nextlevelbuilder/openclaw/internal/cliexec"
	"github.com/nextlevelbuilder/openclaw/pkg/protocol"
)

// transcriptVersion is the header schema version.
const transcriptVersion = 1

// headerRecord is the first line of every transcript file.
type headerRecord struct {
	Type      string `json:"type"` // "session"
	Version   int    `json:"version"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Cwd       string `json:"cwd"`
}

// toolCallEntry is one structured call inside an assistant record.
type toolCallEntry struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input,omitempty"`
}

type assistantRecord struct {
	Type       string          `json:"type"` // "message"
	Role       string          `json:"role"` // "assistant"
	Timestamp  string          `json:"timestamp"`
	ToolCalls  []toolCallEntry `json:"toolCalls,omitempty"`
	Text       string          `json:"text,omitempty"`
	StopReason string          `json:"stopReason"`
	Usage      *cliexec.Usage  `json:"usage,omitempty"`
}

type toolResultRecord struct {
	Type      string `json:"type"` // "message"
	Role      string `json:"role"` // "toolResult"
	Timestamp string `json:"timestamp"`
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
	IsError   bool   `json:"isError,omitempty"`
}

// Writer appends run records to session transcript files.
type Writer struct {
	mu  sync.Mutex
	pub bus.EventPublisher
}

// NewWriter creates a transcript writer. pub may be nil.
func NewWriter(pub bus.EventPublisher) *Writer {
	return &Writer{pub: pub}
}

// AppendRun writes one assistant record (all tool_use calls in order plus
// trailing text) followed by one toolResult record per tool result, with
// monotonically increasing timestamps. Implements cliexec.TranscriptAppender.
func (w *Writer) AppendRun(sessionFile, sessionKey, workspaceDir, text string, usage cliexec.Usage, toolUses []cliexec.ToolUseEvent, toolResults []cliexec.ToolResultEvent) {
	if sessionFile == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open(sessionFile, workspaceDir)
	if err != nil {
		slog.Warn("transcript open failed", "file", sessionFile, "error", err)
		return
	}
	defer f.Close()

	now := time.Now().UTC()
	stopReason := "stop"
	if len(toolUses) > 0 {
		stopReason = "toolUse"
	}

	calls := make([]toolCallEntry, len(toolUses))
	for i, tu := range toolUses {
		calls[i] = toolCallEntry{ID: tu.ID, Name: tu.Name, Input: tu.Input}
	}
	rec := assistantRecord{
		Type:       "message",
		Role:       "assistant",
		Timestamp:  now.Format(time.RFC3339Nano),
		ToolCalls:  calls,
		Text:       text,
		StopReason: stopReason,
	}
	if !usage.IsZero() {
		u := usage
		rec.Usage = &u
	}
	if err := writeLine(f, rec); err != nil {
		slog.Warn("transcript append failed", "file", sessionFile, "error", err)
		return
	}

	for i, tr := range toolResults {
		// Tool results must sort after the assistant record.
		ts := now.Add(time.Duration(i+1) * time.Millisecond)
		if err := writeLine(f, toolResultRecord{
			Type:      "message",
			Role:      "toolResult",
			Timestamp: ts.Format(time.RFC3339Nano),
			ToolUseID: tr.ToolUseID,
			Content:   tr.Content,
			IsError:   tr.IsError,
		}); err != nil {
			slog.Warn("transcript append failed", "file", sessionFile, "error", err)
			return
		}
	}

	if w.pub != nil {
		w.pub.Broadcast(bus.Event{
			Name:    protocol.EventSessionTranscriptUpdate,
			Payload: bus.TranscriptUpdatePayload{SessionKey: sessionKey, Path: sessionFile},
		})
	}
}

// open opens the transcript for append, writing the header record when the
// file is new.
func (w *Writer) open(path, cwd string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if fresh {
		hdr := headerRecord{
			Type:      "session",
			Version:   transcriptVersion,
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Cwd:       cwd,
		}
		if err := writeLine(f, hdr); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func writeLine(f *os.File, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// LatestAssistantText scans a transcript and returns the text of the last
// assistant record. Used by the announce flow to summarize a child run.
func LatestAssistantText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var last string
	for _, line := range splitLines(data) {
		var rec struct {
			Role string `json:"role"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Role == "assistant" && rec.Text != "" {
			last = rec.Text
		}
	}
	return last, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
