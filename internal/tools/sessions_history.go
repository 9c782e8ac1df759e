package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nextlevelbuilder/openclaw/internal/memory"
	"github.com/nextlevelbuilder/openclaw/internal/sessions"
	"github.com/nextlevelbuilder/openclaw/internal/store"
)

// ============================================================
// sessions_history
// ============================================================

const historyDefaultLimit = 20

type SessionsHistoryTool struct {
	sessions *store.SessionStore
	index    *memory.Index // optional; transcript tail is the fallback
}

func NewSessionsHistoryTool(sessions *store.SessionStore, index *memory.Index) *SessionsHistoryTool {
	return &SessionsHistoryTool{sessions: sessions, index: index}
}

func (t *SessionsHistoryTool) Name() string { return "sessions_history" }
func (t *SessionsHistoryTool) Description() string {
	return "Read the recent transcript of another session, newest last."
}

func (t *SessionsHistoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"sessionKey": map[string]interface{}{
				"type":        "string",
				"description": "Session to read",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum number of records (default 20)",
			},
		},
		"required": []string{"sessionKey"},
	}
}

func (t *SessionsHistoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	sessionKey, _ := args["sessionKey"].(string)
	if sessionKey == "" {
		return ErrorResult("sessionKey is required")
	}
	limit := historyDefaultLimit
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	agentID := sessions.AgentID(SessionKeyFromCtx(ctx))
	if agentID != "" && sessions.AgentID(sessionKey) != agentID {
		return ErrorResult("access denied: target session belongs to a different agent")
	}

	if t.index != nil {
		entries, err := t.index.Recent(ctx, sessionKey, limit)
		if err == nil && len(entries) > 0 {
			var b strings.Builder
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				fmt.Fprintf(&b, "[%s] %s: %s\n", e.CreatedAt, e.Role, e.Content)
			}
			return SilentResult(b.String())
		}
	}

	if t.sessions == nil {
		return ErrorResult("session store not available")
	}
	meta := t.sessions.GetOrCreate(sessionKey)
	lines, err := tailTranscript(meta.TranscriptPath, limit)
	if err != nil {
		return ErrorResult("history read failed: " + err.Error()).WithError(err)
	}
	if len(lines) == 0 {
		return SilentResult("(no history)")
	}
	return SilentResult(strings.Join(lines, "\n"))
}

// tailTranscript renders the last n message records of a transcript file.
func tailTranscript(path string, n int) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec struct {
			Type      string `json:"type"`
			Role      string `json:"role"`
			Text      string `json:"text"`
			Content   string `json:"content"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Type != "message" {
			continue
		}
		text := rec.Text
		if text == "" {
			text = rec.Content
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, fmt.Sprintf("[%s] %s: %s", rec.Timestamp, rec.Role, text))
		if len(out) > n {
			out = out[1:]
		}
	}
	return out, scanner.Err()
}
