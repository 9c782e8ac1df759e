package cliexec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/openclaw/internal/backend"
)

// ParseOutput parses CLI stdout according to the backend's output mode.
// A nil result with an error means the payload was unparseable; callers
// fall back to treating stdout as raw text.
func ParseOutput(mode, stdout string, sessionFields []string) (*RunResult, error) {
	switch mode {
	case backend.OutputJSON:
		return parseJSON(stdout, sessionFields)
	case backend.OutputJSONL:
		return parseJSONL(stdout, sessionFields)
	case backend.OutputStreamJSONL:
		return parseStreamJSONL(stdout, sessionFields)
	default:
		return &RunResult{Text: strings.TrimSpace(stdout)}, nil
	}
}

func parseJSON(stdout string, sessionFields []string) (*RunResult, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &obj); err != nil {
		return nil, fmt.Errorf("parse json output: %w", err)
	}
	res := &RunResult{}
	res.CLISessionID = pickSessionID(obj, sessionFields)
	if u, ok := obj["usage"].(map[string]interface{}); ok {
		res.Usage.Merge(usageFromMap(u))
	}
	res.Text = strings.TrimSpace(textFromObject(obj))
	return res, nil
}

func parseJSONL(stdout string, sessionFields []string) (*RunResult, error) {
	res := &RunResult{}
	var parts []string
	sawLine := false
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		sawLine = true
		if res.CLISessionID == "" {
			res.CLISessionID = pickSessionID(obj, sessionFields)
		}
		if u, ok := obj["usage"].(map[string]interface{}); ok {
			res.Usage.Merge(usageFromMap(u))
		}
		if t := strings.TrimSpace(textFromObject(obj)); t != "" {
			parts = append(parts, t)
		}
	}
	if !sawLine {
		return nil, fmt.Errorf("parse jsonl output: no parseable lines")
	}
	res.Text = strings.Join(parts, "\n")
	return res, nil
}

func parseStreamJSONL(stdout string, sessionFields []string) (*RunResult, error) {
	res := &RunResult{}
	var parts []string
	var resultFallback string
	sawLine := false

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		sawLine = true

		if res.CLISessionID == "" {
			if sid, ok := obj["session_id"].(string); ok && sid != "" {
				res.CLISessionID = sid
			} else {
				res.CLISessionID = pickSessionID(obj, sessionFields)
			}
		}

		typ, _ := obj["type"].(string)
		switch typ {
		case "assistant":
			msg, _ := obj["message"].(map[string]interface{})
			if msg == nil {
				continue
			}
			for _, raw := range contentBlocks(msg) {
				block, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				switch block["type"] {
				case "text":
					if t, _ := block["text"].(string); t != "" {
						parts = append(parts, t)
					}
				case "tool_use":
					ev := ToolUseEvent{}
					ev.ID, _ = block["id"].(string)
					ev.Name, _ = block["name"].(string)
					ev.Input, _ = block["input"].(map[string]interface{})
					res.ToolUses = append(res.ToolUses, ev)
				}
			}
			if u, ok := msg["usage"].(map[string]interface{}); ok {
				res.Usage.Merge(usageFromMap(u))
			}
		case "user":
			msg, _ := obj["message"].(map[string]interface{})
			if msg == nil {
				continue
			}
			for _, raw := range contentBlocks(msg) {
				block, ok := raw.(map[string]interface{})
				if !ok || block["type"] != "tool_result" {
					continue
				}
				ev := ToolResultEvent{}
				ev.ToolUseID, _ = block["tool_use_id"].(string)
				ev.Content = flattenContent(block["content"])
				ev.IsError, _ = block["is_error"].(bool)
				res.ToolResults = append(res.ToolResults, ev)
			}
		case "result":
			if u, ok := obj["usage"].(map[string]interface{}); ok {
				res.Usage.Merge(usageFromMap(u))
			}
			resultFallback, _ = obj["result"].(string)
		}
	}

	if !sawLine {
		return nil, fmt.Errorf("parse stream-jsonl output: no parseable lines")
	}

	res.Text = strings.TrimSpace(strings.Join(parts, ""))
	if res.Text == "" {
		res.Text = strings.TrimSpace(resultFallback)
	}
	res.Interaction = detectInteraction(res.ToolUses, res.ToolResults)
	return res, nil
}

func contentBlocks(msg map[string]interface{}) []interface{} {
	blocks, _ := msg["content"].([]interface{})
	return blocks
}

// flattenContent joins a tool_result content field: either a plain string
// or an array of blocks whose text fields are concatenated in order.
func flattenContent(v interface{}) string {
	switch c := v.(type) {
	case string:
		return c
	case []interface{}:
		var b strings.Builder
		for _, raw := range c {
			if block, ok := raw.(map[string]interface{}); ok {
				if t, _ := block["text"].(string); t != "" {
					b.WriteString(t)
				}
			}
		}
		return b.String()
	}
	return ""
}

// detectInteraction finds the highest-indexed tool_use with no matching
// tool_result and maps AskUserQuestion / ExitPlanMode to a pending
// interaction. At most one interaction is ever yielded.
func detectInteraction(uses []ToolUseEvent, results []ToolResultEvent) *DetectedInteraction {
	answered := make(map[string]bool, len(results))
	for _, r := range results {
		answered[r.ToolUseID] = true
	}
	for i := len(uses) - 1; i >= 0; i-- {
		use := uses[i]
		if answered[use.ID] {
			continue
		}
		switch use.Name {
		case "AskUserQuestion":
			return askUserInteraction(use)
		case "ExitPlanMode":
			return &DetectedInteraction{
				Type:       InteractionPlanApproval,
				ToolCallID: use.ID,
				Question:   "AI has finished planning, approve execution?",
			}
		}
		return nil
	}
	return nil
}

func askUserInteraction(use ToolUseEvent) *DetectedInteraction {
	di := &DetectedInteraction{Type: InteractionAskUser, ToolCallID: use.ID}
	questions, _ := use.Input["questions"].([]interface{})
	if len(questions) == 0 {
		return di
	}
	q, _ := questions[0].(map[string]interface{})
	if q == nil {
		return di
	}
	di.Question, _ = q["question"].(string)
	di.MultiSelect, _ = q["multiSelect"].(bool)
	if opts, ok := q["options"].([]interface{}); ok {
		for _, raw := range opts {
			o, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			opt := InteractionOption{}
			opt.Label, _ = o["label"].(string)
			opt.Description, _ = o["description"].(string)
			di.Options = append(di.Options, opt)
		}
	}
	return di
}

// pickSessionID scans the configured id fields in order.
func pickSessionID(obj map[string]interface{}, fields []string) string {
	if len(fields) == 0 {
		fields = backend.DefaultSessionIDFields
	}
	for _, f := range fields {
		if v, ok := obj[f].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// usageFromMap reads token counts, accepting snake_case and camelCase keys.
func usageFromMap(m map[string]interface{}) Usage {
	num := func(keys ...string) int64 {
		for _, k := range keys {
			if v, ok := m[k].(float64); ok {
				return int64(v)
			}
		}
		return 0
	}
	return Usage{
		InputTokens:      num("input_tokens", "inputTokens"),
		OutputTokens:     num("output_tokens", "outputTokens"),
		CacheReadTokens:  num("cache_read_input_tokens", "cacheReadInputTokens"),
		CacheWriteTokens: num("cache_write_input_tokens", "cacheWriteInputTokens"),
		TotalTokens:      num("total_tokens", "totalTokens"),
	}
}

// textFromObject concatenates assistant text from the conventional fields:
// message, content, result, then a root text field.
func textFromObject(obj map[string]interface{}) string {
	var parts []string
	for _, key := range []string{"message", "content", "result", "text"} {
		if t := extractText(obj[key]); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func extractText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if s := extractText(t["text"]); s != "" {
			return s
		}
		return extractText(t["content"])
	case []interface{}:
		var parts []string
		for _, item := range t {
			if s := extractText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "")
	}
	return ""
}
