package cliexec

import (
	"testing"

	"github.com/nextlevelbuilder/openclaw/internal/backend"
)

func TestParseOutput_Text(t *testing.T) {
	res, err := ParseOutput(backend.OutputText, "  hello world \n", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
}

func TestParseOutput_JSON(t *testing.T) {
	stdout := `{"session_id":"sess-1","result":"done","usage":{"input_tokens":10,"output_tokens":4}}`
	res, err := ParseOutput(backend.OutputJSON, stdout, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.CLISessionID != "sess-1" {
		t.Errorf("CLISessionID = %q, want sess-1", res.CLISessionID)
	}
	if res.Text != "done" {
		t.Errorf("Text = %q, want done", res.Text)
	}
	if res.Usage.InputTokens != 10 || res.Usage.OutputTokens != 4 {
		t.Errorf("Usage = %+v", res.Usage)
	}
}

func TestParseOutput_JSON_Invalid(t *testing.T) {
	if _, err := ParseOutput(backend.OutputJSON, "not json", nil); err == nil {
		t.Fatal("expected error for unparseable json")
	}
}

func TestParseOutput_JSONL(t *testing.T) {
	stdout := `{"sessionId":"s2","text":"line one"}
{"text":"line two","usage":{"inputTokens":3}}
garbage that is skipped
{"text":""}`
	res, err := ParseOutput(backend.OutputJSONL, stdout, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.CLISessionID != "s2" {
		t.Errorf("CLISessionID = %q, want s2", res.CLISessionID)
	}
	if res.Text != "line one\nline two" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Usage.InputTokens != 3 {
		t.Errorf("InputTokens = %d, want 3", res.Usage.InputTokens)
	}
}

// Full stream: assistant text + tool_use, user tool_result, final result.
// Everything must round-trip: text, tool events, usage, session id.
func TestParseStreamJSONL_RoundTrip(t *testing.T) {
	stdout := `{"type":"assistant","session_id":"sid-9","message":{"content":[{"type":"text","text":"Working on it."},{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}],"usage":{"input_tokens":100,"output_tokens":20}}}
{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"file.txt","is_error":false}]}}
{"type":"result","result":"All done.","usage":{"output_tokens":5}}`

	res, err := ParseOutput(backend.OutputStreamJSONL, stdout, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.CLISessionID != "sid-9" {
		t.Errorf("CLISessionID = %q, want sid-9", res.CLISessionID)
	}
	if res.Text != "Working on it." {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.ToolUses) != 1 || res.ToolUses[0].ID != "toolu_1" || res.ToolUses[0].Name != "Bash" {
		t.Fatalf("ToolUses = %+v", res.ToolUses)
	}
	if len(res.ToolResults) != 1 || res.ToolResults[0].ToolUseID != "toolu_1" || res.ToolResults[0].Content != "file.txt" {
		t.Fatalf("ToolResults = %+v", res.ToolResults)
	}
	if res.Usage.InputTokens != 100 || res.Usage.OutputTokens != 25 {
		t.Errorf("Usage = %+v", res.Usage)
	}
	if res.Interaction != nil {
		t.Errorf("unexpected interaction: %+v", res.Interaction)
	}
}

func TestParseStreamJSONL_ResultFallbackText(t *testing.T) {
	stdout := `{"type":"result","result":"only the result line"}`
	res, err := ParseOutput(backend.OutputStreamJSONL, stdout, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "only the result line" {
		t.Errorf("Text = %q", res.Text)
	}
}

// A trailing unanswered AskUserQuestion must surface as exactly one
// pending interaction carrying the question and its options.
func TestParseStreamJSONL_PendingAskUserQuestion(t *testing.T) {
	stdout := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_q","name":"AskUserQuestion","input":{"questions":[{"question":"Which color?","multiSelect":true,"options":[{"label":"Red","description":"warm"},{"label":"Blue"}]}]}}]}}`

	res, err := ParseOutput(backend.OutputStreamJSONL, stdout, nil)
	if err != nil {
		t.Fatal(err)
	}
	in := res.Interaction
	if in == nil {
		t.Fatal("expected pending interaction")
	}
	if in.Type != InteractionAskUser {
		t.Errorf("Type = %q", in.Type)
	}
	if in.ToolCallID != "toolu_q" {
		t.Errorf("ToolCallID = %q", in.ToolCallID)
	}
	if in.Question != "Which color?" {
		t.Errorf("Question = %q", in.Question)
	}
	if !in.MultiSelect {
		t.Error("MultiSelect = false, want true")
	}
	if len(in.Options) != 2 || in.Options[0].Label != "Red" || in.Options[0].Description != "warm" {
		t.Errorf("Options = %+v", in.Options)
	}
}

func TestParseStreamJSONL_PendingPlanApproval(t *testing.T) {
	stdout := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_p","name":"ExitPlanMode","input":{}}]}}`
	res, err := ParseOutput(backend.OutputStreamJSONL, stdout, nil)
	if err != nil {
		t.Fatal(err)
	}
	in := res.Interaction
	if in == nil || in.Type != InteractionPlanApproval || in.ToolCallID != "toolu_p" {
		t.Fatalf("Interaction = %+v", in)
	}
	if in.Question == "" {
		t.Error("plan approval question is empty")
	}
}

func TestParseStreamJSONL_AnsweredToolUseIsNotPending(t *testing.T) {
	stdout := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_a","name":"AskUserQuestion","input":{}}]}}
{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_a","content":"answered"}]}}`
	res, err := ParseOutput(backend.OutputStreamJSONL, stdout, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Interaction != nil {
		t.Errorf("answered tool_use produced interaction: %+v", res.Interaction)
	}
}

// tool_result content arrays flatten by concatenating text blocks in order.
func TestParseStreamJSONL_ToolResultArrayFlattening(t *testing.T) {
	stdout := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{}}]}}
{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_1","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}]}}`
	res, err := ParseOutput(backend.OutputStreamJSONL, stdout, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ToolResults) != 1 {
		t.Fatalf("ToolResults = %+v", res.ToolResults)
	}
	tr := res.ToolResults[0]
	if tr.ToolUseID != "toolu_1" || tr.Content != "ab" || tr.IsError {
		t.Errorf("ToolResult = %+v", tr)
	}
}

func TestDetectInteraction_HighestUnansweredDecides(t *testing.T) {
	uses := []ToolUseEvent{
		{ID: "t1", Name: "AskUserQuestion"},
		{ID: "t2", Name: "Bash"},
	}
	// t2 is the highest unanswered tool_use and is not an interaction tool,
	// so nothing is pending even though t1 is an unanswered question.
	if got := detectInteraction(uses, nil); got != nil {
		t.Errorf("detectInteraction = %+v, want nil", got)
	}

	// Answering t2 exposes t1.
	results := []ToolResultEvent{{ToolUseID: "t2", Content: "ok"}}
	got := detectInteraction(uses, results)
	if got == nil || got.ToolCallID != "t1" {
		t.Errorf("detectInteraction = %+v, want t1", got)
	}
}

func TestPickSessionID_FieldOrder(t *testing.T) {
	obj := map[string]interface{}{"conversationId": "c1", "session_id": "s1"}
	if got := pickSessionID(obj, nil); got != "s1" {
		t.Errorf("pickSessionID = %q, want s1 (default field order)", got)
	}
	if got := pickSessionID(obj, []string{"conversationId"}); got != "c1" {
		t.Errorf("pickSessionID = %q, want c1", got)
	}
}

func TestFlattenContent(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"string", "plain", "plain"},
		{"array", []interface{}{
			map[string]interface{}{"type": "text", "text": "x"},
			map[string]interface{}{"type": "text", "text": "y"},
		}, "xy"},
		{"nil", nil, ""},
		{"number", 42.0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := flattenContent(tt.in); got != tt.want {
				t.Errorf("flattenContent = %q, want %q", got, tt.want)
			}
		})
	}
}
