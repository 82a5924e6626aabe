package agentloop

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/daveworth/agentcore/hooks"
	"github.com/daveworth/agentcore/transcript"
	"github.com/daveworth/agentcore/unifiedllm"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	dir := t.TempDir()
	home := filepath.Join(dir, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", home)

	profile := NewAnthropicProfile("claude-test")
	env := NewLocalExecutionEnvironment(filepath.Join(dir, "work"))
	if err := env.Initialize(); err != nil {
		t.Fatal(err)
	}
	return NewSession(profile, env, nil)
}

// Scenario 4 from spec §8: a PreToolUse hook that denies a call blocks
// dispatch and synthesizes the exact "Tool blocked: <reason>" error text.
func TestExecuteSingleTool_PreToolUseBlocks(t *testing.T) {
	s := newTestSession(t)
	s.Hooks().Register(hooks.PreToolUse, func(ev hooks.Event) hooks.Decision {
		if ev.ToolName == "write_file" {
			return hooks.Decision{Allow: false, Reason: "deny write"}
		}
		return hooks.Decision{Allow: true}
	})

	result := s.executeSingleTool(context.Background(), unifiedllm.ToolCall{
		ID:        "t1",
		Name:      "write_file",
		Arguments: json.RawMessage(`{"file_path":"x","content":"y"}`),
	})

	if !result.IsError {
		t.Fatalf("expected blocked call to be an error result")
	}
	if result.Content != "Tool blocked: deny write" {
		t.Fatalf("unexpected content: %v", result.Content)
	}
}

func TestExecuteSingleTool_PreToolUseModifiesInput(t *testing.T) {
	s := newTestSession(t)
	workDir := s.env.WorkingDirectory()

	s.Hooks().Register(hooks.PreToolUse, func(ev hooks.Event) hooks.Decision {
		return hooks.Decision{Allow: true, Modified: json.RawMessage(`{"file_path":"redirected.txt","content":"hi"}`)}
	})

	result := s.executeSingleTool(context.Background(), unifiedllm.ToolCall{
		ID:        "t1",
		Name:      "write_file",
		Arguments: json.RawMessage(`{"file_path":"original.txt","content":"hi"}`),
	})
	if result.IsError {
		t.Fatalf("unexpected error: %v", result.Content)
	}
	if _, err := os.Stat(filepath.Join(workDir, "redirected.txt")); err != nil {
		t.Fatalf("expected modified path to be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, "original.txt")); err == nil {
		t.Fatalf("original path should not have been written")
	}
}

func TestExecuteSingleTool_PostToolUseAppendsToResult(t *testing.T) {
	s := newTestSession(t)
	s.Hooks().Register(hooks.PostToolUse, func(ev hooks.Event) hooks.Decision {
		return hooks.Decision{Allow: true, AppendToResult: "\n[reviewed]"}
	})

	result := s.executeSingleTool(context.Background(), unifiedllm.ToolCall{
		ID:        "t1",
		Name:      "write_file",
		Arguments: json.RawMessage(`{"file_path":"a.txt","content":"hi"}`),
	})
	if result.IsError {
		t.Fatalf("unexpected error: %v", result.Content)
	}
	content, _ := result.Content.(string)
	if content == "" || content[len(content)-len("[reviewed]"):] != "[reviewed]" {
		t.Fatalf("expected appended marker, got %q", content)
	}
}

func TestExecuteSingleTool_UnknownTool(t *testing.T) {
	s := newTestSession(t)
	result := s.executeSingleTool(context.Background(), unifiedllm.ToolCall{ID: "t1", Name: "nope"})
	if !result.IsError {
		t.Fatalf("expected error for unknown tool")
	}
}

func TestExecuteSingleTool_HookPanicIsPermissive(t *testing.T) {
	s := newTestSession(t)
	s.Hooks().Register(hooks.PreToolUse, func(ev hooks.Event) hooks.Decision {
		panic("boom")
	})

	result := s.executeSingleTool(context.Background(), unifiedllm.ToolCall{
		ID:        "t1",
		Name:      "write_file",
		Arguments: json.RawMessage(`{"file_path":"a.txt","content":"hi"}`),
	})
	if result.IsError {
		t.Fatalf("a panicking hook must not block dispatch: %v", result.Content)
	}
}

func TestShellToolUsesSubprocessRuntime(t *testing.T) {
	s := newTestSession(t)
	result := s.executeSingleTool(context.Background(), unifiedllm.ToolCall{
		ID:        "t1",
		Name:      "shell",
		Arguments: json.RawMessage(`{"command":"echo hello"}`),
	})
	if result.IsError {
		t.Fatalf("unexpected error: %v", result.Content)
	}
	content, _ := result.Content.(string)
	if content != "hello\n" {
		t.Fatalf("unexpected shell output: %q", content)
	}
}

func TestBackgroundShellRoundTrip(t *testing.T) {
	s := newTestSession(t)

	start := s.executeSingleTool(context.Background(), unifiedllm.ToolCall{
		ID: "t1", Name: "bash_background", Arguments: json.RawMessage(`{"command":"echo bg"}`),
	})
	if start.IsError {
		t.Fatalf("unexpected error starting background shell: %v", start.Content)
	}
	id, _ := start.Content.(string)
	if id == "" {
		t.Fatalf("expected a background id")
	}

	var output unifiedllm.ToolResult
	for i := 0; i < 50; i++ {
		output = s.executeSingleTool(context.Background(), unifiedllm.ToolCall{
			ID: "t2", Name: "bash_output", Arguments: json.RawMessage(`{"id":"` + id + `"}`),
		})
		content, _ := output.Content.(string)
		if content != "" && content != "[running]\n" {
			break
		}
	}
	if output.IsError {
		t.Fatalf("unexpected error fetching background output: %v", output.Content)
	}
}

// Transcript round trip: a user turn, an assistant turn carrying a thinking
// signature, and a tool-result batch must survive append+load unchanged
// (spec §8, round-trip and signature-preservation properties).
func TestTranscriptRoundTripPreservesThinkingSignature(t *testing.T) {
	s := newTestSession(t)
	defer s.Close()

	userTurn := NewUserTurn("read /tmp/x then report size")
	s.history = append(s.history, userTurn)
	s.appendTranscript(userTurn)

	assistantTurn := NewAssistantTurn("", []unifiedllm.ToolCall{
		{ID: "t1", Name: "Read", Arguments: json.RawMessage(`{"file_path":"/tmp/x"}`)},
	}, "let me check the file", "sig-abc123", unifiedllm.Usage{InputTokens: 10, OutputTokens: 5}, "resp1")
	s.history = append(s.history, assistantTurn)
	s.appendTranscript(assistantTurn)

	toolResultsTurn := NewToolResultsTurn([]unifiedllm.ToolResult{
		{ToolCallID: "t1", Content: "42 bytes", IsError: false},
	})
	s.history = append(s.history, toolResultsTurn)
	s.appendTranscript(toolResultsTurn)
	s.transcript.Close()

	path := transcriptPath(s.env.WorkingDirectory(), s.id)
	loaded, err := transcript.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Truncation.Truncated {
		t.Fatalf("unexpected truncation: %s", loaded.Truncation.Reason)
	}
	if len(loaded.Messages) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(loaded.Messages))
	}

	reloaded := turnFromTranscriptEntry(loaded.Messages[1])
	if reloaded.Assistant == nil || reloaded.Assistant.Signature != "sig-abc123" {
		t.Fatalf("signature did not round-trip: %+v", reloaded.Assistant)
	}
	if len(reloaded.Assistant.ToolCalls) != 1 || reloaded.Assistant.ToolCalls[0].ID != "t1" {
		t.Fatalf("tool_use did not round-trip: %+v", reloaded.Assistant.ToolCalls)
	}
}

// Idempotence: loading the same transcript twice yields identical results.
func TestTranscriptLoadIsIdempotent(t *testing.T) {
	s := newTestSession(t)
	defer s.Close()

	userTurn := NewUserTurn("hello")
	s.history = append(s.history, userTurn)
	s.appendTranscript(userTurn)
	s.transcript.Close()

	path := transcriptPath(s.env.WorkingDirectory(), s.id)
	first, err := transcript.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := transcript.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Messages) != len(second.Messages) {
		t.Fatalf("non-idempotent load: %d vs %d", len(first.Messages), len(second.Messages))
	}
}

// spec §4.8: a worker spawned with an explicit tool subset rejects calls
// outside that subset, and an explorer archetype's framing lands in the
// worker's system prompt via UserInstructions.
func TestWorkerSpawnRestrictsToolSubset(t *testing.T) {
	s := newTestSession(t)
	manager := NewSubAgentManager(1, 0)

	handle, err := manager.Spawn(context.Background(), s.profile, s.env, "investigate the repo", nil, nil, WorkerSpec{
		Archetype: ArchetypeExplorer,
		ToolNames: []string{"read_file", "grep"},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	// Cancel the worker's background Submit immediately; this test only
	// exercises tool dispatch directly and does not need a live LLM call.
	manager.Close(handle.ID)

	worker := handle.Session
	if worker.config.UserInstructions == "" {
		t.Fatalf("expected explorer archetype instructions to populate UserInstructions")
	}

	result := worker.executeSingleTool(context.Background(), unifiedllm.ToolCall{
		ID:        "t1",
		Name:      "write_file",
		Arguments: json.RawMessage(`{"file_path":"a.txt","content":"hi"}`),
	})
	if !result.IsError {
		t.Fatalf("expected write_file to be rejected outside the allowed tool subset")
	}
	if result.Content != "Tool not available to this worker: write_file" {
		t.Fatalf("unexpected rejection message: %v", result.Content)
	}

	ok := worker.executeSingleTool(context.Background(), unifiedllm.ToolCall{
		ID:        "t2",
		Name:      "read_file",
		Arguments: json.RawMessage(`{"file_path":"a.txt"}`),
	})
	if ok.IsError && ok.Content == "Tool not available to this worker: read_file" {
		t.Fatalf("read_file should be allowed under the configured subset")
	}
}

func TestConvertHistoryToMessagesPreservesThinkingOrder(t *testing.T) {
	turn := NewAssistantTurn("the answer", nil, "because X", "sig-1", unifiedllm.Usage{}, "r1")
	messages := ConvertHistoryToMessages([]Turn{turn})
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
	content := messages[0].Content
	if len(content) < 2 || content[0].Kind != unifiedllm.ContentThinking {
		t.Fatalf("expected thinking block first, got %+v", content)
	}
	if content[0].Thinking.Signature != "sig-1" {
		t.Fatalf("signature lost in conversion: %+v", content[0].Thinking)
	}
}
