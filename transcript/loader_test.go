package transcript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

func TestLoadIgnoresMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	writeLines(t, path, []string{
		`not json at all {{{`,
		`{"type":"user","message":{"role":"user","content":[{"type":"text","text":"hi"}]},"sessionId":"s","timestamp":"t","uuid":"u1","cwd":"/c","version":"1"}`,
	})

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 1, "malformed line should be ignored")
}

func TestLoadRoundTripsUserAndAssistantEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	w := NewWriter(path)
	defer w.Close()

	_ = w.Append(NewUserEntry("s", "/c", "1", "u1", "t1", []Block{{Type: "text", Text: "hello"}}))
	_ = w.Append(NewAssistantEntry("s", "/c", "1", "u2", "t2", "req1", "claude-x", "msg1", "end_turn", "", &Usage{InputTokens: 5}, []Block{{Type: "text", Text: "hi back"}}))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "claude-x", loaded.Messages[1].Message.Model)
	assert.False(t, loaded.Truncation.Truncated, "well-formed transcript should not be truncated")
}

func TestLoadTruncatesOnUnansweredToolUse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	w := NewWriter(path)
	defer w.Close()

	_ = w.Append(NewUserEntry("s", "/c", "1", "u1", "t1", []Block{{Type: "text", Text: "do something"}}))
	_ = w.Append(NewAssistantEntry("s", "/c", "1", "u2", "t2", "req1", "claude-x", "msg1", "tool_use", "", nil,
		[]Block{{Type: "tool_use", ToolUseID: "call_1", Name: "shell"}}))
	// No matching tool_result follows - simulates a crash mid tool-cycle.

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Truncation.Truncated, "expected truncation when a tool_use has no matching tool_result")
	assert.Len(t, loaded.Messages, 1, "assistant message and beyond should be dropped")
}

func TestLoadKeepsAssistantMessageWhenAllToolUsesAnswered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	w := NewWriter(path)
	defer w.Close()

	_ = w.Append(NewUserEntry("s", "/c", "1", "u1", "t1", []Block{{Type: "text", Text: "do something"}}))
	_ = w.Append(NewAssistantEntry("s", "/c", "1", "u2", "t2", "req1", "claude-x", "msg1", "tool_use", "", nil,
		[]Block{{Type: "tool_use", ToolUseID: "call_1", Name: "shell"}}))
	_ = w.Append(NewUserEntry("s", "/c", "1", "u3", "t3", []Block{{Type: "tool_result", ToolUseID: "call_1", Content: "ok"}}))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.False(t, loaded.Truncation.Truncated, "every tool_use was answered, should not truncate")
	assert.Len(t, loaded.Messages, 3)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err, "Load on missing file should not error")
	assert.Empty(t, loaded.Messages, "expected no messages for a missing transcript")
}
