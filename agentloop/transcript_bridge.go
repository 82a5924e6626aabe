package agentloop

import (
	"time"

	"github.com/google/uuid"
	"github.com/daveworth/agentcore/transcript"
	"github.com/daveworth/agentcore/unifiedllm"
)

// transcriptVersion is stamped onto every entry this package writes.
// Readers depending on the on-disk layout must accept unknown top-level
// fields (spec §6), so this is informational, not a compatibility gate.
const transcriptVersion = "agentcore/1"

// appendTranscript writes turn to the session's Transcript Log. Only user,
// assistant, and tool-result-batch turns are durable entries; system and
// steering turns are in-memory-only bookkeeping (spec §4.10 only names
// user/assistant record shapes).
func (s *Session) appendTranscript(turn Turn) {
	if s.transcript == nil {
		return
	}
	cwd := s.env.WorkingDirectory()
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	switch turn.Kind {
	case TurnUser:
		if turn.User == nil {
			return
		}
		entry := transcript.NewUserEntry(s.id, cwd, transcriptVersion, uuid.New().String(), ts,
			[]transcript.Block{{Type: "text", Text: turn.User.Content}})
		_ = s.transcript.Append(entry)

	case TurnAssistant:
		if turn.Assistant == nil {
			return
		}
		blocks := assistantTurnToBlocks(*turn.Assistant)
		usage := &transcript.Usage{
			InputTokens:              turn.Assistant.Usage.InputTokens,
			OutputTokens:             turn.Assistant.Usage.OutputTokens,
			CacheCreationInputTokens: intFromPtr(turn.Assistant.Usage.CacheWriteTokens),
			CacheReadInputTokens:     intFromPtr(turn.Assistant.Usage.CacheReadTokens),
		}
		entry := transcript.NewAssistantEntry(s.id, cwd, transcriptVersion, uuid.New().String(), ts,
			turn.Assistant.ResponseID, s.profile.ModelID(), turn.Assistant.ResponseID, "", "", usage, blocks)
		_ = s.transcript.Append(entry)

	case TurnToolResults:
		if turn.ToolResults == nil {
			return
		}
		blocks := make([]transcript.Block, 0, len(turn.ToolResults.Results))
		for _, r := range turn.ToolResults.Results {
			blocks = append(blocks, transcript.Block{
				Type:      "tool_result",
				ToolUseID: r.ToolCallID,
				Content:   r.Content,
				IsError:   r.IsError,
			})
		}
		entry := transcript.NewUserEntry(s.id, cwd, transcriptVersion, uuid.New().String(), ts, blocks)
		_ = s.transcript.Append(entry)
	}
}

func intFromPtr(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func assistantTurnToBlocks(a AssistantTurn) []transcript.Block {
	var blocks []transcript.Block
	if a.Reasoning != "" {
		blocks = append(blocks, transcript.Block{Type: "thinking", Text: a.Reasoning, Signature: a.Signature})
	}
	if a.Content != "" {
		blocks = append(blocks, transcript.Block{Type: "text", Text: a.Content})
	}
	for _, tc := range a.ToolCalls {
		blocks = append(blocks, transcript.Block{
			Type:      "tool_use",
			ToolUseID: tc.ID,
			Name:      tc.Name,
			Input:     tc.Arguments,
		})
	}
	return blocks
}

// turnFromTranscriptEntry reconstructs a Turn from a loaded transcript
// Entry. Tool-result batches are transcript.Entry values with Type "user"
// whose content is entirely tool_result blocks; everything else maps
// straightforwardly back onto the Turn union.
func turnFromTranscriptEntry(entry transcript.Entry) Turn {
	if entry.Type == "assistant" {
		var text, thinking, signature string
		var toolCalls []unifiedllm.ToolCall
		for _, b := range entry.Message.Content {
			switch b.Type {
			case "text":
				text += b.Text
			case "thinking":
				thinking += b.Text
				signature += b.Signature
			case "tool_use":
				toolCalls = append(toolCalls, unifiedllm.ToolCall{ID: b.ToolUseID, Name: b.Name, Arguments: b.Input})
			}
		}
		var usage unifiedllm.Usage
		if entry.Message.Usage != nil {
			usage = unifiedllm.Usage{
				InputTokens:  entry.Message.Usage.InputTokens,
				OutputTokens: entry.Message.Usage.OutputTokens,
			}
		}
		return NewAssistantTurn(text, toolCalls, thinking, signature, usage, entry.Message.ID)
	}

	// User entry: either a plain user message or a tool_result batch.
	var results []unifiedllm.ToolResult
	var text string
	for _, b := range entry.Message.Content {
		switch b.Type {
		case "tool_result":
			content, _ := b.Content.(string)
			results = append(results, unifiedllm.ToolResult{ToolCallID: b.ToolUseID, Content: content, IsError: b.IsError})
		case "text":
			text += b.Text
		}
	}
	if len(results) > 0 {
		return NewToolResultsTurn(results)
	}
	return NewUserTurn(text)
}
