// Package transcript is the Transcript Log: an append-only JSONL record of
// a session's user and assistant messages, written one line per message
// and reloaded with crash-recovery truncation on resume (spec §4.10).
package transcript

import "encoding/json"

// Block is one content block inside a message. Type determines which other
// fields are populated, mirroring the wire shapes in the streaming package
// rather than inventing a parallel vocabulary.
type Block struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Content    interface{}     `json:"content,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
}

// Usage mirrors the streaming package's usage counters for embedding inside
// an assistant entry's message.
type Usage struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// innerMessage is the message object nested inside every transcript entry.
type innerMessage struct {
	Role    string  `json:"role"`
	Content []Block `json:"content"`

	// Assistant-only fields.
	Model      string `json:"model,omitempty"`
	ID         string `json:"id,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
	StopSeq    string `json:"stop_sequence,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
}

// Entry is one JSONL line. Type is "user" or "assistant"; RequestID is
// only present on assistant entries.
type Entry struct {
	Type      string       `json:"type"`
	Message   innerMessage `json:"message"`
	SessionID string       `json:"sessionId"`
	Timestamp string       `json:"timestamp"` // ISO-8601
	UUID      string       `json:"uuid"`
	Cwd       string       `json:"cwd"`
	Version   string       `json:"version"`
	RequestID string       `json:"requestId,omitempty"`
}

// NewUserEntry builds a user-role entry. content may be plain text blocks
// or an array of tool_result blocks (a tool-result batch is written as a
// user-role entry per spec §4.10).
func NewUserEntry(sessionID, cwd, version, uuid, timestamp string, content []Block) Entry {
	return Entry{
		Type:      "user",
		Message:   innerMessage{Role: "user", Content: content},
		SessionID: sessionID,
		Timestamp: timestamp,
		UUID:      uuid,
		Cwd:       cwd,
		Version:   version,
	}
}

// NewAssistantEntry builds an assistant-role entry.
func NewAssistantEntry(sessionID, cwd, version, uuid, timestamp, requestID, model, id, stopReason, stopSeq string, usage *Usage, content []Block) Entry {
	return Entry{
		Type: "assistant",
		Message: innerMessage{
			Role:       "assistant",
			Content:    content,
			Model:      model,
			ID:         id,
			StopReason: stopReason,
			StopSeq:    stopSeq,
			Usage:      usage,
		},
		SessionID: sessionID,
		Timestamp: timestamp,
		UUID:      uuid,
		Cwd:       cwd,
		Version:   version,
		RequestID: requestID,
	}
}

// ToolUseIDs returns the id of every tool_use block in the entry's content.
func (e Entry) ToolUseIDs() []string {
	var ids []string
	for _, b := range e.Message.Content {
		if b.Type == "tool_use" {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// ToolResultIDs returns the tool_use_id of every tool_result block in the
// entry's content.
func (e Entry) ToolResultIDs() []string {
	var ids []string
	for _, b := range e.Message.Content {
		if b.Type == "tool_result" {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}
