package streaming

import "encoding/json"

// Usage mirrors the token accounting carried on message_start and
// message_delta events.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:              u.InputTokens + other.InputTokens,
		OutputTokens:             u.OutputTokens + other.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens + other.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens + other.CacheReadInputTokens,
	}
}

type messageStartPayload struct {
	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage Usage  `json:"usage"`
	} `json:"message"`
}

type contentBlockStartPayload struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type      string          `json:"type"`
		Text      string          `json:"text"`
		Thinking  string          `json:"thinking"`
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Input     json.RawMessage `json:"input"`
		ToolUseID string          `json:"tool_use_id"`
		Content   json.RawMessage `json:"content"`
		MediaType string          `json:"media_type"`
		Data      string          `json:"data"`
	} `json:"content_block"`
}

type contentBlockDeltaPayload struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		Thinking    string `json:"thinking"`
		Signature   string `json:"signature"`
	} `json:"delta"`
}

type contentBlockStopPayload struct {
	Index int `json:"index"`
}

type messageDeltaPayload struct {
	Delta struct {
		StopReason   string `json:"stop_reason"`
		StopSequence string `json:"stop_sequence"`
	} `json:"delta"`
	Usage Usage `json:"usage"`
}

// BlockKind discriminates the accumulated content-block shapes, matching
// the Message data model's tagged union (spec §3).
type BlockKind string

const (
	BlockText                 BlockKind = "text"
	BlockThinking             BlockKind = "thinking"
	BlockToolUse              BlockKind = "tool_use"
	BlockServerToolUse        BlockKind = "server_tool_use"
	BlockWebSearchToolResult  BlockKind = "web_search_tool_result"
	BlockImage                BlockKind = "image"
)

// Block is a fully- or partially-accumulated content block at some index.
type Block struct {
	Kind BlockKind

	// BlockText / BlockThinking
	Text      string
	Signature string

	// BlockToolUse / BlockServerToolUse
	ToolUseID   string
	ToolName    string
	ToolInput   json.RawMessage // finalized, parsed JSON object
	partialJSON string          // accumulator for input_json_delta, pre-parse

	// BlockWebSearchToolResult
	WebSearchToolUseID string
	WebSearchResults    json.RawMessage

	// BlockImage
	MediaType string
	Data      string
}

// AgentEventKind discriminates the live events the Reassembler emits.
type AgentEventKind string

const (
	AgentText                AgentEventKind = "text"
	AgentThinking            AgentEventKind = "thinking"
	AgentToolUse             AgentEventKind = "tool_use"
	AgentServerToolUse       AgentEventKind = "server_tool_use"
	AgentWebSearchResult     AgentEventKind = "web_search_result"
	AgentMessageStart        AgentEventKind = "message_start"
	AgentMessageFinalized    AgentEventKind = "message_finalized"
)

// AgentEvent is emitted by the Reassembler as it consumes parser events.
type AgentEvent struct {
	Kind AgentEventKind

	// AgentText: incremental fragment (not the full accumulated text).
	TextDelta string

	// AgentThinking: complete thinking block, emitted once at block close.
	Thinking *Block

	// AgentToolUse / AgentServerToolUse: complete block, input parsed.
	ToolUse *Block

	// AgentWebSearchResult: complete pass-through block.
	WebSearchResult *Block

	// AgentMessageStart
	StartUsage Usage
	MessageID  string
	Model      string

	// AgentMessageFinalized: the reassembled message is complete.
	FinalBlocks  []Block
	StopReason   string
	FinalUsage   Usage
}
