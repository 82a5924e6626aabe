package streaming

import (
	"encoding/json"
	"sort"
)

// Reassembler applies a Parser's event sequence to a per-turn sparse
// content-block array and emits AgentEvents. One Reassembler is consumed by
// exactly one turn; construct a fresh one for each request.
//
// It is expressed as a transition function over (accumulator, next event)
// rather than branching on event-type strings at every call site: Apply is
// the only entry point, and the block-kind switch lives in one place.
type Reassembler struct {
	blocks     map[int]*Block
	order      []int
	stopReason string
	usage      Usage
}

// NewReassembler creates an empty Reassembler for one turn.
func NewReassembler() *Reassembler {
	return &Reassembler{blocks: make(map[int]*Block)}
}

// Apply feeds one parsed StreamEvent and returns zero or one AgentEvent.
// Events with malformed payloads are tolerated: the event is dropped and no
// AgentEvent is produced, mirroring the Parser's silent-drop policy.
func (r *Reassembler) Apply(ev StreamEvent) *AgentEvent {
	switch ev.Type {
	case EventMessageStart:
		var p messageStartPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil
		}
		r.usage = p.Message.Usage
		return &AgentEvent{
			Kind:       AgentMessageStart,
			StartUsage: p.Message.Usage,
			MessageID:  p.Message.ID,
			Model:      p.Message.Model,
		}

	case EventContentBlockStart:
		return r.applyBlockStart(ev.Data)

	case EventContentBlockDelta:
		return r.applyBlockDelta(ev.Data)

	case EventContentBlockStop:
		return r.applyBlockStop(ev.Data)

	case EventMessageDelta:
		var p messageDeltaPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return nil
		}
		r.stopReason = p.Delta.StopReason
		r.usage = r.usage.Add(Usage{OutputTokens: p.Usage.OutputTokens})
		if p.Usage.InputTokens > 0 {
			r.usage.InputTokens = p.Usage.InputTokens
		}
		return nil

	case EventMessageStop, EventPing, EventError:
		return nil

	default:
		return nil
	}
}

func (r *Reassembler) applyBlockStart(data json.RawMessage) *AgentEvent {
	var p contentBlockStartPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}

	switch p.ContentBlock.Type {
	case "text":
		r.set(p.Index, &Block{Kind: BlockText, Text: p.ContentBlock.Text})
		return nil

	case "thinking":
		r.set(p.Index, &Block{Kind: BlockThinking, Text: p.ContentBlock.Thinking})
		return nil

	case "tool_use":
		r.set(p.Index, &Block{
			Kind:      BlockToolUse,
			ToolUseID: p.ContentBlock.ID,
			ToolName:  p.ContentBlock.Name,
		})
		return nil

	case "server_tool_use":
		block := &Block{
			Kind:      BlockServerToolUse,
			ToolUseID: p.ContentBlock.ID,
			ToolName:  p.ContentBlock.Name,
			ToolInput: p.ContentBlock.Input,
		}
		r.set(p.Index, block)
		return &AgentEvent{Kind: AgentServerToolUse, ToolUse: block}

	case "web_search_tool_result":
		block := &Block{
			Kind:                BlockWebSearchToolResult,
			WebSearchToolUseID:  p.ContentBlock.ToolUseID,
			WebSearchResults:    p.ContentBlock.Content,
		}
		r.set(p.Index, block)
		return &AgentEvent{Kind: AgentWebSearchResult, WebSearchResult: block}

	case "image":
		r.set(p.Index, &Block{
			Kind:      BlockImage,
			MediaType: p.ContentBlock.MediaType,
			Data:      p.ContentBlock.Data,
		})
		return nil

	default:
		return nil
	}
}

func (r *Reassembler) applyBlockDelta(data json.RawMessage) *AgentEvent {
	var p contentBlockDeltaPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	block, ok := r.blocks[p.Index]
	if !ok {
		return nil
	}

	switch p.Delta.Type {
	case "text_delta":
		block.Text += p.Delta.Text
		return &AgentEvent{Kind: AgentText, TextDelta: p.Delta.Text}

	case "input_json_delta":
		block.partialJSON += p.Delta.PartialJSON
		return nil

	case "thinking_delta":
		block.Text += p.Delta.Thinking
		// Never emitted per-delta: reasoning in flight must not leak.
		return nil

	case "signature_delta":
		block.Signature += p.Delta.Signature
		return nil

	default:
		return nil
	}
}

func (r *Reassembler) applyBlockStop(data json.RawMessage) *AgentEvent {
	var p contentBlockStopPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	block, ok := r.blocks[p.Index]
	if !ok {
		return nil
	}

	switch block.Kind {
	case BlockThinking:
		return &AgentEvent{Kind: AgentThinking, Thinking: block}

	case BlockToolUse:
		block.ToolInput = parseToolInput(block.partialJSON)
		return &AgentEvent{Kind: AgentToolUse, ToolUse: block}

	default:
		// text was emitted per-delta and server_tool_use/web_search_tool_result
		// at start; image blocks emit no live event. No event on stop.
		return nil
	}
}

// parseToolInput JSON-parses the accumulated input_json_delta string. An
// empty accumulator becomes an empty object; malformed JSON also degrades
// to an empty object rather than failing the turn — the model's tool call
// still dispatches, just with no arguments the executor can use.
func parseToolInput(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("{}")
	}
	if !json.Valid([]byte(raw)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}

func (r *Reassembler) set(index int, block *Block) {
	if _, exists := r.blocks[index]; !exists {
		r.order = append(r.order, index)
	}
	r.blocks[index] = block
}

// Finalize materializes the assistant message's final block list in index
// order, together with the stop reason and accumulated usage. Call this
// once, after the underlying stream reports message_stop.
func (r *Reassembler) Finalize() AgentEvent {
	indices := make([]int, len(r.order))
	copy(indices, r.order)
	sort.Ints(indices)

	blocks := make([]Block, 0, len(indices))
	for _, idx := range indices {
		blocks = append(blocks, *r.blocks[idx])
	}
	return AgentEvent{
		Kind:        AgentMessageFinalized,
		FinalBlocks: blocks,
		StopReason:  r.stopReason,
		FinalUsage:  r.usage,
	}
}
