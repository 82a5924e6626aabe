package streaming

import (
	"encoding/json"
	"testing"
)

func sseEvent(t *testing.T, typ EventType, data string) StreamEvent {
	t.Helper()
	if !json.Valid([]byte(data)) {
		t.Fatalf("invalid test fixture JSON: %s", data)
	}
	return StreamEvent{Type: typ, Data: json.RawMessage(data)}
}

func TestReassemblerTextDeltasConcatenateInOrder(t *testing.T) {
	r := NewReassembler()
	r.Apply(sseEvent(t, EventContentBlockStart, `{"index":0,"content_block":{"type":"text","text":""}}`))

	var got string
	for _, frag := range []string{"Hello", ", ", "world"} {
		ev := r.Apply(sseEvent(t, EventContentBlockDelta,
			`{"index":0,"delta":{"type":"text_delta","text":"`+frag+`"}}`))
		if ev == nil || ev.Kind != AgentText {
			t.Fatalf("expected text event for fragment %q", frag)
		}
		got += ev.TextDelta
	}
	r.Apply(sseEvent(t, EventContentBlockStop, `{"index":0}`))

	final := r.Finalize()
	if len(final.FinalBlocks) != 1 || final.FinalBlocks[0].Text != got {
		t.Fatalf("final block text = %q, want %q", final.FinalBlocks[0].Text, got)
	}
	if got != "Hello, world" {
		t.Fatalf("concatenated deltas = %q", got)
	}
}

func TestReassemblerThinkingNotEmittedUntilStop(t *testing.T) {
	r := NewReassembler()
	r.Apply(sseEvent(t, EventContentBlockStart, `{"index":0,"content_block":{"type":"thinking","thinking":""}}`))

	if ev := r.Apply(sseEvent(t, EventContentBlockDelta, `{"index":0,"delta":{"type":"thinking_delta","thinking":"reasoning..."}}`)); ev != nil {
		t.Fatalf("thinking_delta must not emit a live event, got %v", ev)
	}
	if ev := r.Apply(sseEvent(t, EventContentBlockDelta, `{"index":0,"delta":{"type":"signature_delta","signature":"sig-bytes"}}`)); ev != nil {
		t.Fatalf("signature_delta must not emit a live event, got %v", ev)
	}

	ev := r.Apply(sseEvent(t, EventContentBlockStop, `{"index":0}`))
	if ev == nil || ev.Kind != AgentThinking {
		t.Fatalf("expected thinking event on block stop")
	}
	if ev.Thinking.Text != "reasoning..." {
		t.Errorf("thinking text = %q", ev.Thinking.Text)
	}
	if ev.Thinking.Signature != "sig-bytes" {
		t.Errorf("signature = %q, want byte-exact preservation", ev.Thinking.Signature)
	}
}

func TestReassemblerToolUseInputParsedOnStop(t *testing.T) {
	r := NewReassembler()
	r.Apply(sseEvent(t, EventContentBlockStart, `{"index":0,"content_block":{"type":"tool_use","id":"t1","name":"Read"}}`))
	if ev := r.Apply(sseEvent(t, EventContentBlockDelta, `{"index":0,"delta":{"type":"input_json_delta","partial_json":"{\"file_path\":"}}`)); ev != nil {
		t.Fatalf("input_json_delta must never emit partial JSON, got %v", ev)
	}
	r.Apply(sseEvent(t, EventContentBlockDelta, `{"index":0,"delta":{"type":"input_json_delta","partial_json":"\"/tmp/x\"}"}}`))

	ev := r.Apply(sseEvent(t, EventContentBlockStop, `{"index":0}`))
	if ev == nil || ev.Kind != AgentToolUse {
		t.Fatalf("expected tool_use event on block stop")
	}
	var input map[string]string
	if err := json.Unmarshal(ev.ToolUse.ToolInput, &input); err != nil {
		t.Fatalf("tool input did not parse: %v", err)
	}
	if input["file_path"] != "/tmp/x" {
		t.Errorf("parsed input = %v", input)
	}
}

func TestReassemblerToolUseMalformedInputBecomesEmptyObject(t *testing.T) {
	r := NewReassembler()
	r.Apply(sseEvent(t, EventContentBlockStart, `{"index":0,"content_block":{"type":"tool_use","id":"t1","name":"X"}}`))
	r.Apply(sseEvent(t, EventContentBlockDelta, `{"index":0,"delta":{"type":"input_json_delta","partial_json":"not json"}}`))
	ev := r.Apply(sseEvent(t, EventContentBlockStop, `{"index":0}`))
	if string(ev.ToolUse.ToolInput) != "{}" {
		t.Errorf("malformed input = %q, want empty object", ev.ToolUse.ToolInput)
	}
}

func TestReassemblerServerToolUseEmittedImmediately(t *testing.T) {
	r := NewReassembler()
	ev := r.Apply(sseEvent(t, EventContentBlockStart,
		`{"index":0,"content_block":{"type":"server_tool_use","id":"s1","name":"web_search","input":{"query":"go"}}}`))
	if ev == nil || ev.Kind != AgentServerToolUse {
		t.Fatalf("server_tool_use must emit on content_block_start, got %v", ev)
	}
}

func TestReassemblerFinalizeOrdersByIndexNotArrivalOrder(t *testing.T) {
	r := NewReassembler()
	r.Apply(sseEvent(t, EventContentBlockStart, `{"index":1,"content_block":{"type":"text","text":"second"}}`))
	r.Apply(sseEvent(t, EventContentBlockStart, `{"index":0,"content_block":{"type":"text","text":"first"}}`))

	final := r.Finalize()
	if len(final.FinalBlocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(final.FinalBlocks))
	}
	if final.FinalBlocks[0].Text != "first" || final.FinalBlocks[1].Text != "second" {
		t.Errorf("blocks not in index order: %+v", final.FinalBlocks)
	}
}

func TestReassemblerMessageDeltaCapturesStopReasonAndUsage(t *testing.T) {
	r := NewReassembler()
	r.Apply(sseEvent(t, EventMessageStart, `{"message":{"id":"m1","model":"claude","usage":{"input_tokens":10}}}`))
	r.Apply(sseEvent(t, EventMessageDelta, `{"delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`))

	final := r.Finalize()
	if final.StopReason != "end_turn" {
		t.Errorf("stop reason = %q", final.StopReason)
	}
	if final.FinalUsage.InputTokens != 10 || final.FinalUsage.OutputTokens != 5 {
		t.Errorf("usage = %+v", final.FinalUsage)
	}
}
