package unifiedllm

// StreamAccumulator collects stream events into a complete Response. The
// Anthropic SSE transport (anthropic_adapter.go) drives one per streamed
// turn so callers that only need the final Response don't have to drain
// and reassemble the event channel themselves.
type StreamAccumulator struct {
	textParts      map[string]string
	reasoningParts []string
	toolCalls      []ToolCall
	finishReason   *FinishReason
	usage          *Usage
	response       *Response
}

// NewStreamAccumulator creates a new StreamAccumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{
		textParts: make(map[string]string),
	}
}

// Process ingests a single stream event.
func (sa *StreamAccumulator) Process(event StreamEvent) {
	switch event.Type {
	case TextDelta:
		id := event.TextID
		if id == "" {
			id = "default"
		}
		sa.textParts[id] += event.Delta
	case ReasoningDelta:
		sa.reasoningParts = append(sa.reasoningParts, event.ReasoningDelta)
	case ToolCallEnd:
		if event.ToolCall != nil {
			sa.toolCalls = append(sa.toolCalls, *event.ToolCall)
		}
	case StreamFinish:
		sa.finishReason = event.FinishReason
		sa.usage = event.Usage
		sa.response = event.Response
	}
}

// Response returns the accumulated response.
func (sa *StreamAccumulator) Response() *Response {
	if sa.response != nil {
		return sa.response
	}
	// Build a response from accumulated parts.
	var content []ContentPart
	for _, text := range sa.textParts {
		content = append(content, TextPart(text))
	}
	for _, tc := range sa.toolCalls {
		content = append(content, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	fr := FinishReason{Reason: "stop"}
	if sa.finishReason != nil {
		fr = *sa.finishReason
	}

	usage := Usage{}
	if sa.usage != nil {
		usage = *sa.usage
	}

	return &Response{
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: fr,
		Usage:        usage,
	}
}
