package unifiedllm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/daveworth/agentcore/streaming"
)

// anthropicRequiredSystemPrefix is the protocol-required first system block
// every request carries ahead of caller-supplied system content (spec §4.3).
const anthropicRequiredSystemPrefix = "You are Claude, an AI agent operating inside an automated coding harness."

const anthropicProtocolVersion = "2023-06-01"
const anthropicDefaultBaseURL = "https://api.anthropic.com/v1/messages"

// AnthropicAdapter is the hand-built Transport Client for the Anthropic
// Messages API: authenticated, timeouted HTTP streaming with one retry on
// auth failure (spec §4.3). Unlike GollmAdapter it owns its own HTTP+SSE
// plumbing rather than delegating to a third-party LLM client, since that
// plumbing is this module's core deliverable.
type AnthropicAdapter struct {
	httpClient  *http.Client
	credentials CredentialSource
	baseURL     string
	model       string
	maxTokens   int
}

// AnthropicAdapterOption configures an AnthropicAdapter.
type AnthropicAdapterOption func(*AnthropicAdapter)

// WithAnthropicBaseURL overrides the default API endpoint (tests point this
// at an httptest.Server).
func WithAnthropicBaseURL(url string) AnthropicAdapterOption {
	return func(a *AnthropicAdapter) { a.baseURL = url }
}

// WithAnthropicHTTPClient overrides the HTTP client (and so its timeout).
func WithAnthropicHTTPClient(c *http.Client) AnthropicAdapterOption {
	return func(a *AnthropicAdapter) { a.httpClient = c }
}

// WithAnthropicMaxTokens sets the default max_tokens when a request omits one.
func WithAnthropicMaxTokens(n int) AnthropicAdapterOption {
	return func(a *AnthropicAdapter) { a.maxTokens = n }
}

// NewAnthropicAdapter creates an AnthropicAdapter backed by the given
// credential source. Transport timeout defaults to 5 minutes (spec §5).
func NewAnthropicAdapter(credentials CredentialSource, opts ...AnthropicAdapterOption) *AnthropicAdapter {
	a := &AnthropicAdapter{
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		credentials: credentials,
		baseURL:     anthropicDefaultBaseURL,
		maxTokens:   8192,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Complete drains Stream into a single Response.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	events, err := a.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	acc := NewStreamAccumulator()
	for ev := range events {
		if ev.Type == StreamError {
			return nil, ev.Error
		}
		acc.Process(ev)
	}
	return acc.Response(), nil
}

// Stream issues the HTTPS POST described in spec §6, retries exactly once
// on a 401 after refreshing credentials, and translates the SSE body into a
// channel of unifiedllm.StreamEvent via the streaming package's Parser and
// Reassembler.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	body, err := a.buildRequestBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := a.doRequest(ctx, body, false)
	if err != nil {
		if ae, ok := err.(*AuthenticationError); ok {
			if refreshErr := a.credentials.Refresh(ctx); refreshErr != nil {
				return nil, ae
			}
			resp, err = a.doRequest(ctx, body, true)
		}
	}
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, 64)
	go a.pump(ctx, resp.Body, out)
	return out, nil
}

func (a *AnthropicAdapter) doRequest(ctx context.Context, body []byte, isRetry bool) (*http.Response, error) {
	token, err := a.credentials.Token(ctx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "building request", Cause: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("anthropic-version", anthropicProtocolVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: ctx.Err()}}
		}
		return nil, &NetworkError{SDKError: SDKError{Message: "transport error", Cause: err}}
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		var errBody struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &errBody)
		var retryAfter *float64
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := time.ParseDuration(ra + "s"); perr == nil {
				v := secs.Seconds()
				retryAfter = &v
			}
		}
		return nil, ErrorFromStatusCode(resp.StatusCode, errBody.Error.Message, "anthropic", errBody.Error.Type, nil, retryAfter)
	}

	return resp, nil
}

// pump reads the SSE response body, drives the Parser and Reassembler, and
// emits translated events. It owns closing body and out.
func (a *AnthropicAdapter) pump(ctx context.Context, body io.ReadCloser, out chan<- StreamEvent) {
	defer close(out)
	defer body.Close()

	parser := streaming.NewParser()
	reassembler := streaming.NewReassembler()
	reader := bufio.NewReaderSize(body, 64*1024)
	buf := make([]byte, 4096)

	emit := func(agentEv *streaming.AgentEvent) bool {
		if agentEv == nil {
			return true
		}
		se, ok := translateAgentEvent(*agentEv)
		if !ok {
			return true
		}
		select {
		case out <- se:
			return true
		case <-ctx.Done():
			out <- StreamEvent{Type: StreamError, Error: &AbortError{SDKError: SDKError{Message: "stream cancelled", Cause: ctx.Err()}}}
			return false
		}
	}

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				if !emit(reassembler.Apply(ev)) {
					return
				}
				if ev.Type == streaming.EventMessageStop {
					final := reassembler.Finalize()
					emit(&final)
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				for _, ev := range parser.Close() {
					emit(reassembler.Apply(ev))
				}
				final := reassembler.Finalize()
				emit(&final)
				return
			}
			out <- StreamEvent{Type: StreamError, Error: &NetworkError{SDKError: SDKError{Message: "reading stream", Cause: err}}}
			return
		}
	}
}

// translateAgentEvent maps a streaming.AgentEvent onto the generic
// unifiedllm.StreamEvent vocabulary shared with GollmAdapter, so the Agent
// Loop can drive either provider identically.
func translateAgentEvent(ev streaming.AgentEvent) (StreamEvent, bool) {
	switch ev.Kind {
	case streaming.AgentText:
		return StreamEvent{Type: TextDelta, Delta: ev.TextDelta}, true

	case streaming.AgentThinking:
		return StreamEvent{
			Type:           ReasoningDelta,
			ReasoningDelta: ev.Thinking.Text,
			Raw:            map[string]interface{}{"signature": ev.Thinking.Signature},
		}, true

	case streaming.AgentToolUse, streaming.AgentServerToolUse:
		return StreamEvent{
			Type: ToolCallEnd,
			ToolCall: &ToolCall{
				ID:        ev.ToolUse.ToolUseID,
				Name:      ev.ToolUse.ToolName,
				Arguments: ev.ToolUse.ToolInput,
			},
		}, true

	case streaming.AgentWebSearchResult:
		raw, _ := json.Marshal(ev.WebSearchResult.WebSearchResults)
		return StreamEvent{
			Type: ProviderEvent,
			Raw: map[string]interface{}{
				"kind":          "web_search_tool_result",
				"tool_use_id":   ev.WebSearchResult.WebSearchToolUseID,
				"results_json":  string(raw),
			},
		}, true

	case streaming.AgentMessageFinalized:
		return StreamEvent{
			Type:         StreamFinish,
			FinishReason: &FinishReason{Reason: normalizeFinishReason(ev.StopReason), Raw: ev.StopReason},
			Usage:        finalUsage(ev.FinalUsage),
			Response:     buildFinalResponse(ev),
		}, true

	default:
		return StreamEvent{}, false
	}
}

func normalizeFinishReason(anthropicStop string) string {
	switch anthropicStop {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return "other"
	}
}

func finalUsage(u streaming.Usage) *Usage {
	cacheRead := u.CacheReadInputTokens
	cacheWrite := u.CacheCreationInputTokens
	return &Usage{
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
		CacheReadTokens:  &cacheRead,
		CacheWriteTokens: &cacheWrite,
	}
}

func buildFinalResponse(ev streaming.AgentEvent) *Response {
	var content []ContentPart
	for _, block := range ev.FinalBlocks {
		switch block.Kind {
		case streaming.BlockText:
			content = append(content, TextPart(block.Text))
		case streaming.BlockThinking:
			content = append(content, ThinkingPart(block.Text, block.Signature))
		case streaming.BlockToolUse, streaming.BlockServerToolUse:
			content = append(content, ToolCallPart(block.ToolUseID, block.ToolName, block.ToolInput))
		case streaming.BlockImage:
			content = append(content, ImageDataPart([]byte(block.Data), block.MediaType, ""))
		}
	}
	return &Response{
		Provider:     "anthropic",
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: FinishReason{Reason: normalizeFinishReason(ev.StopReason), Raw: ev.StopReason},
		Usage:        *finalUsage(ev.FinalUsage),
	}
}

// anthropicWireRequest mirrors the Messages API request body (spec §6).
type anthropicWireRequest struct {
	Model     string               `json:"model"`
	Messages  []anthropicWireMsg   `json:"messages"`
	MaxTokens int                  `json:"max_tokens"`
	System    []anthropicWireBlock `json:"system,omitempty"`
	Tools     []anthropicWireTool  `json:"tools,omitempty"`
	Thinking  *anthropicThinking   `json:"thinking,omitempty"`
	Stream    bool                 `json:"stream"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicWireTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicWireBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text,omitempty"`
	Thinking     string                 `json:"thinking,omitempty"`
	Signature    string                 `json:"signature,omitempty"`
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Input        json.RawMessage        `json:"input,omitempty"`
	ToolUseID    string                 `json:"tool_use_id,omitempty"`
	Content      json.RawMessage        `json:"content,omitempty"`
	IsError      bool                   `json:"is_error,omitempty"`
	Source       *anthropicImageSource  `json:"source,omitempty"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicWireMsg struct {
	Role    string               `json:"role"`
	Content []anthropicWireBlock `json:"content"`
}

func (a *AnthropicAdapter) buildRequestBody(req Request) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := a.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	systemBlocks, conversation := splitSystemMessages(req.Messages)

	wireSystem := []anthropicWireBlock{
		{Type: "text", Text: anthropicRequiredSystemPrefix, CacheControl: &anthropicCacheControl{Type: "ephemeral"}},
	}
	for i, s := range systemBlocks {
		block := anthropicWireBlock{Type: "text", Text: s}
		if i == len(systemBlocks)-1 {
			block.CacheControl = &anthropicCacheControl{Type: "ephemeral"}
		}
		wireSystem = append(wireSystem, block)
	}

	wireMessages := make([]anthropicWireMsg, 0, len(conversation))
	for _, m := range conversation {
		wireMessages = append(wireMessages, toWireMessage(m))
	}
	markSecondToLastUserMessageCacheBreakpoint(wireMessages)

	var tools []anthropicWireTool
	for _, td := range req.ToolDefs {
		tools = append(tools, anthropicWireTool{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: td.Parameters,
		})
	}

	var thinking *anthropicThinking
	if req.ReasoningEffort != "" {
		budget := map[string]int{"low": 4096, "medium": 16384, "high": 32768}[req.ReasoningEffort]
		if budget > 0 {
			thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
		}
	}

	wire := anthropicWireRequest{
		Model:     model,
		Messages:  wireMessages,
		MaxTokens: maxTokens,
		System:    wireSystem,
		Tools:     tools,
		Thinking:  thinking,
		Stream:    true,
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "encoding request body", Cause: err}}
	}
	return body, nil
}

func splitSystemMessages(messages []Message) ([]string, []Message) {
	var system []string
	var rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.TextContent())
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func toWireMessage(m Message) anthropicWireMsg {
	role := string(m.Role)
	if m.Role == RoleTool {
		role = "user"
	}
	wire := anthropicWireMsg{Role: role}
	for _, part := range m.Content {
		switch part.Kind {
		case ContentText:
			wire.Content = append(wire.Content, anthropicWireBlock{Type: "text", Text: part.Text})
		case ContentThinking:
			if part.Thinking != nil {
				wire.Content = append(wire.Content, anthropicWireBlock{
					Type: "thinking", Thinking: part.Thinking.Text, Signature: part.Thinking.Signature,
				})
			}
		case ContentToolCall:
			if part.ToolCall != nil {
				wire.Content = append(wire.Content, anthropicWireBlock{
					Type: "tool_use", ID: part.ToolCall.ID, Name: part.ToolCall.Name, Input: part.ToolCall.Arguments,
				})
			}
		case ContentToolResult:
			if part.ToolResult != nil {
				wire.Content = append(wire.Content, anthropicWireBlock{
					Type: "tool_result", ToolUseID: part.ToolResult.ToolCallID,
					Content: part.ToolResult.Content, IsError: part.ToolResult.IsError,
				})
			}
		case ContentImage:
			if part.Image != nil && len(part.Image.Data) > 0 {
				wire.Content = append(wire.Content, anthropicWireBlock{
					Type: "image",
					Source: &anthropicImageSource{
						Type:      "base64",
						MediaType: part.Image.MediaType,
						Data:      string(part.Image.Data),
					},
				})
			}
		}
	}
	return wire
}

// markSecondToLastUserMessageCacheBreakpoint sets the conversation-history
// cache breakpoint on the last content block of the second-to-last user
// message, per spec §4.3. Thinking blocks never receive cache markers.
func markSecondToLastUserMessageCacheBreakpoint(messages []anthropicWireMsg) {
	userIndices := make([]int, 0, len(messages))
	for i, m := range messages {
		if m.Role == "user" {
			userIndices = append(userIndices, i)
		}
	}
	if len(userIndices) < 2 {
		return
	}
	idx := userIndices[len(userIndices)-2]
	blocks := messages[idx].Content
	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].Type == "thinking" {
			continue
		}
		blocks[i].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
		return
	}
}
