package agentloop

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/daveworth/agentcore/hooks"
	"github.com/daveworth/agentcore/mcp"
	"github.com/daveworth/agentcore/subprocess"
	"github.com/daveworth/agentcore/transcript"
	"github.com/daveworth/agentcore/unifiedllm"
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateProcessing    SessionState = "processing"
	StateAwaitingInput SessionState = "awaiting_input"
	StateClosed        SessionState = "closed"
)

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	MaxTurns                int            `json:"max_turns" validate:"gte=0"`                 // 0 = unlimited
	MaxToolRoundsPerInput   int            `json:"max_tool_rounds_per_input" validate:"gt=0"`  // per user input
	DefaultCommandTimeoutMs int            `json:"default_command_timeout_ms" validate:"gt=0"`
	MaxCommandTimeoutMs     int            `json:"max_command_timeout_ms" validate:"gtefield=DefaultCommandTimeoutMs"`
	ReasoningEffort         string         `json:"reasoning_effort,omitempty" validate:"omitempty,oneof=low medium high"` // "low", "medium", "high", or ""
	ToolOutputLimits        map[string]int `json:"tool_output_limits,omitempty"`
	ToolLineLimits          map[string]int `json:"tool_line_limits,omitempty"`
	EnableLoopDetection     bool           `json:"enable_loop_detection"`
	LoopDetectionWindow     int            `json:"loop_detection_window" validate:"gte=0"`
	MaxSubagentDepth        int            `json:"max_subagent_depth" validate:"gte=0"`
	UserInstructions        string         `json:"user_instructions,omitempty"` // appended last to system prompt
	ModelOverride           string         `json:"model_override,omitempty"`    // worker-only: replaces profile.ModelID() for this session
	AllowedToolNames        []string       `json:"allowed_tool_names,omitempty"` // worker-only: nil/empty means every profile tool is available
	AutoCompactEnabled      bool           `json:"auto_compact_enabled"`
	AutoCompactThreshold    float64        `json:"auto_compact_threshold,omitempty" validate:"omitempty,gt=0,lte=1"` // fraction of context window, default 0.80
	MaxContextTokens        int            `json:"max_context_tokens,omitempty" validate:"gte=0"`     // 0 = use profile.ContextWindowSize()
	subagentDepth           int            // internal: current nesting depth
}

var sessionConfigValidator = validator.New()

// Validate reports malformed SessionConfig fields (negative timeouts, a
// command timeout ceiling below its own default, an unrecognized
// reasoning effort) before a session starts, rather than letting garbage
// values reach a spawned child process or a provider request.
func (c SessionConfig) Validate() error {
	return sessionConfigValidator.Struct(c)
}

// DefaultSessionConfig returns the spec-default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxTurns:                0,   // unlimited
		MaxToolRoundsPerInput:   200,
		DefaultCommandTimeoutMs: 10000,  // 10 seconds
		MaxCommandTimeoutMs:     600000, // 10 minutes
		EnableLoopDetection:     true,
		LoopDetectionWindow:     10,
		MaxSubagentDepth:        1,
		AutoCompactEnabled:      false,
		AutoCompactThreshold:    0.80,
	}
}

// Compactor replaces a session's message history with a shorter
// representation once context pressure crosses the auto-compact threshold
// (spec §4.11 step 5). The caller owns the summarization strategy; the
// loop only owns when to invoke it and how to splice the result back in.
type Compactor func(ctx context.Context, history []Turn) ([]Turn, error)

// Session is the central orchestrator for the agentic loop.
type Session struct {
	id              string
	profile         ProviderProfile
	env             ExecutionEnvironment
	history         []Turn
	emitter         *EventEmitter
	config          SessionConfig
	state           SessionState
	llmClient       *unifiedllm.Client
	steeringQueue   []string
	followupQueue   []string
	subagents       *SubAgentManager
	abortSignaled   bool
	hooks           *hooks.Registry
	subprocRuntime  *subprocess.Runtime
	transcript      *transcript.Writer
	mcpManager      *mcp.Manager
	compactor       Compactor
	cumulativeUsage unifiedllm.Usage
	mu              sync.Mutex
}

// SetCompactor installs the caller-supplied compaction strategy and enables
// auto-compact regardless of SessionConfig.AutoCompactEnabled's prior value,
// since a Compactor with auto-compact left off would never run.
func (s *Session) SetCompactor(c Compactor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactor = c
	s.config.AutoCompactEnabled = true
}

// UseMCPManager attaches an MCP Server Manager: before each turn, every
// tool currently advertised by its connected servers is (re-)projected
// into the session's tool registry under mcp__<server>__<tool> (spec
// §4.7). Re-registering per turn, not once at setup, is what lets a
// restarted or newly-connected server's tools appear without restarting
// the session.
func (s *Session) UseMCPManager(manager *mcp.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mcpManager = manager
}

// Hooks returns the session's Hook Registry so a host application can
// register PreToolUse/PostToolUse/WorkerStart/WorkerStop handlers before
// the first Submit call (spec §4.9).
func (s *Session) Hooks() *hooks.Registry { return s.hooks }

// Subprocess returns the session's Subprocess Tool Runtime, giving a host
// application direct access to the background-shell table (spec §4.5, §9).
func (s *Session) Subprocess() *subprocess.Runtime { return s.subprocRuntime }

// NewSession creates a new session with the given profile, execution
// environment, and optional configuration.
func NewSession(profile ProviderProfile, env ExecutionEnvironment, config *SessionConfig) *Session {
	sessionID := uuid.New().String()

	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "agentloop: invalid session config, falling back to defaults: %v\n", err)
		cfg = DefaultSessionConfig()
	}

	hookRegistry := hooks.NewRegistry(func(kind hooks.Kind, recovered interface{}) {
		fmt.Fprintf(os.Stderr, "agentloop: hook panic during %s: %v\n", kind, recovered)
	})
	subprocRuntime := subprocess.NewRuntime()

	s := &Session{
		id:             sessionID,
		profile:        profile,
		env:            env,
		history:        make([]Turn, 0),
		emitter:        NewEventEmitter(sessionID, 256),
		config:         cfg,
		state:          StateIdle,
		llmClient:      unifiedllm.GetDefaultClient(),
		subagents:      NewSubAgentManager(cfg.MaxSubagentDepth, cfg.subagentDepth),
		hooks:          hookRegistry,
		subprocRuntime: subprocRuntime,
		transcript:     transcript.NewWriter(transcriptPath(env.WorkingDirectory(), sessionID)),
	}

	// The runtime-backed shell tool (plus background-shell triplet) joins
	// the file and search tools RegisterCoreTools installed when the
	// profile was constructed.
	RegisterSubprocessTools(profile.ToolRegistry(), subprocRuntime, cfg.DefaultCommandTimeoutMs, cfg.MaxCommandTimeoutMs)

	// Register subagent tools if depth allows.
	if s.subagents.CanSpawn() {
		RegisterSubagentTools(profile.ToolRegistry(), s.subagents, profile, env, hookRegistry)
	}

	return s
}

// transcriptPath resolves the on-disk transcript location for a session:
// <home>/.claude/projects/<cwd-with-slashes-replaced-by-dashes>/<sessionId>.jsonl
// (spec §4.10). Falls back to the working directory itself if $HOME is
// unset, which only happens in unusual test environments.
func transcriptPath(workingDir, sessionID string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = workingDir
	}
	return transcript.Path(home, workingDir, sessionID)
}

// Resume loads a previously-written transcript for this session's working
// directory and replays it into a fresh Session's history, applying the
// Transcript Log's crash-recovery truncation (spec §4.10, §8 scenario 2).
// The returned TruncationInfo is zero-valued when the transcript loaded
// cleanly.
func (s *Session) Resume(sessionID string) (transcript.TruncationInfo, error) {
	path := transcriptPath(s.env.WorkingDirectory(), sessionID)
	loaded, err := transcript.Load(path)
	if err != nil {
		return transcript.TruncationInfo{}, fmt.Errorf("resume: %w", err)
	}

	history := make([]Turn, 0, len(loaded.Messages))
	for _, entry := range loaded.Messages {
		history = append(history, turnFromTranscriptEntry(entry))
	}

	s.mu.Lock()
	s.history = history
	s.mu.Unlock()

	return loaded.Truncation, nil
}

// SetClient sets a custom LLM client (overriding the default).
func (s *Session) SetClient(client *unifiedllm.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmClient = client
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]Turn, len(s.history))
	copy(h, s.history)
	return h
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Steer queues a message to be injected after the current tool round.
func (s *Session) Steer(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steeringQueue = append(s.steeringQueue, message)
}

// FollowUp queues a message to be processed after the current input completes.
func (s *Session) FollowUp(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followupQueue = append(s.followupQueue, message)
}

// Abort signals the session to stop processing.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortSignaled = true
}

// Close terminates the session and cleans up resources.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.subagents.CloseAll()
	if s.transcript != nil {
		_ = s.transcript.Close()
	}
	s.emitter.Emit(EventSessionEnd, map[string]interface{}{
		"state": string(StateClosed),
	})
	s.emitter.Close()
}

// SetReasoningEffort changes the reasoning effort for subsequent LLM calls.
func (s *Session) SetReasoningEffort(effort string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.ReasoningEffort = effort
}

// Submit processes a user input through the agentic loop.
func (s *Session) Submit(ctx context.Context, userInput string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("session is closed")
	}
	s.state = StateProcessing
	s.abortSignaled = false
	s.mu.Unlock()

	return s.processInput(ctx, userInput)
}

// processInput is the core agentic loop (Section 2.5 of the spec).
func (s *Session) processInput(ctx context.Context, userInput string) error {
	// Append user turn.
	userTurn := NewUserTurn(userInput)
	s.mu.Lock()
	s.history = append(s.history, userTurn)
	s.mu.Unlock()
	s.appendTranscript(userTurn)
	s.emitter.Emit(EventUserInput, map[string]interface{}{
		"content": userInput,
	})

	// Drain any pending steering messages before the first LLM call.
	s.drainSteering()

	roundCount := 0
	turnCount := 0

	for {
		// 1. Check limits.
		s.mu.Lock()
		maxRounds := s.config.MaxToolRoundsPerInput
		maxTurns := s.config.MaxTurns
		aborted := s.abortSignaled
		s.mu.Unlock()

		if roundCount >= maxRounds {
			s.emitter.Emit(EventTurnLimit, map[string]interface{}{
				"round": roundCount,
			})
			s.emitDone("max_turns", turnCount)
			break
		}

		if maxTurns > 0 && s.countTurns() >= maxTurns {
			s.emitter.Emit(EventTurnLimit, map[string]interface{}{
				"total_turns": s.countTurns(),
			})
			s.emitDone("max_turns", turnCount)
			break
		}

		if aborted {
			s.emitDone("cancelled", turnCount)
			break
		}

		// Check context cancellation. The universal cancellation invariant
		// (spec §8) allows at most one further event after cancel(), which
		// must be this done{stopReason:"cancelled"} — no EventError here.
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			s.emitDone("cancelled", turnCount)
			return ctx.Err()
		default:
		}

		// 2. Build LLM request using provider profile.
		s.mu.Lock()
		mcpManager := s.mcpManager
		s.mu.Unlock()
		if mcpManager != nil {
			RegisterMCPTools(s.profile.ToolRegistry(), mcpManager)
		}

		projectDocs := DiscoverProjectDocs(s.env.WorkingDirectory(), s.profile.ID())
		systemPrompt := s.profile.BuildSystemPrompt(s.env, projectDocs)

		// Append user instructions if configured.
		s.mu.Lock()
		if s.config.UserInstructions != "" {
			systemPrompt += "\n\n# User Instructions\n\n" + s.config.UserInstructions
		}
		s.mu.Unlock()

		messages := ConvertHistoryToMessages(s.History())

		// Build tool definitions for the request. A worker session with
		// AllowedToolNames set (spec §4.8's "optional tool subset")
		// advertises only that subset; executeSingleTool enforces the same
		// restriction against direct dispatch.
		s.mu.Lock()
		allowedTools := s.config.AllowedToolNames
		s.mu.Unlock()
		toolDefs := s.profile.Tools()
		if len(allowedTools) > 0 {
			toolDefs = filterToolDefs(toolDefs, allowedTools)
		}
		sdkToolDefs := make([]unifiedllm.ToolDefinition, len(toolDefs))
		for i, td := range toolDefs {
			sdkToolDefs[i] = unifiedllm.ToolDefinition{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			}
		}

		s.mu.Lock()
		reasoningEffort := s.config.ReasoningEffort
		model := s.config.ModelOverride
		s.mu.Unlock()
		if model == "" {
			model = s.profile.ModelID()
		}

		request := unifiedllm.Request{
			Model:           model,
			Messages:        append([]unifiedllm.Message{unifiedllm.SystemMessage(systemPrompt)}, messages...),
			ToolDefs:        sdkToolDefs,
			ToolChoice:      &unifiedllm.ToolChoice{Mode: "auto"},
			ReasoningEffort: reasoningEffort,
			Provider:        s.profile.ID(),
			ProviderOptions: s.profile.ProviderOptions(),
		}

		// 3. Call LLM via Unified LLM SDK.
		s.emitter.Emit(EventAssistantTextStart, nil)
		response, err := s.llmClient.Complete(ctx, request)
		if err != nil {
			// A cancelled ctx surfacing through Complete is cancellation,
			// never a transport error — classify it before IsRetryable.
			if ctx.Err() != nil {
				s.mu.Lock()
				s.state = StateClosed
				s.mu.Unlock()
				s.emitDone("cancelled", turnCount)
				return ctx.Err()
			}
			// Transport errors inside a streaming turn surface as an error
			// agent event followed by done{stopReason:"end_turn"}; the loop
			// does not retry here (spec §7) — the caller decides.
			if !unifiedllm.IsRetryable(err) {
				s.mu.Lock()
				s.state = StateClosed
				s.mu.Unlock()
				s.emitter.Emit(EventError, map[string]interface{}{
					"error": err.Error(),
				})
				s.emitDone("end_turn", turnCount)
				return fmt.Errorf("unrecoverable LLM error: %w", err)
			}
			// For retryable errors, the SDK should handle retry.
			// If we still get an error, surface it.
			s.emitter.Emit(EventError, map[string]interface{}{
				"error": err.Error(),
			})
			s.emitDone("end_turn", turnCount)
			return fmt.Errorf("LLM error after retries: %w", err)
		}
		turnCount++
		s.mu.Lock()
		s.cumulativeUsage = s.cumulativeUsage.Add(response.Usage)
		s.mu.Unlock()

		// 4. Record assistant turn. The thinking signature is pulled from
		// the response's raw content parts, not Reasoning()'s concatenated
		// text, since it must round-trip byte-for-byte (spec §3, §9).
		toolCalls := response.ToolCallsFromResponse()
		assistantTurn := NewAssistantTurn(
			response.Text(),
			toolCalls,
			response.Reasoning(),
			thinkingSignature(response),
			response.Usage,
			response.ID,
		)
		s.mu.Lock()
		s.history = append(s.history, assistantTurn)
		s.mu.Unlock()
		s.appendTranscript(assistantTurn)

		s.emitter.Emit(EventAssistantTextEnd, map[string]interface{}{
			"text":      response.Text(),
			"reasoning": response.Reasoning(),
		})

		// 5. Context window awareness check, then auto-compact if the
		// caller-supplied compactor is installed and usage crosses the
		// configured threshold (spec §4.11 step 5, §8 scenario 6).
		s.checkContextUsage()
		s.maybeAutoCompact(ctx, response.Usage)

		// 6. Branch on the model's actual stop reason (spec §4.11 step 6):
		// end_turn/max_tokens end the turn; tool_use with no actual calls is
		// treated as end_turn per the "absent/unknown" fallback; only
		// tool_use with calls continues the loop.
		stopReason := turnStopReason(response)
		if stopReason != "tool_use" || len(toolCalls) == 0 {
			if stopReason == "tool_use" {
				stopReason = "end_turn"
			}
			s.emitDone(stopReason, turnCount)
			break
		}

		// 7. Execute tool calls through the execution environment.
		roundCount++
		results := s.executeToolCalls(ctx, toolCalls)
		toolResultsTurn := NewToolResultsTurn(results)
		s.mu.Lock()
		s.history = append(s.history, toolResultsTurn)
		s.mu.Unlock()
		s.appendTranscript(toolResultsTurn)

		// 8. Drain steering messages injected during tool execution.
		s.drainSteering()

		// 9. Loop detection.
		s.mu.Lock()
		enableLoop := s.config.EnableLoopDetection
		loopWindow := s.config.LoopDetectionWindow
		historyCopy := make([]Turn, len(s.history))
		copy(historyCopy, s.history)
		s.mu.Unlock()

		if enableLoop {
			if DetectLoop(historyCopy, loopWindow) {
				warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", loopWindow)
				s.mu.Lock()
				s.history = append(s.history, NewSteeringTurn(warning))
				s.mu.Unlock()
				s.emitter.Emit(EventLoopDetection, map[string]interface{}{
					"message": warning,
				})
			}
		}
	}

	// Process follow-up messages if any are queued.
	s.mu.Lock()
	if len(s.followupQueue) > 0 {
		nextInput := s.followupQueue[0]
		s.followupQueue = s.followupQueue[1:]
		s.mu.Unlock()
		return s.processInput(ctx, nextInput)
	}
	s.state = StateIdle
	s.mu.Unlock()
	s.emitter.Emit(EventSessionEnd, nil)

	return nil
}

// drainSteering injects all queued steering messages into the history.
func (s *Session) drainSteering() {
	s.mu.Lock()
	messages := make([]string, len(s.steeringQueue))
	copy(messages, s.steeringQueue)
	s.steeringQueue = s.steeringQueue[:0]
	s.mu.Unlock()

	for _, msg := range messages {
		s.mu.Lock()
		s.history = append(s.history, NewSteeringTurn(msg))
		s.mu.Unlock()
		s.emitter.Emit(EventSteeringInjected, map[string]interface{}{
			"content": msg,
		})
	}
}

// executeToolCalls dispatches tool calls through the registry and execution
// environment. Calls within a single turn are always run one at a time, in
// the order the model emitted them — the loop is single-threaded at this
// level even when a provider profile advertises parallel tool-call support.
func (s *Session) executeToolCalls(ctx context.Context, toolCalls []unifiedllm.ToolCall) []unifiedllm.ToolResult {
	results := make([]unifiedllm.ToolResult, len(toolCalls))
	for i, tc := range toolCalls {
		results[i] = s.executeSingleTool(ctx, tc)
	}
	return results
}

// executeSingleTool handles the full tool execution pipeline: PreToolUse ->
// lookup -> execute -> PostToolUse -> truncate -> emit -> return. A
// PreToolUse veto short-circuits execution entirely and synthesizes an
// error tool_result from the handler's reason (spec §4.9, §8 scenario 4).
func (s *Session) executeSingleTool(ctx context.Context, toolCall unifiedllm.ToolCall) unifiedllm.ToolResult {
	s.emitter.Emit(EventToolCallStart, map[string]interface{}{
		"tool_name": toolCall.Name,
		"call_id":   toolCall.ID,
	})

	s.mu.Lock()
	allowedTools := s.config.AllowedToolNames
	s.mu.Unlock()
	if len(allowedTools) > 0 && !toolNameAllowed(toolCall.Name, allowedTools) {
		errorMsg := fmt.Sprintf("Tool not available to this worker: %s", toolCall.Name)
		s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
			"call_id": toolCall.ID,
			"error":   errorMsg,
		})
		return unifiedllm.ToolResult{ToolCallID: toolCall.ID, Content: errorMsg, IsError: true}
	}

	arguments := toolCall.Arguments
	if s.hooks != nil {
		pre := s.hooks.Run(hooks.Event{Kind: hooks.PreToolUse, ToolName: toolCall.Name, Input: arguments})
		if !pre.Allowed {
			errorMsg := fmt.Sprintf("Tool blocked: %s", pre.Reason)
			s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
				"call_id": toolCall.ID,
				"error":   errorMsg,
			})
			return unifiedllm.ToolResult{ToolCallID: toolCall.ID, Content: errorMsg, IsError: true}
		}
		if pre.Modified != nil {
			arguments = pre.Modified
		}
	}

	// 1+2. Lookup and execute via the Tool Registry, which composes a fresh
	// cancellation token with ctx and races the executor against a timeout
	// (spec §4.4) — a cancelled session now propagates into the call, and
	// a stuck tool can no longer block past its deadline.
	rawOutput, err := s.profile.ToolRegistry().Dispatch(ctx, toolCall.Name, arguments, s.env)
	if err != nil {
		errorMsg := fmt.Sprintf("Tool error (%s): %v", toolCall.Name, err)
		s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
			"call_id": toolCall.ID,
			"error":   errorMsg,
		})
		return unifiedllm.ToolResult{
			ToolCallID: toolCall.ID,
			Content:    errorMsg,
			IsError:    true,
		}
	}

	// 3. PostToolUse may append human-readable context onto the
	// API-visible result without altering the untruncated event output.
	apiOutput := rawOutput
	if s.hooks != nil {
		post := s.hooks.Run(hooks.Event{Kind: hooks.PostToolUse, ToolName: toolCall.Name, Input: arguments, Result: rawOutput})
		if post.AppendToResult != "" {
			apiOutput += post.AppendToResult
		}
	}

	// 4. Truncate output before sending to LLM.
	s.mu.Lock()
	charLimits := s.config.ToolOutputLimits
	lineLimits := s.config.ToolLineLimits
	s.mu.Unlock()
	truncatedOutput := TruncateToolOutput(apiOutput, toolCall.Name, charLimits, lineLimits)

	// 5. Emit full output via event stream (not truncated).
	s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
		"call_id": toolCall.ID,
		"output":  rawOutput, // Full untruncated output.
	})

	// 6. Return truncated output as ToolResult.
	return unifiedllm.ToolResult{
		ToolCallID: toolCall.ID,
		Content:    truncatedOutput,
		IsError:    false,
	}
}

// turnStopReason resolves a response's provider-reported stop reason to one
// of the agent event stream's terminal vocabulary: "end_turn", "max_tokens",
// or "tool_use" (spec §4.11 step 6, GLOSSARY "Stop reason"). The Anthropic
// adapter carries the literal value in FinishReason.Raw; the gollm adapter
// (every other provider) carries only the generic Reason classification, so
// Raw is checked first and Reason is the fallback. An absent or unrecognized
// value is treated as "end_turn" per spec.
func turnStopReason(response *unifiedllm.Response) string {
	if response == nil {
		return "end_turn"
	}
	switch response.FinishReason.Raw {
	case "end_turn", "max_tokens", "tool_use":
		return response.FinishReason.Raw
	}
	switch response.FinishReason.Reason {
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

// emitDone emits the terminal done{totalUsage, stopReason, turnCount,
// sessionId} event every exit path of processInput must produce exactly
// once (spec §4.11 steps 6-7, §6, §8 scenarios 1/5/6).
func (s *Session) emitDone(stopReason string, turnCount int) {
	s.mu.Lock()
	usage := s.cumulativeUsage
	s.mu.Unlock()
	s.emitter.Emit(EventDone, map[string]interface{}{
		"total_usage": usage,
		"stop_reason": stopReason,
		"turn_count":  turnCount,
		"session_id":  s.id,
	})
}

// thinkingSignature extracts the opaque signature token attached to a
// response's thinking content part, if any. It must be preserved
// byte-for-byte rather than derived from Reasoning()'s plain text.
func thinkingSignature(response *unifiedllm.Response) string {
	if response == nil {
		return ""
	}
	var sig string
	for _, part := range response.Message.Content {
		if part.Kind == unifiedllm.ContentThinking && part.Thinking != nil {
			sig += part.Thinking.Signature
		}
	}
	return sig
}

// countTurns returns the number of user and assistant turns in the history.
func (s *Session) countTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, turn := range s.history {
		if turn.Kind == TurnUser || turn.Kind == TurnAssistant {
			count++
		}
	}
	return count
}

// maybeAutoCompact invokes the installed Compactor when this turn's token
// usage crosses the configured threshold: (input_tokens -
// cache_read_input_tokens) / maxContextTokens >= threshold (spec §4.11
// step 5). A nil compactor or disabled config is a no-op.
func (s *Session) maybeAutoCompact(ctx context.Context, usage unifiedllm.Usage) {
	s.mu.Lock()
	enabled := s.config.AutoCompactEnabled
	compactor := s.compactor
	threshold := s.config.AutoCompactThreshold
	maxTokens := s.config.MaxContextTokens
	s.mu.Unlock()

	if !enabled || compactor == nil {
		return
	}
	if threshold <= 0 {
		threshold = 0.80
	}
	if maxTokens <= 0 {
		maxTokens = s.profile.ContextWindowSize()
	}
	if maxTokens <= 0 {
		return
	}

	cacheRead := 0
	if usage.CacheReadTokens != nil {
		cacheRead = *usage.CacheReadTokens
	}
	effective := usage.InputTokens - cacheRead
	if float64(effective)/float64(maxTokens) < threshold {
		return
	}

	previous := s.History()
	compacted, err := compactor(ctx, previous)
	if err != nil {
		s.emitter.Emit(EventError, map[string]interface{}{"error": fmt.Sprintf("compaction failed: %v", err)})
		return
	}

	s.mu.Lock()
	s.history = compacted
	s.mu.Unlock()

	s.emitter.Emit(EventCompact, map[string]interface{}{
		"previous_message_count": len(previous),
		"new_message_count":      len(compacted),
	})
}

// checkContextUsage emits a warning if context usage exceeds 80%.
func (s *Session) checkContextUsage() {
	s.mu.Lock()
	history := make([]Turn, len(s.history))
	copy(history, s.history)
	contextWindow := s.profile.ContextWindowSize()
	s.mu.Unlock()

	var sb strings.Builder
	for _, turn := range history {
		sb.WriteString(turn.TextContent())
		if turn.Kind == TurnToolResults && turn.ToolResults != nil {
			for _, r := range turn.ToolResults.Results {
				if s, ok := r.Content.(string); ok {
					sb.WriteString(s)
				}
			}
		}
	}

	// approxTokenCount (truncation.go) counts real BPE tokens via
	// tiktoken-go when its encoding loaded, falling back to chars/4.
	approxTokens := approxTokenCount(sb.String())
	threshold := int(float64(contextWindow) * 0.8)
	if approxTokens > threshold {
		pct := int(float64(approxTokens) / float64(contextWindow) * 100)
		s.emitter.Emit(EventWarning, map[string]interface{}{
			"message": fmt.Sprintf("Context usage at ~%d%% of context window", pct),
		})
	}
}

// filterToolDefs keeps only the definitions named in allowed, preserving the
// registry's order.
func filterToolDefs(defs []ToolDefinition, allowed []string) []ToolDefinition {
	allow := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allow[name] = true
	}
	out := make([]ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if allow[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

func toolNameAllowed(name string, allowed []string) bool {
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	return false
}
