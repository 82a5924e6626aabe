// Package agentloop implements the agent loop, tool registry, and worker
// manager of the coding-agent specification.
//
// It provides a programmable agentic loop that pairs a large language model
// with developer tools. The loop orchestrates LLM calls, tool execution,
// context management, and provider-specific behavior into a reliable
// autonomous workflow, and ends the processing of each user input with
// exactly one terminal done event carrying the final stop reason, the number
// of model turns taken, and the session's cumulative token usage.
//
// The agent loop uses the unifiedllm package's low-level Client.Complete()
// and Client.Stream() methods directly, implementing its own turn loop to
// interleave tool execution with truncation, steering, hooks, loop
// detection, and per-call cancellation.
//
// # Architecture
//
// The package is organized around these core concepts:
//
//   - Session: The central orchestrator holding conversation state,
//     dispatching tool calls, managing events, and enforcing limits.
//   - ProviderProfile: Provider-aligned tool and prompt configuration
//     (OpenAI, Anthropic, Gemini).
//   - ExecutionEnvironment: Abstraction for where tools run (local today;
//     the interface seam is where a containerized or remote environment
//     would plug in).
//   - ToolRegistry: Registration and dispatch of tool definitions. Dispatch
//     composes a per-call cancellation token with the caller's context and
//     races the executor against a timeout (subprocess.Runtime backs the
//     shell tools, mcp.Manager backs namespaced MCP tools).
//   - hooks.Registry: PreToolUse/PostToolUse interception, consulted by
//     Session before and after every dispatched call.
//   - transcript.Writer: append-only JSONL session log, replayed by
//     transcript.Load on resume.
//   - EventEmitter: Typed event stream for host application integration.
//
// # Quick Start
//
//	profile := agentloop.NewAnthropicProfile("claude-opus-4-6")
//	env := agentloop.NewLocalExecutionEnvironment("/path/to/project")
//	session := agentloop.NewSession(profile, env, nil)
//	defer session.Close()
//
//	if err := session.Submit(ctx, "Create a hello.py file"); err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range session.Events() {
//	    fmt.Printf("[%s] %v\n", event.Kind, event.Data)
//	}
package agentloop
