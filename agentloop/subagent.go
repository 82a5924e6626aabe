package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/daveworth/agentcore/hooks"
)

// WorkerArchetype selects a worker's system-prompt framing from a small
// fixed set (spec §4.8: "a specific system prompt chosen from a small set
// of agent archetypes"). Archetype text is appended via SessionConfig's
// UserInstructions, the same seam a host application uses for its own
// project instructions.
type WorkerArchetype string

const (
	ArchetypeGeneral  WorkerArchetype = "general"
	ArchetypeExplorer WorkerArchetype = "explorer"
	ArchetypeReviewer WorkerArchetype = "reviewer"
)

var archetypeInstructions = map[WorkerArchetype]string{
	ArchetypeGeneral: "You are a general-purpose worker agent. Complete the assigned task directly " +
		"and report your result concisely; you will not get a chance to ask clarifying questions.",
	ArchetypeExplorer: "You are an exploration worker. Your job is to investigate and report findings, " +
		"not to make changes. Read, search, and summarize; do not edit files unless the task explicitly asks you to.",
	ArchetypeReviewer: "You are a review worker. Examine the described change or area critically and report " +
		"problems, risks, and missing cases. Do not fix anything yourself unless explicitly asked to.",
}

// WorkerSpec configures a spawned worker beyond its task text: an optional
// model override, an optional tool subset, an optional turn cap, and an
// archetype chosen from the fixed set above (spec §4.8). The zero value
// spawns a general-purpose worker with the parent's model and every tool
// the parent profile exposes.
type WorkerSpec struct {
	Archetype WorkerArchetype
	Model     string
	ToolNames []string
	MaxTurns  int
}

// SubAgentStatus represents the lifecycle state of a subagent.
type SubAgentStatus string

const (
	SubAgentRunning   SubAgentStatus = "running"
	SubAgentCompleted SubAgentStatus = "completed"
	SubAgentFailed    SubAgentStatus = "failed"
)

// SubAgentHandle tracks a running subagent.
type SubAgentHandle struct {
	ID      string          `json:"id"`
	Session *Session        `json:"-"`
	Status  SubAgentStatus  `json:"status"`
	Result  *SubAgentResult `json:"result,omitempty"`
	cancel  context.CancelFunc
	done    chan struct{} // closed exactly once, when Status leaves SubAgentRunning
	mu      sync.Mutex
}

// SubAgentResult holds the output of a completed subagent.
type SubAgentResult struct {
	Output    string `json:"output"`
	Success   bool   `json:"success"`
	TurnsUsed int    `json:"turns_used"`
}

// SubAgentManager manages child agents for a parent session.
type SubAgentManager struct {
	agents   map[string]*SubAgentHandle
	mu       sync.RWMutex
	maxDepth int
	depth    int
}

// NewSubAgentManager creates a new subagent manager.
func NewSubAgentManager(maxDepth, currentDepth int) *SubAgentManager {
	return &SubAgentManager{
		agents:   make(map[string]*SubAgentHandle),
		maxDepth: maxDepth,
		depth:    currentDepth,
	}
}

// CanSpawn returns true if nesting depth allows spawning.
func (m *SubAgentManager) CanSpawn() bool {
	return m.depth < m.maxDepth
}

// Spawn creates and starts a new subagent session. hookRegistry may be nil;
// when set, WorkerStart fires synchronously before the subagent's first
// turn and WorkerStop fires once its goroutine reaches a terminal state
// (spec §4.8). spec's Model/ToolNames/Archetype fields customize the child
// session beyond the shared SessionConfig defaults.
func (m *SubAgentManager) Spawn(ctx context.Context, profile ProviderProfile, env ExecutionEnvironment, task string, config *SessionConfig, hookRegistry *hooks.Registry, spec WorkerSpec) (*SubAgentHandle, error) {
	if !m.CanSpawn() {
		return nil, fmt.Errorf("maximum subagent depth (%d) reached", m.maxDepth)
	}

	id := uuid.New().String()
	subCtx, cancel := context.WithCancel(ctx)

	subConfig := DefaultSessionConfig()
	if config != nil {
		subConfig = *config
	}
	subConfig.MaxTurns = 50 // Default subagent turn limit.
	if spec.MaxTurns > 0 {
		subConfig.MaxTurns = spec.MaxTurns
	}
	subConfig.MaxSubagentDepth = m.maxDepth
	subConfig.subagentDepth = m.depth + 1
	subConfig.ModelOverride = spec.Model
	subConfig.AllowedToolNames = spec.ToolNames

	archetype := spec.Archetype
	if archetype == "" {
		archetype = ArchetypeGeneral
	}
	if instructions, ok := archetypeInstructions[archetype]; ok {
		if subConfig.UserInstructions != "" {
			subConfig.UserInstructions += "\n\n" + instructions
		} else {
			subConfig.UserInstructions = instructions
		}
	}

	subSession := NewSession(profile, env, &subConfig)
	if hookRegistry != nil {
		// The worker runs its PreToolUse/PostToolUse hooks from the parent's registry.
		subSession.hooks = hookRegistry
	}

	handle := &SubAgentHandle{
		ID:      id,
		Session: subSession,
		Status:  SubAgentRunning,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.agents[id] = handle
	m.mu.Unlock()

	if hookRegistry != nil {
		taskJSON, _ := json.Marshal(map[string]string{"task": task})
		hookRegistry.Run(hooks.Event{Kind: hooks.WorkerStart, WorkerID: id, Input: taskJSON})
	}

	// Run subagent in background.
	go func() {
		defer func() {
			if hookRegistry != nil {
				hookRegistry.Run(hooks.Event{Kind: hooks.WorkerStop, WorkerID: id})
			}
		}()
		err := subSession.Submit(subCtx, task)
		handle.mu.Lock()
		defer handle.mu.Unlock()

		turnsUsed := len(subSession.History())
		lastText := ""
		for i := len(subSession.History()) - 1; i >= 0; i-- {
			turn := subSession.History()[i]
			if turn.Kind == TurnAssistant && turn.Assistant != nil {
				lastText = turn.Assistant.Content
				break
			}
		}

		if err != nil {
			handle.Status = SubAgentFailed
			handle.Result = &SubAgentResult{
				Output:    fmt.Sprintf("Error: %v", err),
				Success:   false,
				TurnsUsed: turnsUsed,
			}
		} else {
			handle.Status = SubAgentCompleted
			handle.Result = &SubAgentResult{
				Output:    lastText,
				Success:   true,
				TurnsUsed: turnsUsed,
			}
		}
		close(handle.done)
	}()

	return handle, nil
}

// Get returns a subagent handle by ID.
func (m *SubAgentManager) Get(id string) *SubAgentHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agents[id]
}

// Close terminates a subagent.
func (m *SubAgentManager) Close(id string) error {
	m.mu.Lock()
	handle, ok := m.agents[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("subagent %s not found", id)
	}

	handle.cancel()
	handle.mu.Lock()
	if handle.Status == SubAgentRunning {
		handle.Status = SubAgentFailed
	}
	handle.mu.Unlock()
	return nil
}

// CloseAll terminates all active subagents.
func (m *SubAgentManager) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, handle := range m.agents {
		handle.cancel()
	}
}

// RegisterSubagentTools registers spawn_agent, send_input, wait, and
// close_agent tools on the given registry.
func RegisterSubagentTools(reg *ToolRegistry, manager *SubAgentManager, profile ProviderProfile, env ExecutionEnvironment, hookRegistry *hooks.Registry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "spawn_agent",
			Description: "Spawn a subagent to handle a scoped task autonomously.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task": map[string]interface{}{
						"type":        "string",
						"description": "Natural language task description.",
					},
					"working_dir": map[string]interface{}{
						"type":        "string",
						"description": "Ignored: the subagent always runs in the parent's working directory.",
					},
					"max_turns": map[string]interface{}{
						"type":        "integer",
						"description": "Turn limit for the subagent. Default: 50.",
					},
					"archetype": map[string]interface{}{
						"type":        "string",
						"description": "Worker archetype: general, explorer, or reviewer. Default: general.",
						"enum":        []string{"general", "explorer", "reviewer"},
					},
					"model": map[string]interface{}{
						"type":        "string",
						"description": "Model override for the subagent. Default: parent's model.",
					},
					"tool_names": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Restrict the subagent to this subset of tool names. Default: every tool the parent exposes.",
					},
				},
				"required": []string{"task"},
			},
		},
		Executor: func(ctx context.Context, arguments json.RawMessage, execEnv ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			task, ok := GetStringArg(args, "task")
			if !ok || task == "" {
				return "", fmt.Errorf("task is required")
			}

			config := DefaultSessionConfig()

			spec := WorkerSpec{Archetype: ArchetypeGeneral}
			if archetype, ok := GetStringArg(args, "archetype"); ok && archetype != "" {
				spec.Archetype = WorkerArchetype(archetype)
			}
			if model, ok := GetStringArg(args, "model"); ok {
				spec.Model = model
			}
			if maxTurns, ok := GetIntArg(args, "max_turns"); ok && maxTurns > 0 {
				spec.MaxTurns = maxTurns
			}
			if rawNames, ok := args["tool_names"]; ok {
				var names []string
				if b, err := json.Marshal(rawNames); err == nil {
					_ = json.Unmarshal(b, &names)
				}
				spec.ToolNames = names
			}

			// Deliberately detached from ctx: a spawned subagent outlives the
			// spawn_agent call that started it, and the registry cancels
			// ctx as soon as this executor returns (spec §4.8's "runs
			// independently of the spawning turn").
			handle, err := manager.Spawn(context.Background(), profile, execEnv, task, &config, hookRegistry, spec)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Subagent spawned with ID: %s\nStatus: %s", handle.ID, handle.Status), nil
		},
	})

	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "send_input",
			Description: "Send a message to a running subagent.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent_id": map[string]interface{}{
						"type":        "string",
						"description": "The subagent ID.",
					},
					"message": map[string]interface{}{
						"type":        "string",
						"description": "Message to send.",
					},
				},
				"required": []string{"agent_id", "message"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, execEnv ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			agentID, _ := GetStringArg(args, "agent_id")
			message, _ := GetStringArg(args, "message")

			handle := manager.Get(agentID)
			if handle == nil {
				return "", fmt.Errorf("subagent %s not found", agentID)
			}

			handle.Session.Steer(message)
			return fmt.Sprintf("Message sent to subagent %s", agentID), nil
		},
	})

	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "wait",
			Description: "Wait for a subagent to complete and return its result.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent_id": map[string]interface{}{
						"type":        "string",
						"description": "The subagent ID.",
					},
				},
				"required": []string{"agent_id"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, execEnv ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			agentID, _ := GetStringArg(args, "agent_id")

			handle := manager.Get(agentID)
			if handle == nil {
				return "", fmt.Errorf("subagent %s not found", agentID)
			}

			<-handle.done

			handle.mu.Lock()
			status := handle.Status
			result := handle.Result
			handle.mu.Unlock()

			if result != nil {
				return fmt.Sprintf("Status: %s\nTurns used: %d\nOutput:\n%s",
					status, result.TurnsUsed, result.Output), nil
			}
			return fmt.Sprintf("Status: %s", status), nil
		},
	})

	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "close_agent",
			Description: "Terminate a subagent.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent_id": map[string]interface{}{
						"type":        "string",
						"description": "The subagent ID.",
					},
				},
				"required": []string{"agent_id"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, execEnv ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			agentID, _ := GetStringArg(args, "agent_id")

			if err := manager.Close(agentID); err != nil {
				return "", err
			}
			return fmt.Sprintf("Subagent %s terminated", agentID), nil
		},
	})
}
