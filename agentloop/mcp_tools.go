package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/daveworth/agentcore/mcp"
)

// RegisterMCPTools projects every tool currently advertised by manager's
// connected servers into reg under namespaced names mcp__<server>__<tool>
// (spec §4.7). Call this once per turn before sending tool definitions to
// the model, since server connectivity and tool lists can change between
// turns as servers restart.
func RegisterMCPTools(reg *ToolRegistry, manager *mcp.Manager) {
	for qualifiedName, tool := range manager.ProjectedTools() {
		parts := strings.SplitN(strings.TrimPrefix(qualifiedName, "mcp__"), "__", 2)
		if len(parts) != 2 {
			continue
		}
		server, toolName := parts[0], parts[1]

		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}

		reg.Register(RegisteredTool{
			Definition: ToolDefinition{
				Name:        qualifiedName,
				Description: tool.Description,
				Parameters:  schema,
			},
			Executor: mcpToolExecutor(manager, server, toolName),
			Timeout:  MCPToolTimeout,
		})
	}
}

func mcpToolExecutor(manager *mcp.Manager, server, toolName string) ToolExecutor {
	return func(ctx context.Context, arguments json.RawMessage, _ ExecutionEnvironment) (string, error) {
		var args interface{}
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &args); err != nil {
				return "", fmt.Errorf("invalid arguments for %s: %w", toolName, err)
			}
		} else {
			args = map[string]interface{}{}
		}

		text, isError := manager.CallTool(ctx, server, toolName, args)
		if isError {
			return "", fmt.Errorf("%s", text)
		}
		return text, nil
	}
}
