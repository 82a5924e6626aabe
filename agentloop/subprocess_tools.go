package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/daveworth/agentcore/subprocess"
)

// RegisterSubprocessTools registers the "shell" tool backed by the
// Subprocess Tool Runtime and adds the background-shell triplet
// (bash_background, bash_output, kill_shell) the runtime makes possible
// (spec §4.5). RegisterCoreTools registers no shell tool, so there is no
// name collision; ToolRegistry.Register would overwrite by name if there were.
func RegisterSubprocessTools(reg *ToolRegistry, runtime *subprocess.Runtime, defaultTimeoutMs, maxTimeoutMs int) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "shell",
			Description: "Execute a shell command in the foreground. Returns combined stdout/stderr and exit code.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": map[string]interface{}{
						"type":        "string",
						"description": "The command to run.",
					},
					"timeout_ms": map[string]interface{}{
						"type":        "integer",
						"description": "Override the default command timeout in milliseconds.",
					},
				},
				"required": []string{"command"},
			},
		},
		// Shell's own timeout_ms argument composes with ctx's registry-level
		// deadline naturally: context.WithTimeout always keeps the earlier
		// of the two, so the per-call Timeout below only needs to be long
		// enough not to cut a legitimate long-running command short.
		Timeout: ShellToolTimeout,
		Executor: func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			command, ok := GetStringArg(args, "command")
			if !ok || command == "" {
				return "", fmt.Errorf("command is required")
			}
			timeoutMs, _ := GetIntArg(args, "timeout_ms")
			if timeoutMs <= 0 {
				timeoutMs = defaultTimeoutMs
			}
			if timeoutMs > maxTimeoutMs {
				timeoutMs = maxTimeoutMs
			}

			result, err := runtime.RunForeground(ctx, command, env.WorkingDirectory(), nil, time.Duration(timeoutMs)*time.Millisecond)
			if err != nil {
				return "", err
			}
			if result.TimedOut {
				return result.Output + fmt.Sprintf("\n\n[ERROR: Command timed out after %dms. Partial output is shown above.]", timeoutMs), nil
			}
			if result.ExitCode != 0 {
				return result.Output + fmt.Sprintf("\n\n[Exit code: %d]", result.ExitCode), nil
			}
			return result.Output, nil
		},
	})

	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "bash_background",
			Description: "Start a shell command in the background and return an opaque id to poll with bash_output or terminate with kill_shell.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": map[string]interface{}{
						"type":        "string",
						"description": "The command to run.",
					},
				},
				"required": []string{"command"},
			},
		},
		Executor: func(ctx context.Context, arguments json.RawMessage, env ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			command, ok := GetStringArg(args, "command")
			if !ok || command == "" {
				return "", fmt.Errorf("command is required")
			}
			id, err := runtime.StartBackground(command, env.WorkingDirectory(), nil)
			if err != nil {
				return "", err
			}
			return id, nil
		},
	})

	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "bash_output",
			Description: "Fetch the output captured so far for a background shell started with bash_background.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": map[string]interface{}{
						"type":        "string",
						"description": "The bg_N id returned by bash_background.",
					},
				},
				"required": []string{"id"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, _ ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			id, _ := GetStringArg(args, "id")
			out, err := runtime.GetOutput(id)
			if err != nil {
				return "", err
			}
			status := "running"
			if !out.Running {
				status = fmt.Sprintf("exited (code %d)", out.ExitCode)
			}
			return fmt.Sprintf("[%s]\n%s", status, out.Output), nil
		},
	})

	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "kill_shell",
			Description: "Terminate a background shell started with bash_background.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": map[string]interface{}{
						"type":        "string",
						"description": "The bg_N id returned by bash_background.",
					},
				},
				"required": []string{"id"},
			},
		},
		Executor: func(_ context.Context, arguments json.RawMessage, _ ExecutionEnvironment) (string, error) {
			args, err := ParseToolArguments(arguments)
			if err != nil {
				return "", err
			}
			id, _ := GetStringArg(args, "id")
			if err := runtime.Kill(id); err != nil {
				return "", err
			}
			return fmt.Sprintf("Killed %s", id), nil
		},
	})
}
