package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// ErrServerExited is returned by calls made after the child process has
// exited. Calls still outstanding at that moment fail with a *CallError
// (code -32000) that carries this error's message.
var ErrServerExited = fmt.Errorf("mcp: server exited with pending requests")

// pendingCall is a request awaiting its correlated response.
type pendingCall struct {
	resultCh chan jsonRPCResponse
}

// Client owns one MCP server's process, stdin/stdout pipes, and the
// request-correlation table (spec §4.6). A Client is not reused across
// restarts; the Manager constructs a fresh one per connect() attempt.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu        sync.Mutex
	nextID    int64
	pending   map[int64]*pendingCall
	closed    bool
	closeErr  error

	done chan struct{} // closed once the reader loop exits
}

// Start spawns command and begins the reader loop. It does not perform the
// initialize handshake; call Initialize separately.
func Start(cfg ServerConfig) (*Client, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: spawn: %w", err)
	}

	c := &Client{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[int64]*pendingCall),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// readLoop splits inbound stdout on newlines, parses each complete line as
// a JSON-RPC message, and resolves the matching pending call.
func (c *Client) readLoop() {
	defer close(c.done)
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue // malformed line: ignored, per the transcript taxonomy's sibling policy
		}
		if resp.ID == nil || resp.Method != "" {
			continue // notification or server-initiated request: out of scope
		}
		c.mu.Lock()
		call, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()
		if ok {
			call.resultCh <- resp
		}
	}
	c.rejectAllPending(ErrServerExited)
}

func (c *Client) rejectAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.closed = true
	c.closeErr = err
	c.mu.Unlock()
	for _, call := range pending {
		call.resultCh <- jsonRPCResponse{Error: &jsonRPCError{Code: -32000, Message: err.Error()}}
	}
}

// call sends a request and blocks until its response arrives, the timeout
// elapses, or ctx is cancelled.
func (c *Client) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	call := &pendingCall{resultCh: make(chan jsonRPCResponse, 1)}
	c.pending[id] = call
	c.mu.Unlock()

	req := jsonRPCRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := c.send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-call.resultCh:
		if resp.Error != nil {
			return nil, &CallError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, &TimeoutError{Method: method}
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// notify sends a JSON-RPC notification (no id, no response expected).
func (c *Client) notify(method string, params interface{}) error {
	return c.send(jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) send(req jsonRPCRequest) error {
	line, err := json.Marshal(req)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closeErr
	}
	_, err = c.stdin.Write(line)
	return err
}

// Initialize runs the initialize/notifications-initialized handshake. Only
// after it returns successfully are tools/list, tools/call, ping, and
// shutdown permitted.
func (c *Client) Initialize(ctx context.Context, timeout time.Duration) error {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      clientInfo{Name: "agentcore", Version: "1"},
		Capabilities:    map[string]interface{}{},
	}
	if _, err := c.call(ctx, "initialize", params, timeout); err != nil {
		return fmt.Errorf("mcp initialize: %w", err)
	}
	return c.notify("notifications/initialized", map[string]interface{}{})
}

// ListTools calls tools/list and returns the server's tool descriptors.
func (c *Client) ListTools(ctx context.Context, timeout time.Duration) ([]ToolDescriptor, error) {
	raw, err := c.call(ctx, "tools/list", map[string]interface{}{}, timeout)
	if err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolViolationError{Detail: err.Error()}
	}
	return result.Tools, nil
}

// CallTool calls tools/call for the named tool with the given arguments and
// returns the concatenated text content and whether the server flagged it
// as an error result.
func (c *Client) CallTool(ctx context.Context, name string, arguments interface{}, timeout time.Duration) (string, bool, error) {
	raw, err := c.call(ctx, "tools/call", toolsCallParams{Name: name, Arguments: arguments}, timeout)
	if err != nil {
		return "", false, err
	}
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", false, &ProtocolViolationError{Detail: err.Error()}
	}
	text := ""
	for i, block := range result.Content {
		if i > 0 {
			text += "\n"
		}
		text += block.Text
	}
	return text, result.IsError, nil
}

// Ping calls the ping method; a health-check tick uses this to detect a
// wedged server.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) error {
	_, err := c.call(ctx, "ping", map[string]interface{}{}, timeout)
	return err
}

// Shutdown attempts a graceful shutdown RPC, then kills the process. It
// tolerates the RPC failing (the process may already be unresponsive).
func (c *Client) Shutdown(ctx context.Context, timeout time.Duration) {
	_, _ = c.call(ctx, "shutdown", map[string]interface{}{}, timeout)
	c.Kill()
}

// Kill terminates the child process immediately and waits for the reader
// loop to drain.
func (c *Client) Kill() {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
	<-c.done
}

// Wait blocks until the reader loop has observed process exit (stdout
// closed), which happens after the child actually exits.
func (c *Client) Wait() {
	<-c.done
}
