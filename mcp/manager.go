package mcp

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// ServerState is a position in the per-server connection state machine
// (spec §4.7): disconnected -> connecting -> connected -> error ->
// disconnected.
type ServerState string

const (
	StateDisconnected ServerState = "disconnected"
	StateConnecting   ServerState = "connecting"
	StateConnected    ServerState = "connected"
	StateError        ServerState = "error"
)

// serverEntry is one supervised MCP server.
type serverEntry struct {
	name   string
	config ServerConfig

	mu           sync.Mutex
	state        ServerState
	client       *Client
	tools        []ToolDescriptor
	restartCount int
	shuttingDown bool

	healthStop chan struct{}
}

// Manager supervises a set of named MCP servers: it connects them, restarts
// them with exponential backoff on crash, health-checks them, and projects
// their tools into namespaced names for the Tool Registry (spec §4.7).
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverEntry
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{servers: make(map[string]*serverEntry)}
}

// AddServer registers a server configuration and immediately attempts to
// connect it. Connection failures do not return an error from AddServer;
// the server simply remains disconnected and restart logic (if enabled)
// takes over.
func (m *Manager) AddServer(name string, cfg ServerConfig) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "mcp: server %q has invalid config, not starting: %v\n", name, err)
		entry := &serverEntry{name: name, config: cfg, state: StateError}
		m.mu.Lock()
		m.servers[name] = entry
		m.mu.Unlock()
		return
	}
	entry := &serverEntry{name: name, config: cfg, state: StateDisconnected}
	m.mu.Lock()
	m.servers[name] = entry
	m.mu.Unlock()
	m.connect(entry, 1)
}

// connect transitions disconnected -> connecting -> connected (or ->
// error), attempt being the 1-based restart attempt number used to label a
// subsequent reconnect's backoff delay.
func (m *Manager) connect(entry *serverEntry, attempt int) {
	entry.mu.Lock()
	if entry.shuttingDown {
		entry.mu.Unlock()
		return
	}
	entry.state = StateConnecting
	entry.mu.Unlock()

	client, err := Start(entry.config)
	if err != nil {
		m.onDisconnect(entry, attempt)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), entry.config.RequestTimeout)
	defer cancel()
	if err := client.Initialize(ctx, entry.config.RequestTimeout); err != nil {
		client.Kill()
		m.onDisconnect(entry, attempt)
		return
	}

	tools, err := client.ListTools(ctx, entry.config.RequestTimeout)
	if err != nil {
		client.Kill()
		m.onDisconnect(entry, attempt)
		return
	}

	entry.mu.Lock()
	entry.client = client
	entry.tools = tools
	entry.state = StateConnected
	entry.restartCount = 0
	entry.healthStop = make(chan struct{})
	healthStop := entry.healthStop
	entry.mu.Unlock()

	go m.watchExit(entry, client)
	go m.healthCheckLoop(entry, client, healthStop)
}

// watchExit blocks until the client's reader loop observes process exit,
// then drives the disconnected transition (unless shutdown already owns
// it).
func (m *Manager) watchExit(entry *serverEntry, client *Client) {
	client.Wait()

	entry.mu.Lock()
	if entry.shuttingDown || entry.client != client {
		entry.mu.Unlock()
		return
	}
	entry.state = StateDisconnected
	if entry.healthStop != nil {
		close(entry.healthStop)
		entry.healthStop = nil
	}
	entry.client = nil
	attempt := entry.restartCount + 1
	entry.mu.Unlock()

	m.onDisconnect(entry, attempt)
}

// onDisconnect decides whether to schedule a restart, per the backoff
// sequence attempt n -> min(1000*2^(n-1), 30000) ms, capped at MaxRestarts.
func (m *Manager) onDisconnect(entry *serverEntry, attempt int) {
	entry.mu.Lock()
	entry.state = StateError
	shuttingDown := entry.shuttingDown
	restartOK := entry.config.RestartOnCrash && entry.restartCount < entry.config.MaxRestarts
	entry.mu.Unlock()

	if shuttingDown || !restartOK {
		entry.mu.Lock()
		entry.state = StateDisconnected
		entry.mu.Unlock()
		return
	}

	delay := restartDelay(attempt)
	time.AfterFunc(delay, func() {
		entry.mu.Lock()
		if entry.shuttingDown {
			entry.mu.Unlock()
			return
		}
		entry.restartCount++
		next := entry.restartCount + 1
		entry.mu.Unlock()
		m.connect(entry, next)
	})
}

// restartDelay implements attempt n -> min(1000*2^(n-1), 30000) ms.
func restartDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ms := 1000 << (attempt - 1)
	if ms > 30000 || ms <= 0 {
		ms = 30000
	}
	return time.Duration(ms) * time.Millisecond
}

// healthCheckLoop pings the server on an interval; a failed ping kills the
// process, which drives the exit path in watchExit.
func (m *Manager) healthCheckLoop(entry *serverEntry, client *Client, stop chan struct{}) {
	ticker := time.NewTicker(entry.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), entry.config.RequestTimeout)
			err := client.Ping(ctx, entry.config.RequestTimeout)
			cancel()
			if err != nil {
				client.Kill()
				return
			}
		}
	}
}

// Shutdown suppresses further restarts on every server, attempts a graceful
// shutdown RPC, and kills the process.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, entry := range entries {
		entry.mu.Lock()
		entry.shuttingDown = true
		client := entry.client
		if entry.healthStop != nil {
			close(entry.healthStop)
			entry.healthStop = nil
		}
		entry.mu.Unlock()
		if client != nil {
			ctx, cancel := context.WithTimeout(context.Background(), entry.config.RequestTimeout)
			client.Shutdown(ctx, entry.config.RequestTimeout)
			cancel()
		}
	}
}

// State returns a server's current connection state and restart count.
func (m *Manager) State(name string) (ServerState, int, bool) {
	m.mu.RLock()
	entry, ok := m.servers[name]
	m.mu.RUnlock()
	if !ok {
		return "", 0, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, entry.restartCount, true
}

// ProjectedTools lists every tool across every connected server, under its
// namespaced mcp__<server>__<tool> name. Unavailable servers are skipped,
// not errored (spec §4.7, §9 graceful degradation).
func (m *Manager) ProjectedTools() map[string]ToolDescriptor {
	m.mu.RLock()
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make(map[string]ToolDescriptor)
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.state != StateConnected {
			entry.mu.Unlock()
			continue
		}
		name, tools := entry.name, entry.tools
		entry.mu.Unlock()
		for _, tool := range tools {
			out[fmt.Sprintf("mcp__%s__%s", name, tool.Name)] = tool
		}
	}
	return out
}

// CallTool routes a namespaced tool call (mcp__<server>__<tool>) to its
// server's Client. Connection failures and tool errors are both returned
// as (text, isError=true, nil) rather than a Go error, matching the
// graceful-degradation contract the Tool Registry expects from every
// executor.
func (m *Manager) CallTool(ctx context.Context, server, tool string, arguments interface{}) (string, bool) {
	m.mu.RLock()
	entry, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("mcp server %q is not configured", server), true
	}

	entry.mu.Lock()
	client := entry.client
	connected := entry.state == StateConnected
	timeout := entry.config.RequestTimeout
	entry.mu.Unlock()

	if !connected || client == nil {
		return (&ServerUnavailableError{Server: server}).Error(), true
	}

	text, isError, err := client.CallTool(ctx, tool, arguments, timeout)
	if err != nil {
		return fmt.Sprintf("mcp tool call failed: %v", err), true
	}
	return text, isError
}
