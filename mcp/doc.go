// Package mcp is the MCP Client and Server Manager: it speaks
// newline-delimited JSON-RPC 2.0 over a child process's stdio, projects the
// tools an MCP server advertises into the agent loop's tool registry under
// namespaced names, and keeps a crashed server alive with exponential
// backoff (spec §4.6).
package mcp
