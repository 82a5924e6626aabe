// Package hooks is the Hook Registry: an ordered multimap from lifecycle
// event kind to handler, letting a host application observe or veto tool
// calls and worker lifecycle transitions (spec §4.9).
package hooks

import (
	"encoding/json"
	"sync"
)

// Kind identifies which lifecycle moment a handler runs at.
type Kind string

const (
	PreToolUse  Kind = "PreToolUse"
	PostToolUse Kind = "PostToolUse"
	WorkerStart Kind = "WorkerStart"
	WorkerStop  Kind = "WorkerStop"
)

// Event is the input passed to a handler.
type Event struct {
	Kind     Kind
	ToolName string
	Input    json.RawMessage // tool arguments (PreToolUse/PostToolUse) or worker task (WorkerStart)
	Result   string          // PostToolUse only: the tool's output so far
	WorkerID string          // WorkerStart/WorkerStop only
}

// Decision is what a handler returns.
type Decision struct {
	Allow          bool
	Reason         string          // required when Allow is false
	Modified       json.RawMessage // PreToolUse: replaces Input for later handlers and for dispatch
	AppendToResult string          // PostToolUse: concatenated onto the API-visible tool result
}

// Handler observes or vetoes one lifecycle event.
type Handler func(Event) Decision

// Registry is the multimap of Kind -> ordered handlers. It is mutable only
// during setup; Run tolerates concurrent registration by snapshotting the
// handler list before iterating; a handler added mid-run takes effect on
// the next call, not the one in flight (spec §5).
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	onPanic  func(kind Kind, recovered interface{})
}

// NewRegistry creates an empty Registry. onPanic, if non-nil, is called
// whenever a handler panics; the panic is still swallowed and treated as
// allow=true regardless of whether onPanic is set.
func NewRegistry(onPanic func(kind Kind, recovered interface{})) *Registry {
	return &Registry{handlers: make(map[Kind][]Handler), onPanic: onPanic}
}

// Register appends handler to the ordered list for kind.
func (r *Registry) Register(kind Kind, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], handler)
}

// Outcome is the aggregated result of running every handler for one event.
type Outcome struct {
	Allowed        bool
	Reason         string
	Modified       json.RawMessage
	AppendToResult string
}

// Run iterates the handlers registered for event.Kind, in registration
// order, and folds their decisions per spec §4.9's semantics: the first
// allow=false wins and short-circuits remaining handlers; a modified input
// replaces Input for subsequent handlers and the returned Outcome;
// appendToResult text from every handler accumulates. A handler that
// panics is treated as allow=true with no modification — its panic is
// swallowed, not propagated, so one misbehaving handler cannot take down
// the loop.
func (r *Registry) Run(event Event) Outcome {
	r.mu.RLock()
	snapshot := append([]Handler(nil), r.handlers[event.Kind]...)
	r.mu.RUnlock()

	outcome := Outcome{Allowed: true}
	current := event
	for _, handler := range snapshot {
		decision := runHandlerSafely(handler, current, event.Kind, r.onPanic)
		if !decision.Allow {
			outcome.Allowed = false
			outcome.Reason = decision.Reason
			return outcome
		}
		if decision.Modified != nil {
			current.Input = decision.Modified
			outcome.Modified = decision.Modified
		}
		if decision.AppendToResult != "" {
			outcome.AppendToResult += decision.AppendToResult
		}
	}
	return outcome
}

func runHandlerSafely(handler Handler, event Event, kind Kind, onPanic func(Kind, interface{})) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			if onPanic != nil {
				onPanic(kind, r)
			}
			decision = Decision{Allow: true}
		}
	}()
	return handler(event)
}
