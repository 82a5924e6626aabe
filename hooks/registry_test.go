package hooks

import (
	"encoding/json"
	"testing"
)

func TestPreToolUseBlockReturnsHandlerReason(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(PreToolUse, func(e Event) Decision {
		if e.ToolName == "write" {
			return Decision{Allow: false, Reason: "Tool blocked: deny write"}
		}
		return Decision{Allow: true}
	})

	outcome := reg.Run(Event{Kind: PreToolUse, ToolName: "write"})
	if outcome.Allowed {
		t.Fatal("expected blocked")
	}
	if outcome.Reason != "Tool blocked: deny write" {
		t.Errorf("reason = %q, want exact denial text", outcome.Reason)
	}
}

func TestPreToolUseModifiedInputPropagatesToLaterHandlers(t *testing.T) {
	reg := NewRegistry(nil)
	var secondHandlerSaw json.RawMessage
	reg.Register(PreToolUse, func(e Event) Decision {
		return Decision{Allow: true, Modified: json.RawMessage(`{"path":"/safe"}`)}
	})
	reg.Register(PreToolUse, func(e Event) Decision {
		secondHandlerSaw = e.Input
		return Decision{Allow: true}
	})

	outcome := reg.Run(Event{Kind: PreToolUse, ToolName: "write", Input: json.RawMessage(`{"path":"/etc/passwd"}`)})
	if !outcome.Allowed {
		t.Fatal("expected allowed")
	}
	if string(secondHandlerSaw) != `{"path":"/safe"}` {
		t.Errorf("second handler saw %s, want the first handler's modified input", secondHandlerSaw)
	}
	if string(outcome.Modified) != `{"path":"/safe"}` {
		t.Errorf("outcome.Modified = %s, want the replaced input", outcome.Modified)
	}
}

func TestPostToolUseAppendToResultConcatenates(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(PostToolUse, func(e Event) Decision {
		return Decision{Allow: true, AppendToResult: "[note: logged]"}
	})
	reg.Register(PostToolUse, func(e Event) Decision {
		return Decision{Allow: true, AppendToResult: "[note: audited]"}
	})

	outcome := reg.Run(Event{Kind: PostToolUse, ToolName: "write", Result: "wrote 3 lines"})
	want := "[note: logged][note: audited]"
	if outcome.AppendToResult != want {
		t.Errorf("AppendToResult = %q, want %q", outcome.AppendToResult, want)
	}
}

func TestPanickingHandlerIsTreatedAsAllow(t *testing.T) {
	var panicKind Kind
	reg := NewRegistry(func(kind Kind, _ interface{}) { panicKind = kind })
	reg.Register(PreToolUse, func(e Event) Decision {
		panic("boom")
	})

	outcome := reg.Run(Event{Kind: PreToolUse, ToolName: "write"})
	if !outcome.Allowed {
		t.Error("a panicking handler must not block dispatch")
	}
	if panicKind != PreToolUse {
		t.Error("expected onPanic callback to fire with the event kind")
	}
}

func TestFirstBlockShortCircuitsRemainingHandlers(t *testing.T) {
	reg := NewRegistry(nil)
	calledSecond := false
	reg.Register(PreToolUse, func(e Event) Decision {
		return Decision{Allow: false, Reason: "blocked by first"}
	})
	reg.Register(PreToolUse, func(e Event) Decision {
		calledSecond = true
		return Decision{Allow: true}
	})

	outcome := reg.Run(Event{Kind: PreToolUse, ToolName: "write"})
	if outcome.Allowed {
		t.Fatal("expected blocked")
	}
	if calledSecond {
		t.Error("second handler must not run after the first blocks")
	}
}

func TestNoHandlersRegisteredAllowsByDefault(t *testing.T) {
	reg := NewRegistry(nil)
	outcome := reg.Run(Event{Kind: PreToolUse, ToolName: "write"})
	if !outcome.Allowed {
		t.Error("an event kind with no handlers should allow by default")
	}
}
