package unifiedllm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type fixedCredentialSource struct {
	token        string
	refreshCount int32
}

func (f *fixedCredentialSource) Token(ctx context.Context) (string, error) { return f.token, nil }
func (f *fixedCredentialSource) Refresh(ctx context.Context) error {
	atomic.AddInt32(&f.refreshCount, 1)
	f.token = "refreshed-token"
	return nil
}

const sampleSSEStream = "event: message_start\n" +
	"data: {\"message\":{\"id\":\"msg_1\",\"model\":\"claude\",\"usage\":{\"input_tokens\":10}}}\n\n" +
	"event: content_block_start\n" +
	"data: {\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
	"event: content_block_stop\n" +
	"data: {\"index\":0}\n\n" +
	"event: message_delta\n" +
	"data: {\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n" +
	"event: message_stop\n" +
	"data: {}\n\n"

func TestAnthropicAdapterRetriesOnceOn401(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"expired"}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(sampleSSEStream))
	}))
	defer server.Close()

	creds := &fixedCredentialSource{token: "stale-token"}
	adapter := NewAnthropicAdapter(creds, WithAnthropicBaseURL(server.URL))

	resp, err := adapter.Complete(context.Background(), Request{
		Model:    "claude-test",
		Messages: []Message{UserMessage("hello")},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Text() != "hi" {
		t.Errorf("response text = %q, want %q", resp.Text(), "hi")
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("expected exactly 2 HTTP attempts (one retry), got %d", attempts)
	}
	if atomic.LoadInt32(&creds.refreshCount) != 1 {
		t.Errorf("expected exactly one credential refresh, got %d", creds.refreshCount)
	}
}

func TestAnthropicAdapterDoesNotRetryTwice(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"still bad"}}`))
	}))
	defer server.Close()

	creds := &fixedCredentialSource{token: "stale-token"}
	adapter := NewAnthropicAdapter(creds, WithAnthropicBaseURL(server.URL))

	_, err := adapter.Complete(context.Background(), Request{Model: "claude-test", Messages: []Message{UserMessage("hi")}})
	if err == nil {
		t.Fatal("expected an error after the single retry also fails")
	}
	if _, ok := err.(*AuthenticationError); !ok {
		t.Errorf("expected *AuthenticationError, got %T", err)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("expected exactly 2 HTTP attempts total, got %d", attempts)
	}
}

func TestBuildRequestBodyInjectsRequiredSystemPrefixAndCacheControl(t *testing.T) {
	adapter := NewAnthropicAdapter(&fixedCredentialSource{token: "t"})
	body, err := adapter.buildRequestBody(Request{
		Model: "claude-test",
		Messages: []Message{
			SystemMessage("be terse"),
			UserMessage("first"),
			AssistantMessage("ack"),
			UserMessage("second"),
		},
	})
	if err != nil {
		t.Fatalf("buildRequestBody: %v", err)
	}

	var wire anthropicWireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatalf("body did not unmarshal: %v", err)
	}

	if len(wire.System) != 2 {
		t.Fatalf("got %d system blocks, want 2 (required prefix + caller system)", len(wire.System))
	}
	if wire.System[0].Text != anthropicRequiredSystemPrefix {
		t.Errorf("first system block = %q, want required prefix", wire.System[0].Text)
	}
	if wire.System[0].CacheControl == nil {
		t.Error("required system prefix must carry a cache_control marker")
	}
	if wire.System[1].CacheControl == nil {
		t.Error("last caller system block must carry a cache_control marker")
	}

	// Second-to-last user message ("first") must carry the conversation
	// cache breakpoint on its last content block.
	userMsgs := 0
	for _, m := range wire.Messages {
		if m.Role != "user" {
			continue
		}
		userMsgs++
		if userMsgs == 1 {
			if len(m.Content) == 0 || m.Content[len(m.Content)-1].CacheControl == nil {
				t.Error("second-to-last user message must carry the cache breakpoint")
			}
		}
		if userMsgs == 2 {
			if len(m.Content) > 0 && m.Content[len(m.Content)-1].CacheControl != nil {
				t.Error("last user message must not carry the cache breakpoint")
			}
		}
	}
}
