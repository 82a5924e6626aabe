package streaming

import "testing"

func TestParserSplitAcrossChunks(t *testing.T) {
	full := "event: ping\ndata: {}\n\nevent: message_stop\ndata: {}\n\n"

	// Baseline: fed as one chunk.
	p1 := NewParser()
	want := p1.Feed([]byte(full))
	if len(want) != 2 {
		t.Fatalf("baseline: got %d events, want 2", len(want))
	}

	// Same bytes, split at every possible byte boundary, must yield the same
	// event sequence (spec §8 boundary: SSE parser accepts events split
	// across arbitrary byte boundaries).
	for cut := 1; cut < len(full); cut++ {
		p2 := NewParser()
		var got []StreamEvent
		got = append(got, p2.Feed([]byte(full[:cut]))...)
		got = append(got, p2.Feed([]byte(full[cut:]))...)
		got = append(got, p2.Close()...)

		if len(got) != len(want) {
			t.Fatalf("cut=%d: got %d events, want %d", cut, len(got), len(want))
		}
		for i := range got {
			if got[i].Type != want[i].Type {
				t.Errorf("cut=%d: event %d type = %s, want %s", cut, i, got[i].Type, want[i].Type)
			}
		}
	}
}

func TestParserDropsMalformedEvents(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("event: ping\ndata: not-json\n\nevent: message_stop\ndata: {}\n\n"))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (malformed event dropped)", len(events))
	}
	if events[0].Type != EventMessageStop {
		t.Errorf("got %s, want message_stop", events[0].Type)
	}
}

func TestParserDropsEventMissingDataOrType(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("event: ping\n\ndata: {}\n\n"))
	if len(events) != 0 {
		t.Fatalf("got %d events, want 0", len(events))
	}
}

func TestParserClosesResidualFragment(t *testing.T) {
	p := NewParser()
	if evs := p.Feed([]byte("event: message_stop\ndata: {}")); len(evs) != 0 {
		t.Fatalf("expected no complete events before close, got %d", len(evs))
	}
	final := p.Close()
	if len(final) != 1 || final[0].Type != EventMessageStop {
		t.Fatalf("Close() = %v, want one message_stop event", final)
	}
}
