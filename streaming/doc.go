// Package streaming turns a raw Server-Sent Events byte stream from the LLM
// transport into structured agent events.
//
// Two stages compose the pipeline: Parser decodes SSE framing into typed
// StreamEvents (message_start, content_block_delta, ...); Reassembler
// applies those events to a per-turn sparse content-block array and emits
// AgentEvents suitable for a caller's UI loop. Neither stage buffers more
// than the current turn; callers create a fresh Reassembler per turn.
package streaming
