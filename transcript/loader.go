package transcript

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strconv"
)

// TruncationInfo records whether Load had to cut history short because an
// assistant message's tool_use blocks weren't fully answered.
type TruncationInfo struct {
	Truncated bool
	Reason    string
}

// Loaded is the result of reading a transcript file back into memory.
type Loaded struct {
	Messages   []Entry
	Truncation TruncationInfo
}

// Load reads every line of the transcript at path, ignoring malformed ones,
// keeps only user and assistant entries in order, and then enforces
// invariant (1): every tool_use in an assistant message must be answered by
// a matching tool_result in the following user message. On the first
// violation it truncates history at that assistant message (dropping it
// and everything after) and reports why, so resume after an interrupted
// tool cycle is safe (spec §4.10).
func Load(path string) (Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Loaded{}, nil
		}
		return Loaded{}, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewReader(f)
	for {
		line, err := scanner.ReadBytes('\n')
		if len(line) > 0 {
			var entry Entry
			if jsonErr := json.Unmarshal(trimNewline(line), &entry); jsonErr == nil {
				if entry.Type == "user" || entry.Type == "assistant" {
					entries = append(entries, entry)
				}
			}
			// malformed lines are ignored per the transcript error taxonomy
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return Loaded{}, err
		}
	}

	return enforceToolResultInvariant(entries), nil
}

func trimNewline(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	n = len(line)
	if n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

func enforceToolResultInvariant(entries []Entry) Loaded {
	for i, entry := range entries {
		if entry.Type != "assistant" {
			continue
		}
		toolUseIDs := entry.ToolUseIDs()
		if len(toolUseIDs) == 0 {
			continue
		}

		var resultIDs map[string]bool
		if i+1 < len(entries) && entries[i+1].Type == "user" {
			resultIDs = make(map[string]bool)
			for _, id := range entries[i+1].ToolResultIDs() {
				resultIDs[id] = true
			}
		}

		for _, id := range toolUseIDs {
			if resultIDs == nil || !resultIDs[id] {
				return Loaded{
					Messages: entries[:i],
					Truncation: TruncationInfo{
						Truncated: true,
						Reason:    "assistant message at index " + strconv.Itoa(i) + " has an unanswered tool_use " + id,
					},
				}
			}
		}
	}
	return Loaded{Messages: entries}
}
