package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Writer appends Entries to a session's transcript file. The file is
// created lazily on the first write (spec §4.10).
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Path returns the transcript file path for a given home directory,
// working directory, and session id: <home>/.claude/projects/<cwd with
// slashes replaced by dashes>/<sessionId>.jsonl.
func Path(home, cwd, sessionID string) string {
	project := strings.ReplaceAll(cwd, string(filepath.Separator), "-")
	return filepath.Join(home, ".claude", "projects", project, sessionID+".jsonl")
}

// NewWriter creates a Writer for the given path without touching the
// filesystem; the file and its parent directory are created on first
// Append.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append writes one Entry as a single JSON line.
func (w *Writer) Append(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
			return fmt.Errorf("transcript: create project dir: %w", err)
		}
		f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("transcript: open %s: %w", w.path, err)
		}
		w.file = f
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("transcript: marshal entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("transcript: write: %w", err)
	}
	return nil
}

// Close releases the underlying file handle, if one was opened.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
