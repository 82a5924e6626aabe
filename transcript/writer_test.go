package transcript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathReplacesSlashesWithDashes(t *testing.T) {
	got := Path("/home/dave", "/home/dave/work/project", "sess-1")
	want := filepath.Join("/home/dave", ".claude", "projects", "-home-dave-work-project", "sess-1.jsonl")
	assert.Equal(t, want, got)
}

func TestAppendCreatesFileAndParentDirsLazily(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "project", "sess.jsonl")
	w := NewWriter(path)
	defer w.Close()

	_, err := os.Stat(path)
	require.Error(t, err, "file should not exist before first Append")

	require.NoError(t, w.Append(NewUserEntry("sess", "/cwd", "1.0", "u1", "2026-01-01T00:00:00Z", []Block{{Type: "text", Text: "hi"}})))

	_, err = os.Stat(path)
	assert.NoError(t, err, "expected file to exist after Append")
}

func TestAppendIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	w := NewWriter(path)
	defer w.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(NewUserEntry("sess", "/cwd", "1.0", "u", "2026-01-01T00:00:00Z", nil)), "Append %d", i)
	}

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 3)
}
