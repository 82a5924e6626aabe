// Package subprocess is the Subprocess Tool Runtime: it spawns and tracks
// foreground and background child processes on behalf of the shell tool,
// captures and truncates their output, and owns the process-wide
// background-shell table (spec §4.5).
package subprocess
