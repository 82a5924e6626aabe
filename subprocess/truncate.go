package subprocess

import "fmt"

// MaxOutputBytes is the fixed cap above which captured output is truncated
// (spec §4.5).
const MaxOutputBytes = 30000

// Truncate caps output at MaxOutputBytes, appending a trailing marker
// noting how many characters were elided. The marker text is exact: the
// spec fixes its wording as an external contract tools and callers parse.
func Truncate(output string) string {
	if len(output) <= MaxOutputBytes {
		return output
	}
	elided := len(output) - MaxOutputBytes
	return output[:MaxOutputBytes] + fmt.Sprintf("\n[Output truncated - %d more characters not shown]", elided)
}
