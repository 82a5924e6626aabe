package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRestartDelaySequence(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1000 * time.Millisecond},
		{2, 2000 * time.Millisecond},
		{3, 4000 * time.Millisecond},
		{4, 8000 * time.Millisecond},
		{5, 16000 * time.Millisecond},
		{6, 30000 * time.Millisecond}, // would be 32000ms uncapped
		{10, 30000 * time.Millisecond},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, restartDelay(c.attempt), "restartDelay(%d)", c.attempt)
	}
}

func TestServerConfigDefaults(t *testing.T) {
	cfg := ServerConfig{}.withDefaults()
	assert.Equal(t, 3, cfg.MaxRestarts)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
}

func TestServerConfigValidateRejectsMissingCommand(t *testing.T) {
	cfg := ServerConfig{}.withDefaults()
	assert.Error(t, cfg.Validate(), "expected a missing Command to fail validation")
}

func TestServerConfigValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := ServerConfig{Command: "mcp-server"}.withDefaults()
	assert.NoError(t, cfg.Validate())
}

func TestStateUnknownServerReturnsFalse(t *testing.T) {
	m := NewManager()
	_, _, ok := m.State("nope")
	assert.False(t, ok, "expected ok=false for an unregistered server")
}

func TestCallToolOnUnconfiguredServerIsGracefulDegradation(t *testing.T) {
	m := NewManager()
	text, isError := m.CallTool(nil, "missing-server", "some_tool", map[string]interface{}{})
	assert.True(t, isError, "expected isError=true for an unconfigured server")
	assert.NotEmpty(t, text, "expected a human-readable message")
}
