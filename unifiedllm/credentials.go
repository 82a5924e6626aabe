package unifiedllm

import (
	"context"
	"os"
)

// CredentialSource supplies bearer credentials to AnthropicAdapter and
// refreshes them on demand. The OAuth credential file reader itself is an
// external collaborator (spec §1 Non-goals); this interface is the seam the
// Transport Client consumes at.
type CredentialSource interface {
	// Token returns the current bearer credential.
	Token(ctx context.Context) (string, error)

	// Refresh forces a credential refresh. AnthropicAdapter calls this
	// exactly once per request, only after a 401 response.
	Refresh(ctx context.Context) error
}

// staticEnvCredentialSource reads a bearer token from an environment
// variable. Refresh is a no-op: a static token cannot be refreshed, so a
// 401 against it surfaces to the caller as a genuine authentication error.
type staticEnvCredentialSource struct {
	envVar string
}

// NewEnvCredentialSource returns a CredentialSource backed by an environment
// variable, for callers that authenticate with a long-lived API key rather
// than a refreshable OAuth token.
func NewEnvCredentialSource(envVar string) CredentialSource {
	return &staticEnvCredentialSource{envVar: envVar}
}

func (s *staticEnvCredentialSource) Token(ctx context.Context) (string, error) {
	tok := os.Getenv(s.envVar)
	if tok == "" {
		return "", &ConfigurationError{SDKError: SDKError{
			Message: "no credential available: " + s.envVar + " is unset",
		}}
	}
	return tok, nil
}

func (s *staticEnvCredentialSource) Refresh(ctx context.Context) error {
	return nil
}
