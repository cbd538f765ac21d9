package secrets

import (
	"os"
	"strings"
	"sync"
)

// Credential holds one provider's API secrets. Read-only after init.
type Credential struct {
	APIKey    string
	APISecret string
}

// Credentials yields per-provider secrets. A missing credential disables
// the provider: no edges are emitted and execution calls surface as
// NotConfigured.
type Credentials interface {
	Get(provider string) (Credential, bool)
}

// EnvCredentials reads credentials from environment variables of the form
// <PREFIX>_<PROVIDER>_API_KEY / <PREFIX>_<PROVIDER>_API_SECRET, resolved
// once at construction so runtime env mutation cannot change behavior.
type EnvCredentials struct {
	prefix string

	once  sync.Once
	creds map[string]Credential
}

// NewEnvCredentials creates an env-backed credential store
func NewEnvCredentials(prefix string) *EnvCredentials {
	return &EnvCredentials{prefix: prefix}
}

func (e *EnvCredentials) load() {
	e.creds = make(map[string]Credential)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name, value := parts[0], parts[1]
		head := strings.ToUpper(e.prefix) + "_"
		if !strings.HasPrefix(name, head) {
			continue
		}
		rest := strings.TrimPrefix(name, head)
		switch {
		case strings.HasSuffix(rest, "_API_KEY"):
			p := strings.ToLower(strings.TrimSuffix(rest, "_API_KEY"))
			c := e.creds[p]
			c.APIKey = value
			e.creds[p] = c
		case strings.HasSuffix(rest, "_API_SECRET"):
			p := strings.ToLower(strings.TrimSuffix(rest, "_API_SECRET"))
			c := e.creds[p]
			c.APISecret = value
			e.creds[p] = c
		}
	}
}

// Get returns the credential for a provider, if configured
func (e *EnvCredentials) Get(provider string) (Credential, bool) {
	e.once.Do(e.load)
	c, ok := e.creds[strings.ToLower(provider)]
	return c, ok
}

// Static is a fixed credential map for tests and public-API-only providers
type Static map[string]Credential

// Get returns the credential for a provider, if present
func (s Static) Get(provider string) (Credential, bool) {
	c, ok := s[strings.ToLower(provider)]
	return c, ok
}
