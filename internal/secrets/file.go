package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileCredentials reads credentials from files mounted under a directory,
// the layout Kubernetes secret volumes produce: one file per value, named
// <provider>_api_key and <provider>_api_secret. Values are trimmed of
// trailing whitespace; files are read once at first use.
type FileCredentials struct {
	dir string

	once  sync.Once
	creds map[string]Credential
}

// NewFileCredentials creates a file-backed credential store
func NewFileCredentials(dir string) *FileCredentials {
	return &FileCredentials{dir: dir}
}

func (f *FileCredentials) load() {
	f.creds = make(map[string]Credential)
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return // no directory means no credentials, not an error
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		value, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			continue
		}
		v := strings.TrimSpace(string(value))
		switch {
		case strings.HasSuffix(name, "_api_key"):
			p := strings.TrimSuffix(name, "_api_key")
			c := f.creds[p]
			c.APIKey = v
			f.creds[p] = c
		case strings.HasSuffix(name, "_api_secret"):
			p := strings.TrimSuffix(name, "_api_secret")
			c := f.creds[p]
			c.APISecret = v
			f.creds[p] = c
		}
	}
}

// Get returns the credential for a provider, if a file supplied it
func (f *FileCredentials) Get(provider string) (Credential, bool) {
	f.once.Do(f.load)
	c, ok := f.creds[strings.ToLower(provider)]
	return c, ok
}
