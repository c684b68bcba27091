// Package auth stores provider credentials under agent/auth.json and
// resolves which credential family a prompt should use. Environment
// variables always win over the stored file so a deployment can rotate
// keys without touching disk.
package auth

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/nxclaw/nxclaw/internal/fsutil"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// Providers in the order they are probed when no default is set.
var knownProviders = []string{"anthropic", "openai-codex", "gemini-cli"}

// envKeys maps provider name to the env vars checked for a key, in
// precedence order.
var envKeys = map[string][]string{
	"anthropic":    {"ANTHROPIC_API_KEY"},
	"openai-codex": {"OPENAI_API_KEY"},
	"gemini-cli":   {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// Credential is one stored provider credential.
type Credential struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`
}

// state is the auth.json document.
type state struct {
	Default     string                `json:"default,omitempty"`
	Credentials map[string]Credential `json:"credentials"`
}

// ProviderStatus describes one provider for `auth --status`.
type ProviderStatus struct {
	Provider   string
	Configured bool
	// Source is "file", "env", or "" when unconfigured.
	Source  string
	Default bool
}

// Resolved is a usable credential plus where it came from.
type Resolved struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Source   string
}

// Store reads and writes auth.json.
type Store struct {
	paths workspace.Paths

	mu sync.Mutex
	st state
}

// NewStore loads the credential file, tolerating its absence.
func NewStore(paths workspace.Paths) (*Store, error) {
	s := &Store{paths: paths, st: state{Credentials: map[string]Credential{}}}
	var loaded state
	if err := fsutil.ReadJSON(paths.AuthFile(), &loaded); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read auth file: %w", err)
		}
	} else {
		if loaded.Credentials == nil {
			loaded.Credentials = map[string]Credential{}
		}
		s.st = loaded
	}
	return s, nil
}

// Normalize maps provider aliases to their canonical names.
func Normalize(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "anthropic", "claude":
		return "anthropic"
	case "openai", "openai-codex", "codex":
		return "openai-codex"
	case "gemini", "gemini-cli", "google":
		return "gemini-cli"
	default:
		return strings.ToLower(strings.TrimSpace(provider))
	}
}

// Kind maps a canonical provider name to the agent provider kind.
func Kind(provider string) string {
	switch Normalize(provider) {
	case "openai-codex":
		return "openai"
	case "gemini-cli":
		return "gemini"
	default:
		return "anthropic"
	}
}

// SetCredential stores a key for provider and persists. The first stored
// credential becomes the default.
func (s *Store) SetCredential(provider string, cred Credential) error {
	provider = Normalize(provider)
	if _, ok := envKeys[provider]; !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	if strings.TrimSpace(cred.APIKey) == "" {
		return fmt.Errorf("%s: API key is required", provider)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Credentials[provider] = cred
	if s.st.Default == "" {
		s.st.Default = provider
	}
	return s.persistLocked()
}

// SetDefault marks provider as the default credential family.
func (s *Store) SetDefault(provider string) error {
	provider = Normalize(provider)
	if _, ok := envKeys[provider]; !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Default = provider
	return s.persistLocked()
}

// RemoveCredential deletes a stored key.
func (s *Store) RemoveCredential(provider string) error {
	provider = Normalize(provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.Credentials, provider)
	if s.st.Default == provider {
		s.st.Default = ""
	}
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if err := fsutil.WriteJSONAtomic(s.paths.AuthFile(), s.st); err != nil {
		return fmt.Errorf("write auth file: %w", err)
	}
	return nil
}

// Resolve returns a usable credential. Preference order: the requested
// provider if non-empty, then the stored default, then any configured
// provider in probe order. Environment keys override stored ones for the
// same provider.
func (s *Store) Resolve(provider string) (Resolved, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var order []string
	if provider != "" {
		order = []string{Normalize(provider)}
	} else {
		if s.st.Default != "" {
			order = append(order, s.st.Default)
		}
		for _, p := range knownProviders {
			if p != s.st.Default {
				order = append(order, p)
			}
		}
	}

	for _, p := range order {
		if key := envKey(p); key != "" {
			r := Resolved{Provider: p, APIKey: key, Source: "env"}
			if cred, ok := s.st.Credentials[p]; ok {
				r.BaseURL = cred.BaseURL
				r.Model = cred.Model
			}
			return r, nil
		}
		if cred, ok := s.st.Credentials[p]; ok && cred.APIKey != "" {
			return Resolved{
				Provider: p,
				APIKey:   cred.APIKey,
				BaseURL:  cred.BaseURL,
				Model:    cred.Model,
				Source:   "file",
			}, nil
		}
	}
	if provider != "" {
		return Resolved{}, fmt.Errorf("no credential for provider %q", Normalize(provider))
	}
	return Resolved{}, fmt.Errorf("no provider credentials configured")
}

// HasAnyCredential reports whether at least one provider can be resolved.
func (s *Store) HasAnyCredential() bool {
	_, err := s.Resolve("")
	return err == nil
}

// Status lists every known provider with its configuration source.
func (s *Store) Status() []ProviderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProviderStatus, 0, len(knownProviders))
	for _, p := range knownProviders {
		st := ProviderStatus{Provider: p, Default: p == s.st.Default}
		if envKey(p) != "" {
			st.Configured = true
			st.Source = "env"
		} else if cred, ok := s.st.Credentials[p]; ok && cred.APIKey != "" {
			st.Configured = true
			st.Source = "file"
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func envKey(provider string) string {
	for _, name := range envKeys[provider] {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
