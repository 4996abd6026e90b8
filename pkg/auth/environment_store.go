package auth

import (
	"os"
	"time"
)

// Environment variables consulted for the upstream key, in order
var apiKeyEnvVars = []string{"FOLLOWSYNC_API_KEY", "TWEETAPI_KEY"}

// EnvironmentStore reads the key from the environment. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment key under whatever profile is asked for
func (e *EnvironmentStore) Retrieve(profile string) (*Credential, error) {
	key := envAPIKey()
	if key == "" {
		return nil, ErrCredentialsNotFound
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Credential{
		Profile:      profile,
		APIKey:       key,
		BaseURL:      os.Getenv("FOLLOWSYNC_API_BASE_URL"),
		LastModified: time.Time{},
	}, nil
}

func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

func (e *EnvironmentStore) Delete(profile string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(profile string) bool {
	return envAPIKey() != ""
}

func envAPIKey() string {
	for _, name := range apiKeyEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
