package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2"

	"github.com/covecrm/mailengine/internal/models"
)

// credentialEntry is one record in the credentials file, keyed by the
// account's credential reference.
type credentialEntry struct {
	Provider    string `json:"provider"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	UseTLS      bool   `json:"use_tls"`
	AccessToken string `json:"access_token"`
}

// FileCredentials resolves credential references from a JSON file on disk.
// The file maps credential_ref to connection settings; Gmail entries carry an
// access token instead of host credentials.
type FileCredentials struct {
	mu      sync.RWMutex
	path    string
	entries map[string]credentialEntry
}

func NewFileCredentials(path string) (*FileCredentials, error) {
	f := &FileCredentials{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the credentials file.
func (f *FileCredentials) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read credentials file: %w", err)
	}

	entries := make(map[string]credentialEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	f.mu.Lock()
	f.entries = entries
	f.mu.Unlock()
	return nil
}

func (f *FileCredentials) Resolve(_ context.Context, account *models.Account) (Credentials, error) {
	f.mu.RLock()
	entry, ok := f.entries[account.CredentialRef]
	f.mu.RUnlock()

	if !ok {
		return Credentials{}, fmt.Errorf("no credentials for reference %q", account.CredentialRef)
	}

	creds := Credentials{
		Provider: models.ProviderKind(entry.Provider),
		Host:     entry.Host,
		Port:     entry.Port,
		Username: entry.Username,
		Password: entry.Password,
		UseTLS:   entry.UseTLS,
	}
	if creds.Provider == "" {
		creds.Provider = account.Provider
	}
	if entry.AccessToken != "" {
		creds.TokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: entry.AccessToken})
	}

	return creds, nil
}
