package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/goliatone/go-dynsync/core"
)

// MemoryCredentialStore keeps the credential in process memory. Used in
// tests and by callers that handle persistence themselves.
type MemoryCredentialStore struct {
	mu         sync.Mutex
	credential core.Credential
}

func NewMemoryCredentialStore(initial core.Credential) *MemoryCredentialStore {
	return &MemoryCredentialStore{credential: initial}
}

func (s *MemoryCredentialStore) Current(context.Context) (core.Credential, error) {
	if s == nil {
		return core.Credential{}, fmt.Errorf("auth: credential store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential, nil
}

func (s *MemoryCredentialStore) Save(_ context.Context, cred core.Credential) error {
	if s == nil {
		return fmt.Errorf("auth: credential store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = cred
	return nil
}

func (s *MemoryCredentialStore) Snapshot(ctx context.Context) (map[string]any, error) {
	cred, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return credentialSnapshot(cred), nil
}

// FileCredentialStore persists the credential to a JSON document on disk.
// Unknown fields already present in the file survive a rewrite, so the same
// file can hold the rest of the runtime configuration.
type FileCredentialStore struct {
	mu   sync.Mutex
	path string
}

func NewFileCredentialStore(path string) (*FileCredentialStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("auth: credential file path is required")
	}
	return &FileCredentialStore{path: path}, nil
}

func (s *FileCredentialStore) Current(context.Context) (core.Credential, error) {
	if s == nil {
		return core.Credential{}, fmt.Errorf("auth: credential store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		return core.Credential{}, err
	}
	cred := core.Credential{
		AccessToken:  stringValue(doc["access_token"]),
		RefreshToken: stringValue(doc["refresh_token"]),
	}
	cred.ExpiresAt = int64Value(doc["expires_at"])
	return cred, nil
}

func (s *FileCredentialStore) Save(_ context.Context, cred core.Credential) error {
	if s == nil {
		return fmt.Errorf("auth: credential store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		return err
	}
	doc["access_token"] = cred.AccessToken
	if strings.TrimSpace(cred.RefreshToken) != "" {
		doc["refresh_token"] = cred.RefreshToken
	}
	doc["expires_at"] = cred.ExpiresAt

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode credential file: %w", err)
	}
	if err := os.WriteFile(s.path, payload, 0o600); err != nil {
		return fmt.Errorf("auth: write credential file: %w", err)
	}
	return nil
}

func (s *FileCredentialStore) Snapshot(ctx context.Context) (map[string]any, error) {
	cred, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return credentialSnapshot(cred), nil
}

func (s *FileCredentialStore) readDocument() (map[string]any, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("auth: read credential file: %w", err)
	}
	doc := map[string]any{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("auth: decode credential file: %w", err)
	}
	return doc, nil
}

func credentialSnapshot(cred core.Credential) map[string]any {
	snapshot := map[string]any{}
	if strings.TrimSpace(cred.AccessToken) != "" {
		snapshot["access_token"] = cred.AccessToken
	}
	if strings.TrimSpace(cred.RefreshToken) != "" {
		snapshot["refresh_token"] = cred.RefreshToken
	}
	if cred.ExpiresAt != 0 {
		snapshot["expires_at"] = cred.ExpiresAt
	}
	return snapshot
}

func stringValue(value any) string {
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

func int64Value(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

var (
	_ core.CredentialStore = (*MemoryCredentialStore)(nil)
	_ core.CredentialStore = (*FileCredentialStore)(nil)
)
