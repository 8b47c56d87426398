package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-dynsync/core"
)

func TestFileCredentialStoreRoundTripPreservesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	seed := map[string]any{
		"client_id":     "client-1",
		"access_token":  "old",
		"refresh_token": "refresh-old",
		"expires_at":    float64(100),
	}
	raw, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	store, err := NewFileCredentialStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	current, err := store.Current(context.Background())
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if current.AccessToken != "old" || current.RefreshToken != "refresh-old" || current.ExpiresAt != 100 {
		t.Fatalf("unexpected credential %+v", current)
	}

	if err := store.Save(context.Background(), core.Credential{
		AccessToken:  "new",
		RefreshToken: "refresh-new",
		ExpiresAt:    200,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	persisted, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted: %v", err)
	}
	document := map[string]any{}
	if err := json.Unmarshal(persisted, &document); err != nil {
		t.Fatalf("decode persisted: %v", err)
	}
	if document["client_id"] != "client-1" {
		t.Fatalf("expected unrelated fields preserved, got %v", document["client_id"])
	}
	if document["access_token"] != "new" || document["expires_at"] != float64(200) {
		t.Fatalf("expected updated token fields, got %v", document)
	}
}

func TestMemoryCredentialStoreSnapshot(t *testing.T) {
	store := NewMemoryCredentialStore(core.Credential{
		AccessToken:  "token",
		RefreshToken: "refresh",
		ExpiresAt:    42,
	})

	snapshot, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot["access_token"] != "token" {
		t.Fatalf("snapshot access_token = %v", snapshot["access_token"])
	}
	if snapshot["expires_at"] != int64(42) {
		t.Fatalf("snapshot expires_at = %v", snapshot["expires_at"])
	}
}
