package auth

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-dynsync/core"
)

type stubDoer struct {
	calls     int
	status    int
	body      string
	lastForm  map[string][]string
	lastURL   string
	failAfter error
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.calls++
	if s.failAfter != nil {
		return nil, s.failAfter
	}
	s.lastURL = req.URL.String()
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		if form, err := parseForm(string(raw)); err == nil {
			s.lastForm = form
		}
	}
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Header:     http.Header{},
	}, nil
}

func parseForm(raw string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, pair := range strings.Split(raw, "&") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := parts[0]
		out[key] = append(out[key], decodeForm(parts[1]))
	}
	return out, nil
}

func decodeForm(value string) string {
	value = strings.ReplaceAll(value, "+", " ")
	value = strings.ReplaceAll(value, "%3A", ":")
	value = strings.ReplaceAll(value, "%2F", "/")
	return value
}

func testConfig() core.Config {
	return core.Config{
		Subdomain:    "contoso",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Tenant:       "tenant.onmicrosoft.com",
		RedirectURI:  "https://localhost/callback",
	}
}

func TestEnsureFreshSkipsRefreshInsideMargin(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryCredentialStore(core.Credential{
		AccessToken: "held",
		ExpiresAt:   now.Add(10 * time.Minute).Unix(),
	})
	doer := &stubDoer{}

	authenticator, err := New(testConfig(), store,
		WithHTTPClient(doer),
		WithNow(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	cred, err := authenticator.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if cred.AccessToken != "held" {
		t.Fatalf("expected stored token, got %q", cred.AccessToken)
	}
	if doer.calls != 0 {
		t.Fatalf("expected no token request, got %d", doer.calls)
	}
}

func TestEnsureFreshRefreshesExactlyOnceWhenStale(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryCredentialStore(core.Credential{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(core.CredentialFreshnessMargin - time.Second).Unix(),
	})
	doer := &stubDoer{
		body: `{"access_token":"fresh","refresh_token":"refresh-2","expires_in":3600}`,
	}

	authenticator, err := New(testConfig(), store,
		WithHTTPClient(doer),
		WithNow(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	cred, err := authenticator.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if doer.calls != 1 {
		t.Fatalf("expected exactly one token request, got %d", doer.calls)
	}
	if cred.AccessToken != "fresh" || cred.RefreshToken != "refresh-2" {
		t.Fatalf("unexpected credential %+v", cred)
	}
	if cred.ExpiresAt != now.Unix()+3600 {
		t.Fatalf("expires_at = %d want %d", cred.ExpiresAt, now.Unix()+3600)
	}

	saved, err := store.Current(context.Background())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if saved.AccessToken != "fresh" {
		t.Fatalf("expected refreshed credential persisted, got %+v", saved)
	}

	if _, err := authenticator.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("second ensure fresh: %v", err)
	}
	if doer.calls != 1 {
		t.Fatalf("expected fresh credential to be reused, got %d requests", doer.calls)
	}
}

func TestRefreshUsesRefreshTokenGrantWhenHeld(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryCredentialStore(core.Credential{RefreshToken: "refresh-1"})
	doer := &stubDoer{body: `{"access_token":"fresh","expires_in":3600}`}

	authenticator, err := New(testConfig(), store,
		WithHTTPClient(doer),
		WithNow(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	cred, err := authenticator.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if got := doer.lastForm["grant_type"]; len(got) != 1 || got[0] != "refresh_token" {
		t.Fatalf("grant_type = %v", got)
	}
	if got := doer.lastForm["refresh_token"]; len(got) != 1 || got[0] != "refresh-1" {
		t.Fatalf("refresh_token = %v", got)
	}
	if doer.lastURL != "https://login.microsoftonline.com/tenant.onmicrosoft.com/oauth2/token" {
		t.Fatalf("token url = %q", doer.lastURL)
	}
	if cred.RefreshToken != "refresh-1" {
		t.Fatalf("expected prior refresh token preserved, got %q", cred.RefreshToken)
	}
}

func TestRefreshFallsBackToClientCredentials(t *testing.T) {
	store := NewMemoryCredentialStore(core.Credential{})
	doer := &stubDoer{body: `{"access_token":"fresh","expires_in":"3600"}`}

	authenticator, err := New(testConfig(), store, WithHTTPClient(doer))
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	if _, err := authenticator.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if got := doer.lastForm["grant_type"]; len(got) != 1 || got[0] != "client_credentials" {
		t.Fatalf("grant_type = %v", got)
	}
	if got := doer.lastForm["resource"]; len(got) != 1 || got[0] != "https://contoso.operations.dynamics.com" {
		t.Fatalf("resource = %v", got)
	}
	if _, ok := doer.lastForm["refresh_token"]; ok {
		t.Fatalf("client credentials grant must not carry a refresh token")
	}
}

func TestRefreshFailureIsAuthenticationError(t *testing.T) {
	store := NewMemoryCredentialStore(core.Credential{})
	doer := &stubDoer{status: http.StatusUnauthorized, body: `{"error":"invalid_client"}`}

	authenticator, err := New(testConfig(), store, WithHTTPClient(doer))
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	_, err = authenticator.EnsureFresh(context.Background())
	if err == nil {
		t.Fatalf("expected error from 401 token response")
	}
	if !core.IsAuthError(err) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid_client") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestAuthHeadersCarryBearerToken(t *testing.T) {
	now := time.Now().UTC()
	store := NewMemoryCredentialStore(core.Credential{
		AccessToken: "held",
		ExpiresAt:   now.Add(time.Hour).Unix(),
	})
	authenticator, err := New(testConfig(), store, WithHTTPClient(&stubDoer{}))
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	headers, err := authenticator.AuthHeaders(context.Background())
	if err != nil {
		t.Fatalf("auth headers: %v", err)
	}
	if headers["Authorization"] != "Bearer held" {
		t.Fatalf("authorization header = %q", headers["Authorization"])
	}
}
