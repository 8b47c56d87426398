package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-dynsync/core"
)

const defaultTokenClientTimeout = 30 * time.Second

// HTTPDoer is the minimal http client seam.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Authenticator owns credential acquisition and refresh against Azure AD.
// The credential store is shared state; refresh is serialized so only one
// grant request is in flight at a time.
type Authenticator struct {
	config core.Config
	store  core.CredentialStore
	client HTTPDoer
	logger core.Logger
	now    func() time.Time
	mu     sync.Mutex
}

type Option func(*Authenticator)

func WithHTTPClient(client HTTPDoer) Option {
	return func(a *Authenticator) {
		if client != nil {
			a.client = client
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

func New(cfg core.Config, store core.CredentialStore, options ...Option) (*Authenticator, error) {
	if store == nil {
		return nil, fmt.Errorf("auth: credential store is required")
	}
	authenticator := &Authenticator{
		config: cfg,
		store:  store,
		client: &http.Client{Timeout: defaultTokenClientTimeout},
		logger: glog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(authenticator)
	}
	return authenticator, nil
}

// AuthHeaders returns bearer headers for the next request, refreshing the
// credential first when it is stale.
func (a *Authenticator) AuthHeaders(ctx context.Context) (map[string]string, error) {
	cred, err := a.EnsureFresh(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization": "Bearer " + cred.AccessToken,
	}, nil
}

// EnsureFresh returns a credential with at least the freshness margin left,
// refreshing and persisting when the stored one is stale.
func (a *Authenticator) EnsureFresh(ctx context.Context) (core.Credential, error) {
	if a == nil || a.store == nil {
		return core.Credential{}, fmt.Errorf("auth: authenticator is not configured")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.store.Current(ctx)
	if err != nil {
		return core.Credential{}, err
	}
	if current.Valid(a.now()) {
		return current, nil
	}
	return a.refresh(ctx, current)
}

func (a *Authenticator) refresh(ctx context.Context, current core.Credential) (core.Credential, error) {
	endpoint := a.config.TokenURL()
	body := a.grantBody(current)

	a.logger.Info("requesting token grant",
		"endpoint", endpoint,
		"grant_type", body.Get("grant_type"),
		"client_id", a.config.ClientID,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		return core.Credential{}, fmt.Errorf("auth: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := a.client.Do(req)
	if err != nil {
		return core.Credential{}, goerrors.Wrap(err, goerrors.CategoryAuth, "auth: token endpoint request failed").
			WithTextCode(core.SyncErrorAuthFailed)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return core.Credential{}, goerrors.Wrap(err, goerrors.CategoryAuth, "auth: read token response").
			WithTextCode(core.SyncErrorAuthFailed)
	}
	if res.StatusCode != http.StatusOK {
		return core.Credential{}, authenticationError(res.StatusCode, payload)
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    any    `json:"expires_in"`
	}
	if err := json.Unmarshal(payload, &grant); err != nil {
		return core.Credential{}, goerrors.Wrap(err, goerrors.CategoryAuth, "auth: decode token response").
			WithTextCode(core.SyncErrorAuthFailed)
	}
	if strings.TrimSpace(grant.AccessToken) == "" {
		return core.Credential{}, authenticationError(res.StatusCode, payload)
	}

	refreshed := core.Credential{
		AccessToken:  strings.TrimSpace(grant.AccessToken),
		RefreshToken: strings.TrimSpace(grant.RefreshToken),
		ExpiresAt:    a.now().Unix() + coerceSeconds(grant.ExpiresIn),
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = current.RefreshToken
	}
	if err := a.store.Save(ctx, refreshed); err != nil {
		return core.Credential{}, err
	}
	return refreshed, nil
}

// grantBody picks the grant mode from the credential shape: a held refresh
// token selects the refresh-token grant, anything else falls back to client
// credentials against the environment resource.
func (a *Authenticator) grantBody(current core.Credential) url.Values {
	body := url.Values{}
	if strings.TrimSpace(current.RefreshToken) != "" {
		body.Set("client_id", a.config.ClientID)
		body.Set("client_secret", a.config.ClientSecret)
		body.Set("redirect_uri", a.config.RedirectURI)
		body.Set("refresh_token", current.RefreshToken)
		body.Set("grant_type", "refresh_token")
		return body
	}
	body.Set("resource", a.config.ResourceURL())
	body.Set("grant_type", "client_credentials")
	body.Set("client_id", a.config.ClientID)
	body.Set("client_secret", a.config.ClientSecret)
	return body
}

func authenticationError(status int, body []byte) error {
	return goerrors.New(
		fmt.Sprintf("auth: token endpoint returned status %d: %s", status, strings.TrimSpace(string(body))),
		goerrors.CategoryAuth,
	).
		WithCode(status).
		WithTextCode(core.SyncErrorAuthFailed).
		WithMetadata(map[string]any{
			"status_code": status,
		})
}

func coerceSeconds(value any) int64 {
	switch typed := value.(type) {
	case float64:
		return int64(typed)
	case int64:
		return typed
	case int:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return 0
		}
		return parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
