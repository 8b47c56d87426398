package core

import (
	"fmt"
	"strings"
)

const (
	// HostSuffix is the Dynamics Finance & Operations host suffix used both
	// to build API URLs and to derive the subdomain from a full base URL.
	HostSuffix = ".operations.dynamics.com"

	// TokenEndpointFormat is the Azure AD token endpoint, keyed by tenant.
	TokenEndpointFormat = "https://login.microsoftonline.com/%s/oauth2/token"
)

type Config struct {
	Subdomain    string `koanf:"subdomain" mapstructure:"subdomain"`
	ClientID     string `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string `koanf:"client_secret" mapstructure:"client_secret"`
	Tenant       string `koanf:"tenant" mapstructure:"tenant"`
	RedirectURI  string `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	BaseURL      string `koanf:"base_url" mapstructure:"base_url"`
	InputPath    string `koanf:"input_path" mapstructure:"input_path"`
	CrossCompany bool   `koanf:"cross_company" mapstructure:"cross_company"`
}

func DefaultConfig() Config {
	return Config{
		CrossCompany: true,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Subdomain) == "" && strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("core: subdomain or base_url is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("core: client_id is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("core: client_secret is required")
	}
	if strings.TrimSpace(c.Tenant) == "" {
		return fmt.Errorf("core: tenant is required")
	}
	return nil
}

// ResolvedSubdomain returns the configured subdomain, deriving it from the
// base URL when no explicit value is set.
func (c Config) ResolvedSubdomain() string {
	if subdomain := strings.TrimSpace(c.Subdomain); subdomain != "" {
		return subdomain
	}
	derived := strings.TrimSpace(c.BaseURL)
	derived = strings.TrimPrefix(derived, "https://")
	derived = strings.TrimPrefix(derived, "http://")
	if idx := strings.Index(derived, HostSuffix); idx >= 0 {
		derived = derived[:idx]
	}
	return strings.TrimSuffix(derived, "/")
}

// APIBaseURL is the data root every endpoint path is resolved against.
func (c Config) APIBaseURL() string {
	return fmt.Sprintf("https://%s%s/data", c.ResolvedSubdomain(), HostSuffix)
}

// ResourceURL is the OAuth resource claimed in client-credentials grants.
func (c Config) ResourceURL() string {
	return fmt.Sprintf("https://%s%s", c.ResolvedSubdomain(), HostSuffix)
}

// TokenURL is the Azure AD token endpoint for the configured tenant.
func (c Config) TokenURL() string {
	return fmt.Sprintf(TokenEndpointFormat, strings.TrimSpace(c.Tenant))
}
