package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// ProviderConfig is the static configuration for one identity
// provider. Immutable after load. Providers with an IssuerURL use OIDC
// discovery and ID-token verification; providers without one (plain
// OAuth2, e.g. github) need explicit endpoints and a userinfo URL.
type ProviderConfig struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	IssuerURL    string   `yaml:"issuer_url,omitempty"`
	AuthURL      string   `yaml:"auth_url,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty"`
	UserInfoURL  string   `yaml:"userinfo_url,omitempty"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes,omitempty"`
	UsePKCE      bool     `yaml:"use_pkce"`
}

// Identity is the stable subject information extracted from a
// provider's assertion.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// Provider drives the authorization-code exchange for one configured
// identity provider. Selected by configuration, never by runtime
// plugin loading.
type Provider interface {
	Name() string
	PKCEEnabled() bool

	// AuthCodeURL builds the provider authorization URL embedding the
	// state nonce (and PKCE challenge when enabled).
	AuthCodeURL(ctx context.Context, state, nonce, verifier string) (string, error)

	// Authenticate exchanges the authorization code for an identity
	// assertion and validates it. Errors are classified as
	// ErrProviderUnavailable or ErrInvalidAssertion.
	Authenticate(ctx context.Context, code, verifier, nonce string) (Identity, error)
}

// oauthProvider implements Provider on x/oauth2, with go-oidc ID-token
// verification for OIDC providers and a userinfo fetch for the rest.
type oauthProvider struct {
	cfg    ProviderConfig
	oauth  *oauth2.Config
	client *http.Client

	// OIDC discovery is performed lazily on first use so a slow or
	// down provider cannot block startup. Only success is cached; a
	// failed attempt is retried on the next call.
	discoverMu   sync.Mutex
	oidcProvider *oidc.Provider
}

// NewProviders builds real providers from configuration.
func NewProviders(configs []ProviderConfig) ([]Provider, error) {
	providers := make([]Provider, 0, len(configs))
	for _, cfg := range configs {
		p, err := newOAuthProvider(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "provider %q", cfg.Name)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func newOAuthProvider(cfg ProviderConfig) (*oauthProvider, error) {
	if cfg.Name == "" {
		return nil, errors.New("provider name is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client_id is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("redirect_url is required")
	}
	if cfg.IssuerURL == "" {
		if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
			return nil, errors.New("non-OIDC providers need auth_url, token_url and userinfo_url")
		}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 && cfg.IssuerURL != "" {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &oauthProvider{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (p *oauthProvider) Name() string {
	return p.cfg.Name
}

func (p *oauthProvider) PKCEEnabled() bool {
	return p.cfg.UsePKCE
}

// ensureDiscovery resolves the OIDC endpoints from the issuer's
// discovery document. A transient failure must not wedge the provider
// until restart, so errors are returned but never remembered.
func (p *oauthProvider) ensureDiscovery(ctx context.Context) error {
	if p.cfg.IssuerURL == "" {
		return nil
	}

	p.discoverMu.Lock()
	defer p.discoverMu.Unlock()
	if p.oidcProvider != nil {
		return nil
	}

	ctx = oidc.ClientContext(ctx, p.client)
	provider, err := oidc.NewProvider(ctx, p.cfg.IssuerURL)
	if err != nil {
		return errors.Wrap(err, "OIDC discovery failed")
	}
	p.oidcProvider = provider
	p.oauth.Endpoint = provider.Endpoint()
	return nil
}

func (p *oauthProvider) AuthCodeURL(ctx context.Context, state, nonce, verifier string) (string, error) {
	if err := p.ensureDiscovery(ctx); err != nil {
		return "", errors.Wrap(ErrProviderUnavailable, err.Error())
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	if p.cfg.IssuerURL != "" {
		opts = append(opts, oidc.Nonce(nonce))
	}
	if p.cfg.UsePKCE {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return p.oauth.AuthCodeURL(state, opts...), nil
}

func (p *oauthProvider) Authenticate(ctx context.Context, code, verifier, nonce string) (Identity, error) {
	if err := p.ensureDiscovery(ctx); err != nil {
		return Identity{}, errors.Wrap(ErrProviderUnavailable, err.Error())
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	var opts []oauth2.AuthCodeOption
	if p.cfg.UsePKCE && verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	oauth2Token, err := p.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// The provider answered and rejected the code.
			return Identity{}, errors.Wrap(ErrInvalidAssertion, err.Error())
		}
		return Identity{}, errors.Wrap(ErrProviderUnavailable, err.Error())
	}

	if p.cfg.IssuerURL != "" {
		return p.identityFromIDToken(ctx, oauth2Token, nonce)
	}
	return p.identityFromUserInfo(ctx, oauth2Token)
}

// identityFromIDToken verifies the ID token's signature, issuer,
// audience and nonce before trusting any claim in it.
func (p *oauthProvider) identityFromIDToken(ctx context.Context, oauth2Token *oauth2.Token, nonce string) (Identity, error) {
	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return Identity{}, errors.Wrap(ErrInvalidAssertion, "no id_token in token response")
	}

	idToken, err := p.oidcProvider.Verifier(&oidc.Config{
		ClientID: p.oauth.ClientID,
	}).Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, errors.Wrap(ErrInvalidAssertion, err.Error())
	}

	var claims struct {
		Nonce string `json:"nonce"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, errors.Wrap(ErrInvalidAssertion, err.Error())
	}

	if claims.Nonce != nonce {
		return Identity{}, errors.Wrap(ErrInvalidAssertion, "nonce mismatch")
	}
	if claims.Sub == "" {
		return Identity{}, errors.Wrap(ErrInvalidAssertion, "assertion has no subject")
	}

	return Identity{Subject: claims.Sub, Email: claims.Email, Name: claims.Name}, nil
}

// identityFromUserInfo fetches the userinfo document with the access
// token, for providers that do not issue ID tokens.
func (p *oauthProvider) identityFromUserInfo(ctx context.Context, oauth2Token *oauth2.Token) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return Identity{}, errors.Wrap(ErrProviderUnavailable, err.Error())
	}
	oauth2Token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Identity{}, errors.Wrap(ErrProviderUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, errors.Wrapf(ErrInvalidAssertion, "userinfo returned %d", resp.StatusCode)
	}

	var userInfo struct {
		Sub   string          `json:"sub"`
		ID    json.RawMessage `json:"id"` // github uses a numeric id
		Login string          `json:"login"`
		Email string          `json:"email"`
		Name  string          `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return Identity{}, errors.Wrap(ErrInvalidAssertion, err.Error())
	}

	subject := userInfo.Sub
	if subject == "" && len(userInfo.ID) > 0 {
		subject = strings.Trim(string(userInfo.ID), `"`)
	}
	if subject == "" {
		return Identity{}, errors.Wrap(ErrInvalidAssertion, "userinfo has no subject")
	}

	name := userInfo.Name
	if name == "" {
		name = userInfo.Login
	}

	return Identity{Subject: subject, Email: userInfo.Email, Name: name}, nil
}
