package federation

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/authface/authface/authflow"
	"github.com/authface/authface/sessions"
	"github.com/authface/authface/tier"
)

// Manager drives the external authorization-code handshake for each
// configured provider and produces a Session on success. It never
// holds a lock across a provider round trip: the flow tracker and
// session store are only touched for their own in-memory mutations.
type Manager struct {
	providers  map[string]Provider
	flows      *authflow.Tracker
	policy     *tier.Policy
	store      *sessions.Store
	sessionTTL time.Duration
}

// NewManager wires the federation handshake. All dependencies are
// required; sessionTTL is the lifetime of sessions minted on
// successful login.
func NewManager(providers []Provider, flows *authflow.Tracker, policy *tier.Policy, store *sessions.Store, sessionTTL time.Duration) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("[NewManager] at least one provider is required")
	}
	if flows == nil {
		return nil, errors.New("[NewManager] flow tracker is required")
	}
	if policy == nil {
		return nil, errors.New("[NewManager] tier policy is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] session store is required")
	}
	if sessionTTL <= 0 {
		return nil, errors.New("[NewManager] sessionTTL must be positive")
	}

	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if _, dup := byName[p.Name()]; dup {
			return nil, errors.Errorf("[NewManager] duplicate provider %q", p.Name())
		}
		byName[p.Name()] = p
	}

	return &Manager{
		providers:  byName,
		flows:      flows,
		policy:     policy,
		store:      store,
		sessionTTL: sessionTTL,
	}, nil
}

// Providers lists the configured provider names.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// StartLogin begins a login flow and returns the provider redirect
// URL. Fails with ErrUnknownProvider for unconfigured names.
func (m *Manager) StartLogin(ctx context.Context, providerName string) (string, error) {
	provider, ok := m.providers[providerName]
	if !ok {
		return "", ErrUnknownProvider
	}

	var verifier string
	if provider.PKCEEnabled() {
		verifier = oauth2.GenerateVerifier()
	}

	record, err := m.flows.Begin(providerName, verifier)
	if err != nil {
		return "", errors.Wrap(err, "[StartLogin] flows.Begin")
	}

	authURL, err := provider.AuthCodeURL(ctx, record.Nonce, record.Nonce, verifier)
	if err != nil {
		return "", errors.Wrap(err, "[StartLogin] building authorization URL")
	}

	log.Debug().Str("provider", providerName).Msg("login flow started")
	return authURL, nil
}

// CompleteLogin validates the callback and produces a session. The
// flow record is consumed before anything else: on any flow error the
// handshake fails with ErrInvalidFlow and the token exchange is never
// attempted. A consumed flow is spent even if the exchange later
// fails; the client must restart login.
func (m *Manager) CompleteLogin(ctx context.Context, providerName, code, state string) (sessions.Session, error) {
	provider, ok := m.providers[providerName]
	if !ok {
		return sessions.Session{}, ErrUnknownProvider
	}
	if code == "" {
		return sessions.Session{}, errors.Wrap(ErrInvalidFlow, "missing authorization code")
	}

	record, err := m.flows.Consume(state)
	if err != nil {
		return sessions.Session{}, errors.Wrap(ErrInvalidFlow, err.Error())
	}
	if record.Provider != providerName {
		// A nonce minted for one provider presented on another's
		// callback is a protocol violation, not a mixup to tolerate.
		return sessions.Session{}, errors.Wrap(ErrInvalidFlow, "state belongs to a different provider")
	}

	identity, err := provider.Authenticate(ctx, code, record.CodeVerifier, record.Nonce)
	if err != nil {
		log.Warn().Err(err).Str("provider", providerName).Msg("login failed after flow consumption")
		return sessions.Session{}, err
	}

	resolved := m.policy.Resolve(providerName, tier.Identity{
		Subject: identity.Subject,
		Email:   identity.Email,
	})

	claims := map[string]string{}
	if identity.Email != "" {
		claims["email"] = identity.Email
	}
	if identity.Name != "" {
		claims["name"] = identity.Name
	}

	session, err := m.store.Create(identity.Subject, providerName, resolved, m.sessionTTL, claims)
	if err != nil {
		return sessions.Session{}, errors.Wrap(err, "[CompleteLogin] store.Create")
	}

	log.Info().
		Str("provider", providerName).
		Str("tier", resolved.String()).
		Str("session_id", session.ID).
		Msg("login completed")

	return session, nil
}
