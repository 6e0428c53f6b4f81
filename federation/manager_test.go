package federation_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/authface/authface/authflow"
	"github.com/authface/authface/federation"
	"github.com/authface/authface/sessions"
	"github.com/authface/authface/tier"
	"github.com/stretchr/testify/require"
)

// fakeProvider implements federation.Provider without any network.
type fakeProvider struct {
	name        string
	pkce        bool
	identity    federation.Identity
	authErr     error
	gotCode     string
	gotVerifier string
	gotNonce    string
}

func (p *fakeProvider) Name() string      { return p.name }
func (p *fakeProvider) PKCEEnabled() bool { return p.pkce }

func (p *fakeProvider) AuthCodeURL(_ context.Context, state, nonce, verifier string) (string, error) {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state), nil
}

func (p *fakeProvider) Authenticate(_ context.Context, code, verifier, nonce string) (federation.Identity, error) {
	p.gotCode = code
	p.gotVerifier = verifier
	p.gotNonce = nonce
	if p.authErr != nil {
		return federation.Identity{}, p.authErr
	}
	return p.identity, nil
}

type fixture struct {
	github  *fakeProvider
	google  *fakeProvider
	flows   *authflow.Tracker
	store   *sessions.Store
	manager *federation.Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()

	github := &fakeProvider{
		name:     "github",
		pkce:     true,
		identity: federation.Identity{Subject: "gh-77", Email: "dev@example.com", Name: "Dev"},
	}
	google := &fakeProvider{
		name:     "google",
		identity: federation.Identity{Subject: "goog-1", Email: "boss@admin.company.com"},
	}

	flows := authflow.NewTracker(5 * time.Minute)
	t.Cleanup(flows.Close)

	store := sessions.NewStore(nil)
	t.Cleanup(store.Close)

	policy := tier.NewPolicy(map[string]tier.ProviderRules{
		"google": {
			EmailDomains: map[string]tier.Tier{"admin.company.com": tier.TierAdmin},
		},
	})

	manager, err := federation.NewManager(
		[]federation.Provider{github, google}, flows, policy, store, 24*time.Hour)
	require.NoError(t, err)

	return &fixture{github: github, google: google, flows: flows, store: store, manager: manager}
}

func stateFromURL(t *testing.T, rawURL string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestStartLoginUnknownProvider(t *testing.T) {
	f := setup(t)
	_, err := f.manager.StartLogin(context.Background(), "gitlab")
	require.ErrorIs(t, err, federation.ErrUnknownProvider)
}

func TestLoginHappyPath(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	redirect, err := f.manager.StartLogin(ctx, "github")
	require.NoError(t, err)
	state := stateFromURL(t, redirect)

	session, err := f.manager.CompleteLogin(ctx, "github", "auth-code-1", state)
	require.NoError(t, err)
	require.Equal(t, "gh-77", session.Subject)
	require.Equal(t, "github", session.Provider)
	require.Equal(t, tier.TierNormal, session.Tier) // first-time subject
	require.Equal(t, "dev@example.com", session.Claims["email"])

	// PKCE verifier minted at StartLogin must be replayed at exchange.
	require.Equal(t, "auth-code-1", f.github.gotCode)
	require.NotEmpty(t, f.github.gotVerifier)
	require.Equal(t, state, f.github.gotNonce)

	// The session is live in the store until its TTL elapses.
	got, ok := f.store.Get(ctx, session.ID)
	require.True(t, ok)
	require.Equal(t, session.ID, got.ID)
}

func TestLoginResolvesTierFromPolicy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	redirect, err := f.manager.StartLogin(ctx, "google")
	require.NoError(t, err)

	session, err := f.manager.CompleteLogin(ctx, "google", "code", stateFromURL(t, redirect))
	require.NoError(t, err)
	require.Equal(t, tier.TierAdmin, session.Tier)
}

func TestCompleteLoginWithUnknownState(t *testing.T) {
	f := setup(t)

	_, err := f.manager.CompleteLogin(context.Background(), "github", "code", "forged-state")
	require.ErrorIs(t, err, federation.ErrInvalidFlow)
	require.Empty(t, f.github.gotCode, "token exchange must never run on a flow error")
}

func TestCompleteLoginReplayFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	redirect, err := f.manager.StartLogin(ctx, "github")
	require.NoError(t, err)
	state := stateFromURL(t, redirect)

	_, err = f.manager.CompleteLogin(ctx, "github", "code", state)
	require.NoError(t, err)

	// Replaying an observed callback URL must fail: the nonce was
	// consumed on first use.
	_, err = f.manager.CompleteLogin(ctx, "github", "code", state)
	require.ErrorIs(t, err, federation.ErrInvalidFlow)
}

func TestCompleteLoginCrossProviderState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	redirect, err := f.manager.StartLogin(ctx, "github")
	require.NoError(t, err)

	_, err = f.manager.CompleteLogin(ctx, "google", "code", stateFromURL(t, redirect))
	require.ErrorIs(t, err, federation.ErrInvalidFlow)
}

func TestCompleteLoginMissingCode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	redirect, err := f.manager.StartLogin(ctx, "github")
	require.NoError(t, err)

	_, err = f.manager.CompleteLogin(ctx, "github", "", stateFromURL(t, redirect))
	require.ErrorIs(t, err, federation.ErrInvalidFlow)
}

func TestCompleteLoginProviderUnavailable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.github.authErr = federation.ErrProviderUnavailable

	redirect, err := f.manager.StartLogin(ctx, "github")
	require.NoError(t, err)
	state := stateFromURL(t, redirect)

	_, err = f.manager.CompleteLogin(ctx, "github", "code", state)
	require.ErrorIs(t, err, federation.ErrProviderUnavailable)

	// No session was created and the flow is spent: retrying the same
	// callback now fails as an invalid flow.
	require.Equal(t, 0, f.store.ActiveCount())
	_, err = f.manager.CompleteLogin(ctx, "github", "code", state)
	require.ErrorIs(t, err, federation.ErrInvalidFlow)
}

func TestCompleteLoginInvalidAssertion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.github.authErr = federation.ErrInvalidAssertion

	redirect, err := f.manager.StartLogin(ctx, "github")
	require.NoError(t, err)

	_, err = f.manager.CompleteLogin(ctx, "github", "code", stateFromURL(t, redirect))
	require.ErrorIs(t, err, federation.ErrInvalidAssertion)
	require.Equal(t, 0, f.store.ActiveCount())
}

func TestConcurrentCallbacksSameState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	redirect, err := f.manager.StartLogin(ctx, "github")
	require.NoError(t, err)
	state := stateFromURL(t, redirect)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.manager.CompleteLogin(ctx, "github", "code", state)
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, federation.ErrInvalidFlow)
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, f.store.ActiveCount())
}

func TestNewManagerValidation(t *testing.T) {
	flows := authflow.NewTracker(time.Minute)
	defer flows.Close()
	store := sessions.NewStore(nil)
	defer store.Close()
	policy := tier.NewPolicy(nil)
	provider := &fakeProvider{name: "github"}

	_, err := federation.NewManager(nil, flows, policy, store, time.Hour)
	require.Error(t, err)

	_, err = federation.NewManager([]federation.Provider{provider}, nil, policy, store, time.Hour)
	require.Error(t, err)

	_, err = federation.NewManager([]federation.Provider{provider}, flows, nil, store, time.Hour)
	require.Error(t, err)

	_, err = federation.NewManager([]federation.Provider{provider}, flows, policy, nil, time.Hour)
	require.Error(t, err)

	_, err = federation.NewManager([]federation.Provider{provider}, flows, policy, store, 0)
	require.Error(t, err)

	_, err = federation.NewManager([]federation.Provider{provider, &fakeProvider{name: "github"}}, flows, policy, store, time.Hour)
	require.Error(t, err)
}
