package token_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/authface/authface/sessions"
	"github.com/authface/authface/tier"
	"github.com/authface/authface/token"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://auth.example.com"

type fakeChecker struct {
	alive map[string]bool
}

func (c *fakeChecker) Alive(_ context.Context, sessionID string) bool {
	return c.alive[sessionID]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSigner(t *testing.T) *token.KeyPairSigner {
	t.Helper()
	keyPair, err := token.GenerateRSAKeyPair("test-key-1", 2048)
	require.NoError(t, err)
	return token.NewKeyPairSigner(keyPair)
}

func testSession() sessions.Session {
	now := time.Now()
	return sessions.Session{
		ID:        "session-1",
		Subject:   "gh-123",
		Provider:  "github",
		Tier:      tier.TierPreferred,
		Claims:    map[string]string{"email": "dev@example.com", "name": "Dev Eloper"},
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	manager, err := token.NewManager(newTestSigner(t), testIssuer, 15*time.Minute)
	require.NoError(t, err)

	session := testSession()
	raw, err := manager.Issue(session)
	require.NoError(t, err)
	require.Equal(t, 3, len(strings.Split(raw, ".")))

	claims, err := manager.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, session.Subject, claims.Subject)
	require.Equal(t, session.Tier, claims.Tier)
	require.Equal(t, session.ID, claims.SessionID)
	require.Equal(t, session.Provider, claims.Provider)
	require.Equal(t, testIssuer, claims.Issuer)
	require.NotEmpty(t, claims.TokenID)
	require.Equal(t, claims.IssuedAt+900, claims.ExpiresAt)
}

func TestVerifyExpiredToken(t *testing.T) {
	clk := &clock{now: time.Now()}
	manager, err := token.NewManager(newTestSigner(t), testIssuer, 900*time.Second,
		token.WithNowTime(clk.Now))
	require.NoError(t, err)

	raw, err := manager.Issue(testSession())
	require.NoError(t, err)

	// Still valid just inside the TTL.
	clk.Advance(899 * time.Second)
	_, err = manager.Verify(context.Background(), raw)
	require.NoError(t, err)

	// One second past exp it must fail.
	clk.Advance(2 * time.Second)
	_, err = manager.Verify(context.Background(), raw)
	require.ErrorIs(t, err, token.ErrExpired)
}

func TestVerifyTamperedToken(t *testing.T) {
	manager, err := token.NewManager(newTestSigner(t), testIssuer, time.Hour)
	require.NoError(t, err)

	raw, err := manager.Issue(testSession())
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	// Flip payload bytes; the signature no longer matches.
	tampered := parts[0] + "." + parts[1][:len(parts[1])-2] + "xx" + "." + parts[2]

	_, err = manager.Verify(context.Background(), tampered)
	require.Error(t, err)
	require.NotErrorIs(t, err, token.ErrExpired)
}

func TestVerifyWrongKey(t *testing.T) {
	issuing, err := token.NewManager(newTestSigner(t), testIssuer, time.Hour)
	require.NoError(t, err)
	verifying, err := token.NewManager(newTestSigner(t), testIssuer, time.Hour)
	require.NoError(t, err)

	raw, err := issuing.Issue(testSession())
	require.NoError(t, err)

	_, err = verifying.Verify(context.Background(), raw)
	require.ErrorIs(t, err, token.ErrBadSignature)
}

func TestVerifyMalformedToken(t *testing.T) {
	manager, err := token.NewManager(newTestSigner(t), testIssuer, time.Hour)
	require.NoError(t, err)

	for _, raw := range []string{"", "garbage", "a.b.c"} {
		_, err := manager.Verify(context.Background(), raw)
		require.ErrorIs(t, err, token.ErrMalformed, "input %q", raw)
	}
}

func TestVerifyIssuerMismatch(t *testing.T) {
	signer := newTestSigner(t)
	issuing, err := token.NewManager(signer, "https://other.example.com", time.Hour)
	require.NoError(t, err)
	verifying, err := token.NewManager(signer, testIssuer, time.Hour)
	require.NoError(t, err)

	raw, err := issuing.Issue(testSession())
	require.NoError(t, err)

	_, err = verifying.Verify(context.Background(), raw)
	require.ErrorIs(t, err, token.ErrMalformed)
}

func TestVerifySessionLiveness(t *testing.T) {
	checker := &fakeChecker{alive: map[string]bool{"session-1": true}}
	manager, err := token.NewManager(newTestSigner(t), testIssuer, time.Hour,
		token.WithSessionLiveness(checker))
	require.NoError(t, err)

	raw, err := manager.Issue(testSession())
	require.NoError(t, err)

	_, err = manager.Verify(context.Background(), raw)
	require.NoError(t, err)

	// Revoking the session invalidates the token before its own expiry.
	checker.alive["session-1"] = false
	_, err = manager.Verify(context.Background(), raw)
	require.ErrorIs(t, err, token.ErrRevokedSession)
}

func TestVerifyWithoutLivenessIgnoresRevocation(t *testing.T) {
	manager, err := token.NewManager(newTestSigner(t), testIssuer, time.Hour)
	require.NoError(t, err)

	raw, err := manager.Issue(testSession())
	require.NoError(t, err)

	// Stateless mode: no session store consulted, token stands alone.
	claims, err := manager.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "session-1", claims.SessionID)
}

func TestUnknownTierClaimDowngradesToFree(t *testing.T) {
	manager, err := token.NewManager(newTestSigner(t), testIssuer, time.Hour)
	require.NoError(t, err)

	session := testSession()
	session.Tier = tier.Tier("galactic") // not a real tier
	raw, err := manager.Issue(session)
	require.NoError(t, err)

	claims, err := manager.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, tier.TierFree, claims.Tier)
}

func TestManagerValidation(t *testing.T) {
	signer := newTestSigner(t)

	_, err := token.NewManager(nil, testIssuer, time.Hour)
	require.Error(t, err)

	_, err = token.NewManager(signer, "", time.Hour)
	require.Error(t, err)

	_, err = token.NewManager(signer, testIssuer, 0)
	require.Error(t, err)
}

func TestGetJWKS(t *testing.T) {
	manager, err := token.NewManager(newTestSigner(t), testIssuer, time.Hour)
	require.NoError(t, err)

	jwks, err := manager.GetJWKS()
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "RSA", jwks.Keys[0].Kty)
	require.Equal(t, "test-key-1", jwks.Keys[0].Kid)
	require.Equal(t, "sig", jwks.Keys[0].Use)
	require.NotEmpty(t, jwks.Keys[0].N)
}

func TestKeyPairPEMRoundTrip(t *testing.T) {
	keyPair, err := token.GenerateRSAKeyPair("kid-1", 2048)
	require.NoError(t, err)

	privatePEM, err := keyPair.ExportPrivateKeyPEM()
	require.NoError(t, err)
	require.Contains(t, privatePEM, "RSA PRIVATE KEY")

	loaded, err := token.LoadKeyPairFromPEM("kid-1", privatePEM)
	require.NoError(t, err)

	// A token signed by the original key must verify under the loaded one.
	issuing, err := token.NewManager(token.NewKeyPairSigner(keyPair), testIssuer, time.Hour)
	require.NoError(t, err)
	verifying, err := token.NewManager(token.NewKeyPairSigner(loaded), testIssuer, time.Hour)
	require.NoError(t, err)

	raw, err := issuing.Issue(testSession())
	require.NoError(t, err)
	_, err = verifying.Verify(context.Background(), raw)
	require.NoError(t, err)
}

func TestLoadKeyPairFromBadPEM(t *testing.T) {
	_, err := token.LoadKeyPairFromPEM("kid", "not a pem")
	require.Error(t, err)
}
