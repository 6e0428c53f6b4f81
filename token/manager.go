package token

import (
	"context"
	stderrors "errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/authface/authface/sessions"
	"github.com/authface/authface/tier"
)

// Verification failure taxonomy. Never retried automatically.
var (
	ErrMalformed      = stderrors.New("malformed token")
	ErrBadSignature   = stderrors.New("bad token signature")
	ErrExpired        = stderrors.New("token expired")
	ErrRevokedSession = stderrors.New("originating session revoked")
)

// Claims is the decoded, verified content of a broker token.
type Claims struct {
	Subject   string    `json:"sub"`
	Tier      tier.Tier `json:"tier"`
	SessionID string    `json:"sid"`
	Provider  string    `json:"provider,omitempty"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Issuer    string    `json:"iss"`
	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`
	TokenID   string    `json:"jti"`
}

// SessionChecker answers whether a session is still present and
// unexpired, enabling server-side revocation of issued tokens.
type SessionChecker interface {
	Alive(ctx context.Context, sessionID string) bool
}

// Manager issues tokens from sessions and verifies presented tokens.
// Tokens are short-lived capability grants derived from the
// longer-lived session: the token TTL is independent of and typically
// much shorter than the session TTL.
type Manager struct {
	signer   Signer
	issuer   string
	tokenTTL time.Duration

	// When sessionCheck is set, Verify additionally requires the
	// originating session to still be alive. Without it, revoking a
	// session cannot invalidate tokens issued before their own expiry.
	// That trade-off (statelessness vs revocability) is the operator's
	// to make, so it is explicit configuration, not a default.
	sessionCheck SessionChecker

	nowTime func() time.Time // injectable for testing
}

// ManagerOption modifies a Manager instance.
type ManagerOption func(*Manager)

// WithSessionLiveness enables the strict verification mode backed by
// the given checker.
func WithSessionLiveness(checker SessionChecker) ManagerOption {
	return func(m *Manager) {
		m.sessionCheck = checker
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// NewManager creates a token manager. signer, issuer, and a positive
// tokenTTL are required.
func NewManager(signer Signer, issuer string, tokenTTL time.Duration, options ...ManagerOption) (*Manager, error) {
	if signer == nil {
		return nil, errors.New("[NewManager] signer is required")
	}
	if issuer == "" {
		return nil, errors.New("[NewManager] issuer is required")
	}
	if tokenTTL <= 0 {
		return nil, errors.New("[NewManager] tokenTTL must be positive")
	}

	m := &Manager{
		signer:   signer,
		issuer:   issuer,
		tokenTTL: tokenTTL,
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Issue builds and signs a token for the session.
func (m *Manager) Issue(session sessions.Session) (string, error) {
	if session.ID == "" || session.Subject == "" {
		return "", errors.New("[Manager.Issue] session is incomplete")
	}

	now := m.nowTime()
	claims := jwtlib.MapClaims{
		"iss":  m.issuer,
		"sub":  session.Subject,
		"sid":  session.ID,
		"tier": session.Tier.String(),
		"iat":  now.Unix(),
		"exp":  now.Add(m.tokenTTL).Unix(),
		"jti":  uuid.New().String(),
	}
	if session.Provider != "" {
		claims["provider"] = session.Provider
	}
	if email := session.Claims["email"]; email != "" {
		claims["email"] = email
	}
	if name := session.Claims["name"]; name != "" {
		claims["name"] = name
	}

	signed, err := m.signer.Sign(claims)
	if err != nil {
		return "", errors.Wrap(err, "[Manager.Issue] signer.Sign")
	}
	return signed, nil
}

// Verify checks the signature, issuer, and expiry of a raw token and
// returns its claims. Verification is pure with respect to the token
// bytes and public key; only the optional liveness mode consults the
// session store.
func (m *Manager) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	if rawToken == "" {
		return nil, ErrMalformed
	}

	parsed, err := jwtlib.ParseWithClaims(rawToken, jwtlib.MapClaims{}, m.signer.GetVerificationKey,
		jwtlib.WithValidMethods([]string{RS256}),
		jwtlib.WithIssuer(m.issuer),
		jwtlib.WithTimeFunc(m.nowTime),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case stderrors.Is(err, jwtlib.ErrTokenExpired):
			return nil, ErrExpired
		case stderrors.Is(err, jwtlib.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		default:
			// Covers undecodable tokens, wrong algorithms, issuer
			// mismatches, and missing required claims.
			return nil, ErrMalformed
		}
	}

	mapClaims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, ErrMalformed
	}

	claims := claimsFromMap(mapClaims)
	if claims.Subject == "" {
		return nil, ErrMalformed
	}

	if m.sessionCheck != nil {
		if claims.SessionID == "" || !m.sessionCheck.Alive(ctx, claims.SessionID) {
			return nil, ErrRevokedSession
		}
	}

	return claims, nil
}

// GetJWKS exposes the verification key set when the signer is
// asymmetric.
func (m *Manager) GetJWKS() (*JWKS, error) {
	jwksSigner, ok := m.signer.(interface{ GetJWKS() (*JWKS, error) })
	if !ok {
		return nil, errors.New("signer does not expose a key set")
	}
	return jwksSigner.GetJWKS()
}

func claimsFromMap(mapClaims jwtlib.MapClaims) *Claims {
	sub, _ := mapClaims["sub"].(string)
	sid, _ := mapClaims["sid"].(string)
	tierClaim, _ := mapClaims["tier"].(string)
	provider, _ := mapClaims["provider"].(string)
	email, _ := mapClaims["email"].(string)
	name, _ := mapClaims["name"].(string)
	iss, _ := mapClaims["iss"].(string)
	jti, _ := mapClaims["jti"].(string)
	iat, _ := mapClaims["iat"].(float64)
	exp, _ := mapClaims["exp"].(float64)

	return &Claims{
		Subject:   sub,
		Tier:      tier.Parse(tierClaim),
		SessionID: sid,
		Provider:  provider,
		Email:     email,
		Name:      name,
		Issuer:    iss,
		IssuedAt:  int64(iat),
		ExpiresAt: int64(exp),
		TokenID:   jti,
	}
}
