package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/authface/authface/federation"
	"github.com/authface/authface/sessions"
	"github.com/authface/authface/token"
)

const contentTypeJSON = "application/json; charset=utf-8"

// tokenResponse is returned by the callback and token endpoints.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`
	Tier        string `json:"tier"`
	Provider    string `json:"provider"`
}

// RootHandler answers the bare root with a short plain-text banner.
func (s *Server) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(s.config.GetAppName() + " - Multi-website Authentication and Authorization Service\n"))
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"service":         s.config.GetAppName(),
			"status":          "ok",
			"providers":       s.logins.Providers(),
			"active_sessions": s.store.ActiveCount(),
			"uptime_seconds":  int64(time.Since(s.startedAt).Seconds()),
		})
	}
}

func (s *Server) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := s.tokens.GetJWKS()
		if err != nil {
			writeJSONError(w, "server_error", "failed to build key set", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, jwks)
	}
}

// AuthRedirectHandler starts a login flow and redirects the browser to
// the provider's authorization endpoint.
func (s *Server) AuthRedirectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PathValue("provider")

		redirectURL, err := s.logins.StartLogin(r.Context(), provider)
		if err != nil {
			s.writeLoginError(w, provider, err)
			return
		}
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

// CallbackHandler completes the login flow and returns a freshly
// issued token alongside the session identifier.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PathValue("provider")

		// The provider can answer the redirect with an error instead of
		// a code (e.g. the user denied consent).
		if providerErr := r.FormValue("error"); providerErr != "" {
			writeJSONError(w, providerErr, r.FormValue("error_description"), http.StatusUnauthorized)
			return
		}

		code := r.FormValue("code")
		state := r.FormValue("state")

		session, err := s.logins.CompleteLogin(r.Context(), provider, code, state)
		if err != nil {
			s.writeLoginError(w, provider, err)
			return
		}

		signed, err := s.tokens.Issue(session)
		if err != nil {
			log.Error().Err(err).Str("provider", provider).Msg("token issue failed after login")
			writeJSONError(w, "server_error", "failed to issue token", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, s.newTokenResponse(signed, session))
	}
}

// TokenHandler mints a fresh token for an existing live session.
func (s *Server) TokenHandler() http.HandlerFunc {
	type tokenRequest struct {
		SessionID string `json:"session_id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
			writeJSONError(w, "invalid_request", "session_id is required", http.StatusBadRequest)
			return
		}

		session, ok := s.store.Get(r.Context(), req.SessionID)
		if !ok {
			writeJSONError(w, "invalid_session", "session not found or expired", http.StatusUnauthorized)
			return
		}

		signed, err := s.tokens.Issue(session)
		if err != nil {
			writeJSONError(w, "server_error", "failed to issue token", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, s.newTokenResponse(signed, session))
	}
}

// VerifyHandler checks a presented token and returns its claims. The
// token is read from the JSON body, or from the Authorization header
// when the body carries none.
func (s *Server) VerifyHandler() http.HandlerFunc {
	type verifyRequest struct {
		Token string `json:"token"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Token == "" {
			req.Token = bearerToken(r)
		}
		if req.Token == "" {
			writeJSONError(w, "invalid_request", "token is required", http.StatusBadRequest)
			return
		}

		claims, err := s.tokens.Verify(r.Context(), req.Token)
		if err != nil {
			writeVerifyError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid":  true,
			"claims": claims,
		})
	}
}

// LogoutHandler revokes a session. Revoking an unknown session is not
// an error: the end state is the same.
func (s *Server) LogoutHandler() http.HandlerFunc {
	type logoutRequest struct {
		SessionID string `json:"session_id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req logoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
			writeJSONError(w, "invalid_request", "session_id is required", http.StatusBadRequest)
			return
		}

		s.store.Revoke(req.SessionID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
	}
}

func (s *Server) newTokenResponse(signed string, session sessions.Session) tokenResponse {
	return tokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.config.GetTokenTTL().Seconds()),
		SessionID:   session.ID,
		Tier:        session.Tier.String(),
		Provider:    session.Provider,
	}
}

func (s *Server) writeLoginError(w http.ResponseWriter, provider string, err error) {
	switch {
	case errors.Is(err, federation.ErrUnknownProvider):
		writeJSONError(w, "unknown_provider", "provider "+provider+" is not configured", http.StatusNotFound)
	case errors.Is(err, federation.ErrInvalidFlow):
		writeJSONError(w, "invalid_flow", "login flow is missing, expired, or already used", http.StatusUnauthorized)
	case errors.Is(err, federation.ErrInvalidAssertion):
		writeJSONError(w, "invalid_assertion", "identity assertion could not be verified", http.StatusUnauthorized)
	case errors.Is(err, federation.ErrProviderUnavailable):
		writeJSONError(w, "provider_unavailable", "identity provider could not be reached", http.StatusBadGateway)
	default:
		log.Error().Err(err).Str("provider", provider).Msg("login failed")
		writeJSONError(w, "server_error", "login failed", http.StatusInternalServerError)
	}
}

func writeVerifyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrExpired):
		writeJSONError(w, "token_expired", "token has expired", http.StatusUnauthorized)
	case errors.Is(err, token.ErrBadSignature):
		writeJSONError(w, "invalid_signature", "token signature could not be verified", http.StatusUnauthorized)
	case errors.Is(err, token.ErrRevokedSession):
		writeJSONError(w, "session_revoked", "originating session no longer exists", http.StatusUnauthorized)
	default:
		writeJSONError(w, "invalid_token", "token could not be parsed", http.StatusUnauthorized)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
