package server

const (
	// The {$} suffix pins the pattern to the bare root instead of
	// matching every otherwise-unrouted path.
	RouteRoot          = "/{$}"
	RouteHealth        = "/health"
	RouteStatus        = "/status"
	RouteWellKnownJWKS = "/.well-known/jwks.json"
	RouteAuth          = "/auth/{provider}"
	RouteCallback      = "/callback/{provider}"
	RouteToken         = "/token"
	RouteVerify        = "/verify"
	RouteLogout        = "/logout"
)

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteRoot, ChainMiddleware(s.RootHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteStatus, ChainMiddleware(s.StatusHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteWellKnownJWKS, ChainMiddleware(s.JWKSHandler(), s.APIMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteAuth, ChainMiddleware(s.AuthRedirectHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.APIMiddleware()...))
	// Providers using form_post response mode deliver the code by POST.
	s.RegisterRouteHandler("POST "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.APIMiddleware()...))

	s.RegisterRouteHandler("POST "+RouteToken, ChainMiddleware(s.TokenHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteVerify, ChainMiddleware(s.VerifyHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
}
