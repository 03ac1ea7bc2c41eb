package bootstrap

import (
	"net/http"

	"search-sync/config"
	"search-sync/internal/auth"
	authmw "search-sync/internal/auth/middleware"
	"search-sync/rest"
)

// newHTTPServer creates the REST HTTP server.
func newHTTPServer(c *Components, cfg *config.Config, tracing bool) *http.Server {
	authClient := auth.NewClient(auth.Config{
		ServiceName:   cfg.Auth.ServiceName,
		ServiceSecret: cfg.Auth.ServiceSecret,
		TokenTTL:      cfg.Auth.TokenTTL,
	})

	handler := rest.NewHandler(c.Registry, c.Search, c.Reindex, c.HealthChecks())
	router := rest.NewRouter(handler, authmw.NewAuthMiddleware(authClient), tracing)

	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
}
