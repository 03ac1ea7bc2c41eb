package rest

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"search-sync/internal/auth"
	authmw "search-sync/internal/auth/middleware"
	"search-sync/middleware"
)

// NewRouter wires the routes. Admin routes require a service token with the
// reindex permission.
func NewRouter(h *Handler, authMiddleware *authmw.AuthMiddleware, tracing bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover(), echomw.RequestID())
	if tracing {
		e.Use(middleware.OTelStatus())
	}

	e.GET("/health", h.Health)

	v1 := e.Group("/v1")
	v1.GET("/search", h.Search)
	v1.GET("/search/:type", h.Search)
	v1.GET("/types", h.Types)

	admin := v1.Group("/admin", authMiddleware.RequireServiceAuth(auth.PermissionReindex))
	admin.POST("/reindex/:type", h.Reindex)

	return e
}
