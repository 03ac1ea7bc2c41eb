package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"search-sync/internal/auth"
	"search-sync/logger"
)

type contextKey string

// ServiceTokenKey is the request context key of the verified token.
const ServiceTokenKey contextKey = "service_token"

const serviceTokenHeader = "X-Service-Token"

type TokenValidator interface {
	ValidateServiceToken(tokenString string) (*auth.ServiceToken, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireServiceAuth admits requests whose service token grants permission.
// The token is read from X-Service-Token, or from a Bearer Authorization header.
func (m *AuthMiddleware) RequireServiceAuth(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString := c.Request().Header.Get(serviceTokenHeader)
			if tokenString == "" {
				tokenString = strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			}

			token, err := m.validator.ValidateServiceToken(tokenString)
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				return echo.NewHTTPError(http.StatusUnauthorized, "service token required")
			case errors.Is(err, auth.ErrSecretNotProvided):
				logger.FromContext(c.Request().Context()).Error("service auth is not configured")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication unavailable")
			case err != nil:
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid service token")
			}

			if !token.Can(permission) {
				logger.FromContext(c.Request().Context()).Warn("service token lacks permission",
					"caller", token.Subject, "permission", permission)
				return echo.NewHTTPError(http.StatusForbidden, auth.ErrPermissionDenied.Error())
			}

			ctx := context.WithValue(c.Request().Context(), ServiceTokenKey, token)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// TokenFromContext returns the token set by RequireServiceAuth.
func TokenFromContext(ctx context.Context) (*auth.ServiceToken, bool) {
	token, ok := ctx.Value(ServiceTokenKey).(*auth.ServiceToken)
	return token, ok
}
