package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Permissions carried by service tokens.
const (
	PermissionSearch  = "search"
	PermissionReindex = "reindex"
)

var (
	ErrMissingToken      = errors.New("missing service token")
	ErrInvalidToken      = errors.New("invalid service token")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrSecretNotProvided = errors.New("service secret not configured")
)

type Config struct {
	ServiceName   string
	ServiceSecret string
	TokenTTL      time.Duration
}

// Client issues and verifies HS256 service tokens.
type Client struct {
	config Config
	now    func() time.Time
}

// ServiceToken is the claim set of a service token. Issuer is the service
// that minted it; Subject is the caller it was minted for.
type ServiceToken struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Can reports whether the token grants permission.
func (st *ServiceToken) Can(permission string) bool {
	return slices.Contains(st.Permissions, permission)
}

func NewClient(config Config) *Client {
	return &Client{config: config, now: time.Now}
}

// GenerateServiceToken mints a token for caller with the given permissions.
func (c *Client) GenerateServiceToken(caller string, permissions ...string) (string, error) {
	if c.config.ServiceSecret == "" {
		return "", ErrSecretNotProvided
	}

	now := c.now()
	claims := ServiceToken{
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.config.ServiceName,
			Subject:   caller,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(c.config.ServiceSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateServiceToken verifies signature, expiry and issuer.
func (c *Client) ValidateServiceToken(tokenString string) (*ServiceToken, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	if c.config.ServiceSecret == "" {
		return nil, ErrSecretNotProvided
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &ServiceToken{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(c.config.ServiceSecret), nil
	},
		jwt.WithIssuer(c.config.ServiceName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*ServiceToken)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
