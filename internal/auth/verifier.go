// Package auth verifies UAA-issued bearer tokens on inbound API requests.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"auth-proxy-go/internal/config"
)

// ClaimsKey is the echo.Context key holding the verified *jwt.RegisteredClaims.
const ClaimsKey = "auth.claims"

// ErrKeyNotLoaded is returned by Verify before LoadKey has succeeded.
var ErrKeyNotLoaded = errors.New("token verification key not loaded")

// tokenKey is the UAA token_key document.
type tokenKey struct {
	Alg   string `json:"alg"`
	Value string `json:"value"`
}

// Verifier checks RSA-signed JWTs against the UAA public key.
type Verifier struct {
	keyURL string
	client *http.Client
	logger *slog.Logger

	key atomic.Pointer[rsa.PublicKey]
}

// NewVerifier creates a Verifier for cfg.Auth.TokenKeyURL. The key must be
// loaded with LoadKey before tokens can be verified.
func NewVerifier(cfg *config.Config, logger *slog.Logger) *Verifier {
	return &Verifier{
		keyURL: cfg.Auth.TokenKeyURL,
		client: &http.Client{Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second},
		logger: logger.With("component", "token_verifier"),
	}
}

// LoadKey fetches and installs the token verification key.
func (v *Verifier) LoadKey(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.keyURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("auth: build token key request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: fetch token key: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: fetch token key: unexpected status %d", resp.StatusCode)
	}

	var doc tokenKey
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&doc); err != nil {
		return fmt.Errorf("auth: decode token key: %w", err)
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(doc.Value))
	if err != nil {
		return fmt.Errorf("auth: parse token key: %w", err)
	}

	v.key.Store(key)
	v.logger.Info("token verification key loaded", "url", v.keyURL, "alg", doc.Alg)
	return nil
}

// Verify parses tokenString and validates its signature and time claims.
func (v *Verifier) Verify(tokenString string) (*jwt.RegisteredClaims, error) {
	key := v.key.Load()
	if key == nil {
		return nil, ErrKeyNotLoaded
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token with 401.
func (v *Verifier) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthorized(c, "bearer token required")
			}

			claims, err := v.Verify(token)
			if err != nil {
				v.logger.Warn("rejected bearer token",
					"err", err,
					"path", c.Request().URL.Path,
					"remote_ip", c.RealIP(),
				)
				return unauthorized(c, "invalid bearer token")
			}

			c.Set(ClaimsKey, claims)
			return next(c)
		}
	}
}

// bearerToken extracts the token from an Authorization header. The scheme
// is matched case-insensitively; the Cloud Foundry CLI sends "bearer".
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c echo.Context, msg string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="auth-proxy"`)
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": msg})
}
