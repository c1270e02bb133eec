package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"lendhub/observability/logging"
)

// AuthConfig describes the HMAC bearer tokens issued to the hub orchestrator
// and the oracle.
type AuthConfig struct {
	// Disabled grants every scope to every caller. Only for local setups.
	Disabled   bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type contextKey string

const contextKeyScopes contextKey = "rpc.scopes"

var (
	errMissingToken      = errors.New("missing bearer token")
	errInvalidToken      = errors.New("invalid token")
	errInsufficientScope = errors.New("insufficient scope")
)

// Authenticator validates bearer tokens and exposes their scopes to method
// dispatch.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, logger: logger, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Middleware parses the bearer token when one is present. Requests without
// a token continue with no scopes so views stay public; a token that fails
// validation is recorded as an error for Authorize to report.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Disabled {
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.parseToken(tokenString)
		if err == nil {
			err = validateClaims(claims, a.cfg.Issuer, a.cfg.Audience)
		}
		if err != nil {
			a.logger.Info("rpc token rejected",
				slog.String("error", err.Error()),
				logging.MaskField("authorization", tokenString))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyScopes, errInvalidToken)))
			return
		}
		scopes := extractScopes(claims, a.cfg.ScopeClaim)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyScopes, scopes)))
	})
}

// Authorize checks that the request carried a valid token granting scope and
// returns the HTTP status to answer with otherwise.
func (a *Authenticator) Authorize(ctx context.Context, scope string) (int, error) {
	if a.cfg.Disabled {
		return http.StatusOK, nil
	}
	switch v := ctx.Value(contextKeyScopes).(type) {
	case nil:
		return http.StatusUnauthorized, errMissingToken
	case error:
		return http.StatusUnauthorized, v
	case []string:
		for _, s := range v {
			if s == scope {
				return http.StatusOK, nil
			}
		}
	}
	return http.StatusForbidden, errInsufficientScope
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		matched := false
		switch val := claims["aud"].(type) {
		case string:
			matched = val == audience
		case []interface{}:
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
		}
		if !matched {
			return errors.New("audience mismatch")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
