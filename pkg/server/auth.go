package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/balizero/nuzantara/pkg/config"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const principalContextKey contextKey = "principal"

// Authenticator validates bearer tokens and resolves them to a Principal.
// Tokens come from an external identity provider; the service never issues
// them. Keys are fetched from a JWKS endpoint and cached, or a shared HMAC
// secret is used when configured.
type Authenticator struct {
	cfg     *config.AuthConfig
	jwksURL string
	cache   *jwk.Cache
	secret  []byte
}

func NewAuthenticator(ctx context.Context, cfg *config.AuthConfig) (*Authenticator, error) {
	a := &Authenticator{cfg: cfg}
	if !cfg.Enabled {
		return a, nil
	}

	switch {
	case cfg.JWKSURL != "":
		cache := jwk.NewCache(ctx)
		if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
			return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
		}
		if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
		}
		a.jwksURL = cfg.JWKSURL
		a.cache = cache
	case cfg.Secret != "":
		a.secret = []byte(cfg.Secret)
	default:
		return nil, fmt.Errorf("auth enabled but neither jwks_url nor secret is configured")
	}
	return a, nil
}

// Validate parses and verifies a bearer token, returning the principal it
// carries.
func (a *Authenticator) Validate(ctx context.Context, tokenString string) (protocol.Principal, error) {
	opts := []jwt.ParseOption{jwt.WithValidate(true)}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	if a.cache != nil {
		keyset, err := a.cache.Get(ctx, a.jwksURL)
		if err != nil {
			return protocol.Principal{}, fmt.Errorf("failed to get JWKS: %w", err)
		}
		opts = append(opts, jwt.WithKeySet(keyset))
	} else {
		opts = append(opts, jwt.WithKey(jwa.HS256, a.secret))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return protocol.Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	principal := protocol.Principal{ID: token.Subject()}
	if raw, ok := token.Get("roles"); ok {
		switch v := raw.(type) {
		case []any:
			for _, r := range v {
				if s, ok := r.(string); ok {
					principal.Roles = append(principal.Roles, s)
				}
			}
		case string:
			principal.Roles = strings.Fields(v)
		}
	}
	if raw, ok := token.Get("role"); ok {
		if s, ok := raw.(string); ok && s != "" {
			principal.Roles = append(principal.Roles, s)
		}
	}

	if principal.ID == "" {
		return protocol.Principal{}, fmt.Errorf("token has no subject")
	}
	return principal, nil
}

// Middleware extracts and validates the bearer token, storing the resolved
// principal in the request context. With auth disabled, the principal is
// taken from plain headers so local setups still get per-user sessions.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled {
			principal := protocol.Principal{ID: r.Header.Get("X-Principal-ID")}
			if principal.ID == "" {
				principal.ID = "anonymous"
			}
			if roles := r.Header.Get("X-Principal-Roles"); roles != "" {
				principal.Roles = strings.Split(roles, ",")
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, `{"error":"Missing Authorization header"}`, http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, `{"error":"Invalid Authorization format, expected: Bearer <token>"}`, http.StatusUnauthorized)
			return
		}

		principal, err := a.Validate(r.Context(), tokenString)
		if err != nil {
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

func withPrincipal(ctx context.Context, p protocol.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFrom returns the authenticated principal stored in the request
// context by the auth middleware.
func PrincipalFrom(ctx context.Context) (protocol.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(protocol.Principal)
	return p, ok
}
