/*
auth.go - Actor resolution for mutating requests

PURPOSE:
  Every mutation is attributed to an actor. The actor comes from a bearer
  JWT ("sub", falling back to "user_id") signed with the configured HS256
  secret. Without a secret (local development) the X-Actor-ID header is
  trusted instead.

  Read routes accept anonymous requests; mutating routes answer 401 when
  no actor could be resolved.

SEE ALSO:
  - config/config.go: AuthConfig
  - server.go: Where the middleware is mounted
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/recargo-engine/generic"
)

type contextKey string

const actorContextKey contextKey = "actor"

// ActorHeader carries the actor when no JWT secret is configured.
const ActorHeader = "X-Actor-ID"

// Claims are the token claims read by the API.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor prefers the subject over user_id.
func (c *Claims) Actor() generic.Actor {
	if c.Subject != "" {
		return generic.Actor(c.Subject)
	}
	return generic.Actor(c.UserID)
}

// Authenticator validates tokens and resolves actors.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns an Authenticator. An empty secret switches to
// header-based actors.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// TokensEnabled reports whether bearer tokens are required.
func (a *Authenticator) TokensEnabled() bool { return len(a.secret) > 0 }

// IssueToken signs a token for actor.
func (a *Authenticator) IssueToken(actor string, ttl time.Duration) (string, error) {
	if !a.TokensEnabled() {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses and verifies a token.
func (a *Authenticator) Validate(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Actor() == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// ResolveActor puts the request's actor, if any, on the context. A
// presented but invalid token is rejected with 401.
func (a *Authenticator) ResolveActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var actor generic.Actor
		if a.TokensEnabled() {
			if token := bearerToken(r); token != "" {
				claims, err := a.Validate(token)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "Invalid token", err)
					return
				}
				actor = claims.Actor()
			}
		} else {
			actor = generic.Actor(strings.TrimSpace(r.Header.Get(ActorHeader)))
		}
		if actor != "" {
			r = r.WithContext(context.WithValue(r.Context(), actorContextKey, actor))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireActor answers 401 when ResolveActor found nobody.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ActorFrom(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "Actor required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ActorFrom returns the resolved actor, or "".
func ActorFrom(ctx context.Context) generic.Actor {
	actor, _ := ctx.Value(actorContextKey).(generic.Actor)
	return actor
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
