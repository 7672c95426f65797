// Package auth decides which user, if any, a request belongs to.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/obsgate/backend/internal/config"
)

// TokenHeader is checked after the token query parameter and before the
// Authorization header.
const TokenHeader = "X-Obsgate-Token"

var ErrNoSigningKey = errors.New("no jwt secret configured")

// Principal is an authenticated user.
type Principal struct {
	Name string
	// Method is "token" or "jwt".
	Method string
}

// Claims are the JWT claims the gateway issues and accepts.
type Claims struct {
	jwt.RegisteredClaims
}

type Authenticator struct {
	tokens map[string]string
	secret []byte
	issuer string
	now    func() time.Time
}

func New(cfg config.AuthConfig) *Authenticator {
	tokens := make(map[string]string, len(cfg.Tokens))
	for token, user := range cfg.Tokens {
		if token != "" && user != "" {
			tokens[token] = user
		}
	}
	a := &Authenticator{tokens: tokens, issuer: cfg.JWTIssuer, now: time.Now}
	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
	}
	return a
}

// Enabled reports whether any credential can ever be accepted.
func (a *Authenticator) Enabled() bool {
	return len(a.tokens) > 0 || len(a.secret) > 0
}

// Principal returns the user r is authenticated as. A request with no
// valid credential is a guest and gets false.
func (a *Authenticator) Principal(r *http.Request) (*Principal, bool) {
	token := credential(r)
	if token == "" {
		return nil, false
	}
	for known, user := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return &Principal{Name: user, Method: "token"}, true
		}
	}
	if len(a.secret) == 0 {
		return nil, false
	}
	claims, err := a.verify(token)
	if err != nil {
		return nil, false
	}
	return &Principal{Name: claims.Subject, Method: "jwt"}, true
}

func credential(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if t := r.Header.Get(TokenHeader); t != "" {
		return t
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

func (a *Authenticator) verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// IssueToken signs a token for user valid for ttl.
func (a *Authenticator) IssueToken(user string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSigningKey
	}
	now := a.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   user,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

type principalKey struct{}

// Require rejects guests with 401 and stores the principal in the request
// context for next.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.Principal(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
