package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsgate/backend/internal/config"
)

func TestPrincipal_StaticTokens(t *testing.T) {
	a := New(config.AuthConfig{Tokens: map[string]string{"t-alice": "alice", "": "nobody"}})
	require.True(t, a.Enabled())

	tests := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{name: "query", target: "/ws?token=t-alice", want: "alice"},
		{name: "custom header", target: "/ws", header: map[string]string{TokenHeader: "t-alice"}, want: "alice"},
		{name: "bearer", target: "/ws", header: map[string]string{"Authorization": "Bearer t-alice"}, want: "alice"},
		{name: "bearer lowercase", target: "/ws", header: map[string]string{"Authorization": "bearer t-alice"}, want: "alice"},
		{name: "wrong token", target: "/ws?token=t-bob"},
		{name: "basic auth", target: "/ws", header: map[string]string{"Authorization": "Basic dDphbGljZQ=="}},
		{name: "guest", target: "/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			p, ok := a.Principal(r)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, p.Name)
			assert.Equal(t, "token", p.Method)
		})
	}
}

func TestPrincipal_NothingConfigured(t *testing.T) {
	a := New(config.AuthConfig{})
	assert.False(t, a.Enabled())

	_, ok := a.Principal(httptest.NewRequest(http.MethodGet, "/ws?token=anything", nil))
	assert.False(t, ok)

	_, err := a.IssueToken("alice", time.Minute)
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

func TestPrincipal_JWT(t *testing.T) {
	a := New(config.AuthConfig{JWTSecret: "s3cret", JWTIssuer: "obsgate"})

	token, err := a.IssueToken("bob", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	p, ok := a.Principal(r)
	require.True(t, ok)
	assert.Equal(t, &Principal{Name: "bob", Method: "jwt"}, p)

	t.Run("expired", func(t *testing.T) {
		a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { a.now = time.Now }()
		_, ok := a.Principal(r)
		assert.False(t, ok)
	})

	t.Run("other secret", func(t *testing.T) {
		other := New(config.AuthConfig{JWTSecret: "different", JWTIssuer: "obsgate"})
		_, ok := other.Principal(r)
		assert.False(t, ok)
	})

	t.Run("other issuer", func(t *testing.T) {
		other := New(config.AuthConfig{JWTSecret: "s3cret", JWTIssuer: "elsewhere"})
		_, ok := other.Principal(r)
		assert.False(t, ok)
	})

	t.Run("unsigned", func(t *testing.T) {
		none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   "mallory",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, ok := a.Principal(httptest.NewRequest(http.MethodGet, "/ws?token="+none, nil))
		assert.False(t, ok)
	})
}

func TestRequire(t *testing.T) {
	a := New(config.AuthConfig{Tokens: map[string]string{"t1": "alice"}})
	var seen *Principal
	h := a.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/event-types", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/event-types?token=t1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.Name)
}
