package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/copydesk/internal/config"
	"github.com/pitabwire/copydesk/model"
)

// --- test helpers ---

func rsaJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "RSA",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func ecJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "EC",
		"crv": "P-256",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
	}
}

func startJWKSServer(t *testing.T, hits *atomic.Int32, keys ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signJWT(t *testing.T, key any, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func testIdentityCfg() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://login.example.com",
		Audience:   "copydesk",
		Algorithms: []string{"RS256", "ES256"},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"email": "editor@example.com",
		"iss":   "https://login.example.com",
		"aud":   "copydesk",
		"exp":   jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
}

// --- JWKSClient ---

func TestJWKSClient_GetKey(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	var hits atomic.Int32
	srv := startJWKSServer(t, &hits,
		rsaJWK("rsa-1", &rsaKey.PublicKey),
		ecJWK("ec-1", &ecKey.PublicKey),
		map[string]any{"kid": "oct-1", "kty": "oct", "k": "c2VjcmV0"},
	)
	client := NewJWKSClient(srv.URL, time.Hour, nil)
	ctx := context.Background()

	got, err := client.GetKey(ctx, "rsa-1")
	require.NoError(t, err)
	pub, ok := got.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 0, pub.N.Cmp(rsaKey.PublicKey.N))

	got, err = client.GetKey(ctx, "ec-1")
	require.NoError(t, err)
	assert.IsType(t, &ecdsa.PublicKey{}, got)

	_, err = client.GetKey(ctx, "oct-1")
	assert.Error(t, err, "symmetric keys are not served")

	_, err = client.GetKey(ctx, "missing")
	assert.Error(t, err)

	// Unknown kids do not refetch within the minimum refresh interval.
	assert.Equal(t, int32(1), hits.Load())
}

func TestJWKSClient_servesCachedKeyWhenRefreshFails(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"keys": []any{rsaJWK("rsa-1", &rsaKey.PublicKey)}})
	}))
	defer srv.Close()

	client := NewJWKSClient(srv.URL, time.Millisecond, nil)
	client.minRefresh = 0
	_, err = client.GetKey(context.Background(), "rsa-1")
	require.NoError(t, err)

	fail.Store(true)
	time.Sleep(5 * time.Millisecond)
	_, err = client.GetKey(context.Background(), "rsa-1")
	assert.NoError(t, err)
}

// --- JWTAuthenticator ---

func TestJWTAuthenticator(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := startJWKSServer(t, nil, rsaJWK("rsa-1", &rsaKey.PublicKey), ecJWK("ec-1", &ecKey.PublicKey))
	jwks := NewJWKSClient(srv.URL, time.Hour, nil)

	with := func(mutate func(jwt.MapClaims)) jwt.MapClaims {
		c := validClaims()
		mutate(c)
		return c
	}

	tests := []struct {
		name        string
		header      string
		wantStatus  int
		wantMessage string
	}{
		{"valid RS256", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa-1", validClaims()), http.StatusOK, ""},
		{"valid ES256", "Bearer " + signJWT(t, ecKey, jwt.SigningMethodES256, "ec-1", validClaims()), http.StatusOK, ""},
		{"missing header", "", http.StatusUnauthorized, "Missing authorization header"},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "Invalid authorization header format"},
		{"expired", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa-1", with(func(c jwt.MapClaims) {
			c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		})), http.StatusUnauthorized, "Token expired"},
		{"wrong issuer", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa-1", with(func(c jwt.MapClaims) {
			c["iss"] = "https://evil.example.com"
		})), http.StatusUnauthorized, "Invalid token issuer"},
		{"wrong audience", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa-1", with(func(c jwt.MapClaims) {
			c["aud"] = "someone-else"
		})), http.StatusUnauthorized, "Invalid token audience"},
		{"missing exp", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa-1", with(func(c jwt.MapClaims) {
			delete(c, "exp")
		})), http.StatusUnauthorized, "Token is missing a required claim"},
		{"disallowed algorithm", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS512, "rsa-1", validClaims()),
			http.StatusUnauthorized, "Disallowed signing algorithm"},
		{"unknown kid", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "nope", validClaims()),
			http.StatusUnauthorized, "Unknown signing key"},
		{"forged signature", "Bearer " + signJWT(t, otherKey, jwt.SigningMethodRS256, "rsa-1", validClaims()),
			http.StatusUnauthorized, "Invalid token signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotClaims map[string]any
			handler := JWTAuthenticator(testIdentityCfg(), jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotClaims = ClaimsFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/workflows/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "editor@example.com", gotClaims["email"])
				return
			}
			var body struct {
				Error model.ErrorEnvelope `json:"error"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, model.ErrUnauthorized, body.Error.Code)
			assert.Equal(t, tt.wantMessage, body.Error.Message)
		})
	}
}
