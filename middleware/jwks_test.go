package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docgraph/pkg/apperr"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://tenant.example.com/"
	testAudience = "docs-api"
)

type jwksServer struct {
	*httptest.Server
	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetches atomic.Int32
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: map[string]*rsa.PublicKey{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.fetches.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		keys := make([]map[string]string, 0, len(s.keys))
		for kid, pub := range s.keys {
			keys = append(keys, toJWK(kid, pub))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) publish(kid string, pub *rsa.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[kid] = pub
}

func toJWK(kid string, pub *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func validClaims(email string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "auth0|123",
		"iss":   testIssuer,
		"aud":   testAudience,
		"email": email,
		"exp":   time.Now().Add(time.Minute).Unix(),
		"iat":   time.Now().Unix(),
	}
}

func newTestVerifier(t *testing.T, url string, perMinute int) *Verifier {
	t.Helper()
	v, err := NewVerifier(t.Context(), VerifierConfig{
		JWKSURL:           url,
		Issuer:            testIssuer,
		Audience:          testAudience,
		RequestsPerMinute: perMinute,
	})
	require.NoError(t, err)
	return v
}

func TestNewVerifierRequiresURLAndAudience(t *testing.T) {
	_, err := NewVerifier(t.Context(), VerifierConfig{Audience: testAudience})
	assert.Error(t, err)
	_, err = NewVerifier(t.Context(), VerifierConfig{JWKSURL: "https://example.com/jwks.json"})
	assert.Error(t, err)
}

func TestVerifyEmail(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.publish("kid-1", &key.PublicKey)
	v := newTestVerifier(t, srv.URL, 0)

	email, err := v.VerifyEmail(signToken(t, key, "kid-1", validClaims("a@x.com")))
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", email)

	// Second verification uses the cached key set.
	_, err = v.VerifyEmail(signToken(t, key, "kid-1", validClaims("a@x.com")))
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.fetches.Load())
}

func TestVerifyEmailRejectsBadTokens(t *testing.T) {
	key := generateKey(t)
	stranger := generateKey(t)
	srv := newJWKSServer(t)
	srv.publish("kid-1", &key.PublicKey)
	v := newTestVerifier(t, srv.URL, 0)

	cases := map[string]string{
		"wrong audience": signToken(t, key, "kid-1", func() jwt.MapClaims {
			c := validClaims("a@x.com")
			c["aud"] = "other-api"
			return c
		}()),
		"wrong issuer": signToken(t, key, "kid-1", func() jwt.MapClaims {
			c := validClaims("a@x.com")
			c["iss"] = "https://evil.example.com/"
			return c
		}()),
		"expired": signToken(t, key, "kid-1", func() jwt.MapClaims {
			c := validClaims("a@x.com")
			c["exp"] = time.Now().Add(-time.Hour).Unix()
			return c
		}()),
		"missing email": signToken(t, key, "kid-1", func() jwt.MapClaims {
			c := validClaims("")
			delete(c, "email")
			return c
		}()),
		"signature mismatch": signToken(t, stranger, "kid-1", validClaims("a@x.com")),
		"garbage":            "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.VerifyEmail(token)
			assert.True(t, apperr.IsUnauthorized(err), "got %v", err)
		})
	}
}

func TestVerifyEmailRejectsHMAC(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.publish("kid-1", &key.PublicKey)
	v := newTestVerifier(t, srv.URL, 0)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("a@x.com"))
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = v.VerifyEmail(signed)
	assert.Error(t, err)
}

func TestVerifyEmailRefreshesOnKeyRotation(t *testing.T) {
	key1 := generateKey(t)
	key2 := generateKey(t)
	srv := newJWKSServer(t)
	srv.publish("kid-1", &key1.PublicKey)
	v := newTestVerifier(t, srv.URL, 0)

	_, err := v.VerifyEmail(signToken(t, key1, "kid-1", validClaims("a@x.com")))
	require.NoError(t, err)

	srv.publish("kid-2", &key2.PublicKey)
	email, err := v.VerifyEmail(signToken(t, key2, "kid-2", validClaims("b@x.com")))
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", email)
	assert.Equal(t, int32(2), srv.fetches.Load())
}

func TestUnknownKeyRefreshIsThrottled(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.publish("kid-1", &key.PublicKey)
	v := newTestVerifier(t, srv.URL, 1)

	_, err := v.VerifyEmail(signToken(t, key, "kid-1", validClaims("a@x.com")))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := v.VerifyEmail(signToken(t, key, "kid-unknown", validClaims("a@x.com")))
		assert.Error(t, err)
	}
	assert.Equal(t, int32(1), srv.fetches.Load())
}

func TestSingleKeyWithoutKid(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.publish("only", &key.PublicKey)
	v := newTestVerifier(t, srv.URL, 0)

	email, err := v.VerifyEmail(signToken(t, key, "", validClaims("a@x.com")))
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", email)
}

func TestUnreachableKeySetIsNotARejection(t *testing.T) {
	key := generateKey(t)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	v := newTestVerifier(t, srv.URL, 0)

	_, err := v.VerifyEmail(signToken(t, key, "kid-1", validClaims("a@x.com")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeysUnavailable)
	assert.False(t, apperr.IsUnauthorized(err))
	assert.GreaterOrEqual(t, fetches.Load(), int32(1))
}
