package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

var operator = common.HexToAddress("0x00000000000000000000000000000000000000c1")

type tokenOpts struct {
	method  jwt.SigningMethod
	issuer  string
	subject string
	scopes  map[string]bool
	ttl     time.Duration
}

func validOpts(scopes map[string]bool) tokenOpts {
	return tokenOpts{jwt.SigningMethodRS256, Issuer, operator.Hex(), scopes, time.Hour}
}

func sign(t *testing.T, key *rsa.PrivateKey, ts tokenOpts) string {
	t.Helper()
	claims := domain.CustomClaims{
		Scopes: ts.scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  ts.issuer,
			Subject: ts.subject,
		},
	}
	if ts.ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ts.ttl))
	}
	var signKey interface{} = key
	if ts.method == jwt.SigningMethodHS256 {
		signKey = []byte("shared-secret")
	}
	s, err := jwt.NewWithClaims(ts.method, claims).SignedString(signKey)
	require.NoError(t, err)
	return s
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestVerifyToken(t *testing.T) {
	key := newKey(t)
	v := NewOperatorValidator(&key.PublicKey)

	admin := map[string]bool{"vault.admin": true}
	p, err := v.VerifyToken("Bearer " + sign(t, key, validOpts(admin)))
	require.NoError(t, err)
	assert.Equal(t, operator, p.Caller)
	assert.Equal(t, admin, p.Scopes)
}

func TestVerifyToken_Rejects(t *testing.T) {
	key := newKey(t)
	v := NewOperatorValidator(&key.PublicKey)

	tests := []struct {
		name   string
		header func() string
	}{
		{"no bearer scheme", func() string { return sign(t, key, validOpts(nil)) }},
		{"expired", func() string {
			ts := validOpts(nil)
			ts.ttl = -time.Hour
			return "Bearer " + sign(t, key, ts)
		}},
		{"no expiry", func() string {
			ts := validOpts(nil)
			ts.ttl = 0
			return "Bearer " + sign(t, key, ts)
		}},
		{"hmac algorithm", func() string {
			ts := validOpts(nil)
			ts.method = jwt.SigningMethodHS256
			return "Bearer " + sign(t, key, ts)
		}},
		{"foreign key", func() string { return "Bearer " + sign(t, newKey(t), validOpts(nil)) }},
		{"foreign issuer", func() string {
			ts := validOpts(nil)
			ts.issuer = "someone-else"
			return "Bearer " + sign(t, key, ts)
		}},
		{"subject is a username", func() string {
			ts := validOpts(nil)
			ts.subject = "alice"
			return "Bearer " + sign(t, key, ts)
		}},
		{"zero address subject", func() string {
			ts := validOpts(nil)
			ts.subject = common.Address{}.Hex()
			return "Bearer " + sign(t, key, ts)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := v.VerifyToken(tt.header())
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, p)
		})
	}
}

func TestParseKeys(t *testing.T) {
	_, err := ParseRSAPublicKey(nil)
	assert.ErrorContains(t, err, "public key data is empty")
	_, err = ParseRSAPrivateKey([]byte("not a pem"))
	assert.ErrorContains(t, err, "failed to parse private key")
}

func TestMiddleware(t *testing.T) {
	key := newKey(t)
	mw := NewMiddleware(NewOperatorValidator(&key.PublicKey), zap.NewNop())

	var got common.Address
	h := mw(RequireScope("vault.admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = CallerFrom(r.Context())
	})))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	byName := validOpts(nil)
	byName.subject = "alice"
	assert.Equal(t, http.StatusUnauthorized, call(sign(t, key, byName)))
	assert.Equal(t, http.StatusForbidden, call(sign(t, key, validOpts(nil))))

	assert.Equal(t, http.StatusOK, call(sign(t, key, validOpts(map[string]bool{"vault.admin": true}))))
	assert.Equal(t, operator, got)
}
