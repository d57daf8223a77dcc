package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
)

func hsToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestHMACVerifierAcceptsValidToken(t *testing.T) {
	t.Parallel()
	v, err := NewJWTVerifier(VerifierConfig{HMACSecret: "local-secret"})
	require.NoError(t, err)
	token := hsToken(t, "local-secret", jwt.MapClaims{"sub": "client_1", "role": "client", "exp": time.Now().Add(time.Hour).Unix()})

	identity, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "client_1", identity.SubjectID)
	assert.Equal(t, "client", identity.Role)
	assert.False(t, identity.ExpiresAt.IsZero())
}

func TestVerifierFallsBackToUserIDClaim(t *testing.T) {
	t.Parallel()
	v, err := NewJWTVerifier(VerifierConfig{HMACSecret: "local-secret"})
	require.NoError(t, err)
	token := hsToken(t, "local-secret", jwt.MapClaims{"user_id": "expert_1", "role": "expert", "exp": time.Now().Add(time.Hour).Unix()})

	identity, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "expert_1", identity.SubjectID)
}

func TestVerifierRejectsBadTokens(t *testing.T) {
	t.Parallel()
	v, err := NewJWTVerifier(VerifierConfig{HMACSecret: "local-secret", Issuer: "auth-service"})
	require.NoError(t, err)
	future := time.Now().Add(time.Hour).Unix()

	cases := map[string]string{
		"wrong secret": hsToken(t, "other", jwt.MapClaims{"sub": "c", "iss": "auth-service", "exp": future}),
		"expired":      hsToken(t, "local-secret", jwt.MapClaims{"sub": "c", "iss": "auth-service", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no expiry":    hsToken(t, "local-secret", jwt.MapClaims{"sub": "c", "iss": "auth-service"}),
		"wrong issuer": hsToken(t, "local-secret", jwt.MapClaims{"sub": "c", "iss": "someone", "exp": future}),
		"no subject":   hsToken(t, "local-secret", jwt.MapClaims{"iss": "auth-service", "exp": future}),
		"garbage":      "not-a-jwt",
	}
	for name, token := range cases {
		_, err := v.Verify(context.Background(), token)
		require.ErrorIs(t, err, domain.ErrUnauthenticated, name)
	}
}

func TestRSAVerifier(t *testing.T) {
	t.Parallel()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	v, err := NewJWTVerifier(VerifierConfig{PublicKeyPEM: pubPEM})
	require.NoError(t, err)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "client_1", "role": "client", "exp": time.Now().Add(time.Hour).Unix()}).SignedString(key)
	require.NoError(t, err)

	identity, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "client_1", identity.SubjectID)

	// an HS256 token must not be accepted by an RS256 verifier
	_, err = v.Verify(context.Background(), hsToken(t, pubPEM, jwt.MapClaims{"sub": "client_1", "exp": time.Now().Add(time.Hour).Unix()}))
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestNewJWTVerifierRequiresKeyMaterial(t *testing.T) {
	t.Parallel()
	_, err := NewJWTVerifier(VerifierConfig{})
	require.Error(t, err)
	_, err = NewJWTVerifier(VerifierConfig{PublicKeyPEM: "not pem"})
	require.Error(t, err)
}
