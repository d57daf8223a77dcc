package security

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
)

// JWTVerifier validates access tokens minted by the authentication service.
// Production uses the RS256 public key; local runs may use an HS256 secret.
type JWTVerifier struct {
	method   jwt.SigningMethod
	key      any
	issuer   string
	audience string
	leeway   time.Duration
}

type VerifierConfig struct {
	PublicKeyPEM string
	HMACSecret   string
	Issuer       string
	Audience     string
}

func NewJWTVerifier(cfg VerifierConfig) (*JWTVerifier, error) {
	v := &JWTVerifier{issuer: cfg.Issuer, audience: cfg.Audience, leeway: 30 * time.Second}
	switch {
	case strings.TrimSpace(cfg.PublicKeyPEM) != "":
		pub, err := parseRSAPublic(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		v.method, v.key = jwt.SigningMethodRS256, pub
	case cfg.HMACSecret != "":
		v.method, v.key = jwt.SigningMethodHS256, []byte(cfg.HMACSecret)
	default:
		return nil, errors.New("jwt verifier requires a public key or an hmac secret")
	}
	return v, nil
}

type accessClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (v *JWTVerifier) Verify(_ context.Context, rawToken string) (ports.VerifiedIdentity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.ParseWithClaims(rawToken, &accessClaims{}, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return ports.VerifiedIdentity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return ports.VerifiedIdentity{}, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthenticated)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		subject = strings.TrimSpace(claims.UserID)
	}
	if subject == "" {
		return ports.VerifiedIdentity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}
	out := ports.VerifiedIdentity{SubjectID: subject, Role: claims.Role}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}

var _ ports.TokenVerifier = (*JWTVerifier)(nil)
