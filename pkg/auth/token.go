package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/apexlabs-backend/pkg/config"
)

// clockSkew tolerated between the api replicas that mint and verify tokens.
const clockSkew = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid admin token")
	errNoSecret     = errors.New("jwt secret is required")
)

// MintAdminToken issues a signed admin JWT valid for the configured TTL. An
// empty jti is replaced with a random one.
func MintAdminToken(cfg config.JWTConfig, now time.Time, jti string) (string, time.Time, error) {
	switch {
	case cfg.Secret == "":
		return "", time.Time{}, errNoSecret
	case cfg.Issuer == "":
		return "", time.Time{}, errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return "", time.Time{}, errors.New("jwt expiration minutes must be positive")
	}

	if jti = strings.TrimSpace(jti); jti == "" {
		jti = uuid.NewString()
	}
	expiresAt := now.Add(cfg.TTL())

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    cfg.Issuer,
			Subject:   RoleAdmin,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing jwt: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAdminToken verifies signature, issuer and expiry and returns the
// claims. Every rejection wraps ErrInvalidToken.
func ParseAdminToken(cfg config.JWTConfig, raw string) (*AdminClaims, error) {
	if cfg.Secret == "" {
		return nil, errNoSecret
	}

	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	case claims.Role != RoleAdmin:
		return nil, fmt.Errorf("%w: unexpected role %q", ErrInvalidToken, claims.Role)
	case strings.TrimSpace(claims.ID) == "":
		return nil, fmt.Errorf("%w: missing token id", ErrInvalidToken)
	}
	return claims, nil
}
