// Package auth validates bearer tokens presented on the WebSocket handshake.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/domain"
)

// Claims is the token payload issued by the ticketing backend.
type Claims struct {
	OrganizationID string   `json:"org_id"`
	Roles          []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// JWTValidator verifies HS256 tokens and turns their claims into a Principal.
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
}

var _ domain.TokenValidator = (*JWTValidator)(nil)

func NewJWTValidator(cfg JWTConfig, clock clockwork.Clock) *JWTValidator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTValidator{secret: cfg.Secret, parser: jwt.NewParser(opts...)}
}

func (v *JWTValidator) Validate(_ context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, fmt.Errorf("%w: empty token", domain.ErrInvalidToken)
	}

	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing sub claim", domain.ErrInvalidToken)
	}
	if claims.OrganizationID == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing org_id claim", domain.ErrInvalidToken)
	}

	return domain.Principal{
		UserID:         claims.Subject,
		OrganizationID: claims.OrganizationID,
		Roles:          claims.Roles,
	}, nil
}

// IsExpired reports whether err came from an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

// Sign issues a token for claims. Used by tests and local tooling.
func Sign(secret []byte, claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
