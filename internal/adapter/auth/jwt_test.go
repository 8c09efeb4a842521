package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestValidator(clock clockwork.Clock) *JWTValidator {
	return NewJWTValidator(JWTConfig{Secret: testSecret, Issuer: "helpdesk", Audience: "deskpulse"}, clock)
}

func validClaims(now time.Time) Claims {
	return Claims{
		OrganizationID: "org-a",
		Roles:          []string{"agent"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "helpdesk",
			Audience:  jwt.ClaimStrings{"deskpulse"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func sign(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	token, err := Sign(secret, claims)
	require.NoError(t, err)
	return token
}

func TestValidate_Success(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := newTestValidator(clock)

	p, err := v.Validate(context.Background(), sign(t, testSecret, validClaims(clock.Now())))

	require.NoError(t, err)
	assert.Equal(t, domain.Principal{UserID: "user-1", OrganizationID: "org-a", Roles: []string{"agent"}}, p)
}

func TestValidate_Expired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := newTestValidator(clock)
	token := sign(t, testSecret, validClaims(clock.Now()))

	clock.Advance(2 * time.Hour)
	_, err := v.Validate(context.Background(), token)

	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.True(t, IsExpired(err))
}

func TestValidate_Rejections(t *testing.T) {
	clock := clockwork.NewFakeClock()
	now := clock.Now()

	tests := []struct {
		name  string
		token func() string
	}{
		{"empty", func() string { return "" }},
		{"garbage", func() string { return "not.a.token" }},
		{"wrong secret", func() string {
			return sign(t, []byte("another-secret-another-secret-xx"), validClaims(now))
		}},
		{"wrong issuer", func() string {
			c := validClaims(now)
			c.Issuer = "someone-else"
			return sign(t, testSecret, c)
		}},
		{"wrong audience", func() string {
			c := validClaims(now)
			c.Audience = jwt.ClaimStrings{"billing"}
			return sign(t, testSecret, c)
		}},
		{"missing expiry", func() string {
			c := validClaims(now)
			c.ExpiresAt = nil
			return sign(t, testSecret, c)
		}},
		{"missing subject", func() string {
			c := validClaims(now)
			c.Subject = ""
			return sign(t, testSecret, c)
		}},
		{"missing organization", func() string {
			c := validClaims(now)
			c.OrganizationID = ""
			return sign(t, testSecret, c)
		}},
		{"none algorithm", func() string {
			token, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims(now)).
				SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)
			return token
		}},
	}

	v := newTestValidator(clock)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.token())
			assert.ErrorIs(t, err, domain.ErrInvalidToken)
		})
	}
}

func TestValidate_OptionalIssuerAndAudience(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewJWTValidator(JWTConfig{Secret: testSecret}, clock)

	c := validClaims(clock.Now())
	c.Issuer = ""
	c.Audience = nil
	_, err := v.Validate(context.Background(), sign(t, testSecret, c))

	assert.NoError(t, err)
}
