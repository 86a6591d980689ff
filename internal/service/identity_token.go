package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	appErrors "github.com/noah-isme/pet-licence-api/pkg/errors"
)

const identityAudience = "pet-licence-intake"

// IdentityClaims asserts that the bearer proved control of Email through a one-time code.
type IdentityClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// IdentityTokenConfig configures token signing.
type IdentityTokenConfig struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

// IdentityTokenIssuer signs and checks verified-identity tokens.
type IdentityTokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewIdentityTokenIssuer constructs an issuer. A nil clock falls back to wall time.
func NewIdentityTokenIssuer(cfg IdentityTokenConfig, clock func() time.Time) (*IdentityTokenIssuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("identity token secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &IdentityTokenIssuer{secret: []byte(cfg.Secret), ttl: cfg.TTL, issuer: cfg.Issuer, now: clock}, nil
}

// TTL returns the token lifetime.
func (i *IdentityTokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for email.
func (i *IdentityTokenIssuer) Issue(email string) (string, time.Time, error) {
	issuedAt := i.now().UTC()
	expiresAt := issuedAt.Add(i.ttl)
	claims := &IdentityClaims{
		Email: NormalizeEmail(email),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   NormalizeEmail(email),
			Audience:  jwt.ClaimStrings{identityAudience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, appErrors.Internal(err, "failed to sign identity token")
	}
	return signed, expiresAt, nil
}

// Validate parses token and returns its claims.
func (i *IdentityTokenIssuer) Validate(token string) (*IdentityClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(identityAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &IdentityClaims{}, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid identity token")
	}

	claims, ok := parsed.Claims.(*IdentityClaims)
	if !ok || !parsed.Valid || claims.Email == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid identity token claims")
	}
	return claims, nil
}
