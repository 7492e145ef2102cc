// Package jwtissuer signs and verifies HS256 access tokens for the local auth API.
package jwtissuer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

var _ ports.TokenIssuer = (*Issuer)(nil)

// MinSecretLen is the shortest HMAC secret accepted.
const MinSecretLen = 32

const defaultTTL = 8 * time.Hour

// Claims is the access token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email     string          `json:"email"`
	Role      domainauth.Role `json:"role"`
	SessionID string          `json:"sid"`
}

// Options configures an Issuer.
type Options struct {
	Secret string
	Issuer string
	TTL    time.Duration
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Issuer implements ports.TokenIssuer.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// New validates opts and returns an Issuer.
func New(opts Options) (*Issuer, error) {
	if len(opts.Secret) < MinSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLen)
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Issuer{
		secret: []byte(opts.Secret),
		issuer: opts.Issuer,
		ttl:    opts.TTL,
		now:    opts.Now,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for user bound to sessionID.
func (i *Issuer) Issue(user domainauth.User, sessionID string) (ports.IssuedToken, error) {
	if user.ID == "" {
		return ports.IssuedToken{}, errors.New("cannot issue token without user id")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Email:     user.Email,
		Role:      user.Role,
		SessionID: sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return ports.IssuedToken{}, fmt.Errorf("signing access token: %w", err)
	}

	return ports.IssuedToken{
		Token:     signed,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Parse verifies signature, algorithm, issuer and expiry.
// Every failure is reported as an Unauthorized AppError.
func (i *Issuer) Parse(token string) (ports.TokenClaims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(i.issuer))
	}

	var claims Claims
	tkn, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, parserOpts...)
	if err != nil {
		return ports.TokenClaims{}, apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, tokenFailure(err))
	}
	if !tkn.Valid {
		return ports.TokenClaims{}, apperrors.Unauthorized("token is invalid")
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return ports.TokenClaims{}, apperrors.Unauthorized("token is missing required claims")
	}
	if !claims.Role.Valid() {
		return ports.TokenClaims{}, apperrors.Unauthorized("token carries an unknown role")
	}

	return ports.TokenClaims{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func tokenFailure(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature is invalid"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token is malformed"
	default:
		return "token is invalid"
	}
}
