// Package auth holds the credential primitives behind sign-in: signed
// session tokens, bcrypt password hashes, GitHub OAuth, and the cookie that
// carries the token between browser and server.
//
// TOKENS:
// A session token is an HS256 JWT. Besides the subject (the profile id) and
// expiry it carries a "jti", a random token id. The id is what sign-out
// revokes: the session package keeps revoked ids until the token would have
// expired anyway, so a signed-out token stops working immediately even though
// its signature is still valid.
//
//	HEADER.PAYLOAD.SIGNATURE
//	payload: {"sub":"<profileID>","jti":"<uuid>","iss":"ronin","exp":...}
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "ronin"

// DefaultTokenTTL applies when NewTokenService is given a zero TTL.
const DefaultTokenTTL = 24 * time.Hour

// ErrTokenExpired is returned by Validate for a well-formed but expired token.
var ErrTokenExpired = errors.New("auth: token expired")

// Token is a freshly signed session token.
type Token struct {
	Value     string
	ID        string
	UserID    string
	ExpiresAt time.Time
}

// Claims is what Validate extracts from a token.
type Claims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// TokenService signs and verifies session tokens with one HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService rejects secrets shorter than 16 characters.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of tokens this service issues.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate signs a new token for userID with the configured lifetime.
func (s *TokenService) Generate(userID string) (*Token, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration signs a token that expires after d. A negative d
// yields an already-expired token, which tests use.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (*Token, error) {
	if userID == "" {
		return nil, errors.New("auth: cannot issue a token without a subject")
	}
	now := s.now()
	id := uuid.NewString()
	expires := now.Add(d)

	c := jwt.RegisteredClaims{
		ID:        id,
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: signing token: %w", err)
	}

	return &Token{
		Value:     signed,
		ID:        id,
		UserID:    userID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Validate verifies signature, issuer, algorithm and expiry. It knows
// nothing about revocation.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}
	if c.ID == "" {
		return nil, errors.New("auth: token has no id")
	}

	return &Claims{
		UserID:    c.Subject,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
