package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of a session token
const DefaultTokenTTL = 5 * 24 * time.Hour

// Claims are the JWT claims of a session token. UserID duplicates the
// subject for clients that read the payload directly.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 session tokens
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token issuer. A zero ttl means DefaultTokenTTL.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the token lifetime
func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for userID that expires after the configured lifetime
func (t *Tokens) Issue(userID string) (string, time.Time, error) {
	issuedAt := t.now()
	expiresAt := issuedAt.Add(t.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate verifies signature, algorithm and expiry and returns the user id
func (t *Tokens) Validate(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}
