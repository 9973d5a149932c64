package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTTL is the lifetime of an admin browser session.
const SessionTTL = 24 * time.Hour

var ErrInvalidSession = errors.New("invalid session token")

type sessionClaims struct {
	jwt.RegisteredClaims
}

// GenerateSessionSecret returns a random HMAC secret for signing session
// tokens, hex-encoded for storage.
func GenerateSessionSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IssueSessionToken signs an HS256 session token for the admin user.
func IssueSessionToken(secret []byte, now time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "passage",
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// VerifySessionToken parses and validates a session token. Any failure,
// including expiry or a foreign signing method, yields ErrInvalidSession.
func VerifySessionToken(secret []byte, tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer("passage"), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return ErrInvalidSession
	}
	return nil
}
