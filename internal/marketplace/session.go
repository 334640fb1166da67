package marketplace

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession is returned for a malformed, unsigned, or expired
// session token.
var ErrInvalidSession = errors.New("invalid marketplace session token")

// SessionClaims is the JWT payload identifying which provider a session
// token authenticates. Unlike the teacher's batch-RPC tokens, a marketplace
// session carries no request counter: it only proves which agent is
// speaking, for job-status updates the marketplace must attribute correctly.
type SessionClaims struct {
	jwt.RegisteredClaims
	ProviderAddress string `json:"providerAddress"`
}

// SessionManager issues and validates marketplace session tokens.
type SessionManager struct {
	secret []byte
	expiry time.Duration
}

// NewSessionManager builds a SessionManager signing with secret (HMAC-SHA256)
// and expiring tokens after expiry.
func NewSessionManager(secret []byte, expiry time.Duration) *SessionManager {
	return &SessionManager{secret: secret, expiry: expiry}
}

// IssueSession signs a new session token identifying providerAddress.
func (m *SessionManager) IssueSession(providerAddress string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   providerAddress,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
		ProviderAddress: providerAddress,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing marketplace session token: %w", err)
	}
	return signed, nil
}

// ValidateSession parses and verifies tokenString, returning its claims.
func (m *SessionManager) ValidateSession(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
