// Package auth verifies the identity tokens presented by connecting
// clients. Token issuing lives with the platform's identity service; this
// package only needs to check a token and recover the user id, but keeps a
// signing helper for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager validates (and, for tooling, signs) the JWT tokens used by the
// chat transports. Keys are held in a kid → secret map so the identity
// service can rotate signing keys without invalidating live tokens.
type JWTManager struct {
	keys      map[string]string
	activeKid string
	duration  time.Duration
}

// Claims is the token payload the chat service cares about: the user id.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// NewJWTManager returns a manager backed by a single secret (kid "default").
func NewJWTManager(secret string, duration time.Duration) *JWTManager {
	return NewJWTManagerFromKeys(map[string]string{"default": secret}, "default", duration)
}

// NewJWTManagerFromKeys returns a manager with a full key map. activeKid
// selects the signing key; all keys verify. An empty activeKid picks any key.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	if activeKid == "" {
		for kid := range keys {
			activeKid = kid
			break
		}
	}
	return &JWTManager{keys: keys, activeKid: activeKid, duration: duration}
}

// GenerateToken issues a signed token for a user id, stamped with the active
// kid so verification can select the right key after a rotation.
func (m *JWTManager) GenerateToken(userID string) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("auth: no key for active kid %q", m.activeKid)
	}

	expiresAt := time.Now().Add(m.duration)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.activeKid

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims. The kid
// header selects the verification key; tokens without a kid fall back to the
// active key for compatibility with single-secret deployments.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Only HMAC is accepted; an asymmetric alg here would mean the
		// signature check runs against the wrong kind of key material.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = m.activeKid
		}
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
