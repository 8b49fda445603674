// ABOUTME: JWT bearer tokens for the control-plane handshake
// ABOUTME: HS256 with a shared secret; the subject claim carries the agent id

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// minSecretLength is the smallest accepted HS256 secret.
const minSecretLength = 32

// Token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrSecretTooShort = errors.New("token secret too short")
)

// TokenManager mints and verifies the bearer tokens agents present in the
// control-plane hello.
type TokenManager struct {
	secret []byte
}

// NewTokenManager creates a token manager. The secret must be at least 32
// bytes.
func NewTokenManager(secret []byte) (*TokenManager, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d",
			ErrSecretTooShort, len(secret), minSecretLength)
	}
	return &TokenManager{secret: secret}, nil
}

// Mint creates a token for the given agent id with the given lifetime.
func (m *TokenManager) Mint(agentID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": agentID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify validates the token and extracts the agent id from the "sub" claim.
func (m *TokenManager) Verify(tokenString string) (agentID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}
