package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer        = "driveguard"
	defaultExpiry = 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims carries the logged-in operator
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager signs and checks HS256 session tokens against an injected
// clock
type JWTManager struct {
	secretKey []byte
	expiry    time.Duration
	clock     clock.Clock
}

// NewJWTManager creates a JWT manager. An empty secret gets a random one,
// which invalidates tokens on restart. clk may be nil.
func NewJWTManager(secret string, expiry time.Duration, clk clock.Clock) *JWTManager {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		rand.Read(key)
		key = []byte(hex.EncodeToString(key))
	}
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	if clk == nil {
		clk = clock.New()
	}
	return &JWTManager{secretKey: key, expiry: expiry, clock: clk}
}

// GenerateToken signs a token for username and returns its expiry
func (m *JWTManager) GenerateToken(username string) (string, time.Time, error) {
	issuedAt := m.clock.Now()
	expiresAt := issuedAt.Add(m.expiry)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}).SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken checks signature, issuer and expiry
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return m.secretKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.clock.Now),
	)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	default:
		return nil, ErrInvalidToken
	}
}

// Expiry returns the token lifetime
func (m *JWTManager) Expiry() time.Duration {
	return m.expiry
}
