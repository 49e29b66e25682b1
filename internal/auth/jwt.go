// Package auth guards the thin HTTP surface's admin/analyst endpoints
// (rule weight overrides, backtest runs, review feedback submission) behind
// a JWT bearer token. There is no self-serve user registration in this
// domain — operators are created by an admin through Service.CreateOperator —
// and the JWTManager here issues and validates tokens carrying each
// operator's ID, email and role, grounded
// on the teacher's auth middleware contract (Claims.UserID/Email/Role,
// ErrExpiredToken sentinel) without the account/registration machinery the
// teacher's user model needed.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrExpiredToken is returned by ValidateToken for an expired bearer token.
var ErrExpiredToken = errors.New("token has expired")

// ErrInvalidToken is returned by ValidateToken for any other malformed or
// unverifiable token.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload identifying an operator and their role.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates operator bearer tokens.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager creates a new JWT manager.
func NewJWTManager(secret string, expiration time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), expiration: expiration}
}

// GenerateToken issues a signed bearer token for the given operator identity.
func (m *JWTManager) GenerateToken(userID uuid.UUID, email, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and verifies a bearer token, returning its claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
