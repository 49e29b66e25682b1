package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJWTManager_GenerateAndValidateRoundTrips(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	userID := uuid.New()

	token, err := m.GenerateToken(userID, "ops@example.com", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != userID || claims.Email != "ops@example.com" || claims.Role != "admin" {
		t.Fatalf("claims = %+v, want matching the issued identity", claims)
	}
}

func TestJWTManager_ValidateToken_RejectsExpiredToken(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Hour)
	token, err := m.GenerateToken(uuid.New(), "ops@example.com", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := m.ValidateToken(token); err != ErrExpiredToken {
		t.Fatalf("ValidateToken() err = %v, want ErrExpiredToken", err)
	}
}

func TestJWTManager_ValidateToken_RejectsWrongSecret(t *testing.T) {
	issuer := NewJWTManager("secret-a", time.Hour)
	token, err := issuer.GenerateToken(uuid.New(), "ops@example.com", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	verifier := NewJWTManager("secret-b", time.Hour)
	if _, err := verifier.ValidateToken(token); err != ErrInvalidToken {
		t.Fatalf("ValidateToken() err = %v, want ErrInvalidToken", err)
	}
}

func TestJWTManager_ValidateToken_RejectsGarbage(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	if _, err := m.ValidateToken("not-a-jwt"); err != ErrInvalidToken {
		t.Fatalf("ValidateToken() err = %v, want ErrInvalidToken", err)
	}
}
