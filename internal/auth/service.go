package auth

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidCredentials is returned on a failed login.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrWeakPassword is returned when a new operator's password fails the
// strength check.
var ErrWeakPassword = errors.New("password does not meet requirements")

// Service issues bearer tokens for provisioned operators. There is no
// self-serve registration — CreateOperator is itself gated behind an
// existing admin's token (see the HTTP surface's route wiring).
type Service struct {
	operators *OperatorRepository
	jwt       *JWTManager
}

// NewService creates a new auth service.
func NewService(operators *OperatorRepository, jwt *JWTManager) *Service {
	return &Service{operators: operators, jwt: jwt}
}

// LoginRequest is the login wire shape.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// CreateOperatorRequest provisions a new operator.
type CreateOperatorRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required,oneof=admin analyst operator"`
}

// TokenResponse wraps an issued bearer token.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	Role      string `json:"role"`
}

// Login authenticates an operator and issues a bearer token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	op, err := s.operators.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrOperatorNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find operator: %w", err)
	}

	if !CheckPassword(req.Password, op.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issueToken(op)
}

// RefreshToken reissues a token for the bearer of a still-valid one,
// re-checking the operator still exists.
func (s *Service) RefreshToken(ctx context.Context, currentToken string) (*TokenResponse, error) {
	claims, err := s.jwt.ValidateToken(currentToken)
	if err != nil {
		return nil, err
	}

	op, err := s.operators.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("operator no longer exists: %w", err)
	}

	return s.issueToken(op)
}

// CreateOperator provisions a new operator, called only from an
// admin-gated route.
func (s *Service) CreateOperator(ctx context.Context, req CreateOperatorRequest) (*TokenResponse, error) {
	if !ValidatePasswordStrength(req.Password) {
		return nil, ErrWeakPassword
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	op := &Operator{Email: req.Email, PasswordHash: hash, Role: req.Role}
	if err := s.operators.Create(ctx, op); err != nil {
		return nil, err
	}

	return s.issueToken(op)
}

func (s *Service) issueToken(op *Operator) (*TokenResponse, error) {
	token, err := s.jwt.GenerateToken(op.ID, op.Email, op.Role)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &TokenResponse{Token: token, ExpiresIn: int64(s.jwt.expiration.Seconds()), Role: op.Role}, nil
}
