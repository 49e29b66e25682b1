package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	OperatorIDKey       = "operator_id"
	OperatorEmailKey    = "operator_email"
	OperatorRoleKey     = "operator_role"
)

// AuthMiddleware guards an operator-only route with a bearer token, rejecting
// any request that isn't carrying a currently-valid token issued for a
// provisioned Operator.
func AuthMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid authorization header format",
			})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			message := "invalid token"
			if err == ErrExpiredToken {
				message = "token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": message,
			})
			return
		}

		// identify the calling operator for downstream handlers
		c.Set(OperatorIDKey, claims.UserID)
		c.Set(OperatorEmailKey, claims.Email)
		c.Set(OperatorRoleKey, claims.Role)

		c.Next()
	}
}

// RoleMiddleware restricts a route to operators whose token role is one of
// allowedRoles (e.g. "admin" for rule-weight overrides), per spec.md §6's
// RBAC surface. Must run after AuthMiddleware, which populates OperatorRoleKey.
func RoleMiddleware(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(OperatorRoleKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "role not found in context",
			})
			return
		}

		operatorRole := role.(string)
		for _, allowedRole := range allowedRoles {
			if operatorRole == allowedRole {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "insufficient permissions",
		})
	}
}

// GetOperatorIDFromContext extracts the calling operator's id from the Gin
// context populated by AuthMiddleware/OptionalAuthMiddleware.
func GetOperatorIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	operatorID, exists := c.Get(OperatorIDKey)
	if !exists {
		return uuid.Nil, false
	}
	return operatorID.(uuid.UUID), true
}

// GetOperatorRoleFromContext extracts the calling operator's role from the Gin
// context populated by AuthMiddleware/OptionalAuthMiddleware.
func GetOperatorRoleFromContext(c *gin.Context) (string, bool) {
	role, exists := c.Get(OperatorRoleKey)
	if !exists {
		return "", false
	}
	return role.(string), true
}

// OptionalAuthMiddleware lets a request through with or without a bearer
// token — used by routes readable by both anonymous callers and operators,
// where the handler itself decides how much to reveal based on whether
// GetOperatorRoleFromContext found anything.
func OptionalAuthMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" || !strings.HasPrefix(authHeader, BearerPrefix) {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := jwtManager.ValidateToken(tokenString)
		if err == nil {
			c.Set(OperatorIDKey, claims.UserID)
			c.Set(OperatorEmailKey, claims.Email)
			c.Set(OperatorRoleKey, claims.Role)
		}

		c.Next()
	}
}
