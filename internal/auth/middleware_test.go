package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(authHeader string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		c.Request.Header.Set(AuthorizationHeader, authHeader)
	}
	return c, w
}

func TestAuthMiddleware_MissingHeaderIsUnauthorized(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	c, w := newTestContext("")
	AuthMiddleware(m)(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !c.IsAborted() {
		t.Fatal("request was not aborted")
	}
}

func TestAuthMiddleware_MalformedHeaderIsUnauthorized(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	c, w := newTestContext("Token abc123")
	AuthMiddleware(m)(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_ValidTokenSetsContextAndContinues(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	userID := uuid.New()
	token, err := m.GenerateToken(userID, "ops@example.com", "analyst")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, w := newTestContext(BearerPrefix + token)
	AuthMiddleware(m)(c)

	if c.IsAborted() {
		t.Fatalf("request was aborted, status = %d", w.Code)
	}
	gotID, ok := GetOperatorIDFromContext(c)
	if !ok || gotID != userID {
		t.Fatalf("GetOperatorIDFromContext() = (%v, %v), want (%v, true)", gotID, ok, userID)
	}
	gotRole, ok := GetOperatorRoleFromContext(c)
	if !ok || gotRole != "analyst" {
		t.Fatalf("GetOperatorRoleFromContext() = (%v, %v), want (analyst, true)", gotRole, ok)
	}
}

func TestAuthMiddleware_ExpiredTokenReportsExpiredMessage(t *testing.T) {
	m := NewJWTManager("secret", -time.Hour)
	token, err := m.GenerateToken(uuid.New(), "ops@example.com", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, w := newTestContext(BearerPrefix + token)
	AuthMiddleware(m)(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "token has expired") {
		t.Fatalf("body = %s, want the expired-token message", w.Body.String())
	}
}

func TestRoleMiddleware_AllowsListedRole(t *testing.T) {
	c, w := newTestContext("")
	c.Set(OperatorRoleKey, "admin")
	RoleMiddleware("admin", "analyst")(c)

	if c.IsAborted() {
		t.Fatalf("request was aborted for an allowed role, status = %d", w.Code)
	}
}

func TestRoleMiddleware_RejectsUnlistedRole(t *testing.T) {
	c, w := newTestContext("")
	c.Set(OperatorRoleKey, "operator")
	RoleMiddleware("admin", "analyst")(c)

	if !c.IsAborted() || w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, aborted = %v, want 403/aborted for a disallowed role", w.Code, c.IsAborted())
	}
}

func TestRoleMiddleware_MissingRoleIsForbidden(t *testing.T) {
	c, w := newTestContext("")
	RoleMiddleware("admin")(c)

	if !c.IsAborted() || w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, aborted = %v, want 403/aborted when no role is set", w.Code, c.IsAborted())
	}
}

func TestOptionalAuthMiddleware_NoHeaderContinuesWithoutClaims(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	c, w := newTestContext("")
	OptionalAuthMiddleware(m)(c)

	if c.IsAborted() {
		t.Fatalf("request was aborted, status = %d", w.Code)
	}
	if _, ok := GetOperatorIDFromContext(c); ok {
		t.Fatal("no claims should have been set without an auth header")
	}
}

func TestOptionalAuthMiddleware_ValidTokenSetsClaims(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	userID := uuid.New()
	token, err := m.GenerateToken(userID, "ops@example.com", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, _ := newTestContext(BearerPrefix + token)
	OptionalAuthMiddleware(m)(c)

	gotID, ok := GetOperatorIDFromContext(c)
	if !ok || gotID != userID {
		t.Fatalf("GetOperatorIDFromContext() = (%v, %v), want (%v, true)", gotID, ok, userID)
	}
}
