package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"vhlr/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(clientID, role string, chain ...gin.HandlerFunc) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), clientID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serveAs("c", RoleAdmin, RequireClient(), RequireAnyRole(RoleOperator)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_ClientDeniedOperatorRoutes(t *testing.T) {
	if code := serveAs("c", RoleClient, RequireClient(), RequireAnyRole(RoleOperator)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_UnknownRoleDenied(t *testing.T) {
	if code := serveAs("c", "root", RequireAnyRole("root")); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireClient_Missing(t *testing.T) {
	if code := serveAs("", RoleClient, RequireClient(), RequireAnyRole(RoleClient)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
