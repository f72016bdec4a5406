package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewTo_LevelByEnv(t *testing.T) {
	var buf bytes.Buffer
	NewTo(&buf, "production").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be dropped in production, got %q", buf.String())
	}
	NewTo(&buf, "dev").Debug("shown")
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("expected debug line in dev, got %q", buf.String())
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
	l := Discard()
	if From(With(context.Background(), l)) != l {
		t.Fatalf("expected stored logger")
	}
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	base := NewTo(&buf, "production")

	r := gin.New()
	r.Use(Middleware(base))
	r.GET("/x", func(c *gin.Context) {
		c.Set("client_id", "client-1")
		if From(c.Request.Context()) != FromGin(c) {
			t.Errorf("request context and gin context loggers differ")
		}
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if line["request_id"] != "rid-1" || line["client_id"] != "client-1" || line["path"] != "/x" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["status"] != float64(http.StatusNoContent) {
		t.Fatalf("unexpected status: %v", line["status"])
	}
}
