package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

func TestIPLimiterFixedWindow(t *testing.T) {
	l := &ipLimiter{clients: map[string]*clientWindow{}, limit: 3, window: time.Minute}

	for i := 0; i < 3; i++ {
		if ok, _ := l.allow("10.0.0.1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, retryAfter := l.allow("10.0.0.1")
	if ok {
		t.Fatal("fourth request in the window should be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retry-after out of range: %v", retryAfter)
	}

	// Another IP has its own window.
	if ok, _ := l.allow("10.0.0.2"); !ok {
		t.Fatal("different IP should not share the window")
	}

	// Rolling the window start back opens a fresh window.
	l.clients["10.0.0.1"].windowStart = time.Now().Add(-2 * time.Minute)
	if ok, _ := l.allow("10.0.0.1"); !ok {
		t.Fatal("request after window rollover should be allowed")
	}
}

func TestIPLimiterPrune(t *testing.T) {
	l := &ipLimiter{clients: map[string]*clientWindow{}, limit: 3, window: time.Minute}
	l.allow("10.0.0.1")
	l.allow("10.0.0.2")
	l.clients["10.0.0.1"].windowStart = time.Now().Add(-3 * time.Minute)

	l.prune(time.Now())

	if _, ok := l.clients["10.0.0.1"]; ok {
		t.Fatal("idle entry should be pruned")
	}
	if _, ok := l.clients["10.0.0.2"]; !ok {
		t.Fatal("active entry should survive the prune")
	}
}

func TestRateLimitMiddlewareRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(2))
	r.GET("/ping", func(c *gin.Context) { c.Status(200) })

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "192.0.2.10:1234"
		r.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeadersMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	checks := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range checks {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s: got %q, want %q", k, got, v)
		}
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("CSP header missing")
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should be off unless VF_ENABLE_HSTS is set")
	}
}

func TestVersionMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(VersionMiddleware("2026-06-01"))
	r.GET("/", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := w.Header().Get("X-VF-Version"); got != "2026-06-01" {
		t.Fatalf("default version not applied, got %q", got)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("VF-Version", "2026-01-01")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-VF-Version"); got != "2026-01-01" {
		t.Fatalf("requested version not echoed, got %q", got)
	}
}

func TestAuthMiddlewareRoundTrip(t *testing.T) {
	os.Setenv("JWT_SECRET", "test_jwt_secret_with_length")
	t.Cleanup(func() { os.Unsetenv("JWT_SECRET") })

	adminID := uuid.New()
	token, err := utils.GenerateJWT(adminID, "admin")
	if err != nil {
		t.Fatalf("generate jwt: %v", err)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/secure", func(c *gin.Context) {
		c.JSON(200, gin.H{"admin_id": c.GetString("adminID"), "role": c.GetString("adminRole")})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("valid token rejected: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token should be 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/secure", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing header should be 401, got %d", w.Code)
	}
}

func TestRequireAdminRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("adminRole", "support") })
	r.Use(RequireAdminRole())
	r.POST("/mutate", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mutate", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("support role should be 403 on mutations, got %d", w.Code)
	}
}
