package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/pkg/utils/contextkey"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTraceContextKeepsIncomingIDs(t *testing.T) {
	t.Parallel()
	router := gin.New()
	router.Use(TraceContext())
	var traceID, requestID interface{}
	router.GET("/", func(c *gin.Context) {
		traceID = c.Request.Context().Value(contextkey.TraceID)
		requestID = c.Request.Context().Value(contextkey.RequestID)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(traceIDHeader, "trace-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if traceID != "trace-1" || w.Header().Get(traceIDHeader) != "trace-1" {
		t.Fatalf("expected incoming trace id to be kept, got %v", traceID)
	}
	if id, ok := requestID.(string); !ok || id == "" || w.Header().Get(requestIDHeader) != id {
		t.Fatalf("expected a generated request id, got %v", requestID)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()
	router := gin.New()
	router.Use(CORS(CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://oj.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         "600",
	}))
	router.GET("/records", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		method string
		origin string
		status int
		allow  string
	}{
		{name: "allowed", method: http.MethodGet, origin: "https://oj.example.com", status: http.StatusOK, allow: "https://oj.example.com"},
		{name: "preflight", method: http.MethodOptions, origin: "https://oj.example.com", status: http.StatusNoContent, allow: "https://oj.example.com"},
		{name: "foreign preflight", method: http.MethodOptions, origin: "https://evil.example.com", status: http.StatusForbidden},
		{name: "foreign request", method: http.MethodGet, origin: "https://evil.example.com", status: http.StatusOK},
		{name: "no origin", method: http.MethodGet, status: http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/records", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tt.status {
			t.Fatalf("%s: expected status %d, got %d", tt.name, tt.status, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.allow {
			t.Fatalf("%s: expected allow origin %q, got %q", tt.name, tt.allow, got)
		}
	}
}

func TestCORSDisabled(t *testing.T) {
	t.Parallel()
	router := gin.New()
	router.Use(CORS(CORSConfig{AllowedOrigins: []string{"*"}}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://oj.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected no CORS headers when disabled")
	}
}

func TestRateLimitPerUser(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	limiter := NewRateLimiter(c, time.Second)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Uid"); uid == "1" {
			ctx := c.Request.Context()
			c.Request = c.Request.WithContext(contextWithUser(ctx, 1))
		}
		c.Next()
	})
	router.POST("/submit", RateLimit(limiter, "submit", RateLimitPolicy{Window: time.Minute, UserMax: 2}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(uid string) int {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		if uid != "" {
			req.Header.Set("X-Uid", uid)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	for i := 0; i < 2; i++ {
		if code := send("1"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the limit, got %d", code)
	}
	if code := send(""); code != http.StatusOK {
		t.Fatalf("expected anonymous request to skip the user scope, got %d", code)
	}

	mr.FastForward(time.Minute)
	if code := send("1"); code != http.StatusOK {
		t.Fatalf("expected a fresh window, got %d", code)
	}
}
