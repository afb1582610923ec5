package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "buckets are per key")

	now = now.Add(time.Minute)
	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"), "refill is capped at capacity")
}

func TestGinMiddlewareKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewSimpleTokenBucket(1, 1)
	r := gin.New()
	r.Use(SecurityHeaders(), l.GinMiddleware(func(c *gin.Context) string { return c.GetHeader("X-Who") }))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(who string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Who", who)
		r.ServeHTTP(w, req)
		return w
	}

	first := do("alice")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "nosniff", first.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, http.StatusTooManyRequests, do("alice").Code)
	assert.Equal(t, http.StatusNoContent, do("bob").Code)
}

func TestZeroRateDisablesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewSimpleTokenBucket(0, 0)
	r := gin.New()
	r.Use(l.GinMiddleware(nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
