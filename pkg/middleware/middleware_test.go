package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/creditrisk/pkg/config"
	"github.com/wyfcoding/creditrisk/pkg/logger"
	"github.com/wyfcoding/creditrisk/pkg/metrics"
	"github.com/wyfcoding/creditrisk/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGinRequestIDPropagates(t *testing.T) {
	r := gin.New()
	r.Use(GinRequestID())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, logger.RequestID(c.Request.Context()))
	})

	w := do(r, http.MethodGet, "/ping", map[string]string{RequestIDHeader: "abc"})
	assert.Equal(t, "abc", w.Body.String())
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))

	w = do(r, http.MethodGet, "/ping", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, w.Header().Get(RequestIDHeader), w.Body.String())
}

func TestGinRecoveryReturns500(t *testing.T) {
	r := gin.New()
	r.Use(GinRequestID(), GinRecovery())
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := do(r, http.MethodGet, "/boom", map[string]string{RequestIDHeader: "req-1"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "req-1")
}

func TestRateLimitRejectsAfterBurst(t *testing.T) {
	r := gin.New()
	limiter := ratelimit.NewLocalRateLimiter(0)
	r.Use(RateLimit(limiter, config.RateLimitConfig{Enabled: true, Rate: 0.001, Burst: 2}))
	r.POST("/simulate", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/simulate", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/simulate", nil).Code)
	w := do(r, http.MethodPost, "/simulate", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(ratelimit.NewLocalRateLimiter(0), config.RateLimitConfig{Enabled: false, Rate: 0.001, Burst: 1}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for range 5 {
		assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/x", nil).Code)
	}
}

func TestGinMetricsUsesRoutePattern(t *testing.T) {
	m := metrics.New("creditrisk")
	r := gin.New()
	r.Use(GinMetrics(m))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	do(r, http.MethodGet, "/items/1", nil)
	do(r, http.MethodGet, "/items/2", nil)
	do(r, http.MethodGet, "/missing", nil)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `route="/items/:id",service="creditrisk",status="200"} 2`)
	assert.Contains(t, body, `route="unmatched"`)
}
