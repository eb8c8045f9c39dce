package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nathanyu/subscriber-transfer/internal/middleware"
	"github.com/nathanyu/subscriber-transfer/internal/resolver"
)

func get(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = remoteAddr + ":40000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdmission(t *testing.T) {
	gin.SetMode(gin.TestMode)

	prefixes, err := resolver.ParsePrefixes([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	res := resolver.New(nil, prefixes)

	router := gin.New()
	router.Use(middleware.Admission(res))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(router, "10.0.0.7").Code)
	assert.Equal(t, http.StatusForbidden, get(router, "8.8.8.8").Code)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(middleware.RateLimit(rate.Limit(0.001), 2))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Burst of 2, then the bucket is empty.
	assert.Equal(t, http.StatusOK, get(router, "10.0.0.7").Code)
	assert.Equal(t, http.StatusOK, get(router, "10.0.0.7").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "10.0.0.7").Code)

	// Limits are per address.
	assert.Equal(t, http.StatusOK, get(router, "10.0.0.8").Code)
}
