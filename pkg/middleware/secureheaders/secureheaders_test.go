package secureheaders

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(cfg Config, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(cfg))
	r.GET("/*any", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewSetsHardeningHeaders(t *testing.T) {
	rec := serve(Config{ConnectSources: []string{"https://app.example.com"}}, "/api/v1/auth/login")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	csp := rec.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'self'")
	assert.Contains(t, csp, "connect-src 'self' https://app.example.com")
	assert.Contains(t, csp, "frame-ancestors 'none'")
}

func TestNewHonoursSkipPrefixesAndHSTS(t *testing.T) {
	rec := serve(Config{SkipPrefixes: []string{"/docs/"}, HSTS: true}, "/docs/index.html")

	assert.Empty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
}

func TestContentSecurityPolicyDefaults(t *testing.T) {
	assert.Contains(t, ContentSecurityPolicy(nil), "connect-src 'self';")
}
