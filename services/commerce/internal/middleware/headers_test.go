package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newHeadersRouter(origins []string, hsts bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(origins), APIHeaders(hsts))
	r.PATCH("/accesses/plan", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func serveWithOrigin(r http.Handler, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/accesses/plan", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS_PreflightWildcard(t *testing.T) {
	w := serveWithOrigin(newHeadersRouter([]string{"*"}, false), http.MethodOptions, "https://app.example.com")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"), "для * credentials запрещены")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Idempotency-Key")
}

func TestCORS_EmptyListActsAsWildcard(t *testing.T) {
	w := serveWithOrigin(newHeadersRouter(nil, false), http.MethodPatch, "https://app.example.com")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ListedOrigin(t *testing.T) {
	r := newHeadersRouter([]string{" https://admin.example.com/ ", "https://app.example.com"}, false)

	w := serveWithOrigin(r, http.MethodPatch, "https://admin.example.com")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Trace-ID")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"), "методы отдаются только на preflight")
}

func TestCORS_ForeignOrigin(t *testing.T) {
	r := newHeadersRouter([]string{"https://admin.example.com"}, false)

	w := serveWithOrigin(r, http.MethodPatch, "https://evil.example.com")
	assert.Equal(t, http.StatusOK, w.Code, "запрос доходит до обработчика")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serveWithOrigin(r, http.MethodOptions, "https://evil.example.com")
	assert.NotEqual(t, http.StatusNoContent, w.Code)
}

func TestCORS_NoOriginHeader(t *testing.T) {
	w := serveWithOrigin(newHeadersRouter([]string{"*"}, false), http.MethodPatch, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIHeaders(t *testing.T) {
	w := serveWithOrigin(newHeadersRouter(nil, false), http.MethodPatch, "")

	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = serveWithOrigin(newHeadersRouter(nil, true), http.MethodPatch, "")
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=")
}
