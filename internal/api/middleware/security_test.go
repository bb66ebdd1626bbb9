package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/harvester/internal/api/middleware"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newRouter(key string) *gin.Engine {
	r := gin.New()
	r.Use(middleware.SecurityHeaders(), middleware.RequestLogger(logger.NewNop()), middleware.APIKey(key))
	r.GET("/ping", func(c *gin.Context) {
		// The request logger must be reachable from handlers.
		logger.FromContext(c.Request.Context()).Info("ping")
		c.String(http.StatusOK, "pong")
	})
	return r
}

func TestAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured string
		sent       string
		wantStatus int
	}{
		{name: "disabled", configured: "", sent: "", wantStatus: http.StatusOK},
		{name: "valid key", configured: "s3cret", sent: "s3cret", wantStatus: http.StatusOK},
		{name: "missing key", configured: "s3cret", sent: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", configured: "s3cret", sent: "guess", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.sent != "" {
				req.Header.Set(middleware.APIKeyHeader, tt.sent)
			}
			w := httptest.NewRecorder()
			newRouter(tt.configured).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}
