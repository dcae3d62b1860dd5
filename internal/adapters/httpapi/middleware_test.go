package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method, path string
	status       int
}

type fakeObserver struct {
	mu   sync.Mutex
	seen []recordedRequest
}

func (o *fakeObserver) ObserveHTTP(method, path string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, recordedRequest{method, path, status})
}

func serve(router *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(requestIDKey))
	})

	t.Run("generates new request ID when not provided", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/test", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Body.String())
		assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
	})

	t.Run("uses provided request ID", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/test", http.Header{RequestIDHeader: {"custom-request-id-123"}})

		assert.Equal(t, "custom-request-id-123", w.Body.String())
		assert.Equal(t, "custom-request-id-123", w.Header().Get(RequestIDHeader))
	})
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"logs successful request", http.StatusOK, "info"},
		{"logs 4xx request as warning", http.StatusBadRequest, "warn"},
		{"logs 5xx request as error", http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			obs := &fakeObserver{}
			router := gin.New()
			router.Use(RequestID())
			router.Use(Logger(zerolog.New(&buf), obs))
			router.GET("/test/:id", func(c *gin.Context) {
				c.String(tt.status, "body")
			})

			w := serve(router, http.MethodGet, "/test/42", http.Header{RequestIDHeader: {"rid"}})
			assert.Equal(t, tt.status, w.Code)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, "rid", entry["request_id"])
			assert.Equal(t, "/test/42", entry["path"])
			assert.EqualValues(t, tt.status, entry["status"])
			assert.Equal(t, []recordedRequest{{http.MethodGet, "/test/:id", tt.status}}, obs.seen)
		})
	}

	t.Run("unmatched routes share one label", func(t *testing.T) {
		obs := &fakeObserver{}
		router := gin.New()
		router.Use(Logger(zerolog.Nop(), obs))

		serve(router, http.MethodGet, "/nope", nil)

		assert.Equal(t, []recordedRequest{{http.MethodGet, "unmatched", http.StatusNotFound}}, obs.seen)
	})
}

func TestRecovery(t *testing.T) {
	t.Run("recovers from panic", func(t *testing.T) {
		var buf bytes.Buffer
		router := gin.New()
		router.Use(RequestID())
		router.Use(Recovery(zerolog.New(&buf)))
		router.GET("/test", func(c *gin.Context) {
			panic("test panic")
		})

		w := serve(router, http.MethodGet, "/test", nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
		assert.Contains(t, buf.String(), "test panic")
	})

	t.Run("passes through when no panic", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery(zerolog.Nop()))
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, "ok")
		})

		w := serve(router, http.MethodGet, "/test", nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS())
	router.POST("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	t.Run("sets CORS headers", func(t *testing.T) {
		w := serve(router, http.MethodPost, "/test", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.True(t, strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "Content-Type"))
	})

	t.Run("handles OPTIONS preflight", func(t *testing.T) {
		w := serve(router, http.MethodOptions, "/test", nil)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
