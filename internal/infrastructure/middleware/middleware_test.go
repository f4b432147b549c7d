package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Issue(guest domain.Guest) (ports.Session, error) {
	args := m.Called(guest)
	return args.Get(0).(ports.Session), args.Error(1)
}

func (m *MockSessionService) Authenticate(ctx context.Context, token string) (domain.Guest, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(domain.Guest), args.Error(1)
}

func (m *MockSessionService) Refresh(ctx context.Context, token string) (ports.Session, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(ports.Session), args.Error(1)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.Use(handlers...)
	return router
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSessionMiddleware(t *testing.T) {
	sessions := &MockSessionService{}
	guest := domain.Guest{ID: "g1", RoomID: "room-1", Status: domain.GuestApproved}
	sessions.On("Authenticate", mock.Anything, "good").Return(guest, nil)
	sessions.On("Authenticate", mock.Anything, "revoked").Return(domain.Guest{}, domain.ErrSessionRevoked)

	router := newRouter()
	router.GET("/rooms/:room_id/me", SessionMiddleware(sessions), func(c *gin.Context) {
		g, ok := GuestFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": g.ID})
	})

	tests := []struct {
		name   string
		path   string
		header string
		status int
		code   string
	}{
		{"valid", "/rooms/room-1/me", "Bearer good", http.StatusOK, ""},
		{"missing header", "/rooms/room-1/me", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "/rooms/room-1/me", "Basic good", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"revoked", "/rooms/room-1/me", "Bearer revoked", http.StatusForbidden, "FORBIDDEN"},
		{"other room", "/rooms/room-2/me", "Bearer good", http.StatusUnauthorized, "UNAUTHORIZED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			if tt.code == "" {
				assert.Equal(t, "g1", body["id"])
			} else {
				assert.Equal(t, tt.code, body["error"])
			}
		})
	}
}

func TestAdminKeyMiddleware(t *testing.T) {
	router := newRouter()
	router.POST("/open", AdminKeyMiddleware("s3cret"), func(c *gin.Context) { c.Status(http.StatusCreated) })
	router.POST("/free", AdminKeyMiddleware(""), func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/open", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/open", nil)
	req.Header.Set(AdminKeyHeader, "s3cret")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/free", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestErrorHandlerMiddleware(t *testing.T) {
	router := newRouter()
	router.GET("/limited", func(c *gin.Context) {
		c.Error(domain.ErrRateLimited.WithContext("retry_at", "later"))
	})
	router.GET("/plain", func(c *gin.Context) {
		c.Error(errors.New("disk on fire"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/limited", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decode(t, w)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["error"])
	assert.Equal(t, map[string]any{"retry_at": "later"}, body["details"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode(t, w)["error"])
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLoggingMiddleware_PropagatesRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(LoggingMiddleware(logger.NewContextLogger(zap.New(core))))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
}

func TestTracingMiddleware_PassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TracingMiddleware())
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
