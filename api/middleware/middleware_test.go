package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/ragstore/internal/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func authRouter(cfg config.AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(cfg))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, User(c))
	})
	return router
}

func TestAuth(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled:      true,
		Secret:       testSecret,
		AllowedUsers: []string{"Alice@example.com"},
	}
	router := authRouter(cfg)

	tests := []struct {
		name       string
		header     string
		endUser    string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed header",
			header:     "Basic abc123",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			header:     "Bearer not.a.jwt",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid email claim",
			header:     "Bearer " + signToken(t, jwt.MapClaims{"email": "alice@example.com"}),
			wantStatus: http.StatusOK,
			wantBody:   "alice@example.com",
		},
		{
			name:       "whitelist is case-insensitive",
			header:     "Bearer " + signToken(t, jwt.MapClaims{"email": "ALICE@EXAMPLE.COM"}),
			wantStatus: http.StatusOK,
		},
		{
			name:       "user not on whitelist",
			header:     "Bearer " + signToken(t, jwt.MapClaims{"email": "mallory@example.com"}),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "no identity claim",
			header:     "Bearer " + signToken(t, jwt.MapClaims{"scope": "upload"}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "end-user delegation",
			header:     "Bearer " + signToken(t, jwt.MapClaims{"email": "alice@example.com"}),
			endUser:    "customer-42",
			wantStatus: http.StatusOK,
			wantBody:   "customer-42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.endUser != "" {
				req.Header.Set(EndUserHeader, tt.endUser)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestAuth_SubClaimFallback(t *testing.T) {
	router := authRouter(config.AuthConfig{Enabled: true, Secret: testSecret})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "service-account"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "service-account", rec.Body.String())
}

func TestAuth_RejectsWrongSecret(t *testing.T) {
	router := authRouter(config.AuthConfig{Enabled: true, Secret: testSecret})

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "alice@example.com"})
	signed, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_RejectsExpiredToken(t *testing.T) {
	router := authRouter(config.AuthConfig{Enabled: true, Secret: testSecret})

	expired := signToken(t, jwt.MapClaims{
		"email": "alice@example.com",
		"exp":   time.Now().Add(-time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUser_WithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, User(c))
	})

	t.Run("anonymous fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, "anonymous", rec.Body.String())
	})

	t.Run("end-user header without auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(EndUserHeader, "cli-user")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, "cli-user", rec.Body.String())
	})
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	t.Run("generates an id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.NotEmpty(t, rec.Body.String())
		assert.Equal(t, rec.Body.String(), rec.Header().Get("X-Request-ID"))
	})

	t.Run("reuses the caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Request-ID", "trace-123")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, "trace-123", rec.Body.String())
		assert.Equal(t, "trace-123", rec.Header().Get("X-Request-ID"))
	})
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit(60, 2))
	router.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusOK, send())
	// Burst of two is spent; the bucket refills at one per second.
	assert.Equal(t, http.StatusTooManyRequests, send())
}
