package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KlutzyFella/Papyrus/internal/config"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/pkg/jwt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type setBlacklist map[string]bool

func (s setBlacklist) BlacklistToken(_ context.Context, tokenHash string, _ time.Time) error {
	s[tokenHash] = true
	return nil
}

func (s setBlacklist) IsTokenBlacklisted(_ context.Context, tokenHash string) bool {
	return s[tokenHash]
}

func newAuthRouter(t *testing.T, blacklist setBlacklist) (*gin.Engine, *jwt.JWTService) {
	t.Helper()
	svc := jwt.NewJWTService(testSecret, time.Hour, 24*time.Hour)
	auth := NewAuthenticator(svc, blacklist, "papyrus_token")

	r := gin.New()
	r.GET("/me", auth.Required(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "email": GetEmail(c)})
	})
	r.GET("/maybe", auth.Optional(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c)})
	})
	return r, svc
}

func TestRequiredAcceptsAllCredentialSources(t *testing.T) {
	r, svc := newAuthRouter(t, setBlacklist{})
	token, err := svc.GenerateAccessToken(42, "a@b.com")
	require.NoError(t, err)

	cases := map[string]func(*http.Request){
		"bearer": func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) },
		"cookie": func(req *http.Request) { req.AddCookie(&http.Cookie{Name: "papyrus_token", Value: token}) },
		"query":  func(req *http.Request) { req.URL.RawQuery = "token=" + token },
	}
	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			set(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"user_id":42,"email":"a@b.com"}`, w.Body.String())
		})
	}
}

func TestRequiredRejects(t *testing.T) {
	blacklist := setBlacklist{}
	r, svc := newAuthRouter(t, blacklist)

	revoked, err := svc.GenerateAccessToken(1, "x@y.com")
	require.NoError(t, err)
	blacklist[jwt.HashToken(revoked)] = true

	refresh, err := svc.GenerateRefreshToken(1, "x@y.com")
	require.NoError(t, err)

	cases := map[string]string{
		"missing":   "",
		"malformed": "Token abc",
		"garbage":   "Bearer not-a-jwt",
		"refresh":   "Bearer " + refresh,
		"revoked":   "Bearer " + revoked,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"code":1001`)
			assert.Contains(t, w.Body.String(), `"error":`)
		})
	}
}

func TestOptionalAllowsAnonymous(t *testing.T) {
	r, svc := newAuthRouter(t, setBlacklist{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/maybe", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":0}`, w.Body.String())

	token, err := svc.GenerateAccessToken(5, "c@d.com")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/maybe", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"user_id":5}`, w.Body.String())
}

func TestRateLimit(t *testing.T) {
	pool := NewLimiterPool(config.RateLimitConfig{RPS: 0.001, Burst: 2})
	r := gin.New()
	r.POST("/documents", RateLimit(pool), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/documents", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 不同客户端使用独立的令牌桶
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/documents", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLimiterPoolDefaults(t *testing.T) {
	pool := NewLimiterPool(config.RateLimitConfig{})
	for i := 0; i < 5; i++ {
		assert.True(t, pool.Allow(UserKey(1)))
	}
	assert.False(t, pool.Allow(UserKey(1)))
	assert.True(t, pool.Allow(UserKey(2)))
}

func TestRecoveryMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(LoggerMiddleware(logger.Nop()), RecoveryMiddleware(logger.Nop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":1004`)
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"http://localhost:5173"}))
	r.GET("/messages", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/messages", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
