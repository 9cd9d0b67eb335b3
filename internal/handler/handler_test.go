package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KlutzyFella/Papyrus/internal/database"
	"github.com/KlutzyFella/Papyrus/internal/extractor"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/middleware"
	"github.com/KlutzyFella/Papyrus/internal/repository"
	"github.com/KlutzyFella/Papyrus/internal/service"
	"github.com/KlutzyFella/Papyrus/pkg/jwt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryBlacklist struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (b *memoryBlacklist) BlacklistToken(_ context.Context, tokenHash string, _ time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[tokenHash] = true
	return nil
}

func (b *memoryBlacklist) IsTokenBlacklisted(_ context.Context, tokenHash string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.keys[tokenHash]
}

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, data []byte, mediaType string) (string, error) {
	f.calls++
	if !extractor.IsPDF(mediaType) {
		return "", extractor.ErrUnsupportedFormat
	}
	return f.text, f.err
}

type testApp struct {
	router    *gin.Engine
	jwt       *jwt.JWTService
	extractor *fakeExtractor
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	jwtService := jwt.NewJWTService(testSecret, time.Hour, 24*time.Hour)
	blacklist := &memoryBlacklist{keys: map[string]bool{}}
	userRepo := repository.NewUserRepository(db)
	messages := service.NewMessageService(repository.NewMessageRepository(db), nil, logger.Nop())
	ext := &fakeExtractor{text: "Invoice 2024 Total: $4,200"}

	authHandler := NewAuthHandler(service.NewAuthService(userRepo, blacklist, jwtService), CookieConfig{Name: "papyrus_token"})
	userHandler := NewUserHandler(service.NewUserService(userRepo))
	messageHandler := NewMessageHandler(messages)
	documentHandler := NewDocumentHandler(ext, 1024, logger.Nop())
	auth := middleware.NewAuthenticator(jwtService, blacklist, "papyrus_token")

	r := gin.New()
	r.POST("/auth/register", authHandler.Register)
	r.POST("/auth/login", authHandler.Login)
	r.POST("/auth/refresh", authHandler.RefreshToken)
	r.POST("/auth/logout", auth.Required(), authHandler.Logout)
	r.POST("/documents", auth.Required(), documentHandler.ExtractText)
	protected := r.Group("/", auth.Required())
	protected.GET("/messages", messageHandler.ListMessages)
	protected.POST("/messages", messageHandler.AppendMessage)
	protected.GET("/users/me", userHandler.GetProfile)
	protected.PUT("/users/me/password", userHandler.ChangePassword)

	return &testApp{router: r, jwt: jwtService, extractor: ext}
}

func (a *testApp) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := a.jwt.GenerateAccessToken(userID, "user@example.com")
	require.NoError(t, err)
	return token
}

// ==================== 消息记录 ====================

func TestMessagesRequireAuth(t *testing.T) {
	app := newTestApp(t)
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		w := app.do(method, "/messages", "", map[string]string{"role": "user", "text": "Hi"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"error"`)
	}
}

func TestAppendAndListMessages(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, 1)

	w := app.do(http.MethodGet, "/messages", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = app.do(http.MethodPost, "/messages", token, map[string]string{"role": "user", "text": "What is the total?", "pdfName": "invoice.pdf"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = app.do(http.MethodPost, "/messages", token, map[string]interface{}{"role": "assistant", "text": "$4,200", "timestamp": "1999-01-01T00:00:00Z"})
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(http.MethodGet, "/messages", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list []struct {
		ID             int64     `json:"id"`
		Role           string    `json:"role"`
		Text           string    `json:"text"`
		Timestamp      time.Time `json:"timestamp"`
		AttachmentName *string   `json:"attachment_name"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "user", list[0].Role)
	require.NotNil(t, list[0].AttachmentName)
	assert.Equal(t, "invoice.pdf", *list[0].AttachmentName)
	assert.Equal(t, "assistant", list[1].Role)
	assert.Nil(t, list[1].AttachmentName)
	assert.True(t, list[1].Timestamp.After(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, list[1].Timestamp.Before(list[0].Timestamp))

	// 其它用户看不到
	w = app.do(http.MethodGet, "/messages", app.token(t, 2), nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestAppendMessageValidation(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, 1)

	cases := []map[string]string{
		{"role": "system", "text": "x"},
		{"role": "user", "text": "   "},
		{"role": "", "text": "hi"},
	}
	for _, body := range cases {
		w := app.do(http.MethodPost, "/messages", token, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), `"code":2001`)
	}

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(http.MethodGet, "/messages", token, nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

// ==================== 文档解析 ====================

func uploadRequest(t *testing.T, token, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="invoice.pdf"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestExtractDocument(t *testing.T) {
	app := newTestApp(t)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, uploadRequest(t, app.token(t, 1), "application/pdf", []byte("%PDF-1.4")))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"text":"Invoice 2024 Total: $4,200"}`, w.Body.String())
}

func TestExtractDocumentErrors(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		app := newTestApp(t)
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, uploadRequest(t, "", "application/pdf", []byte("%PDF")))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Zero(t, app.extractor.calls)
	})

	t.Run("not pdf", func(t *testing.T) {
		app := newTestApp(t)
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, uploadRequest(t, app.token(t, 1), "image/png", []byte("png")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), `"code":3001`)
		assert.Zero(t, app.extractor.calls)
	})

	t.Run("too large", func(t *testing.T) {
		app := newTestApp(t)
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, uploadRequest(t, app.token(t, 1), "application/pdf", bytes.Repeat([]byte("x"), 4096)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, app.extractor.calls)
	})

	t.Run("missing file", func(t *testing.T) {
		app := newTestApp(t)
		req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(""))
		req.Header.Set("Authorization", "Bearer "+app.token(t, 1))
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("extraction failed", func(t *testing.T) {
		app := newTestApp(t)
		app.extractor.err = errors.New("corrupt")
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, uploadRequest(t, app.token(t, 1), "application/pdf", []byte("%PDF")))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), `"error"`)
		assert.NotContains(t, w.Body.String(), `"text"`)
	})
}

// ==================== 认证 ====================

func TestAuthFlow(t *testing.T) {
	app := newTestApp(t)
	creds := map[string]string{"email": "Alice@Example.com", "password": "secret123"}

	w := app.do(http.MethodPost, "/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "password")

	w = app.do(http.MethodPost, "/auth/register", "", creds)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = app.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(http.MethodPost, "/auth/login", "", creds)
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.AccessToken)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "papyrus_token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, login.AccessToken, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	w = app.do(http.MethodGet, "/users/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"email":"alice@example.com"`)

	w = app.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": login.RefreshToken})
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(http.MethodPost, "/auth/logout", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 登出后 Token 失效
	w = app.do(http.MethodGet, "/users/me", login.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChangePassword(t *testing.T) {
	app := newTestApp(t)
	creds := map[string]string{"email": "bob@example.com", "password": "secret123"}
	require.Equal(t, http.StatusCreated, app.do(http.MethodPost, "/auth/register", "", creds).Code)

	w := app.do(http.MethodPost, "/auth/login", "", creds)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	w = app.do(http.MethodPut, "/users/me/password", login.AccessToken, map[string]string{"old_password": "nope-nope", "new_password": "newsecret"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(http.MethodPut, "/users/me/password", login.AccessToken, map[string]string{"old_password": "secret123", "new_password": "newsecret"})
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "bob@example.com", "password": "newsecret"})
	assert.Equal(t, http.StatusOK, w.Code)
}
