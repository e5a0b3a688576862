package controllers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zaqqye/proctor_backend_v1/internal/middleware"
	"github.com/zaqqye/proctor_backend_v1/internal/models"
	"github.com/zaqqye/proctor_backend_v1/internal/utils"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	ac := &AuthController{DB: db, JWTSecret: "test-secret", ExpiresIn: time.Hour}
	authMW := middleware.AuthMiddleware(db, middleware.AuthConfig{JWTSecret: "test-secret", JWTExpiresIn: time.Hour})

	r := gin.New()
	r.POST("/api/v1/auth/login", ac.Login)
	r.GET("/api/v1/auth/me", authMW, ac.Me)
	r.POST("/api/v1/admin/users", authMW, middleware.RequireRoles("admin"), ac.Register)
	return r, db
}

func seedUser(t *testing.T, db *gorm.DB, email, password, role string, active bool) {
	t.Helper()
	pw, err := utils.HashPassword(password)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.User{
		UserID:   uuid.NewString(),
		FullName: "Test User",
		Email:    email,
		Password: pw,
		Role:     role,
		Active:   active,
	}).Error)
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, r *gin.Engine, email, password string) (string, int) {
	t.Helper()
	w := postJSON(t, r, "/api/v1/auth/login", gin.H{"email": email, "password": password}, "")
	if w.Code != http.StatusOK {
		return "", w.Code
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken, w.Code
}

func TestLoginAndMe(t *testing.T) {
	r, db := newAuthRouter(t)
	seedUser(t, db, "reviewer@example.com", "secret123", "reviewer", true)

	token, code := login(t, r, "reviewer@example.com", "secret123")
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reviewer@example.com")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	r, db := newAuthRouter(t)
	seedUser(t, db, "reviewer@example.com", "secret123", "reviewer", true)
	seedUser(t, db, "inactive@example.com", "secret123", "reviewer", false)

	_, code := login(t, r, "reviewer@example.com", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	_, code = login(t, r, "nobody@example.com", "secret123")
	assert.Equal(t, http.StatusUnauthorized, code)

	_, code = login(t, r, "inactive@example.com", "secret123")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRegisterRequiresAdmin(t *testing.T) {
	r, db := newAuthRouter(t)
	seedUser(t, db, "admin@example.com", "secret123", "admin", true)
	seedUser(t, db, "reviewer@example.com", "secret123", "reviewer", true)

	adminToken, code := login(t, r, "admin@example.com", "secret123")
	require.Equal(t, http.StatusOK, code)
	reviewerToken, code := login(t, r, "reviewer@example.com", "secret123")
	require.Equal(t, http.StatusOK, code)

	body := gin.H{"full_name": "New Reviewer", "email": "new@example.com", "password": "secret123"}

	w := postJSON(t, r, "/api/v1/admin/users", body, reviewerToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = postJSON(t, r, "/api/v1/admin/users", body, adminToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"role":"reviewer"`)

	w = postJSON(t, r, "/api/v1/admin/users", gin.H{
		"full_name": "Bad Role", "email": "bad@example.com", "password": "secret123", "role": "student",
	}, adminToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
