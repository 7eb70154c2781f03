package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parleycomm/parley/api/rest"
	"github.com/parleycomm/parley/audit"
	mw "github.com/parleycomm/parley/middleware"
	"github.com/parleycomm/parley/testutil"
	"github.com/parleycomm/parley/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(t *testing.T) *gin.Engine {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	tokens := token.NewService("test-secret", 72*time.Hour)
	auditSvc := audit.New(db, zap.NewNop())
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	h := rest.NewAuthHandler(db, c, tokens, auditSvc)
	r := gin.New()
	r.POST("/api/auth/register", h.Register)
	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/logout", mw.Auth(tokens, c), h.Logout)
	r.GET("/api/auth/me", mw.Auth(tokens, c), h.Me)
	return r
}

func doJSON(r *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func creds(username, password string) map[string]string {
	return map[string]string{"username": username, "password": password}
}

func TestRegisterThenLogin(t *testing.T) {
	r := newAuthRouter(t)

	w := doJSON(r, http.MethodPost, "/api/auth/register", creds("alice", "pass1234"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodPost, "/api/auth/login", creds("alice", "pass1234"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
	assert.Equal(t, "alice", resp["username"])
}

func TestRegisterDuplicateUsername(t *testing.T) {
	r := newAuthRouter(t)

	w := doJSON(r, http.MethodPost, "/api/auth/register", creds("bob", "pass1234"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodPost, "/api/auth/register", creds("bob", "other123"))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	r := newAuthRouter(t)

	doJSON(r, http.MethodPost, "/api/auth/register", creds("carol", "correct1"))
	w := doJSON(r, http.MethodPost, "/api/auth/login", creds("carol", "wrong123"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginUnknownUser(t *testing.T) {
	r := newAuthRouter(t)
	w := doJSON(r, http.MethodPost, "/api/auth/login", creds("nobody", "pass1234"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	r := newAuthRouter(t)

	doJSON(r, http.MethodPost, "/api/auth/register", creds("dave", "pass1234"))
	w := doJSON(r, http.MethodPost, "/api/auth/login", creds("dave", "pass1234"))
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	tokenStr := resp["token"].(string)

	w2 := doJSON(r, http.MethodPost, "/api/auth/logout", nil, "Authorization", "Bearer "+tokenStr)
	assert.Equal(t, http.StatusOK, w2.Code)

	// Second attempt with same token should fail (session removed)
	w3 := doJSON(r, http.MethodPost, "/api/auth/logout", nil, "Authorization", "Bearer "+tokenStr)
	assert.Equal(t, http.StatusUnauthorized, w3.Code)
}

func TestMe(t *testing.T) {
	r := newAuthRouter(t)

	doJSON(r, http.MethodPost, "/api/auth/register", creds("erin", "pass1234"))
	w := doJSON(r, http.MethodPost, "/api/auth/login", creds("erin", "pass1234"))
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	tokenStr := resp["token"].(string)

	w2 := doJSON(r, http.MethodGet, "/api/auth/me", nil, "Authorization", "Bearer "+tokenStr)
	require.Equal(t, http.StatusOK, w2.Code)

	var me map[string]interface{}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &me))
	assert.Equal(t, "erin", me["username"])
	assert.Equal(t, []interface{}{"USER"}, me["roles"])
}

func TestMe_NoToken(t *testing.T) {
	r := newAuthRouter(t)
	w := doJSON(r, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
