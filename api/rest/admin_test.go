package rest_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/parleycomm/parley/api/rest"
	"github.com/parleycomm/parley/chat/session"
	"github.com/parleycomm/parley/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAdminRouter(t *testing.T, adminKey string) (*gin.Engine, *session.Manager) {
	db := testutil.SetupTestDB(t)
	sm := session.NewManager(zap.NewNop())
	h := rest.NewAdminHandler(db, sm, zap.NewNop())

	r := gin.New()
	grp := r.Group("/api/admin", rest.AdminAuth(adminKey))
	grp.GET("/metrics", h.Metrics)
	grp.GET("/online", h.ListOnline)
	grp.POST("/kick/:username", h.KickUser)
	return r, sm
}

func TestAdminAuth_EmptyKeyDisablesRoutes(t *testing.T) {
	r, _ := newAdminRouter(t, "")
	w := doJSON(r, http.MethodGet, "/api/admin/metrics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminAuth_WrongKey(t *testing.T) {
	r, _ := newAdminRouter(t, "secret")
	w := doJSON(r, http.MethodGet, "/api/admin/metrics", nil, "X-Admin-Key", "nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsAndOnline(t *testing.T) {
	r, sm := newAdminRouter(t, "secret")
	sm.Register(&session.Session{
		Username: "alice",
		SendChan: make(chan []byte, 8),
		Done:     make(chan struct{}),
	})

	w := doJSON(r, http.MethodGet, "/api/admin/metrics", nil, "X-Admin-Key", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	var metrics map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.EqualValues(t, 1, metrics["online_sessions"])

	w = doJSON(r, http.MethodGet, "/api/admin/online", nil, "X-Admin-Key", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	var online map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &online))
	assert.EqualValues(t, 1, online["count"])
}

func TestKickUser_NotOnline(t *testing.T) {
	r, _ := newAdminRouter(t, "secret")
	w := doJSON(r, http.MethodPost, "/api/admin/kick/ghost", nil, "X-Admin-Key", "secret")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
