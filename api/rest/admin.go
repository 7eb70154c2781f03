package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/parleycomm/parley/chat/session"
	"github.com/parleycomm/parley/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	sm     *session.Manager
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, sm *session.Manager, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, sm: sm, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var users, channels, messages int64
	h.db.Model(&model.User{}).Count(&users)
	h.db.Model(&model.Channel{}).Count(&channels)
	h.db.Model(&model.Message{}).Count(&messages)
	c.JSON(http.StatusOK, gin.H{
		"online_sessions": h.sm.Count(),
		"users":           users,
		"channels":        channels,
		"messages":        messages,
	})
}

// ListOnline returns the usernames with at least one active session.
// GET /api/admin/online
func (h *AdminHandler) ListOnline(c *gin.Context) {
	users := h.sm.OnlineUsers()
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// KickUser forcibly disconnects every session of a user.
// POST /api/admin/kick/:username
func (h *AdminHandler) KickUser(c *gin.Context) {
	username := c.Param("username")
	closed := h.sm.CloseUser(username)
	if closed == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not online"})
		return
	}
	h.logger.Info("admin kicked user",
		zap.String("username", username),
		zap.Int("sessions", closed))
	c.JSON(http.StatusOK, gin.H{"ok": true, "sessions": closed})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
