package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	apirest "github.com/parleycomm/parley/api/rest"
	"github.com/parleycomm/parley/api/sse"
	apiws "github.com/parleycomm/parley/api/ws"
	"github.com/parleycomm/parley/audit"
	"github.com/parleycomm/parley/cache"
	"github.com/parleycomm/parley/chat/conversation"
	"github.com/parleycomm/parley/chat/friends"
	"github.com/parleycomm/parley/chat/notify"
	"github.com/parleycomm/parley/chat/session"
	"github.com/parleycomm/parley/config"
	dbadapter "github.com/parleycomm/parley/db"
	mw "github.com/parleycomm/parley/middleware"
	"github.com/parleycomm/parley/model"
	"github.com/parleycomm/parley/token"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(nil)

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Chat Core ----
	tokens := token.NewService(cfg.Security.JWTSecret, cfg.Security.JWTTTL)
	sm := session.NewManager(logger)
	defer sm.CloseAll()
	router := notify.NewRouter(sm, pubsub, logger)

	convSvc := conversation.NewService(db, router, c, cfg.Chat, logger)
	friendSvc := friends.NewService(db, router, logger)

	// ---- WS Router ----
	wsRouter := apiws.NewRouter(logger)
	apiws.NewConversationHandlers(convSvc, logger).RegisterHandlers(wsRouter)
	apiws.NewFriendsHandlers(friendSvc, logger).RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, tokens, auditSvc)
	adminH := apirest.NewAdminHandler(db, sm, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(tokens, c), authH.Logout)
		authG.GET("/me", mw.Auth(tokens, c), authH.Me)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/online", adminH.ListOnline)
		adminG.POST("/kick/:username", adminH.KickUser)
	}

	// ---- WebSocket ----
	wsH := apiws.NewHandler(c, cfg.Security, tokens, sm, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE fallback ----
	sseH := sse.NewHandler(pubsub, c, tokens, logger)
	r.GET("/api/events", sseH.ServeEvents)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server starting", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
