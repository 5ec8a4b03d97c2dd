package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	apirest "github.com/emberlink/chatd/api/rest"
	"github.com/emberlink/chatd/api/sse"
	apows "github.com/emberlink/chatd/api/ws"
	"github.com/emberlink/chatd/audit"
	"github.com/emberlink/chatd/cache"
	"github.com/emberlink/chatd/chat/notify"
	"github.com/emberlink/chatd/chat/session"
	"github.com/emberlink/chatd/config"
	dbadapter "github.com/emberlink/chatd/db"
	"github.com/emberlink/chatd/friendship"
	"github.com/emberlink/chatd/message"
	mw "github.com/emberlink/chatd/middleware"
	"github.com/emberlink/chatd/model"
	"github.com/emberlink/chatd/room"
	"github.com/emberlink/chatd/scheduler"
	"github.com/gin-gonic/gin"
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

	if cfg.Security.JWTSecret == "" {
		logger.Warn("security.jwt_secret is not set; using an empty secret is unsafe outside development")
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
	defer auditSvc.Stop(context.Background())

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

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Core services ----
	sm := session.NewManager(logger)
	defer sm.CloseAll()

	messages := message.NewStore(db, logger)
	friends := friendship.NewService(db, logger)
	rooms := room.NewService(db, messages, cfg.Database.TxRetries, logger)
	dispatcher := notify.NewDispatcher(sm, pubsub, c, cfg.Chat, logger)

	// ---- Periodic tasks ----
	// Mirror the set of online users into the cache so other processes
	// (and the REST search handlers) can read presence without holding a
	// reference to the session manager.
	sched.AddTicker("presence_sweep", 30*time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		online := make(map[string]struct{})
		for _, id := range sm.OnlineUsers() {
			online[strconv.FormatInt(id, 10)] = struct{}{}
		}

		// Diff against the cached set so readers never observe it emptied
		// mid-sweep.
		cached, err := c.SMembers(ctx, notify.OnlineUsersKey)
		if err != nil {
			logger.Warn("presence sweep: read failed", zap.Error(err))
			return
		}
		var stale []string
		for _, m := range cached {
			if _, ok := online[m]; !ok {
				stale = append(stale, m)
			}
		}
		if len(stale) > 0 {
			if err := c.SRem(ctx, notify.OnlineUsersKey, stale...); err != nil {
				logger.Warn("presence sweep: prune failed", zap.Error(err))
			}
		}
		if len(online) > 0 {
			members := make([]string, 0, len(online))
			for m := range online {
				members = append(members, m)
			}
			if err := c.SAdd(ctx, notify.OnlineUsersKey, members...); err != nil {
				logger.Warn("presence sweep: write failed", zap.Error(err))
			}
		}
	})
	sched.AddTicker("connection_stats", 5*time.Minute, func() {
		auditSvc.Log(audit.Entry{
			TraceID: "scheduler",
			Action:  "connection_stats",
			Response: map[string]interface{}{
				"sessions":     sm.Count(),
				"online_users": len(sm.OnlineUsers()),
			},
		})
	})

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	chatWSH := apows.NewChatHandlers(rooms, sm, dispatcher, cfg.Chat, logger)
	chatWSH.RegisterHandlers(wsRouter)

	// ---- Gin HTTP server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{
			"status": "ok",
			"tasks":  sched.ListTickers(),
		})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	userH := apirest.NewUserHandler(db, friends, c, auditSvc)
	chatH := apirest.NewChatHandler(db, rooms, friends, dispatcher, auditSvc)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		usersG := api.Group("/users")
		usersG.Use(mw.Auth(cfg.Security, c))
		usersG.GET("/me", userH.Me)
		usersG.GET("/search", userH.Search)
		usersG.GET("/friends", userH.ListFriends)
		usersG.POST("/friends", userH.RequestFriend)
		usersG.GET("/friends/requests/incoming", userH.ListIncoming)
		usersG.GET("/friends/requests/outgoing", userH.ListOutgoing)
		usersG.PATCH("/friends/requests/:id", userH.UpdateFriendRequest)
		usersG.DELETE("/friends/requests/:id", userH.CancelFriendRequest)
		usersG.DELETE("/friends/:friendId", userH.RemoveFriend)

		chatsG := api.Group("/chats")
		chatsG.Use(mw.Auth(cfg.Security, c))
		chatsG.POST("/group", chatH.CreateGroup)
		chatsG.GET("/group", chatH.ListGroups)
		chatsG.GET("/group/:roomId/members", chatH.ListMembers)
		chatsG.GET("/dms", chatH.ListDMs)
		chatsG.POST("/dms/:friendId", chatH.CreateOrGetDM)
		chatsG.GET("/invite/:roomId/members", chatH.InviteCandidates)
		chatsG.POST("/invite/:roomId/members", chatH.InviteMembers)
		chatsG.GET("/:roomId/messages", chatH.ListMessages)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(c, cfg.Security, sm, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
