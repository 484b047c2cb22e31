package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"neighbourhood-chat/internal/cache"
	"neighbourhood-chat/internal/config"
	"neighbourhood-chat/internal/dataaccess"
	"neighbourhood-chat/internal/db"
	"neighbourhood-chat/internal/handlers"
	"neighbourhood-chat/internal/health"
	"neighbourhood-chat/internal/ids"
	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/middleware"
	"neighbourhood-chat/internal/models"
	"neighbourhood-chat/internal/observability"
	"neighbourhood-chat/internal/postcommit"
	"neighbourhood-chat/internal/rabbitmq"
	"neighbourhood-chat/internal/repositories"
	"neighbourhood-chat/internal/services"
	"neighbourhood-chat/internal/telemetry"
	"neighbourhood-chat/internal/tracing"
	"neighbourhood-chat/internal/ws"
)

const (
	auditRoutingKey = "audit.chat"
	userCacheTTL    = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	logger.Init(cfg.Env, cfg.ServiceName)
	log := logger.Get()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	database, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid redis url")
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	auditStream := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.ServiceName, cfg.Env)

	exec := dataaccess.NewExecutor(dataaccess.Policy{
		Timeout:        cfg.DBOpTimeout,
		MaxRetries:     cfg.DBMaxRetries,
		InitialBackoff: cfg.DBRetryBackoff,
		SlowThreshold:  cfg.SlowOpThreshold,
	})
	clock := ids.NewClock()

	groupRepo := repositories.NewGroupRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	moderationRepo := repositories.NewModerationRepo(database)
	notificationRepo := repositories.NewNotificationRepo(database)
	auditRepo := repositories.NewAuditRepo(database)
	users := cache.NewUsers(repositories.NewUserRepo(database), redisClient, userCacheTTL)

	hub := ws.NewHub(redisClient)
	hub.Start()

	dispatcher := postcommit.New(1024, cfg.DBOpTimeout)
	dispatcher.Start()

	notifier := services.NewNotificationEmitter(notificationRepo, hub, publisher, exec, clock)
	chatService := services.NewChatService(services.ChatDeps{
		Groups:     groupRepo,
		Messages:   messageRepo,
		Users:      users,
		Hub:        hub,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Exec:       exec,
		Clock:      clock,
		SlowSend:   cfg.SlowSendWarning,
	})
	groupService := services.NewGroupService(groupRepo, messageRepo, users, chatService, exec, clock)
	reactionService := services.NewReactionService(groupRepo, messageRepo, auditRepo, exec, clock)
	moderationService := services.NewModerationService(moderationRepo, messageRepo, groupRepo, auditRepo, auditStream, exec, clock)

	handlers.ExposeErrorDebug(cfg.IsDevelopment())
	chatHandler := handlers.NewChatHandler(chatService, reactionService, moderationService)
	groupHandler := handlers.NewGroupHandler(groupService, auditStream)
	moderationHandler := handlers.NewModerationHandler(moderationService)

	tokens := middleware.NewTokenManager(cfg.JWTSecret)
	wsHandler := ws.NewHandler(hub, tokens, groupRepo)

	checker := health.NewChecker(2 * time.Second)
	checker.Add("postgres", database.PingContext)
	if redisClient != nil {
		checker.Add("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestLogger())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", checker.Handler())
	router.GET("/ws", wsHandler.Handle)
	handlers.RegisterDebugRoutes(router, auditStream, publisher, cfg.DebugRoutes)

	api := router.Group("/api", middleware.Timeout(cfg.RequestTimeout), middleware.Auth(tokens))

	chat := api.Group("/chat")
	chat.GET("/groups", groupHandler.ListGroups)
	chat.POST("/groups", groupHandler.CreateGroup)
	chat.GET("/groups/:id/messages", chatHandler.GetGroupMessages)
	chat.POST("/groups/:id/messages", chatHandler.PostGroupMessage)
	chat.POST("/groups/:id/join", groupHandler.JoinGroup)
	chat.POST("/groups/:id/leave", groupHandler.LeaveGroup)
	chat.GET("/groups/:id/members", groupHandler.ListMembers)
	chat.POST("/messages/:id/react", chatHandler.ToggleReaction)
	chat.DELETE("/messages/:id/reactions", chatHandler.ClearReactions)
	chat.POST("/messages/:id/report", chatHandler.ReportMessage)

	moderation := api.Group("/moderation", middleware.RequireAdmin())
	moderation.GET("/flagged", moderationHandler.ListFlagged)
	for _, action := range []string{models.ActionApprove, models.ActionArchive, models.ActionRemove} {
		moderation.POST("/:contentType/:id/"+action, moderationHandler.Moderate(action))
	}
	moderation.GET("/:contentType/:id/audit", moderationHandler.AuditHistory)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	grpcServer := checker.NewGRPCServer()
	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen for grpc health")
	}
	go func() {
		log.Info().Str("addr", grpcListener.Addr().String()).Msg("grpc health listening")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("grpc health server error")
		}
	}()
	go checker.Watch(ctx, 15*time.Second)

	<-ctx.Done()
	log.Info().Msg("shutting down")
	checker.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	grpcServer.GracefulStop()
	dispatcher.Stop()
	hub.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("server exited")
}
