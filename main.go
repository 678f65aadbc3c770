package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"roomchat/internal/chat"
	"roomchat/internal/config"
	"roomchat/internal/db"
	grpcserver "roomchat/internal/grpc"
	"roomchat/internal/handlers"
	"roomchat/internal/middleware"
	"roomchat/internal/models"
	"roomchat/internal/observability"
	"roomchat/internal/rabbitmq"
	"roomchat/internal/repositories"
	"roomchat/internal/telemetry"
	"roomchat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment, logger)
	if err != nil {
		logger.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	transient := repositories.NewMemoryStore()
	pingers := map[string]grpcserver.Pinger{"memory": transient}
	var durable repositories.Store
	if cfg.DatabaseDSN != "" {
		database, err := db.Connect(cfg.DatabaseDSN, logger)
		if err != nil {
			logger.Error("failed to connect to db", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		pg := repositories.NewPostgresStore(database, logger)
		durable = pg
		pingers["postgres"] = pg
	} else {
		logger.Info("no DB_DSN set, persistent rooms stay in memory")
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	logger.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "noop_reason", rabbitmq.PublisherNoopReason(publisher))
	events := observability.NewEventPublisher(publisher, logger)
	auditor := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment, logger)

	// DMs are durable whenever a database is configured.
	dmStore := repositories.Store(transient)
	if durable != nil {
		dmStore = durable
	}

	rooms := chat.NewRoomManager(transient, durable, chat.RoomOptions{
		DefaultMaxUsers:   cfg.DefaultMaxUsers,
		MaxUsersLimit:     cfg.MaxUsersLimit,
		CodeLength:        cfg.RoomCodeLength,
		PersistentRoomTTL: cfg.PersistentRoomTTL,
	}, logger)
	messages := chat.NewMessageManager(rooms, transient, durable, chat.MessageOptions{
		TTL:           cfg.MessageTTL,
		EditWindow:    cfg.EditWindow,
		SweepInterval: cfg.ExpirySweepInterval,
	}, logger)
	rooms.SetPurger(messages)
	conversations := chat.NewConversationManager(dmStore, cfg.EditWindow, nil, logger)

	if _, err := rooms.Restore(ctx); err != nil {
		logger.Error("failed to restore rooms", "error", err)
		os.Exit(1)
	}
	if _, err := messages.Restore(ctx, rooms.ListRooms(ctx)); err != nil {
		logger.Error("failed to restore message expirations", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(events, logger)
	messages.SetOnExpired(func(_ context.Context, e chat.Expiration) {
		hub.BroadcastRoom(e.RoomID, models.RoomEvent{Type: models.EventMessageExpired, MessageID: e.MessageID})
	})
	messages.Start(ctx)
	defer messages.Close()
	go rooms.RunCleanup(ctx, cfg.RoomCleanupInterval)

	roomHandler := handlers.NewRoomHandler(rooms, messages, hub, auditor, cfg.PublicBaseURL, logger)
	messageHandler := handlers.NewMessageHandler(rooms, messages, hub, auditor, logger)
	conversationHandler := handlers.NewConversationHandler(conversations, hub, logger)
	roomWS := ws.NewRoomWebSocketHandler(hub, rooms, messages, logger)
	userWS := ws.NewUserWebSocketHandler(hub)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger))
	router.Use(observability.HTTPMetricsMiddleware())

	handlers.RegisterRoutes(router, roomHandler, messageHandler, conversationHandler)
	handlers.RegisterDebugRoutes(router, auditor, cfg.DebugRoutes)
	router.GET("/ws/rooms/:room", roomWS.Handle)
	router.GET("/ws/users/:user_id", userWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": len(rooms.ListRooms(c.Request.Context()))})
	})

	healthServer := grpcserver.NewHealthServer(pingers, 15*time.Second, logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("failed to listen for grpc", "port", cfg.GRPCPort, "error", err)
		os.Exit(1)
	}
	go func() {
		if err := healthServer.Serve(ctx, lis); err != nil {
			logger.Error("grpc server error", "error", err)
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info("http server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}
