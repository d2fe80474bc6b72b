package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"codecollab/internal/cache"
	"codecollab/internal/collab"
	"codecollab/internal/config"
	"codecollab/internal/httpapi/handlers"
	"codecollab/internal/httpapi/middleware"
	"codecollab/internal/store"
	"codecollab/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis connect failed: %v", err)
	}
	defer rdb.Close()

	st, err := store.Open(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("mysql connect failed: %v", err)
	}

	// audit stream is best-effort: run without it when no brokers configured
	var dispatcher *collab.Dispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("kafka connect failed: %v", err)
		}
		defer producer.Close()
		dispatcher = collab.NewDispatcher(producer, cfg.Kafka.Topic, collab.NewSemaphore(100), collab.DispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  time.Second,
		})
		defer dispatcher.Close()
	}

	opts := collab.DefaultOptions()
	opts.MaxParticipantsCeiling = cfg.Collab.MaxParticipantsCeiling
	opts.ViewersUnlimited = cfg.Collab.ViewersUnlimited
	opts.MaxConcurrentSubmits = cfg.Collab.MaxConcurrentSubmits
	opts.RingSize = cfg.Collab.RingSize
	opts.FlushInterval = cfg.Collab.FlushInterval
	opts.FlushEveryOps = cfg.Collab.FlushEveryOps
	opts.IdleTimeout = cfg.Collab.IdleTimeout
	opts.ReconnectGrace = cfg.Collab.ReconnectGrace

	svc := collab.NewService(st, st, dispatcher, opts)
	hub := ws.NewHub()
	svc.SetBroadcaster(hub)
	presence := collab.NewPresenceBroadcaster(cache.NewRedisPresence(rdb), hub, cfg.Collab.CoalesceWindow, cfg.Collab.PresenceTTL)
	manager := ws.NewManager(hub, svc, presence, cfg.Collab.HeartbeatTimeout)
	sessions := handlers.NewSessions(svc)
	sessions.SetPresence(presence)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	authed := r.Group("/", middleware.Identity([]byte(cfg.Auth.Secret)))
	authed.POST("/sessions", sessions.Create)
	authed.POST("/sessions/:id/join", sessions.Join)
	authed.POST("/sessions/:id/leave", sessions.Leave)
	authed.GET("/sessions/:id", sessions.Get)
	authed.GET("/sessions/:id/participants", sessions.Participants)
	authed.GET("/sessions/:id/chat", sessions.ChatHistory)
	authed.PATCH("/sessions/:id/settings", sessions.UpdateSettings)
	authed.DELETE("/sessions/:id", sessions.Close)
	authed.GET("/collab/ws", manager.Serve)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := svc.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Printf("collab server listening on :%d", cfg.Running.Port)
	if err := g.Wait(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
