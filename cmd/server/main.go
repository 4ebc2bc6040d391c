package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"shopsys/internal/cache"
	"shopsys/internal/config"
	"shopsys/internal/events"
	httpapi "shopsys/internal/http"
	"shopsys/internal/repository"
	"shopsys/internal/service"

	_ "shopsys/docs"
)

// @title Shop order API
// @version 1.0
// @description Product catalog and order entry.
// @BasePath /api/v1
func main() {
	cfg, err := config.Load()
	if err != nil {
		_ = config.Usage()
		log.WithError(err).Fatal("configuration")
	}
	if err := config.SetupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.WithError(err).Fatal("logging")
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.WithError(err).Fatal("configuration")
	}

	ctx := context.Background()
	dialect, err := repository.ParseDialect(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("configuration")
	}
	repos, err := repository.Open(ctx, dialect, cfg.DatabaseDSN, cfg.Migrate)
	if err != nil {
		log.WithError(err).Fatal("open storage")
	}
	defer repos.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, product types are cached in process")
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}
	typeCache := cache.NewProductTypes(redisClient, cfg.CacheTTL)

	var dispatcher service.EventDispatcher = events.NewLogDispatcher(log.StandardLogger())
	if cfg.AMQPURL != "" {
		pub, err := events.DialRabbit(ctx, cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.WithError(err).Fatal("connect rabbitmq")
		}
		defer pub.Close()
		dispatcher = pub
	}

	productsSvc := service.NewProductService(repos.Catalog, typeCache, cfg.PageSize)
	ordersSvc := service.NewOrderService(repos.Catalog, repos.Orders, repos.Tx,
		service.WithLocation(loc),
		service.WithSerializedOrders(cfg.SerializeOrders || repos.SerializesOrders),
		service.WithEvents(dispatcher),
	)
	usersSvc := service.NewUserService(repos.Users, 0)
	sessions := httpapi.NewSessionStore(cfg.SessionKeyBytes(), cfg.CookieSecure)

	srv := httpapi.NewServer(productsSvc, ordersSvc, usersSvc, sessions)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Engine(),
	}

	go func() {
		log.WithFields(log.Fields{"addr": httpServer.Addr, "storage": cfg.Storage}).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
