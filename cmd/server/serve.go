package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bini59/kiko-vooster/internal/cache"
	"github.com/bini59/kiko-vooster/internal/config"
	"github.com/bini59/kiko-vooster/internal/database"
	"github.com/bini59/kiko-vooster/internal/handler"
	"github.com/bini59/kiko-vooster/internal/middleware"
	"github.com/bini59/kiko-vooster/internal/queue"
	"github.com/bini59/kiko-vooster/internal/realtime"
	"github.com/bini59/kiko-vooster/internal/repository"
	"github.com/bini59/kiko-vooster/internal/router"
	"github.com/bini59/kiko-vooster/internal/service"
	"github.com/bini59/kiko-vooster/internal/utils"
	"github.com/bini59/kiko-vooster/internal/worker"
)

// runServe wires every component and blocks until ctx is cancelled.
func runServe(ctx context.Context) error {
	cfg := config.Load()
	log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := openDB(cfg)
	if err != nil {
		log.WithError(err).Error("database connection failed")
		return err
	}
	defer db.Close()
	if cfg.DBDriver == database.DriverSQLite {
		// local development: keep the file schema current
		if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
			return err
		}
	}

	// Redis is optional: without it the cache lives in process memory and
	// rate limiting is off.
	rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig())
	if err != nil {
		log.WithError(err).Warn("redis unavailable, using in-memory cache and no rate limit")
	} else {
		defer rdb.Close()
	}
	mappingCache := newCache(rdb, log)

	manager := realtime.NewManager(log, realtime.ManagerOptions{
		SendTimeout: cfg.SendTimeout,
		Concurrency: cfg.BroadcastConcurrency,
	})
	room := realtime.NewRoomNotifier(manager, log)
	var notifier service.Notifier = room
	if cfg.BrokerEnabled {
		// every node, this one included, broadcasts what it consumes
		pub := queue.NewPublisher(cfg.RabbitMQURL, cfg.SyncExchange, room, log)
		defer pub.Close()
		notifier = pub
		go func() {
			if err := queue.NewConsumer(cfg.RabbitMQURL, cfg.SyncExchange, room, log).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("mapping consumer stopped")
			}
		}()
		log.WithField("exchange", cfg.SyncExchange).Info("mapping events fan out through rabbitmq")
	}

	hostname, _ := os.Hostname()
	mappings := service.NewMappingService(
		repository.NewMappingRepo(db),
		repository.NewSentenceRepo(db),
		mappingCache,
		log,
		service.MappingOptions{
			CacheTTL:     cfg.MappingCacheTTL,
			StoreTimeout: cfg.StoreTimeout,
			OutboxSize:   cfg.OutboxSize,
			Notifier:     notifier,
			Origin:       hostname,
		},
	)
	sessions := service.NewSessionService(repository.NewSessionRepo(db), repository.NewUserRepo(db), log, cfg.StoreTimeout)

	dispatcher := worker.NewDispatcher(cfg.Workers, cfg.WorkerQueueSize, log)
	dispatcher.Run()
	defer dispatcher.Stop()

	// durable sessions of a socket end with the socket
	manager.OnDisconnect(func(c *realtime.Connection) {
		connID := c.ID
		dispatcher.Submit(worker.JobFunc{
			Name: "end-connection:" + connID,
			Fn: func(ctx context.Context) error {
				_, err := sessions.EndConnection(ctx, connID)
				return err
			},
		})
	})

	coordinator := realtime.NewCoordinator(manager, utils.TokenResolver{Secret: cfg.JWTSecret}, sessions, dispatcher, log, realtime.CoordinatorOptions{
		ReceiveTimeout: cfg.WSReceiveTimeout,
		MaxMissedPings: cfg.WSMaxMissedPings,
	})

	bg, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()
	go mappings.Run(bg)
	go manager.RunJanitor(bg, cfg.WSCleanupInterval, cfg.WSInactiveTimeout)

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))

	router.RegisterRoutes(e)
	router.RegisterSync(e,
		handler.NewSyncHandler(mappings, sessions),
		handler.NewHealthHandler(db, mappingCache, manager),
		cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
	)
	router.RegisterWebSocket(e, handler.NewWSHandler(coordinator, log))

	addr := ":" + cfg.Port // Address string with port
	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "driver": cfg.DBDriver}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			log.WithError(err).Error("http server failed")
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked sockets are not tracked by the http server
	closed := manager.CloseAll()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	log.WithField("websockets", closed).Info("server stopped")
	return nil
}

func newCache(rdb *redis.Client, log logrus.FieldLogger) cache.Cache {
	cc := config.LoadCacheConfig()
	if !cc.Enabled || rdb == nil {
		return cache.NewMemory()
	}
	log.WithField("prefix", cc.Prefix).Info("mapping cache backed by redis")
	return cache.NewRedis(rdb, cc.Prefix)
}
