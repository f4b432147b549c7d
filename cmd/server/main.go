package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echoframe/internal/core/ports"
	"echoframe/internal/core/services"
	httphandlers "echoframe/internal/handlers/http"
	roombackup "echoframe/internal/infrastructure/backup"
	"echoframe/internal/infrastructure/catalog"
	"echoframe/internal/infrastructure/distributed"
	"echoframe/internal/infrastructure/events"
	"echoframe/internal/infrastructure/messaging"
	"echoframe/internal/infrastructure/middleware"
	"echoframe/internal/infrastructure/monitoring"
	"echoframe/internal/infrastructure/repositories"
	wsgateway "echoframe/internal/infrastructure/signal"
	"echoframe/pkg/backup"
	"echoframe/pkg/config"
	"echoframe/pkg/logger"
	"echoframe/pkg/tracing"
	"echoframe/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const backupFormatVersion = "1"

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/echoframe/config.yaml",
	"config.yaml",
}

func main() {
	configFlag := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, cfgErr := loadConfig(*configFlag)

	zapLogger := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if cfgErr != nil {
		log.Warnw("using default configuration", "error", cfgErr)
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = utils.NewInstanceID()
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SamplingRate,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
		tp = &tracing.TracerProvider{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics ports.Metrics = ports.NopMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(reg)
	}

	// Storage
	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	roomRepo := repoFactory.CreateRoomRepository()
	persister := services.NewPersister(roomRepo, cfg.Room.PersistDebounce, zapLogger)

	var scheduler *roombackup.Scheduler
	if cfg.Backup.Enabled {
		backups, err := newBackupService(ctx, cfg)
		if err != nil {
			log.Errorw("room backups disabled", "error", err)
		} else {
			if cfg.Backup.RestoreOnStart {
				restorer := roombackup.NewRestoreService(backups, roomRepo, log.Named("backup"))
				if _, err := restorer.RestoreLatest(ctx); err != nil {
					log.Errorw("failed to restore rooms from backup", "error", err)
				}
			}
			scheduler = roombackup.NewScheduler(backups, roomRepo, repoFactory.RedisClient(), roombackup.Config{
				Interval:  cfg.Backup.Interval,
				Retention: cfg.Backup.Retention,
			}, log.Named("backup"))
			go scheduler.Start(ctx)
		}
	}

	// Room ownership. With a shared Redis every room has exactly one
	// writer; without it this process is the only instance.
	var leases *distributed.RoomLeases
	var bus *distributed.EventBus
	if client := repoFactory.RedisClient(); client != nil {
		leases = distributed.NewRoomLeases(client, cfg.Redis.LeaseTTL)
		bus = distributed.NewEventBus(client, cfg.Server.InstanceID, log.Named("cluster"))
	}

	// Event fan-out
	var sinks []ports.EventSink
	var broker *messaging.RabbitMQ
	if cfg.Broker.Enabled {
		broker, err = messaging.NewRabbitMQ(cfg.Broker.URI, cfg.Broker.Exchange, log.Named("amqp"))
		if err != nil {
			log.Warnw("room events will not be forwarded to the broker", "error", err)
		} else {
			sinks = append(sinks, broker)
		}
	}
	publisher := events.NewAsyncPublisher(events.Config{
		QueueSize:   cfg.Events.QueueSize,
		Workers:     cfg.Events.Workers,
		MaxAttempts: cfg.Events.MaxAttempts,
		BaseDelay:   cfg.Events.BaseDelay,
		MaxDelay:    cfg.Events.MaxDelay,
	}, metrics, zapLogger, sinks...)

	// Rooms
	opts := []services.RegistryOption{
		services.WithMetrics(metrics),
		services.WithPersister(persister),
	}
	if leases != nil {
		opts = append(opts, services.WithOwnership(leases))
	}
	registry := services.NewRegistry(roomConfig(cfg), publisher, zapLogger, opts...)
	if _, err := registry.Restore(ctx, roomRepo); err != nil {
		log.Errorw("failed to restore rooms", "error", err)
	}
	go persister.Run(ctx)

	janitor := services.NewJanitor(registry, cfg.Room.GCInterval, cfg.Room.SyncInterval)
	if leases != nil {
		janitor.AdoptFrom(roomRepo, cfg.Room.GCInterval)
	}
	janitor.Start(ctx)

	if bus != nil {
		go func() {
			err := bus.Subscribe(ctx, func(ctx context.Context, n distributed.Notice) {
				if n.Type != distributed.NoticeRoomsReleased {
					return
				}
				adopted, err := registry.Restore(ctx, roomRepo)
				if err != nil {
					log.Warnw("failed to adopt released rooms", "from", n.InstanceID, "error", err)
					return
				}
				log.Infow("adopted released rooms", "from", n.InstanceID, "released", len(n.RoomIDs), "adopted", adopted)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("cluster notices stopped", "error", err)
			}
		}()
	}

	videoCatalog := catalog.New(catalog.Config{
		BaseURL:          cfg.Catalog.BaseURL,
		Timeout:          cfg.Catalog.Timeout,
		CacheTTL:         cfg.Catalog.CacheTTL,
		FailureThreshold: cfg.Catalog.FailureThreshold,
		OpenTimeout:      cfg.Catalog.OpenTimeout,
	}, log.Named("catalog"))

	sessions := services.NewSessionManager(registry, cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
	roomService := services.NewRoomService(registry, sessions)
	guestService := services.NewGuestService(registry, sessions)
	permissionService := services.NewPermissionService(registry)
	playbackService := services.NewPlaybackService(registry, videoCatalog)
	requestService := services.NewRequestService(registry)
	chatService := services.NewChatService(registry, permissionService, repoFactory.CreateChatStore(), services.ChatConfig{
		MaxLength:    cfg.Chat.MaxLength,
		HistoryLimit: cfg.Chat.HistoryLimit,
	})
	dispatcher := services.NewDispatcher(guestService, permissionService, playbackService, requestService, chatService, zapLogger)

	// Real-time gateway
	gateway := wsgateway.NewWebSocketServer(wsgateway.Config{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		SendBufferSize:    cfg.Signal.SendBufferSize,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		MessagesPerSecond: wsRate(cfg),
		Burst:             cfg.RateLimiting.WebSocket.Burst,
		AllowedOrigins:    origins(cfg.Auth.AllowedOrigins),
	}, dispatcher, sessions, roomService, guestService, metrics, log.Named("gateway"))
	publisher.Attach(gateway)

	// Health
	checker := monitoring.NewHealthChecker()
	checker.AddRepositoryCheck(roomRepo, cfg.Monitoring.MetricsInterval, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, cfg.Monitoring.MetricsInterval, 2*time.Second)
	}
	checker.StartBackgroundChecks(ctx)

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = reg
	}
	httphandlers.NewHealthHandler(checker, gatherer, gateway.ConnectionCount).SetupRoutes(router)
	httphandlers.NewRoomHandler(roomService, guestService, sessions, dispatcher, cfg.Auth.AdminAPIKey).SetupRoutes(router)
	httphandlers.NewPlaybackHandler(playbackService, requestService, permissionService, sessions, dispatcher).SetupRoutes(router)
	httphandlers.NewChatHandler(chatService, sessions).SetupRoutes(router)
	router.GET("/ws", gin.WrapF(gateway.HandleWebSocket))

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// websocket connections manage their own write deadlines
		WriteTimeout: 0,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting echoframe server", "address", cfg.Server.Address, "instance_id", cfg.Server.InstanceID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down echoframe server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	gateway.Shutdown()
	janitor.Stop()
	publisher.Close()
	persister.Stop()

	// hand the rooms over only after their last snapshot is stored
	released := registry.ReleaseAll(shutdownCtx)
	if bus != nil {
		if err := bus.AnnounceReleased(shutdownCtx, released); err != nil {
			log.Warnw("failed to announce released rooms", "rooms", len(released), "error", err)
		}
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	cancel()

	if broker != nil {
		broker.Close()
	}
	if closer, ok := videoCatalog.(interface{ Close() }); ok {
		closer.Close()
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error flushing traces", "error", err)
	}

	log.Info("echoframe server stopped")
}

// loadConfig tries the explicit path first and then the usual locations.
// On failure it returns the defaults together with the last error.
func loadConfig(explicit string) (*config.Config, error) {
	paths := configPaths
	if explicit != "" {
		paths = []string{explicit}
	}
	var lastErr error
	for _, path := range paths {
		cfg, err := config.Load(path)
		if err == nil {
			return cfg, nil
		}
		lastErr = err
	}
	return config.DefaultConfig(), lastErr
}

func newBackupService(ctx context.Context, cfg *config.Config) (*backup.BackupService, error) {
	var storage backup.Storage
	switch cfg.Backup.Storage {
	case "s3":
		s3cfg := backup.S3Config{
			Bucket:          cfg.Backup.S3.Bucket,
			Region:          cfg.Backup.S3.Region,
			Prefix:          cfg.Backup.S3.Prefix,
			Endpoint:        cfg.Backup.S3.Endpoint,
			AccessKeyID:     cfg.Backup.S3.AccessKeyID,
			SecretAccessKey: cfg.Backup.S3.SecretAccessKey,
		}
		client, err := backup.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		storage = backup.NewS3Storage(client, s3cfg.Bucket, s3cfg.Prefix)
	default:
		fs, err := backup.NewFileStorage(cfg.Backup.Path)
		if err != nil {
			return nil, err
		}
		storage = fs
	}
	return backup.NewBackupService(storage, backupFormatVersion), nil
}

func roomConfig(cfg *config.Config) services.RoomConfig {
	return services.RoomConfig{
		DriftThreshold:      cfg.Room.DriftThreshold,
		GuardWindow:         cfg.Room.GuardWindow,
		SeekTolerance:       cfg.Room.SeekTolerance,
		RequestCooldown:     cfg.Room.RequestCooldown,
		RequestMaxAge:       cfg.Room.RequestMaxAge,
		MaxRewind:           cfg.Room.MaxRewind,
		QuickMessageMaxLen:  cfg.Room.QuickMessageMaxLen,
		PresenceStaleAfter:  cfg.Room.PresenceStaleAfter,
		ClosedRoomRetention: cfg.Room.ClosedRoomRetention,
	}
}

func wsRate(cfg *config.Config) float64 {
	if !cfg.RateLimiting.Enabled {
		return 0
	}
	return cfg.RateLimiting.WebSocket.MessagesPerSecond
}

// origins maps the "*" wildcard to the gateway's accept-any setting.
func origins(allowed []string) []string {
	for _, o := range allowed {
		if o == "*" {
			return nil
		}
	}
	return allowed
}
