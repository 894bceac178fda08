package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	config "camcoord/configs"
	"camcoord/pkg/api"
	"camcoord/pkg/api/middleware"
	"camcoord/pkg/audit"
	"camcoord/pkg/auth"
	"camcoord/pkg/cluster"
	"camcoord/pkg/coordinator"
	"camcoord/pkg/logger"
	tracing "camcoord/pkg/observability"
	"camcoord/pkg/resilience"
	"camcoord/pkg/storage"
	"camcoord/pkg/storage/memory"
	"camcoord/pkg/storage/postgres"
	redisstore "camcoord/pkg/storage/redis"
	"camcoord/pkg/sweeper"
)

func main() {
	cfg := config.LoadConfig()

	log, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   "json",
		OutputPath: "stdout",
		Service:    "camcoord",
	})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("coordinator starting",
		zap.String("node_id", cfg.NodeID),
		zap.Strings("peers", cfg.PeerAddrs),
		zap.String("backend", cfg.StorageBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Tracing
	if cfg.TracingEnabled {
		provider, err := tracing.Init(ctx, tracing.Config{
			ServiceName:    "camcoord",
			ServiceVersion: "1.0.0",
			Environment:    "production",
			Endpoint:       cfg.OTLPEndpoint,
			Enabled:        true,
			SamplingRate:   1.0,
		})
		if err != nil {
			log.Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				log.Warn("tracing shutdown failed", zap.Error(err))
			}
		}()
	}

	// Lease store backend
	store, redisClient := buildStore(cfg, log)
	defer store.Close()

	// Cluster manager
	transport := cluster.NewHTTPTransport(cfg.PeerTimeout)
	manager, err := cluster.NewManager(cluster.Config{
		NodeID:            cfg.NodeID,
		NodeAddr:          cfg.NodeAddr,
		Peers:             cfg.PeerAddrs,
		ElectionTimeout:   cfg.ElectionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PeerTimeout:       cfg.PeerTimeout,
	}, transport, log)
	if err != nil {
		log.Fatal("invalid cluster configuration", zap.Error(err))
	}
	manager.Run(ctx)

	// Audit trail
	var recorder audit.Recorder = audit.NopRecorder{}
	var archiver *audit.S3Archiver
	if cfg.AuditS3Bucket != "" {
		archiver, err = audit.NewS3Archiver(audit.S3ArchiverConfig{
			Bucket:          cfg.AuditS3Bucket,
			Prefix:          cfg.AuditS3Prefix,
			Region:          cfg.AuditS3Region,
			Endpoint:        cfg.AuditS3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretKey,
		}, log.Named("audit"))
		if err != nil {
			log.Fatal("failed to initialize audit archiver", zap.Error(err))
		}
		recorder = archiver
		defer archiver.Close()
	}

	// Lease service
	breaker := resilience.NewCircuitBreaker("lease-store", resilience.DefaultCircuitBreakerConfig())
	svc := coordinator.NewService(coordinator.Config{
		DefaultTTL: cfg.DefaultTTL,
		MaxTTL:     cfg.MaxTTL,
		NodeID:     cfg.NodeID,
	}, store, manager, breaker, recorder, log.Named("leases"))

	// Sweeper
	var flusher sweeper.Flusher
	if archiver != nil {
		flusher = archiver
	}
	sw := sweeper.New(sweeper.Config{
		Schedule:  cfg.SweepSchedule,
		Retention: cfg.SweepRetention,
	}, store, manager, flusher, log.Named("sweeper"))
	if err := sw.Start(ctx); err != nil {
		log.Fatal("failed to start sweeper", zap.Error(err))
	}
	defer sw.Stop()

	// Auth (open when no secret is configured)
	var authCfg middleware.AuthConfig
	if cfg.JWTSecret != "" {
		jwtSvc, err := auth.NewJWTService(auth.JWTConfig{
			SecretKey:   cfg.JWTSecret,
			Issuer:      "camcoord",
			TokenExpiry: 12 * time.Hour,
		})
		if err != nil {
			log.Fatal("failed to initialize jwt service", zap.Error(err))
		}
		authCfg.JWTService = jwtSvc
		if redisClient != nil {
			authCfg.APIKeyStore = auth.NewRedisAPIKeyStore(redisClient)
		}
	}

	server := api.NewServer(api.Config{
		Addr:    cfg.BindAddr,
		Service: svc,
		Manager: manager,
		Auth:    authCfg,
		Tracing: cfg.TracingEnabled,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	log.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	cancel()
	log.Info("shutdown complete")
}

// buildStore selects the lease store backend. The Redis client is returned
// alongside so the API key store can share it.
func buildStore(cfg *config.Config, log *zap.Logger) (storage.LeaseStore, *goredis.Client) {
	switch cfg.StorageBackend {
	case "postgres":
		store, err := postgres.NewPostgresStore(cfg.PostgresDSN())
		if err != nil {
			log.Fatal("failed to initialize postgres store", zap.Error(err))
		}
		log.Info("postgres connected")
		return store, nil
	case "redis":
		rcfg := redisstore.DefaultRedisStoreConfig(cfg.RedisAddr())
		rcfg.Password = cfg.RedisPassword
		rcfg.DB = cfg.RedisDB
		store, err := redisstore.NewRedisStoreWithConfig(rcfg)
		if err != nil {
			log.Fatal("failed to initialize redis store", zap.Error(err))
		}
		log.Info("redis connected")
		return store, store.Client()
	case "memory", "":
		log.Info("using in-memory lease store")
		return memory.NewMemoryStore(), nil
	default:
		log.Fatal("unknown storage backend", zap.String("backend", cfg.StorageBackend))
		return nil, nil
	}
}
