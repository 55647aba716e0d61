// Command server starts the Press Connect API HTTP service.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pressconnect/internal/api"
	"pressconnect/internal/broadcast"
	"pressconnect/internal/config"
	"pressconnect/internal/credentials"
	"pressconnect/internal/events"
	"pressconnect/internal/identity"
	"pressconnect/internal/observability/logging"
	"pressconnect/internal/observability/metrics"
	"pressconnect/internal/server"
	"pressconnect/internal/serverutil"
	"pressconnect/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logging.Init(logging.Config{}).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.Default()

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		// Only reachable in development mode; config.Load rejects an empty
		// secret in production. Tokens do not survive a restart.
		jwtSecret = randomSecret()
		logger.Warn("no JWT secret configured, generated an ephemeral one")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Repository
	switch cfg.StorageDriver {
	case "postgres":
		pg, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:             cfg.Postgres.DSN,
			MaxConnections:  int32(cfg.Postgres.MaxConnections),
			MinConnections:  int32(cfg.Postgres.MinConnections),
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
			AcquireTimeout:  cfg.Postgres.AcquireTimeout,
			ApplicationName: cfg.Postgres.ApplicationName,
		})
		if err != nil {
			logger.Error("failed to open datastore", "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pg.Close(closeCtx); err != nil {
				logger.Warn("failed to close datastore", "error", err)
			}
		}()
		store = pg
	case "memory":
		store = storage.NewMemoryRepository()
		logger.Warn("using in-memory datastore, state is lost on restart")
	default:
		logger.Error("unsupported storage driver", "driver", cfg.StorageDriver)
		os.Exit(1)
	}

	identitySvc, err := identity.NewService(store, identity.Config{
		Secret:   jwtSecret,
		TokenTTL: cfg.TokenTTL,
	})
	if err != nil {
		logger.Error("failed to initialise identity service", "error", err)
		os.Exit(1)
	}
	credentialStore := credentials.NewStore(store)

	purgeStop := startCredentialPurgeWorker(ctx, logging.WithComponent(logger, "credential-purger"), store, 15*time.Minute, 24*time.Hour)
	defer purgeStop()

	var sink broadcast.EventSink
	if cfg.Events.Addr != "" {
		publisher, err := events.NewRedisPublisher(events.RedisPublisherConfig{
			Addr:     cfg.Events.Addr,
			Username: cfg.Events.Username,
			Password: cfg.Events.Password,
			Stream:   cfg.Events.Stream,
			Logger:   logging.WithComponent(logger, "events"),
		})
		if err != nil {
			logger.Error("failed to configure event publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := publisher.Ping(pingCtx); err != nil {
			logger.Warn("event stream unreachable at startup", "error", err)
		}
		cancel()
		sink = publisher
	}

	providerOpts := []broadcast.YouTubeOption{}
	if cfg.ProviderAPI != "" {
		providerOpts = append(providerOpts, broadcast.WithBaseURL(cfg.ProviderAPI))
	}
	orchestrator, err := broadcast.NewOrchestrator(broadcast.Config{
		Registry:     store,
		Credentials:  credentialStore,
		Provider:     broadcast.NewYouTubeProvider(providerOpts...),
		ProviderName: cfg.Provider,
		Events:       sink,
		Logger:       logging.WithComponent(logger, "broadcast"),
		Metrics:      recorder,
	})
	if err != nil {
		logger.Error("failed to initialise orchestrator", "error", err)
		os.Exit(1)
	}

	handler, err := api.NewHandler(api.Config{
		Identity:    identitySvc,
		Credentials: credentialStore,
		Broadcasts:  orchestrator,
		Store:       store,
		Logger:      logging.WithComponent(logger, "api"),
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise API handler", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(handler, server.Config{
		Addr: cfg.Addr,
		TLS:  server.TLSConfig{CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     cfg.RateLimit.GlobalRPS,
			GlobalBurst:   cfg.RateLimit.GlobalBurst,
			LoginLimit:    cfg.RateLimit.LoginLimit,
			LoginWindow:   cfg.RateLimit.LoginWindow,
			RedisAddr:     cfg.RateLimit.RedisAddr,
			RedisPassword: cfg.RateLimit.RedisPassword,
			RedisTimeout:  cfg.RateLimit.RedisTimeout,
		},
		CORS:    server.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	certFile, keyFile := srv.TLSFiles()
	logger.Info("Press Connect API listening", "addr", cfg.Addr, "mode", cfg.Mode, "storage", cfg.StorageDriver)
	if certFile != "" {
		logger.Info("TLS enabled", "cert_file", certFile)
	}

	err = serverutil.Run(ctx, serverutil.Config{
		Server: srv.HTTPServer(),
		TLS:    serverutil.TLSConfig{CertFile: certFile, KeyFile: keyFile},
	})
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(buf)
}
