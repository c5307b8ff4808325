package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/api"
	"github.com/samtwin/companion/internal/api/handler"
	"github.com/samtwin/companion/internal/app"
	"github.com/samtwin/companion/internal/core/domain"
	"github.com/samtwin/companion/internal/core/ports"
	"github.com/samtwin/companion/internal/core/service"
	"github.com/samtwin/companion/internal/infrastructure/config"
	"github.com/samtwin/companion/internal/infrastructure/db/memory"
	mongostore "github.com/samtwin/companion/internal/infrastructure/db/mongo"
	redisstore "github.com/samtwin/companion/internal/infrastructure/db/redis"
	"github.com/samtwin/companion/internal/infrastructure/mail"
	"github.com/samtwin/companion/internal/infrastructure/navigation"
	"github.com/samtwin/companion/internal/infrastructure/queue"
	"github.com/samtwin/companion/internal/infrastructure/sse"
	"github.com/samtwin/companion/pkg/logger"
)

const (
	serverReadTimeout = 15 * time.Second
	serverIdleTimeout = 60 * time.Second
	pingTimeout       = 3 * time.Second
)

// backends are the storage collaborators selected by STORE_DRIVER.
type backends struct {
	users   ports.UserRepository
	records ports.DocumentStore
	codes   ports.ResetCodeStore
	limiter ports.AttemptLimiter
	checks  map[string]handler.Check
	close   func()
}

// @title                       Companion API
// @version                     1.0
// @description                 Session, navigation and journal sync for the companion app.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "companion",
	})

	dispatcher := queue.NewDispatcher(cfg.Sync.DispatchWorkers, logger.Component("dispatcher"))
	dispatcher.Start(ctx)

	b, err := openBackends(ctx, cfg, dispatcher, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open storage")
	}
	defer b.close()

	if cfg.Auth.IDTokenSecret == "" {
		// Development only; Validate rejects this in production.
		secret, err := domain.NewActionCode()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate token secret")
		}
		cfg.Auth.IDTokenSecret = secret
		log.Warn().Msg("ID_TOKEN_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}

	resolver := service.NewDeepLinkResolver(cfg.DeepLink.Scheme, logger.Component("deeplink"))
	provider := service.NewLocalIdentityProvider(
		b.users, b.codes, b.limiter,
		mail.NewLogMailer(logger.Component("mail")),
		resolver,
		service.IdentityConfig{
			TokenSecret:  cfg.Auth.IDTokenSecret,
			TokenTTL:     cfg.Auth.IDTokenTTL,
			ResetCodeTTL: cfg.Auth.ResetCodeTTL,
		},
		logger.Component("identity"),
	)

	stack := navigation.NewStack(logger.Component("navigator"))
	hub := sse.NewHub(logger.Component("hub"))
	defer hub.Close()

	companion := app.New(app.Deps{
		Provider:   provider,
		Store:      b.records,
		Navigator:  stack,
		Resolver:   resolver,
		Publisher:  hub,
		Collection: cfg.Sync.JournalsCollection,
		Log:        log,
	})
	if err := companion.Start(ctx, os.Getenv("INITIAL_URL")); err != nil {
		log.Fatal().Err(err).Msg("failed to start app")
	}
	defer companion.Stop()

	router := api.NewRouter(api.Deps{
		Shell:    companion,
		Journals: companion.Records(),
		Routes:   stack,
		Provider: provider,
		Session:  companion,
		Hub:      hub,
		Checks:   b.checks,
		Log:      logger.Component("http"),
	})

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: serverReadTimeout,
		// Streaming responses stay open; no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("driver", cfg.StoreDriver).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
	stack.MarkReady()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	// Disconnect stream clients first so Shutdown does not wait on them.
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func openBackends(ctx context.Context, cfg *config.Config, d *queue.Dispatcher, log zerolog.Logger) (*backends, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return &backends{
			users:   memory.NewUserRepository(),
			records: memory.NewRecordStore(d, nil),
			codes:   memory.NewResetCodeStore(nil),
			limiter: memory.NewAttemptLimiter(cfg.Auth.SignInMaxAttempts, cfg.Auth.SignInWindow, nil),
			checks:  map[string]handler.Check{},
			close:   func() {},
		}, nil
	}

	client, db, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		return nil, err
	}
	if err := mongostore.EnsureIndexes(ctx, db, cfg.Sync.JournalsCollection); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("mongodb connected")

	rdb, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")

	return &backends{
		users:   mongostore.NewUserRepository(db),
		records: mongostore.NewRecordStore(db, logger.Component("mongo")),
		codes:   redisstore.NewResetCodeStore(rdb),
		limiter: redisstore.NewAttemptLimiter(rdb, cfg.Auth.SignInMaxAttempts, cfg.Auth.SignInWindow),
		checks: map[string]handler.Check{
			"mongodb": func(ctx context.Context) error { return client.Ping(ctx, nil) },
			"redis":   func(ctx context.Context) error { return redisstore.Ping(ctx, rdb, pingTimeout) },
		},
		close: func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			defer cancel()
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("redis close")
			}
			if err := client.Disconnect(closeCtx); err != nil {
				log.Warn().Err(err).Msg("mongodb disconnect")
			}
		},
	}, nil
}
