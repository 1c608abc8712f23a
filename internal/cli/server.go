package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"assessx-live/internal/app"
	"assessx-live/internal/config"
	"assessx-live/internal/infra/memory"
	"assessx-live/internal/infra/postgres"
	redisinfra "assessx-live/internal/infra/redis"
	"assessx-live/internal/logger"
	transport "assessx-live/internal/transport/http"
	"assessx-live/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 12*time.Hour)

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		db = postgres.OpenBun(cfg.Postgres.URL)
		defer db.Close()
	}

	loader, err := buildLoader(cfg, pool, log)
	if err != nil {
		return err
	}
	testTTL := config.TTLDuration(cfg.Tests.TTL, 10*time.Minute)
	var keys app.AnswerKeyProvider
	if redisClient != nil {
		keys = redisinfra.NewTestRepository(redisClient, loader, testTTL)
	} else {
		keys = memory.NewTestRepository(loader, testTTL)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	localBroker := memory.NewBroker(cfg.Session.SubscriberBuffer, log)
	var broker app.Broker = localBroker
	if redisClient != nil {
		mirror := redisinfra.NewMirrorBroker(localBroker, redisClient, 1024, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			mirror.Run(ctx)
		}()
		broker = mirror
	}

	var sessions app.SessionRepository = memory.NewSessionStore(keys, broker)
	if redisClient != nil {
		sessions = redisinfra.NewSessionStore(sessions, redisClient, redisTTL, log)
	}

	var (
		sink   app.ResultSink
		reader app.ResultReader
	)
	switch {
	case db != nil && redisClient != nil && cfg.Results.Queue:
		store := postgres.NewResultStore(db)
		queue := redisinfra.NewResultQueue(redisClient)
		sink, reader = queue, store
		w := worker.NewResultWorker(queue, store, 50, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	case db != nil:
		store := postgres.NewResultStore(db)
		sink, reader = store, store
	default:
		store := memory.NewResultStore()
		sink, reader = store, store
		log.Warn().Msg("no postgres configured, results are kept in memory only")
	}

	coord := app.NewCoordinator(sessions, keys, sink, broker, log,
		app.WithRetryPolicy(app.RetryPolicy{
			Attempts: cfg.Results.Retries,
			Backoff:  config.TTLDuration(cfg.Results.Backoff, app.DefaultRetryPolicy.Backoff),
		}))

	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.RunJanitor(ctx,
			config.TTLDuration(cfg.Session.SweepInterval, time.Minute),
			config.TTLDuration(cfg.Session.GracePeriod, 30*time.Minute))
	}()

	router := transport.NewRouter(transport.RouterDeps{
		WS:             transport.NewWSHandler(coord, cfg.Server.AllowedOrigins, cfg.Session.SubscriberBuffer, log),
		Coordinator:    coord,
		Results:        reader,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            log,
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting live session server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildLoader prefers Postgres and falls back to the YAML seed file.
func buildLoader(cfg config.Config, pool *pgxpool.Pool, log zerolog.Logger) (memory.TestLoader, error) {
	if pool != nil {
		return postgres.NewTestLoader(pool), nil
	}
	if cfg.Tests.SeedFile == "" {
		log.Warn().Msg("no postgres or seed file configured, every test code will be rejected")
		return memory.NewStaticTestLoader(nil), nil
	}
	tests, err := memory.LoadSeedFile(cfg.Tests.SeedFile)
	if err != nil {
		return nil, err
	}
	log.Info().Int("count", len(tests)).Str("file", cfg.Tests.SeedFile).Msg("loaded seed tests")
	return memory.NewStaticTestLoader(tests), nil
}
