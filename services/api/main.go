package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/journeyman/messaging/internal/config"
	"github.com/journeyman/messaging/internal/events"
	"github.com/journeyman/messaging/internal/handler"
	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/push"
	"github.com/journeyman/messaging/internal/repository"
	"github.com/journeyman/messaging/internal/startup"
	"github.com/journeyman/messaging/internal/storage"
	"github.com/journeyman/messaging/internal/storage/memory"
	"github.com/journeyman/messaging/internal/ws"
	"github.com/journeyman/messaging/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep all state in process memory (no database)")
	seedUsers := flag.String("seed-users", "", "comma-separated user ids to create in -dev/-memory mode")
	flag.Parse()

	logger.Info("starting messaging API")
	cfg := config.Load()
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	seeds := splitList(*seedUsers)

	var (
		msgs  storage.MessageStore
		users storage.UserStore
	)
	if *inMemory {
		store := memory.New(memory.WithOpenDirectory())
		store.AddUsers(seeds...)
		msgs, users = store, store
		logger.Info("storage: in-memory (state is lost on exit)")
	} else {
		if *dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			logger.Errorf("parse db config: %v", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
		poolCfg.MinConns = 2

		pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
		defer pool.Close()

		migCtx, migCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = migrations.Apply(migCtx, pool)
		migCancel()
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
		if *migrate {
			return
		}

		userRepo := repository.NewUserRepository(pool)
		if len(seeds) > 0 {
			if err := userRepo.EnsureUsers(context.Background(), seeds...); err != nil {
				logger.Errorf("seed users: %v", err)
			}
		}
		msgs, users = repository.NewMessageRepository(pool), userRepo
	}

	// Online flags left over from a crash would never be cleared otherwise.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := users.ResetPresence(resetCtx); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()

	publisher := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	logger.Infof("events: mode=%s", events.Mode(publisher))

	opts := ws.Options{
		MaxConnections:   cfg.WS.MaxConnections,
		MaxContentLength: cfg.WS.MaxContentLength,
		PresenceScope:    ws.ParsePresenceScope(cfg.WS.PresenceScope),
		Events:           publisher,
	}
	if pushClient := push.NewClient(cfg.PushServiceURL); pushClient.Enabled() {
		opts.Push = pushClient
	}
	if cfg.RedisURL != "" {
		relay := startup.ConnectRedisWithRetry(cfg.RedisURL, cfg.RedisChannel, 30*time.Second, "relay: ")
		defer relay.Close()
		opts.Relay = relay
		logger.Infof("relay: redis channel=%s", relay.Channel())
	}

	hub := ws.NewHub(msgs, users, opts)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	router := handler.NewRouter(hub, msgs, users, handler.RouterConfig{
		JWTSecret:          cfg.JWTSecret,
		MetricsSecret:      cfg.MetricsSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerIP:     cfg.RateLimitPerIP,
		RateLimitPerUser:   cfg.RateLimitPerUser,
		AccessLog:          true,
		Client: ws.ClientOptions{
			WriteWait:      cfg.WS.WriteTimeout,
			PongWait:       cfg.WS.PongTimeout,
			MaxMessageSize: cfg.WS.MaxMessageSize,
			SendBufferSize: cfg.WS.SendBufferSize,
		},
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
			hubCancel()
			hubWg.Wait()
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "messaging"
		password = "messaging_secret"
		database = "messaging"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
