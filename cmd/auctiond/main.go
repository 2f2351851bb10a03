// auctiond runs the auction settlement core: the HTTP bidding API, the
// clock sweeper and the live auction feed.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/LC208/rare-book/internal/auction"
	"github.com/LC208/rare-book/internal/cache"
	"github.com/LC208/rare-book/internal/config"
	"github.com/LC208/rare-book/internal/events"
	"github.com/LC208/rare-book/internal/handlers"
	"github.com/LC208/rare-book/internal/identity"
	"github.com/LC208/rare-book/internal/store"
	"github.com/LC208/rare-book/internal/sweeper"
	"github.com/LC208/rare-book/internal/ws"
)

// Config holds application configuration.
type Config struct {
	ServerAddr    string
	PostgresURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NatsURL       string
	JWTSecret     string
	SweepInterval time.Duration
}

func loadConfig() *Config {
	return &Config{
		ServerAddr:    config.GetEnv("SERVER_ADDR", ":8080"),
		PostgresURL:   config.GetEnv("POSTGRES_URL", ""),
		RedisAddr:     config.GetEnv("REDIS_ADDR", ""),
		RedisPassword: config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       config.GetEnvInt("REDIS_DB", 0),
		NatsURL:       config.GetEnv("NATS_URL", ""),
		JWTSecret:     config.GetEnv("JWT_SECRET", "default-secret"),
		SweepInterval: config.GetEnvDuration("SWEEP_INTERVAL", 5*time.Second),
	}
}

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "auctiond").Logger()
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage. Postgres in any real deployment; the in-memory store exists
	// for local runs without infrastructure.
	var st store.Store
	if cfg.PostgresURL != "" {
		pg, err := store.NewPostgres(cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
		}
		if err := pg.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		st = pg
		log.Info().Msg("connected to PostgreSQL")
	} else {
		st = store.NewMemory()
		log.Warn().Msg("POSTGRES_URL not set, using in-memory store")
	}
	defer st.Close()

	var cacheClient *cache.Client
	if cfg.RedisAddr != "" {
		var err error
		cacheClient, err = cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer cacheClient.Close()
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	var natsConn *nats.Conn
	if cfg.NatsURL != "" {
		var err error
		natsConn, err = nats.Connect(cfg.NatsURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer natsConn.Close()
		log.Info().Str("url", cfg.NatsURL).Msg("connected to NATS")
	}

	fanout, err := events.NewFanout(natsConn, cacheClient, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up event fan-out")
	}

	engine := auction.New(st, fanout, log)

	go sweeper.New(engine, cfg.SweepInterval, log).Run(ctx)

	provider := identity.NewJWTProvider(cfg.JWTSecret)
	handler := handlers.New(engine, provider, log)
	router := handler.Router()

	// Live feed needs Redis; without it the WebSocket endpoints stay off.
	if cfg.RedisAddr != "" {
		hub := ws.NewHub(log)
		go hub.Run()
		ws.NewHandler(hub, cacheClient).Register(router)

		sub, err := ws.NewSubscriber(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, hub, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up live feed subscriber")
		}
		defer sub.Close()
		go func() {
			if err := sub.Run(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("live feed subscriber stopped")
			}
		}()
	}

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("auctiond listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("stopped")
}
