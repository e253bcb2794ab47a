package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"courseware/api/internal/annotation"
	"courseware/api/internal/app"
	"courseware/api/internal/authpw"
	"courseware/api/internal/competency"
	"courseware/api/internal/config"
	"courseware/api/internal/iam"
	"courseware/api/internal/rtm"
	"courseware/api/internal/session"
	"courseware/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis url")
	}
	redisClient := goredis.NewClient(redisOpts)
	defer redisClient.Close()
	{
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
	}
	sessionStore := session.NewRedisStoreWithClient(redisClient)

	annotations := annotation.New(dataStore, log)
	documents := competency.NewDocumentService(dataStore, log)
	items := competency.NewItemService(dataStore, documents, log)
	associations := competency.NewAssociationService(dataStore, documents, log)
	publisher := competency.NewPublishService(dataStore, log)
	permissions := iam.New(dataStore, log)
	passwords := authpw.NewService(dataStore)

	service := app.NewService(dataStore, sessionStore, passwords, cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL, log)

	hub := rtm.NewHub(log)
	bus := rtm.NewRedisBus(goredis.NewClient(redisOpts), cfg.RTMChannel, log)
	busCtx, stopBus := context.WithCancel(ctx)
	defer stopBus()
	if err := bus.StartForwarder(busCtx, hub.Broadcast); err != nil {
		log.Fatal().Err(err).Msg("event bus subscribe failed")
	}
	defer bus.Close()

	router := rtm.NewRouter(hub, bus, annotations, documents, items, associations, publisher, log)
	wsHandler := rtm.NewWSHandler(hub, router, func(*http.Request) bool { return true }, log)

	httpServer := app.NewHTTPServer(service, annotations, permissions, wsHandler, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("courseware API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopBus()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
}
