package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"quorum/api/internal/app"
	"quorum/api/internal/broker"
	"quorum/api/internal/config"
	"quorum/api/internal/email"
	"quorum/api/internal/events"
	"quorum/api/internal/forum"
	"quorum/api/internal/images"
	"quorum/api/internal/moderation"
	"quorum/api/internal/notify"
	"quorum/api/internal/posting"
	"quorum/api/internal/searchidx"
	"quorum/api/internal/store"
	"quorum/api/internal/text"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatalf("redis connection failed: %v", err)
	}
	cancelPing()
	defer redisClient.Close()

	recounter := forum.NewRecounter(dataStore)
	defer recounter.Close()
	forums := forum.NewService(dataStore, recounter)

	feed := events.NewRedisFeed(redisClient)
	liveBroker := broker.NewRedisBrokerWithClient(redisClient)
	searchQueue := searchidx.NewRedisQueue(redisClient)

	var searcher app.Searcher
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := searchidx.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meiliClient.Close()
		indexWorker := searchidx.NewWorker(searchQueue, meiliClient, dataStore)
		defer indexWorker.Close()
		searcher = meiliClient
	} else {
		log.Printf("MEILI_URL not set, search disabled")
	}

	mailer := email.NewService(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.SMTPFrom,
		FromName:  cfg.SMTPFromName,
		EnableTLS: true,
	})
	if !mailer.IsConfigured() {
		log.Printf("SMTP not configured, subscriber email disabled")
	}
	subscriptions := notify.NewSubscribedTopicsService(dataStore, mailer, cfg.AppName)

	postingSvc := posting.NewService(
		dataStore,
		text.NewParser(cfg.CensoredWords),
		feed,
		liveBroker,
		searchQueue,
		posting.StaticTenant(cfg.TenantID),
		subscriptions,
		moderation.NewLogService(dataStore),
	)

	service := app.NewService(dataStore, forums, postingSvc, subscriptions, searcher, feed, cfg.TenantID, cfg.BaseURL)

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		avatars, err := images.NewAvatarStore(ctx, images.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		}, dataStore)
		if err != nil {
			log.Fatalf("object storage setup failed: %v", err)
		}
		service.SetAvatarStore(avatars)
	} else {
		log.Printf("S3_ENDPOINT not set, avatars disabled")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Quorum API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
