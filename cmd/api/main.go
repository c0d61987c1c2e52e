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

	"artiklo/api/internal/analysis"
	"artiklo/api/internal/app"
	"artiklo/api/internal/blob"
	"artiklo/api/internal/config"
	"artiklo/api/internal/export"
	"artiklo/api/internal/guard"
	"artiklo/api/internal/pipeline"
	"artiklo/api/internal/search"
	"artiklo/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var primary search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, pgfts)
	go func() {
		reindexCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		searchService.ReindexAll(reindexCtx, pgfts)
	}()

	var (
		attachments     *blob.MinioStore
		attachmentStore pipeline.AttachmentStore
	)
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		attachments, err = blob.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: attachment storage disabled: %v", err)
			attachments = nil
		} else {
			attachmentStore = attachments
		}
	}

	// Redis shares the rate limit and in-flight flags across instances; the
	// in-memory guard only covers this process.
	var submissionGuard *guard.Guard
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := guard.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, using in-memory guard: %v", err)
		} else {
			log.Printf("Using Redis for submission guard")
			defer client.Close()
			submissionGuard = guard.New(
				guard.NewRedisLimiter(client, cfg.RateLimitMaxAttempts, cfg.RateLimitWindow),
				guard.NewRedisLock(client, cfg.InFlightTTL),
			)
		}
	}
	if submissionGuard == nil {
		submissionGuard = guard.New(
			guard.NewMemoryLimiter(cfg.RateLimitMaxAttempts, cfg.RateLimitWindow),
			guard.NewMemoryLock(),
		)
	}

	analyzer := analysis.NewClient(cfg.AnalysisURL, cfg.AnalysisAPIKey, cfg.AnalysisTimeout)
	coordinator := pipeline.NewCoordinator(dataStore, attachmentStore, searchService)
	pipe := pipeline.New(submissionGuard, analyzer, coordinator)

	service := app.New(cfg, dataStore, searchService, attachments, export.NewService(), pipe)

	trustedProxies, err := app.ParseTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid TRUSTED_PROXY_CIDRS: %v", err)
	}
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, trustedProxies...)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// analysis calls can run up to the configured timeout
		WriteTimeout: cfg.AnalysisTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Artiklo API listening on %s", cfg.Addr)
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
