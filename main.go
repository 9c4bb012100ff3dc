package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/camden-git/gallerydelivery/config"
	"github.com/camden-git/gallerydelivery/credentials"
	"github.com/camden-git/gallerydelivery/database"
	"github.com/camden-git/gallerydelivery/handlers"
	"github.com/camden-git/gallerydelivery/media"
	"github.com/camden-git/gallerydelivery/realtime"
	"github.com/camden-git/gallerydelivery/repository"
	"github.com/camden-git/gallerydelivery/services"
	"github.com/camden-git/gallerydelivery/workers"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
		log.Printf("Ensuring database directory exists: %s", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("FATAL: Failed to create database directory %s: %v", dir, err)
		}
	}

	gormDB, err := database.InitGormDB(cfg.DatabasePath, cfg.DBMaxOpenConns, logger.Warn)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}
	if err := database.AutoMigrateModels(gormDB); err != nil {
		log.Fatalf("FATAL: Failed to migrate database: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatalf("FATAL: Failed to get database handle: %v", err)
	}
	defer sqlDB.Close()

	mediaStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize media store: %v", err)
	}
	defer closeStore()

	mediaProcessor := media.NewProcessor(mediaStore,
		media.DerivativeSpec{MaxSize: cfg.DisplayMaxSize, Quality: cfg.DisplayJpegQuality},
		media.DerivativeSpec{MaxSize: cfg.ThumbnailMaxSize, Quality: cfg.ThumbnailJpegQuality},
	)

	galleryRepo := repository.NewGalleryRepository(gormDB)
	imageRepo := repository.NewImageRepository(gormDB)
	visitorRepo := repository.NewVisitorRepository(gormDB)
	actionRepo := repository.NewActionRepository(gormDB)
	statRepo := repository.NewDailyStatRepository(gormDB)
	userRepo := repository.NewGormUserRepository(gormDB)

	if err := handlers.BootstrapAdmin(ctx, userRepo, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.Fatalf("FATAL: Failed to bootstrap admin user: %v", err)
	}

	signer, err := credentials.NewSigner(cfg.CredentialSecret, cfg.CredentialTTL)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize credential signer: %v", err)
	}

	hub := realtime.NewHub(cfg.AllowedOrigins)
	go hub.Run(ctx)

	pipeline := services.NewDerivativePipeline(galleryRepo, imageRepo, mediaProcessor, cfg.PublicMediaURL, hub)

	log.Printf("Initializing derivative worker pool (Workers: %d, Queue Size: %d)...", cfg.NumDerivativeWorkers, cfg.DerivativeQueueSize)
	pool := workers.NewDerivativePool(pipeline, cfg.DerivativeQueueSize, cfg.NumDerivativeWorkers)
	defer pool.Stop()

	analytics := services.NewAnalytics(sqlDB, galleryRepo, imageRepo, statRepo, cfg.AnalyticsWindowDays, cfg.AnalyticsTopImages)
	rollup := workers.NewStatsRollup(analytics, cfg.StatsRollupInterval)
	rollup.Start()
	defer rollup.Stop()

	router := handlers.NewRouter(handlers.RouterDeps{
		Users: userRepo,
		Catalog: services.NewCatalog(galleryRepo, imageRepo, actionRepo, services.CatalogOptions{
			StoreTimeout:        cfg.StoreTimeout,
			PlaceholderFallback: cfg.PlaceholderFallback,
			PublicMediaURL:      cfg.PublicMediaURL,
		}),
		Issuer:          credentials.NewIssuer(galleryRepo, visitorRepo, signer),
		Verifier:        credentials.NewVerifier(signer, visitorRepo, cfg.StoreTimeout),
		Exporter:        services.NewArchiveExporter(imageRepo, actionRepo, mediaStore, cfg.MaxConcurrentExports, cfg.ExportPrefetch),
		Galleries:       services.NewGalleryService(galleryRepo, imageRepo, visitorRepo, pipeline),
		Analytics:       analytics,
		Pool:            pool,
		Store:           mediaStore,
		Hub:             hub,
		AdminSecret:     cfg.AdminJWTSecret,
		AdminSessionTTL: cfg.AdminSessionTTL,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		UploadTimeout:   cfg.UploadTimeout,
		RequestTimeout:  cfg.RequestTimeout,
		PublicSiteURL:   cfg.PublicSiteURL,
		AuthRateLimit:   cfg.AuthRateLimit,
		AllowedOrigins:  cfg.AllowedOrigins,
	})

	log.Printf("Using database: %s", cfg.DatabasePath)
	log.Printf("Derivative bounds (longest side): display %dpx, thumbnail %dpx", cfg.DisplayMaxSize, cfg.ThumbnailMaxSize)
	log.Printf("Publishing media under: %s", cfg.PublicMediaURL)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	serverAddr := ":" + port
	fmt.Printf("Server starting on http://localhost:%s\n", port)
	log.Printf("Server listening on %s", serverAddr)
	// downloads lift the write deadline per request and uploads extend it to their batch deadline
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Printf("Shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}
	log.Printf("Server stopped")
}

// openStore returns the gocloud bucket named by BLOB_BUCKET_URL, or the local filesystem
// store rooted at MEDIA_STORAGE_PATH.
func openStore(ctx context.Context, cfg config.Config) (media.Store, func(), error) {
	if cfg.BlobBucketURL != "" {
		log.Printf("Storing media in bucket: %s", cfg.BlobBucketURL)
		bucket, err := media.OpenBucketStorage(ctx, cfg.BlobBucketURL)
		if err != nil {
			return nil, nil, err
		}
		return bucket, func() {
			if err := bucket.Close(); err != nil {
				log.Printf("Error closing media bucket: %v", err)
			}
		}, nil
	}
	log.Printf("Storing media in: %s", cfg.MediaStoragePath)
	local, err := media.NewLocalStorage(cfg.MediaStoragePath)
	if err != nil {
		return nil, nil, err
	}
	return local, func() {}, nil
}
