package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/montage/internal/api"
	"github.com/bobarin/montage/internal/config"
	"github.com/bobarin/montage/internal/db"
	"github.com/bobarin/montage/internal/feedback"
	"github.com/bobarin/montage/internal/orchestrator"
	"github.com/bobarin/montage/internal/plan"
	"github.com/bobarin/montage/internal/production"
	"github.com/bobarin/montage/internal/providers"
	"github.com/bobarin/montage/internal/queue"
	"github.com/bobarin/montage/internal/storage"
)

const feedbackConcurrency = 2

func main() {
	log.Println("Starting Montage API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Lives until shutdown; background runs are started under it
	baseCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize storage (optional)
	var uploader providers.Uploader
	var opts []production.Option
	if cfg.StorageConfigured() {
		stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
		uploader = stor
		opts = append(opts, production.WithArtifacts(stor))
		log.Println("Initialized Supabase storage")
	} else {
		log.Println("Supabase storage not configured, plans are served from memory only")
	}

	// Providers
	registry, err := providers.Build(baseCtx, cfg, uploader)
	if err != nil {
		log.Fatalf("Failed to build provider registry: %v", err)
	}
	if registry.Len() == 0 {
		log.Println("WARNING: No providers enabled, every generated scene will be a placeholder")
	}

	// Status stream: log + in-memory recorder, plus Redis when configured
	recorder := orchestrator.NewRecorder()
	sinks := orchestrator.FanOut{orchestrator.LogSink{}, recorder}

	var q *queue.Queue
	if cfg.RedisURL != "" {
		q, err = queue.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()
		sinks = append(sinks, q)
		log.Println("Connected to Redis queue")
	}

	orch := orchestrator.New(registry, orchestrator.ConfigFrom(cfg.Orchestrator), orchestrator.WithSink(sinks))
	log.Printf("Orchestrator ready (workers: %d, max retries: %d)", orch.Width(), cfg.Orchestrator.MaxRetries)

	// Run archive (optional)
	if cfg.DatabaseURL != "" {
		database, err := db.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		if err := database.Migrate(baseCtx); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		opts = append(opts, production.WithStore(database))
		log.Println("Connected to database")
	}

	// Runs this process has not recorded, or has dropped, fall back to Redis
	opts = append(opts, production.WithEventLog(recorder))
	if q != nil {
		opts = append(opts, production.WithEventLog(q))
	}
	svc := production.NewService(orch, plan.SettingsFrom(cfg), opts...)

	// Create API handler. A nil *queue.Queue must not reach the interface.
	var regenQueue api.RegenerateQueue
	if q != nil {
		regenQueue = q
	}
	handler := api.NewHandler(baseCtx, svc, regenQueue)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start feedback consumer if enabled
	consumerDone := make(chan struct{})
	if cfg.WorkerEnabled && q != nil {
		log.Println("Worker enabled, consuming regenerate requests...")
		go func() {
			feedback.NewConsumer(q, svc).Start(baseCtx, feedbackConcurrency)
			close(consumerDone)
		}()
	} else {
		close(consumerDone)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// In-flight runs resolve their remaining scenes as placeholders
	stop()
	<-consumerDone
	svc.Wait()

	log.Println("Server exited")
}
