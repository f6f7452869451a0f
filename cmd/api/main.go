// Package main is the entry point for the Rita automation mock service.
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

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/ritahq/automation-mock/config"
	"github.com/ritahq/automation-mock/internal/events"
	"github.com/ritahq/automation-mock/internal/handlers"
	"github.com/ritahq/automation-mock/internal/middleware"
	"github.com/ritahq/automation-mock/internal/notify"
	"github.com/ritahq/automation-mock/internal/ratelimit"
	"github.com/ritahq/automation-mock/internal/repositories"
	"github.com/ritahq/automation-mock/internal/services"
	"github.com/ritahq/automation-mock/pkg/idp"
	"github.com/ritahq/automation-mock/pkg/kafka"
	"github.com/ritahq/automation-mock/pkg/mongodb"
	"github.com/ritahq/automation-mock/pkg/smtp"
)

func main() {
	// Load environment variables (ignore error in dev)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// MongoDB
	mongoClient, err := mongodb.NewClient(mongodb.Config{
		URI:         cfg.MongoDB.URI,
		Database:    cfg.MongoDB.Database,
		MaxPoolSize: cfg.MongoDB.MaxPoolSize,
		MinPoolSize: cfg.MongoDB.MinPoolSize,
		MaxRetries:  cfg.MongoDB.MaxRetries,
	})
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	tokenRepo := repositories.NewResetTokenRepository(mongoClient)
	accountRepo := repositories.NewAccountRepository(mongoClient)

	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 30*time.Second)
	if err := tokenRepo.EnsureIndexes(indexCtx); err != nil {
		log.Fatalf("Failed to create reset token indexes: %v", err)
	}
	if err := accountRepo.EnsureIndexes(indexCtx); err != nil {
		log.Fatalf("Failed to create account indexes: %v", err)
	}
	cancelIndex()

	// Kafka producer. A broker outage at startup is fatal: the whole point
	// of this service is publishing automation events.
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		log.Fatalf("Failed to create Kafka producer: %v", err)
	}
	publisher := events.NewAutomationPublisher(producer, cfg.Kafka.Topics)

	// Rate limiter for the public reset-request action
	var limiter ratelimit.Limiter
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter = ratelimit.NewRedisLimiter(redisClient, "rita-rate:")
		log.Println("Rate limiter: redis")
	} else {
		limiter = ratelimit.NewMemoryLimiter()
		log.Println("Rate limiter: in-memory")
	}

	// Notifications
	var notifier notify.Notifier
	switch cfg.Notify.Mode {
	case "smtp":
		smtpClient, err := smtp.NewClient(smtp.Config{
			Host:      cfg.Notify.SMTP.Host,
			Port:      cfg.Notify.SMTP.Port,
			Username:  cfg.Notify.SMTP.Username,
			Password:  cfg.Notify.SMTP.Password,
			FromEmail: cfg.Notify.SMTP.FromEmail,
		})
		if err != nil {
			log.Fatalf("Failed to create SMTP client: %v", err)
		}
		notifier = notify.NewSMTPNotifier(smtpClient)
	default:
		notifier = notify.NewLogNotifier()
	}

	// Services
	idpClient := idp.NewClient(cfg.IdP)
	scheduler := services.NewTimerScheduler()
	tokenService := services.NewTokenService(tokenRepo, accountRepo, services.SystemClock())
	provisioner := services.NewProvisioningService(idpClient, accountRepo, notifier, cfg.Notify.FrontendURL)
	responder := services.NewResponder(publisher, scheduler, cfg.Responder)

	// Handlers
	healthHandler := handlers.NewHealthHandler(cfg.Server.Version, mongoClient, producer)
	webhookHandler := handlers.NewWebhookHandler(cfg.Webhook, cfg.Responder, cfg.Notify, handlers.WebhookDeps{
		Tokens:      tokenService,
		Provisioner: provisioner,
		Responder:   responder,
		Publisher:   publisher,
		Scheduler:   scheduler,
		Notifier:    notifier,
		Limiter:     limiter,
	})

	// Router
	router := mux.NewRouter()
	router.Use(corsMiddleware(cfg.Notify.FrontendURL))
	router.Use(middleware.RequestLogger)

	router.HandleFunc("/health", healthHandler.GetOverallHealth).Methods(http.MethodGet)
	router.HandleFunc("/webhook", webhookHandler.Handle).Methods(http.MethodPost)

	// Swagger ui endpoint - API documentation
	router.PathPrefix("/swagger").Handler(httpSwagger.Handler(
		httpSwagger.URL("http://localhost:"+cfg.Server.Port+"/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
		httpSwagger.DomID("swagger-ui"),
	)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Rita automation mock running on %s (%s)", srv.Addr, cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	producer.Close()

	if err := mongoClient.Disconnect(ctx); err != nil {
		log.Printf("MongoDB disconnect failed: %v", err)
	}

	log.Println("Server stopped")
}

// corsMiddleware adds CORS headers for the configured frontend origin and
// the local dev ports.
func corsMiddleware(frontendURL string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:5173": true,
	}
	if frontendURL != "" {
		allowedOrigins[strings.TrimRight(frontendURL, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
