package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventpass/server/internal/audit"
	"github.com/eventpass/server/internal/auth"
	"github.com/eventpass/server/internal/checkin"
	"github.com/eventpass/server/internal/config"
	"github.com/eventpass/server/internal/db"
	httphandler "github.com/eventpass/server/internal/http"
	"github.com/eventpass/server/internal/http/handlers"
	"github.com/eventpass/server/internal/jobs"
	"github.com/eventpass/server/internal/ratelimit"
	"github.com/eventpass/server/internal/repo"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env from CWD (env vars override)
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database connection
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.Migrate(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	userRepo := repo.NewUserRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	eventRepo := repo.NewEventRepo(database)
	attendanceRepo := repo.NewAttendanceRepo(database)
	securityLogRepo := repo.NewSecurityLogRepo(database)

	// Rate limiters share Redis when it is reachable
	rdb, err := ratelimit.NewRedisClient(ctx, ratelimit.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TLS:      cfg.Redis.TLS,
	})
	if err != nil {
		log.Printf("Redis unavailable, using in-process rate limiting: %v", err)
	} else {
		defer rdb.Close()
	}
	loginIPLimiter := newLimiter(rdb, ratelimit.Config{Limit: cfg.LoginRateLimit * 4, Window: cfg.LoginRateWindow, Prefix: "rl:login-ip"})
	loginLimiter := newLimiter(rdb, ratelimit.Config{Limit: cfg.LoginRateLimit, Window: cfg.LoginRateWindow, Prefix: "rl:login"})
	checkInLimiter := newLimiter(rdb, ratelimit.Config{Limit: cfg.CheckInRateLimit, Window: cfg.CheckInRateWindow, Prefix: "rl:checkin"})

	// Audit events go to the broker when configured, otherwise straight to security_logs
	var sink audit.Sink = audit.NewRepoStore(securityLogRepo)
	if cfg.AMQPURL != "" {
		amqpSink := audit.NewAMQPSink(cfg.AMQPURL, cfg.AuditQueue)
		defer amqpSink.Close()
		sink = amqpSink
	}
	recorder := audit.NewRecorder(sink)

	// Initialize auth services
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	codec := auth.NewTokenCodec(cfg.JWTSecret)
	sessions := auth.NewSessionManager(codec, sessionRepo, userRepo, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	guard := auth.NewLockoutGuard(userRepo, hasher)
	authService := auth.NewAuthService(userRepo, sessions, guard, hasher, loginLimiter, recorder)

	// Initialize check-in services
	validator := checkin.NewValidator(checkInLimiter, sessions, eventRepo, attendanceRepo, time.Now)
	checkInService := checkin.NewService(validator, checkin.NewRecorder(attendanceRepo), eventRepo, cfg.PublicBaseURL)

	// Initialize handlers
	cookies := handlers.CookieConfig{Secure: cfg.Production(), SameSiteNone: cfg.CookieSameSiteNone}
	router := httphandler.NewRouter(httphandler.RouterDeps{
		Auth:           handlers.NewAuthHandler(authService, cookies),
		CheckIn:        handlers.NewCheckInHandler(checkInService),
		Health:         handlers.NewHealthHandler(database),
		Authenticator:  sessions,
		Users:          userRepo,
		LoginLimiter:   loginIPLimiter,
		TrustedProxies: cfg.TrustedProxies,
	})

	jobs.StartSessionSweepJob(ctx, cfg, sessions)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited")
}

// newLimiter returns a Redis-backed limiter, or an in-process one when rdb is nil
func newLimiter(rdb *redis.Client, cfg ratelimit.Config) ratelimit.Limiter {
	if rdb == nil {
		return ratelimit.NewMemoryLimiter(cfg)
	}
	return ratelimit.NewRedisLimiter(rdb, cfg)
}
