package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/eventpass/server/internal/audit"
	"github.com/eventpass/server/internal/config"
	"github.com/eventpass/server/internal/db"
	"github.com/eventpass/server/internal/repo"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.AMQPURL == "" {
		log.Fatalf("AMQP_URL is required for the audit worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	store := audit.NewRepoStore(repo.NewSecurityLogRepo(database))
	consumer := audit.NewConsumer(cfg.AMQPURL, cfg.AuditQueue, store)

	log.Printf("Audit worker consuming %s", cfg.AuditQueue)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Audit worker stopped: %v", err)
	}
	log.Println("Audit worker exited")
}
