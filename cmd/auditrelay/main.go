// Command auditrelay drains the audit outbox once and exits. It is meant for
// cron-style deployments where the API runs with AUDIT_RELAY_ENABLED=false.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/school-system/exams/internal/config"
	"github.com/school-system/exams/internal/database"
	"github.com/school-system/exams/internal/repository/gormrepo"
	"github.com/school-system/exams/internal/services"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "give up after this long")
	passes := flag.Int("passes", 10, "maximum relay batches to run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	relay := services.NewAuditRelay(gormrepo.New(db), nil, cfg.Audit.BatchSize, cfg.Audit.MaxAttempts)
	total, err := relay.Drain(ctx, *passes)
	if err != nil {
		log.Fatal("Audit relay failed:", err)
	}

	log.Printf("Audit relay completed: delivered=%d retried=%d failed=%d", total.Delivered, total.Retried, total.Failed)
}
