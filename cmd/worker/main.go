package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"schoolportal/internal/config"
	"schoolportal/internal/queue"
	"schoolportal/internal/roster"
	"schoolportal/internal/store"
)

// Worker consumes identity-provider account events and persists roles.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	var users roster.Store
	if cfg.StoreBackend == "memory" {
		users = roster.NewMemory()
	} else {
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer db.Close()
		users = roster.NewRepository(db.Client)
	}
	redisClient := store.NewRedis(cfg.RedisAddr)

	var events queue.Queue
	if cfg.QueueBackend == "memory" {
		events = queue.NewInMemory(64)
	} else {
		events = queue.NewRedisQueue(redisClient.Client, "portal:accounts")
	}

	assigner := roster.NewAssigner(users, cfg.TeacherDomain, cfg.AdminEmail)

	messages, err := events.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for account events...")
	for msg := range messages {
		if msg.Type != queue.TypeAccountCreated {
			continue
		}

		var evt roster.AccountEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("malformed account event: %v", err)
			continue
		}

		// No retry on failure; the account decodes to student until a
		// later event or manual fix lands the role.
		if err := assigner.Apply(ctx, evt); err != nil {
			log.Printf("role assignment failed: %v", err)
			continue
		}
		log.Printf("role %s persisted for account %s", assigner.RoleFor(evt.Email), evt.AccountID)
	}

	log.Println("worker stopped")
}
