package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"schoolportal/internal/analytics"
	"schoolportal/internal/api"
	"schoolportal/internal/config"
	"schoolportal/internal/ledger"
	"schoolportal/internal/queue"
	"schoolportal/internal/roster"
	"schoolportal/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	var (
		users    roster.Store
		sessions ledger.Store
		db       *store.DB
	)

	if cfg.StoreBackend == "memory" {
		log.Println("using in-memory store (dev mode, data is not persisted)")
		users = roster.NewMemory()
		sessions = ledger.NewMemory()
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(context.Background()); err != nil {
			return err
		}
		users = roster.NewRepository(db.Client)
		sessions = ledger.NewRepository(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var events queue.Queue
	if cfg.QueueBackend == "memory" {
		events = queue.NewInMemory(64)
	} else {
		events = queue.NewRedisQueue(redisClient.Client, "portal:accounts")
	}

	assigner := roster.NewAssigner(users, cfg.TeacherDomain, cfg.AdminEmail)
	allocator := roster.NewAllocator(users)
	ledgerSvc := ledger.NewService(sessions, allocator)
	engine := analytics.NewEngine(sessions)

	r := api.NewRouter(api.Deps{
		Cfg:       cfg,
		Users:     users,
		Allocator: allocator,
		Assigner:  assigner,
		Ledger:    ledgerSvc,
		Analytics: engine,
		Events:    events,
		Healthy: func(ctx context.Context) map[string]bool {
			checks := map[string]bool{"redis": redisClient.Healthy(ctx)}
			if db != nil {
				checks["db"] = db.Client.PingContext(ctx) == nil
			}
			return checks
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
