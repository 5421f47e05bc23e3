package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/trafficlab/settle95/pkg/events"
	"github.com/trafficlab/settle95/pkg/export"
	"github.com/trafficlab/settle95/pkg/retention"
	"github.com/trafficlab/settle95/pkg/runner"
	"github.com/trafficlab/settle95/pkg/scheduler"
	"github.com/trafficlab/settle95/pkg/server"
	"github.com/trafficlab/settle95/pkg/source"
	sourcemem "github.com/trafficlab/settle95/pkg/source/memory"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	log.Println("🚀 Starting Settle95 Server...")

	cfg := server.LoadConfig()
	log.Printf("⚙️  Configuration: data dir = %s, concurrency = %d, retention = %d days",
		cfg.DataDir, cfg.Concurrency, cfg.RetentionDays)

	st, err := server.InitializeStore(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize store: %v", err)
	}
	defer st.Close()

	// Sample source: a seed file for demos and development; production
	// deployments swap in a collector-backed implementation here.
	var src source.Source
	if cfg.SeedFile != "" {
		seeded, err := sourcemem.FromFile(cfg.SeedFile)
		if err != nil {
			log.Fatalf("❌ Failed to load seed file: %v", err)
		}
		src = seeded
		log.Printf("📥 Sample source seeded from %s", cfg.SeedFile)
	} else {
		src = sourcemem.New()
		log.Println("📥 Empty in-memory sample source (set SETTLE95_SEED_FILE to seed)")
	}

	exporter := export.NewExporter(cfg.DataDir)
	log.Printf("📁 Artifacts will be written under %s/results", cfg.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// WebSocket hub for live run updates
	hub := events.NewHub()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	log.Println("📡 WebSocket hub started for run status streaming")

	// Run executor with the global slot pool
	run := runner.New(st, src, exporter, hub, cfg.Concurrency, nil)
	log.Printf("⚙️  Run executor ready (%d concurrent slots)", cfg.Concurrency)

	// Scheduler drives periodic tasks
	sched := scheduler.New(st, run, nil)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			log.Printf("❌ Scheduler stopped: %v", err)
		}
	}()
	log.Println("⏰ Scheduler started")

	// Retention sweeper ages out old runs and their artifacts
	sweeper := retention.New(st, exporter, cfg.Retention(), nil)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil {
			log.Printf("❌ Retention sweeper stopped: %v", err)
		}
	}()
	log.Printf("🗑️  Retention sweeper started (%d day cutoff)", cfg.RetentionDays)

	// HTTP surface
	router := mux.NewRouter()
	api := server.New(st, sched, run, exporter, sweeper, hub)
	api.SetupRoutes(router, cfg.Port)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("🌐 Server starting on http://localhost:%s", cfg.Port)
		log.Println("📡 API endpoints:")
		log.Println("   POST /v1/tasks               - Create a settlement task")
		log.Println("   POST /v1/tasks/{id}/run      - Trigger a task now")
		log.Println("   POST /v1/runs                - Submit an ad-hoc run")
		log.Println("   GET  /v1/runs                - List runs")
		log.Println("   GET  /v1/health              - Health check")
		log.Println("✅ Server ready to accept requests")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutdown signal received...")

	// Cancel background loops first, then drain HTTP and in-flight runs.
	log.Println("⏸️  Stopping background tasks...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Println("🔄 Gracefully shutting down server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}

	log.Println("⏳ Waiting for in-flight runs and background tasks...")
	done := make(chan struct{})
	go func() {
		run.Wait()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ All background tasks stopped cleanly")
	case <-time.After(shutdownTimeout):
		log.Println("⚠️  Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("👋 Settle95 server exited cleanly")
}
