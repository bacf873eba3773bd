package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syakrisajalah/emasku/internal/config"
	"github.com/syakrisajalah/emasku/internal/httpapi"
	"github.com/syakrisajalah/emasku/internal/ledger"
	"github.com/syakrisajalah/emasku/internal/obs"
	"github.com/syakrisajalah/emasku/internal/store/file"
	"github.com/syakrisajalah/emasku/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Repository selection: PostgreSQL when a DSN is set, the local blob when
	// a state file is set, an in-memory ledger otherwise.
	var (
		repo ledger.Repository
		db   *sql.DB
	)
	switch {
	case cfg.PGDSN != "":
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		repo = pgStore
		db = pgStore.DB()
		defer pgStore.Close()
	case cfg.StateFile != "":
		fileStore, err := file.Open(cfg.StateFile)
		if err != nil {
			log.Fatalf("open state file: %v", err)
		}
		repo = fileStore
	default:
		mem := ledger.NewInMemory()
		if cfg.DemoSeed {
			mem.SeedDemo("demo")
		}
		repo = mem
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, repo, cfg)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting emasku-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
