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

	_ "github.com/jackc/pgx/v5/stdlib"

	"leadsign.org/internal/config"
	"leadsign.org/internal/document"
	"leadsign.org/internal/httpapi"
	"leadsign.org/internal/obs"
	"leadsign.org/internal/pipeline"
	"leadsign.org/internal/stream"
)

var (
	version = "1.0.0"
	commit  = "unknown"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.Load()

	// DB is optional: without a DSN the service runs on the in-memory store,
	// which is enough for local development and the smoke tests.
	var (
		db    *sql.DB
		store document.Store
	)
	if cfg.DB.DSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DB.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
		store = document.NewPGStore(db)
	} else {
		log.Println("no LEADSIGN_PG_DSN set, using in-memory store")
		store = document.NewInMemory()
	}

	events := stream.New()
	docs := document.NewService(store, pipeline.NewMemory(), cfg.Signing.PublicBaseURL,
		document.WithEvents(events))
	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, docs, events)

	handler := api.Handler()
	handler = httpapi.MaxBodyBytes(handler, cfg.Server.MaxBodyBytes)
	handler = httpapi.RateLimit(handler, cfg.Server.RateBurst, cfg.Server.RatePerSec)
	handler = httpapi.CORS(handler, cfg.CORS.Origins())
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.LoggingJSON(handler)
	handler = httpapi.RequestID(handler)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Printf("Starting leadsign-api %s on %s", version, srv.Addr)

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
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
