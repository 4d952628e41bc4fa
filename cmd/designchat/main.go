package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/designchat/controller"
	"github.com/tailored-agentic-units/designchat/observability"
	"github.com/tailored-agentic-units/designchat/server"
	"github.com/tailored-agentic-units/designchat/store"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to config JSON file")
		addr       = flag.String("addr", ":8787", "HTTP listen address")
		driver     = flag.String("store", "", "Store driver: memory, file, or postgres (overrides config)")
		storePath  = flag.String("store-path", "", "File store root directory (overrides config)")
		dsn        = flag.String("dsn", "", "Postgres connection string (overrides config)")
		command    = flag.String("backend-command", "", "Generation CLI command (overrides config)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	cfg := controller.DefaultConfig()
	if *configFile != "" {
		loaded, err := controller.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}

	if *driver != "" {
		cfg.Store.Driver = *driver
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *dsn != "" {
		cfg.Store.DSN = *dsn
	}
	if *command != "" {
		cfg.Backend.Command = *command
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := []controller.Option{
		controller.WithObserver(observability.NewSlogObserver(logger)),
	}

	// The postgres store needs a live pool, so it cannot be built from
	// config alone the way the memory and file drivers are.
	if cfg.Store.Driver == store.DriverPostgres {
		if cfg.Store.DSN == "" {
			log.Fatal("postgres store requires -dsn or store.dsn in config")
		}
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure schema: %v", err)
		}
		opts = append(opts, controller.WithStore(pg))
	}

	ctl, err := controller.New(&cfg, opts...)
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	mux := http.NewServeMux()
	server.NewService(ctl).Mount(mux)

	srv := &http.Server{
		Addr:    *addr,
		Handler: mux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("design-chat server listening", "addr", *addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
