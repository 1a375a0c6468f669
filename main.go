package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"

	"github.com/alimasry/go-collab-history/config"
	"github.com/alimasry/go-collab-history/ot"
	"github.com/alimasry/go-collab-history/server"
	"github.com/alimasry/go-collab-history/store"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatalw("open store", "type", cfg.Store.Type, "error", err)
	}
	defer closeStore()

	hub := server.NewHub(st, &ot.JupiterEngine{},
		server.WithLogger(logger),
		server.WithHistoryConfig(cfg.History),
		server.WithMetrics(server.NewMetrics()),
	)
	go hub.Run()

	srv := &http.Server{Addr: cfg.Addr, Handler: server.NewHandler(hub)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Infow("starting server", "addr", cfg.Addr, "store", cfg.Store.Type, "cached", cfg.Store.Cached)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("server stopped", "error", err)
	}
}

// openStore builds the configured store. The returned func releases it,
// flushing the write-behind cache first when there is one.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.SugaredLogger) (store.DocumentStore, func(), error) {
	var (
		st      store.DocumentStore
		closers []func()
	)
	switch cfg.Type {
	case config.StoreSQLite:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		st = s
		closers = append(closers, func() { s.Close() })
	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, nil, err
		}
		st = store.NewFirestoreStore(client)
		closers = append(closers, func() { client.Close() })
	default:
		st = store.NewMemoryStore()
	}

	if cfg.Cached {
		cached := store.NewCachedStore(st, cfg.FlushInterval, store.WithCacheLogger(logger))
		st = cached
		closers = append(closers, cached.Close)
	}

	return st, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}
