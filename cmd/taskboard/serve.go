package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/backup"
	"taskboard/internal/codec"
	"taskboard/internal/config"
	"taskboard/internal/coordination"
	"taskboard/internal/document"
	"taskboard/internal/hub"
	"taskboard/internal/server"
	"taskboard/internal/session"
	"taskboard/internal/storage/jsonfile"
	"taskboard/internal/storage/sqlite"
)

const shutdownTimeout = 5 * time.Second

// snapshotStore is what both persistence backends provide.
type snapshotStore interface {
	document.Persister
	backup.Source
	io.Closer
}

func openStore(cfg config.Config, logger *slog.Logger) (snapshotStore, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.DBPath, logger)
		if err != nil {
			return nil, err
		}
		store.SetHistory(cfg.DBHistory)
		return store, nil
	default:
		return jsonfile.Open(cfg.DataFile, logger)
	}
}

func runServe(cmd *cobra.Command, v *viper.Viper, configPath string) error {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.OutOrStdout(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("taskboard starting", slog.String("version", Version), slog.String("store", cfg.Store))

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer store.Close()

	registry := session.NewRegistry(nil, logger)
	engine := coordination.New(registry, coordination.Options{
		LockTimeout: cfg.LockTimeout,
		DragTimeout: cfg.DragTimeout,
		Logger:      logger,
	})
	registry.SetReleaser(engine)

	doc := document.New(store, engine, document.Options{Logger: logger})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := doc.Load(ctx); err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	board := hub.New(registry, engine, doc, codec.New(cfg.CompressionThreshold), hub.Options{
		CleanupInterval:   cfg.CleanupInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		Logger:            logger,
	})
	hubDone := make(chan struct{})
	go func() {
		board.Run(ctx)
		close(hubDone)
	}()

	backups := backup.NewManager(store, cfg.BackupDir, cfg.BackupInterval, logger)
	go backups.Run(ctx)

	srv := server.New(board, backups, logger, cfg.StaticDir)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Engine(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		if runErr != nil {
			logger.Error("server stopped unexpectedly", slog.String("error", runErr.Error()))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	<-hubDone

	logger.Info("server stopped")
	return runErr
}
