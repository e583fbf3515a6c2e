package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"plant-sync-client/internal/api"
	"plant-sync-client/internal/config"
	"plant-sync-client/internal/database"
	"plant-sync-client/internal/logger"
	"plant-sync-client/internal/remote"
	"plant-sync-client/internal/store"
	syncsvc "plant-sync-client/internal/sync"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting plant sync client")

	// Open Local Database
	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to open local database", zap.Error(err))
	}

	st, err := store.NewSQLiteStore(db, store.SyncSettings{
		ServerURL:            cfg.Sync.ServerURL,
		AuthToken:            cfg.Sync.AuthToken,
		AutoSyncEnabled:      cfg.Sync.AutoSync,
		SyncIntervalMinutes:  cfg.Sync.IntervalMinutes,
		SyncOnStartup:        cfg.Sync.SyncOnStartup,
		TensionEnabled:       true,
		StocktakeEnabled:     true,
		FinishEarlierEnabled: true,
	})
	if err != nil {
		logger.Log.Fatal("Failed to init store", zap.Error(err))
	}
	defer st.Close()

	// Init Sync Orchestrator
	orch := syncsvc.NewOrchestrator(st, func(settings *store.SyncSettings) syncsvc.RemoteAPI {
		return remote.NewClient(settings.ServerURL, settings.AuthToken)
	})

	// Init Auto-Sync Scheduler
	sched := syncsvc.NewScheduler(st, orch)
	if err := sched.Start(context.Background()); err != nil {
		logger.Log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Init API
	handler := api.NewHandler(st, orch, sched)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	sched.Stop()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
