package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canvassync/domain/core/entities"
	"canvassync/infrastructure/config"
	"canvassync/infrastructure/di"
	"canvassync/infrastructure/persistence/memory"

	"go.uber.org/zap"
)

const demoUser = "demo"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	server, err := di.InitializeServer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}
	logger := server.Logger

	// Follow log level changes in the config file
	if path := os.Getenv(config.ConfigPathEnv); path != "" {
		watcher, err := config.NewWatcher(path, cfg, logger)
		if err != nil {
			logger.Warn("Config file will not be watched", zap.String("path", path), zap.Error(err))
		} else {
			watcher.BindLevel(server.Level)
			defer watcher.Stop()
		}
	}

	seedDemoChats(server.Store)

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server.Router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // answer streams
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting dev server",
			zap.String("address", cfg.ListenAddress),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}
	log.Println("Server stopped")
}

func seedDemoChats(store *memory.CanvasStore) {
	answers := memory.NewScriptedAnswers(0)
	for _, q := range []string{
		"How does stale-while-revalidate work?",
		"What is a temporary node id?",
		"Why stream answers in chunks?",
	} {
		store.AddChat(demoUser, q,
			entities.Message{Role: entities.RoleUser, Content: q},
			entities.Message{Role: entities.RoleAssistant, Content: answers.Compose(q, "")},
		)
	}
}
