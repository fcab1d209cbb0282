package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/classifier"
	"github.com/Brownie44l1/lesion-api/internal/config"
	"github.com/Brownie44l1/lesion-api/internal/handlers"
	"github.com/Brownie44l1/lesion-api/internal/logging"
	"github.com/Brownie44l1/lesion-api/internal/model"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Debug {
		logger.Warn("debug mode is on; do not expose this server publicly")
	}

	logger.Info("loading model", zap.String("model", cfg.ModelPath), zap.String("metadata", cfg.MetadataPath))

	modelServer, err := model.NewServer(model.Options{
		ModelPath:      cfg.ModelPath,
		MetadataPath:   cfg.MetadataPath,
		LibraryPath:    cfg.RuntimeLibrary,
		IntraOpThreads: cfg.IntraOpThreads,
	})
	if err != nil {
		logger.Fatal("failed to initialize model server", zap.Error(err))
	}
	defer modelServer.Close()

	clf, err := classifier.FromServer(modelServer, logger)
	if err != nil {
		logger.Fatal("failed to build classifier", zap.Error(err))
	}

	handler := handlers.NewHandler(clf, logger, handlers.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		StrictErrors: cfg.StrictErrors,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.Routes(handler, handlers.CORS{AllowOrigin: cfg.AllowOrigin}, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Closed once in-flight requests have drained, so the deferred
	// modelServer.Close never races a running handler.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	logger.Info("server starting",
		zap.String("addr", cfg.Addr()),
		zap.Strings("classes", clf.Labels().Classes()),
		zap.Bool("strict_errors", cfg.StrictErrors))
	logger.Info("endpoints",
		zap.Strings("routes", []string{
			"GET / - upload page",
			"GET /health - health check",
			"POST /predict - base64 JSON prediction",
			"POST /predict/image - multipart upload prediction",
		}))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	<-shutdownDone
	logger.Info("server stopped")
}
