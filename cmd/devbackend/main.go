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

	"github.com/gin-gonic/gin"
	"github.com/unihub/hubsync/internal/infrastructure/logger"
	"github.com/unihub/hubsync/internal/interfaces/http/mockbackend"
	"go.uber.org/zap"
)

func main() {
	var (
		addr       string
		bundlePath string
		token      string
		logLevel   string
	)
	flag.StringVar(&addr, "addr", ":8080", "Listen address")
	flag.StringVar(&bundlePath, "bundle", "internal/interfaces/http/mockbackend/testdata/bundle.json", "University bundle to serve")
	flag.StringVar(&token, "token", "", "Bearer token required on every request (empty disables the check)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	bundle, err := mockbackend.LoadBundle(bundlePath)
	if err != nil {
		log.Fatal("Failed to load bundle", zap.String("path", bundlePath), zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	backend := mockbackend.New(bundle, mockbackend.WithToken(token))

	srv := &http.Server{
		Addr:              addr,
		Handler:           backend.Router(log, "hubsync-devbackend"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("Dev backend listening",
			zap.String("addr", addr),
			zap.String("university", bundle.UniversityName),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down dev backend...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
}
