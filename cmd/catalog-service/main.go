package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/app"
	"github.com/vladislavdragonenkov/catalog/internal/version"
)

const (
	envLogLevel  = "CATALOG_LOG_LEVEL"
	envLogFormat = "CATALOG_LOG_FORMAT"
)

// setupLogger настраивает формат и уровень логирования; неизвестный уровень даёт info.
func setupLogger(logger *log.Logger, lookup app.LookupFunc) []string {
	var warnings []string

	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if format, ok := lookup(envLogFormat); ok && strings.EqualFold(strings.TrimSpace(format), "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	logger.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			warnings = append(warnings, "invalid "+envLogLevel+"="+raw+", using info")
		} else {
			logger.SetLevel(level)
		}
	}
	return warnings
}

func main() {
	warnings := setupLogger(log.StandardLogger(), os.LookupEnv)
	cfg, cfgWarnings := app.LoadConfig(os.LookupEnv)
	for _, w := range append(warnings, cfgWarnings...) {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"grpc_addr":    cfg.GRPCAddr,
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("starting catalog service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("catalog service stopped with error")
	}

	log.Info("catalog service stopped")
}
