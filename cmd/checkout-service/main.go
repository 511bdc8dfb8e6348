package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/app"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if format, _ := lookup("CHECKOUT_LOG_FORMAT"); strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	}

	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup("CHECKOUT_LOG_LEVEL"); ok {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warn("неизвестный уровень логирования, используем info")
			return
		}
		log.SetLevel(level)
	}
}

// loadDotEnv подхватывает .env из рабочей директории, если он есть.
func loadDotEnv() error {
	path := os.Getenv("CHECKOUT_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func main() {
	if err := loadDotEnv(); err != nil {
		log.WithError(err).Fatal("не удалось прочитать .env")
	}
	setupLogger(os.LookupEnv)

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.Warn("конфигурация: " + w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Current().Fields()).WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"backend_url":    cfg.BackendURL,
		"kafka_brokers":  strings.Join(cfg.KafkaBrokers, ","),
	}).Info("запускаем checkout-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("checkout-service остановлен")
}
