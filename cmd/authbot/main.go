package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"marketplace-authbot/internal/app"
	"marketplace-authbot/internal/infra/config"
	"marketplace-authbot/internal/infra/logger"
)

func main() {
	// envPath определяет расположение .env с секретами и настройками.
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	// config.Load загружает и валидирует конфигурацию из .env.
	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Init(config.Env().LogLevel)
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(config.Env())
	if err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}

	// Блокируется до shutdown; дальше остаются только закрытые ресурсы.
	if runErr := a.Run(ctx); runErr != nil {
		logger.Fatal("app run failed", zap.Error(runErr))
	}
	logger.Info("Graceful shutdown complete")
}
