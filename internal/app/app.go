// Package app — верхний уровень сборки сервиса авторизации. Здесь
// связываются конфигурация, клиент API сайта, MTProto-драйвер, хранилище
// сессий, кэш идемпотентности и поллер очереди; отсюда стартует цикл опроса
// и обеспечивается корректный shutdown без утечки соединений.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplace-authbot/internal/adapters/marketapi"
	tgdriver "marketplace-authbot/internal/adapters/telegram"
	"marketplace-authbot/internal/domain/authflow"
	"marketplace-authbot/internal/infra/config"
	"marketplace-authbot/internal/infra/logger"
)

// App агрегирует зависимости сервиса и управляет их жизненным циклом.
type App struct {
	cfg       config.EnvConfig
	store     *authflow.Store
	processed *authflow.ProcessedCache
	poller    *authflow.Poller
}

// New собирает приложение из снимка конфигурации. Все коллабораторы
// конструируются здесь один раз и передаются по ссылке — глобального
// изменяемого состояния в ядре нет.
func New(cfg config.EnvConfig) (*App, error) {
	callTimeout := time.Duration(cfg.CallTimeoutSec) * time.Second

	market := marketapi.New(cfg.SiteURL, time.Duration(cfg.HTTPTimeoutSec)*time.Second, cfg.ThrottleRPS)

	driver := tgdriver.NewDriver(tgdriver.Options{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		SessionsDir: cfg.SessionsDir,
		CallTimeout: callTimeout,
		ThrottleRPS: cfg.ThrottleRPS,
		TestDC:      cfg.TestDC,
	})

	store := authflow.NewStore(authflow.StoreOptions{
		TTL:     time.Duration(cfg.SessionTTLMin) * time.Minute,
		Dispose: disposeSession(callTimeout),
	})

	processed, err := authflow.OpenProcessedCache(
		cfg.ProcessedFile,
		time.Duration(cfg.ProcessedTTLMin)*time.Minute,
	)
	if err != nil {
		return nil, fmt.Errorf("open processed cache: %w", err)
	}

	orch := authflow.NewOrchestrator(store, driver, market, callTimeout)
	poller := authflow.NewPoller(market, orch, processed, time.Duration(cfg.PollIntervalSec)*time.Second)

	return &App{
		cfg:       cfg,
		store:     store,
		processed: processed,
		poller:    poller,
	}, nil
}

// Run запускает фоновые зачистки и цикл опроса; блокируется до отмены ctx,
// затем закрывает оставшиеся соединения и базу кэша.
func (a *App) Run(ctx context.Context) error {
	logger.Info("authbot starting",
		zap.String("site", a.cfg.SiteURL),
		zap.Int("poll_interval_sec", a.cfg.PollIntervalSec),
	)

	a.store.Start(ctx)
	a.processed.Start(ctx)

	err := a.poller.Run(ctx)

	a.store.Stop()
	// Drain закрывает соединения незавершённых сессий: авторизация по ним не
	// достроена и после рестарта начнётся заново.
	dispose := disposeSession(time.Duration(a.cfg.CallTimeoutSec) * time.Second)
	for _, sess := range a.store.Drain() {
		dispose(sess)
	}
	if closeErr := a.processed.Close(); closeErr != nil {
		logger.Warn("failed to close processed cache", zap.Error(closeErr))
	}

	logger.Info("authbot stopped")
	return err
}

// disposeSession возвращает утилизатор сессий для хранилища: закрыть
// соединение с собственным таймаутом и залогировать исход. Используется и
// фоновым вытеснением по TTL, и финальным Drain.
func disposeSession(timeout time.Duration) authflow.DisposeFunc {
	return func(sess *authflow.Session) {
		logger.Info("disposing stale session",
			zap.String("phone", sess.Phone),
			zap.String("state", sess.State.String()),
		)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := sess.Handle.Close(ctx); err != nil {
			logger.Warn("failed to close stale session",
				zap.String("phone", sess.Phone), zap.Error(err))
		}
	}
}
