// Поллер внешней очереди. Один цикл: забрать pending-запросы с сайта,
// отфильтровать уже виденные пары (requestId, action), запустить по горутине
// на каждый новый элемент, заснуть на интервал. Сбой выборки проглатывается с
// логом — цикл не завершается ни на какой временной ошибке, только по
// контексту процесса.

package authflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketplace-authbot/internal/infra/logger"
)

// Source отдаёт текущий список pending-запросов сайта. Реализация обязана
// сама ограничивать вызов таймаутом; сетевые сбои и не-200 ответы
// возвращаются ошибкой либо пустым списком.
type Source interface {
	PendingRequests(ctx context.Context) ([]Request, error)
}

// Handler обрабатывает один запрос до терминального исхода. Реализуется
// оркестратором.
type Handler interface {
	Handle(ctx context.Context, req Request)
}

// SeenCache — множество обработанных ключей идемпотентности. Мутируется
// только из цикла поллера (отметка происходит до запуска обработчика,
// синхронно), поэтому конкурентного доступа со стороны задач нет.
type SeenCache interface {
	Seen(key string) (bool, error)
	MarkSeen(key string) error
}

// Poller периодически вытягивает очередь и раздаёт работу. Каждый элемент
// обрабатывается независимой горутиной: запросы по разным номерам не ждут
// друг друга.
type Poller struct {
	source   Source
	handler  Handler
	seen     SeenCache
	interval time.Duration
	wg       sync.WaitGroup
}

// NewPoller создаёт поллер с заданным интервалом опроса.
func NewPoller(source Source, handler Handler, seen SeenCache, interval time.Duration) *Poller {
	return &Poller{
		source:   source,
		handler:  handler,
		seen:     seen,
		interval: interval,
	}
}

// Run крутит цикл опроса до отмены контекста, затем дожидается всех
// запущенных обработчиков. Возвращает nil: остановка по сигналу — штатный
// исход.
func (p *Poller) Run(ctx context.Context) error {
	logger.Info("queue poller started", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pollOnce(ctx)

		select {
		case <-ctx.Done():
			logger.Info("queue poller stopping, waiting for in-flight handlers")
			p.wg.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce выполняет одну выборку и раздачу. Любая ошибка выборки — «нет
// работы в этом цикле».
func (p *Poller) pollOnce(ctx context.Context) {
	reqs, err := p.source.PendingRequests(ctx)
	if err != nil {
		logger.Debug("pending fetch failed", zap.Error(err))
		return
	}

	for _, req := range reqs {
		if req.ID == "" || req.Action == "" {
			continue
		}
		key := req.Key()

		seen, err := p.seen.Seen(key)
		if err != nil {
			logger.Warn("idempotency check failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if seen {
			continue
		}
		// Отмечаем до запуска обработчика: следующая выборка может прийти
		// раньше, чем обработчик дойдёт до терминального статуса.
		if err := p.seen.MarkSeen(key); err != nil {
			logger.Warn("failed to mark request as seen", zap.String("key", key), zap.Error(err))
			continue
		}

		logger.Info("new request",
			zap.String("request", req.ID),
			zap.String("action", string(req.Action)),
		)

		req := req
		p.wg.Go(func() {
			p.handler.Handle(ctx, req)
		})
	}
}
