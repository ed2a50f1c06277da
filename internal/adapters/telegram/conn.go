// Живое MTProto-соединение для одного номера. gotd отдаёт клиент только
// внутри callback у Run, поэтому соединение держится фоновой горутиной,
// которую Close снимает отменой контекста. Жизненный цикл соединения
// развязан с контекстом запроса: код и пароль приходят отдельными запросами
// очереди спустя минуты после send_phone.

package telegram

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
)

// conn — хэндл соединения, отдаваемый домену как authflow.ClientHandle.
type conn struct {
	phone  string
	client *telegram.Client
	cancel context.CancelFunc
	done   chan struct{} // закрывается, когда Run вернулся
	runErr error         // итог Run; читается только после <-done
}

// open создаёт клиент и ждёт установки соединения. ctx ограничивает только
// ожидание готовности; само соединение живёт до Close.
func open(ctx context.Context, phone string, client *telegram.Client) (*conn, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		phone:  phone,
		client: client,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ready := make(chan struct{})
	go func() {
		defer close(c.done)
		c.runErr = client.Run(runCtx, func(cctx context.Context) error {
			close(ready)
			// Держим соединение открытым до Close; Run вернёт ctx.Err().
			<-cctx.Done()
			return cctx.Err()
		})
	}()

	select {
	case <-ready:
		return c, nil
	case <-c.done:
		cancel()
		if c.runErr != nil {
			return nil, c.runErr
		}
		return nil, errors.New("client loop exited before connect")
	case <-ctx.Done():
		cancel()
		<-c.done
		return nil, ctx.Err()
	}
}

// Close снимает фоновую горутину и ждёт фактического завершения Run, но не
// дольше ctx. Повторный Close безопасен: отмена идемпотентна.
func (c *conn) Close(ctx context.Context) error {
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for client shutdown")
	}
}
