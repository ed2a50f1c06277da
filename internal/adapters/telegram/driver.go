// Package telegram — драйвер логин-протокола поверх gotd/td. Единственный
// слой, который видит MTProto: наружу уходят authflow.ClientHandle и
// *authflow.FlowError, сырые ошибки gotd не просачиваются. На каждый номер —
// собственный клиент с файловой сессией в каталоге сессий.

package telegram

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"marketplace-authbot/internal/domain/authflow"
	"marketplace-authbot/internal/infra/logger"
)

// maxFloodWait ограничивает паузу, которую драйвер готов высидеть перед
// единственным повтором запроса кода. Более длинный FLOOD_WAIT сразу уходит
// ошибкой на сайт: держать задачу часами бессмысленно.
const maxFloodWait = 60 * time.Second

// Options — параметры драйвера.
type Options struct {
	APIID       int
	APIHash     string
	SessionsDir string        // каталог файлов сессий, по одному на номер
	CallTimeout time.Duration // таймаут одного MTProto-вызова
	ThrottleRPS int           // лимит запросов клиента
	TestDC      bool          // подключаться к тестовому DC Telegram
}

// Driver реализует authflow.Driver.
type Driver struct {
	opts Options

	// connect и send подменяются в тестах; по умолчанию ходят в gotd.
	// Инъекция по образцу источника времени в хранилище сессий.
	connect func(ctx context.Context, phone string) (*conn, error)
	send    func(ctx context.Context, cn *conn, phone string) (string, error)
}

var _ authflow.Driver = (*Driver)(nil)

// NewDriver создаёт драйвер.
func NewDriver(opts Options) *Driver {
	d := &Driver{opts: opts}
	d.connect = func(ctx context.Context, phone string) (*conn, error) {
		return open(ctx, phone, d.newClient(phone))
	}
	d.send = d.sendCode
	return d
}

// newClient собирает gotd-клиент для номера: файловая сессия, rate-limit
// middleware, паспорт устройства.
func (d *Driver) newClient(phone string) *telegram.Client {
	sessionPath := filepath.Join(d.opts.SessionsDir, strings.TrimPrefix(phone, "+")+".session")

	options := telegram.Options{
		SessionStorage: &fileStorage{path: sessionPath},
		Middlewares: []telegram.Middleware{
			ratelimit.New(
				rate.Limit(d.opts.ThrottleRPS),
				d.opts.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    "5.3.1",
		},
	}
	if d.opts.TestDC {
		options.DCList = dcs.Test()
	}

	return telegram.NewClient(d.opts.APIID, d.opts.APIHash, options)
}

// RequestCode открывает соединение и просит отправить код подтверждения.
// FLOOD_WAIT повторяется ровно один раз после предписанной паузы; второй
// лимит подряд уходит наружу ошибкой KindRateLimited. При любой ошибке
// соединение закрывается здесь же — живого хэндла наружу не выходит.
func (d *Driver) RequestCode(ctx context.Context, phone string) (authflow.ClientHandle, string, error) {
	connectCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	cn, err := d.connect(connectCtx, phone)
	cancel()
	if err != nil {
		return nil, "", mapError(err)
	}

	hash, err := d.send(ctx, cn, phone)
	if err != nil {
		if retryAfter, ok := floodWait(err); ok && retryAfter <= maxFloodWait {
			logger.Warn("flood wait on send code, retrying once",
				zap.String("phone", phone), zap.Duration("retry_after", retryAfter))
			if sleepErr := sleep(ctx, retryAfter); sleepErr != nil {
				d.discard(cn)
				return nil, "", mapError(sleepErr)
			}
			hash, err = d.send(ctx, cn, phone)
		}
	}
	if err != nil {
		d.discard(cn)
		return nil, "", mapError(err)
	}

	logger.Info("confirmation code requested", zap.String("phone", phone))
	return cn, hash, nil
}

// sendCode выполняет один вызов auth.sendCode и извлекает хэш верификации.
func (d *Driver) sendCode(ctx context.Context, cn *conn, phone string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()

	sent, err := cn.client.Auth().SendCode(callCtx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", err
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		// AuthSentCodeSuccess и будущие варианты: кода не будет, флоу с
		// подтверждением здесь не применим.
		return "", errors.Errorf("unexpected sent code type %T", sent)
	}
	return code.PhoneCodeHash, nil
}

// SubmitCode подтверждает код на существующем соединении.
func (d *Driver) SubmitCode(
	ctx context.Context, handle authflow.ClientHandle, phone, codeHash, code string,
) (authflow.Outcome, error) {
	cn, ok := handle.(*conn)
	if !ok {
		return 0, authflow.NewFlowError(authflow.KindFatal, errors.New("foreign client handle"))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()

	_, err := cn.client.Auth().SignIn(callCtx, phone, code, codeHash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		logger.Info("2fa password required", zap.String("phone", phone))
		return authflow.OutcomeSecondFactor, nil
	}
	if err != nil {
		return 0, mapError(err)
	}

	logger.Info("authorized", zap.String("phone", phone))
	return authflow.OutcomeAuthorized, nil
}

// SubmitPassword вводит облачный пароль.
func (d *Driver) SubmitPassword(ctx context.Context, handle authflow.ClientHandle, password string) error {
	cn, ok := handle.(*conn)
	if !ok {
		return authflow.NewFlowError(authflow.KindFatal, errors.New("foreign client handle"))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()

	if _, err := cn.client.Auth().Password(callCtx, password); err != nil {
		return mapError(err)
	}

	logger.Info("authorized with 2fa", zap.String("phone", cn.phone))
	return nil
}

// discard закрывает соединение после неудачного запроса кода. Лимит времени
// собственный: контекст запроса к этому моменту может быть уже отменён.
func (d *Driver) discard(cn *conn) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.CallTimeout)
	defer cancel()
	if err := cn.Close(ctx); err != nil {
		logger.Warn("failed to discard client", zap.String("phone", cn.phone), zap.Error(err))
	}
}

// sleep ждёт d или отмену контекста.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
