// Ошибки логин-протокола приведены к закрытому перечислению видов: драйвер
// переводит исключения стороннего клиента в FlowError, и таблица переходов
// оркестратора становится диспетчеризацией по данным, а не цепочкой
// обработчиков исключений.

package authflow

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind — вид ошибки логин-протокола.
type ErrorKind int

const (
	// KindFatal — неожиданная ошибка стороннего сервиса; сессия сносится.
	KindFatal ErrorKind = iota
	// KindRateLimited — сторонний сервис требует паузу RetryAfter.
	KindRateLimited
	// KindInvalidCode — код подтверждения неверен; одноразовый код не
	// пригоден для повторного ввода, сессия сносится.
	KindInvalidCode
	// KindExpiredCode — код истёк, нужен новый запрос кода.
	KindExpiredCode
	// KindWrongPassword — неверный облачный пароль; сессия сохраняется,
	// пользователь может повторить ввод.
	KindWrongPassword
	// KindTransient — сетевой сбой или таймаут; повтор — на стороне
	// пользователя (сайт попросит отправить ещё раз).
	KindTransient
)

// FlowError — структурированный исход вызова драйвера. Сырые ошибки
// сторонней библиотеки не покидают драйвер.
type FlowError struct {
	Kind       ErrorKind
	RetryAfter time.Duration // заполняется при KindRateLimited
	Err        error         // исходная причина, для логов
}

func (e *FlowError) Error() string {
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	case KindInvalidCode:
		return "invalid confirmation code"
	case KindExpiredCode:
		return "confirmation code expired"
	case KindWrongPassword:
		return "wrong 2fa password"
	case KindTransient:
		return fmt.Sprintf("transient network failure: %v", e.Err)
	default:
		return fmt.Sprintf("fatal login error: %v", e.Err)
	}
}

func (e *FlowError) Unwrap() error { return e.Err }

// NewFlowError создаёт FlowError заданного вида с причиной.
func NewFlowError(kind ErrorKind, err error) *FlowError {
	return &FlowError{Kind: kind, Err: err}
}

// NewRateLimited создаёт FlowError с обязательной паузой.
func NewRateLimited(retryAfter time.Duration, err error) *FlowError {
	return &FlowError{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

// KindOf извлекает вид ошибки. Всё, что не является FlowError, считается
// фатальным: драйвер обязан классифицировать свои ошибки сам.
func KindOf(err error) ErrorKind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindFatal
}
