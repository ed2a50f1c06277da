// Контракт драйвера логина. Реализация живёт в адаптере (gotd/MTProto);
// домен видит только закрытый набор операций и исходов.

package authflow

import "context"

// ClientHandle — живое соединение со сторонним сервисом аккаунтов. Время
// жизни соединения привязано к логин-сессии: Close обязан быть вызван ровно
// один раз на каждом терминальном пути (успех, терминальная ошибка, вытеснение
// по TTL, shutdown).
type ClientHandle interface {
	Close(ctx context.Context) error
}

// Outcome — исход подтверждения кода.
type Outcome int

const (
	// OutcomeAuthorized — вход завершён, второй фактор не требуется.
	OutcomeAuthorized Outcome = iota
	// OutcomeSecondFactor — аккаунт защищён облачным паролем; требуется
	// шаг SubmitPassword на том же соединении.
	OutcomeSecondFactor
)

// Driver — обёртка над протоколом логина стороннего сервиса. Все методы
// могут блокироваться на сетевом вводе-выводе и обязаны уважать ctx;
// ошибки возвращаются только в виде *FlowError.
type Driver interface {
	// RequestCode открывает соединение и просит отправить код подтверждения
	// на номер. Возвращает хэндл соединения и opaque-хэш верификации,
	// необходимый для ввода кода. При KindRateLimited драйвер сам повторяет
	// вызов ровно один раз после предписанной паузы; повторный лимит
	// возвращается ошибкой. При любой ошибке живого хэндла не остаётся.
	RequestCode(ctx context.Context, phone string) (ClientHandle, string, error)

	// SubmitCode подтверждает код на существующем соединении.
	SubmitCode(ctx context.Context, handle ClientHandle, phone, codeHash, code string) (Outcome, error)

	// SubmitPassword вводит облачный пароль после OutcomeSecondFactor.
	SubmitPassword(ctx context.Context, handle ClientHandle, password string) error
}
