// Package authflow — ядро сервиса: многошаговая машина состояний авторизации
// по номеру телефона. Сайт маркетплейса складывает запросы (номер → код
// подтверждения → опциональный облачный пароль) во внешнюю очередь; поллер
// забирает их, оркестратор ведёт логин через драйвер стороннего аккаунта и
// отчитывается о статусе обратно на сайт.
//
// В этом файле — единицы работы и исходящие отчёты: Request, StatusUpdate и
// связанные перечисления. Значения Action и Status совпадают с проводным
// форматом сайта.
package authflow

import (
	"fmt"
	"time"
)

// Action — тип запроса из очереди сайта. Определяет, какое из полей
// Phone/Code/Password обязано присутствовать.
type Action string

const (
	// ActionSendPhone — начать авторизацию: запросить код на номер.
	ActionSendPhone Action = "send_phone"
	// ActionSendCode — подтвердить присланный код.
	ActionSendCode Action = "send_code"
	// ActionSendPassword — ввести облачный пароль (2FA).
	ActionSendPassword Action = "send_password"
)

// Request — одна единица работы из внешней очереди. Создаётся сайтом,
// читается поллером ровно один раз и дальше не мутируется. Идентичность —
// пара (ID, Action): один ID легитимно повторяется с разными действиями по
// мере продвижения по шагам.
type Request struct {
	ID             string // opaque-идентификатор элемента очереди
	Action         Action
	Phone          string // канонический номер; может быть пуст для code/password
	Code           string
	Password       string
	ExternalUserID string // идентификатор пользователя на стороне сайта
	ArrivedAt      time.Time
}

// Key возвращает ключ идемпотентности (ID, Action). Каждая пара
// обрабатывается не более одного раза.
func (r Request) Key() string {
	return r.ID + "|" + string(r.Action)
}

// Validate проверяет, что действие известно и обязательное для него поле
// присутствует. Номер у send_code/send_password не обязателен: он может быть
// восстановлен по ExternalUserID из хранилища сессий.
func (r Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request without id")
	}
	switch r.Action {
	case ActionSendPhone:
		if r.Phone == "" {
			return fmt.Errorf("request %s: send_phone without phone", r.ID)
		}
	case ActionSendCode:
		if r.Code == "" {
			return fmt.Errorf("request %s: send_code without code", r.ID)
		}
	case ActionSendPassword:
		if r.Password == "" {
			return fmt.Errorf("request %s: send_password without password", r.ID)
		}
	default:
		return fmt.Errorf("request %s: unknown action %q", r.ID, r.Action)
	}
	return nil
}

// Status — статус, который сайт показывает пользователю. Значения совпадают
// с проводным форматом update-request.
type Status string

const (
	StatusWaitingCode     Status = "waiting_code"
	StatusWaitingPassword Status = "waiting_password"
	StatusSuccess         Status = "success"
	StatusError           Status = "error"
	// StatusInvalidPassword — отдельный статус для неверного 2FA-пароля:
	// сессия сохраняется, пользователь может повторить ввод.
	StatusInvalidPassword Status = "invalid_password"
)

// StatusUpdate — исходящий отчёт о (промежуточном или терминальном) исходе
// обработки запроса. Доставка best-effort: неудачная отправка логируется и
// не повторяет обработку.
type StatusUpdate struct {
	RequestID      string
	Status         Status
	Message        string // человекочитаемое пояснение для пользователя
	ErrorMessage   string // заполняется при Status == error
	Phone          string
	ExternalUserID string
}
