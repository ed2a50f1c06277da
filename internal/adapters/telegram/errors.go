// Перевод ошибок gotd/MTProto в закрытое перечисление authflow. Коды ошибок
// Telegram приходят строками внутри tgerr.Error; таймауты и сетевые сбои
// классифицируются как временные — повтор остаётся за пользователем.

package telegram

import (
	"context"
	"net"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tgerr"

	"marketplace-authbot/internal/domain/authflow"
)

// Коды ошибок Telegram, участвующие в таблице переходов.
const (
	codePhoneCodeInvalid   = "PHONE_CODE_INVALID"
	codePhoneCodeExpired   = "PHONE_CODE_EXPIRED"
	codePasswordInvalid    = "PASSWORD_HASH_INVALID"
	codePhoneNumberInvalid = "PHONE_NUMBER_INVALID"
	codePhoneNumberBanned  = "PHONE_NUMBER_BANNED"
)

// floodWait извлекает предписанную паузу из FLOOD_WAIT-ошибки.
func floodWait(err error) (retryAfter time.Duration, ok bool) {
	return tgerr.AsFloodWait(err)
}

// mapError классифицирует ошибку вызова gotd. nil проходит насквозь.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		return authflow.NewRateLimited(retryAfter, err)
	}

	switch {
	case tgerr.Is(err, codePhoneCodeInvalid):
		return authflow.NewFlowError(authflow.KindInvalidCode, err)
	case tgerr.Is(err, codePhoneCodeExpired):
		return authflow.NewFlowError(authflow.KindExpiredCode, err)
	case tgerr.Is(err, codePasswordInvalid):
		return authflow.NewFlowError(authflow.KindWrongPassword, err)
	case tgerr.Is(err, codePhoneNumberInvalid, codePhoneNumberBanned):
		return authflow.NewFlowError(authflow.KindFatal, err)
	}

	if isTransient(err) {
		return authflow.NewFlowError(authflow.KindTransient, err)
	}
	return authflow.NewFlowError(authflow.KindFatal, err)
}

// isTransient распознаёт таймауты и сетевые сбои.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
