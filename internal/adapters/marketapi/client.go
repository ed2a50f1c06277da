// Package marketapi — HTTP-клиент API сайта маркетплейса.
//
// Два вызова:
//   - GET  /api/telegram/get-pending   — список ожидающих запросов авторизации;
//   - POST /api/telegram/update-request — статус обработки (processed=true).
//
// Клиент реализует authflow.Source и authflow.Reporter. Не-200 ответ и
// сетевой сбой на выборке трактуются как «нет работы в этом цикле». Отправка
// статуса best-effort с одним повтором; тело ответа только логируется.
// Все запросы идут через общий token-bucket лимитер.

package marketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"marketplace-authbot/internal/domain/authflow"
	"marketplace-authbot/internal/infra/logger"
)

const (
	pendingPath = "/api/telegram/get-pending"
	updatePath  = "/api/telegram/update-request"

	// reportRetryDelay — пауза перед единственным повтором отправки статуса.
	reportRetryDelay = time.Second
	// maxBodyLog — сколько байт тела ответа попадает в лог.
	maxBodyLog = 200
)

// Client — клиент API сайта.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

var (
	_ authflow.Source   = (*Client)(nil)
	_ authflow.Reporter = (*Client)(nil)
)

// New создаёт клиент. baseURL — без завершающего /; timeout ограничивает
// каждый HTTP-вызов; rps задаёт целевую среднюю частоту запросов.
func New(baseURL string, timeout time.Duration, rps int) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps*2),
	}
}

// wireID принимает идентификатор, который сайт шлёт то числом, то строкой.
type wireID string

func (w *wireID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*w = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*w = wireID(n.String())
	return nil
}

// wireRequest — проводной формат элемента очереди.
type wireRequest struct {
	RequestID string `json:"requestId"`
	Action    string `json:"action"`
	Phone     string `json:"phone"`
	Code      string `json:"code"`
	Password  string `json:"password"`
	// telegramId может отсутствовать; часть вариантов сайта шлёт chatId.
	TelegramID wireID `json:"telegramId"`
	ChatID     wireID `json:"chatId"`
}

// pendingResponse — проводной формат ответа get-pending.
type pendingResponse struct {
	Requests []wireRequest `json:"requests"`
}

// PendingRequests забирает текущий список ожидающих запросов. Не-200 статус
// и кривое тело — пустой список без ошибки: поллер не должен останавливаться
// из-за сбоев сайта. Ошибка возвращается только на сетевом уровне, чтобы
// поллер мог её залогировать.
func (c *Client) PendingRequests(ctx context.Context) ([]authflow.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pendingPath, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build pending request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch pending")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Debug("pending fetch non-200", zap.Int("status", resp.StatusCode))
		return nil, nil
	}

	var parsed pendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		logger.Debug("pending fetch malformed body", zap.Error(err))
		return nil, nil
	}

	now := time.Now()
	out := make([]authflow.Request, 0, len(parsed.Requests))
	for _, w := range parsed.Requests {
		userID := string(w.TelegramID)
		if userID == "" {
			userID = string(w.ChatID)
		}
		out = append(out, authflow.Request{
			ID:             w.RequestID,
			Action:         authflow.Action(w.Action),
			Phone:          w.Phone,
			Code:           w.Code,
			Password:       w.Password,
			ExternalUserID: userID,
			ArrivedAt:      now,
		})
	}
	return out, nil
}

// wireUpdate — проводной формат update-request. processed=true всегда:
// сайт по нему убирает элемент из pending-списка.
type wireUpdate struct {
	RequestID  string `json:"requestId"`
	Status     string `json:"status"`
	Processed  bool   `json:"processed"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Phone      string `json:"phone,omitempty"`
	TelegramID string `json:"telegramId,omitempty"`
}

// Report отправляет статус обработки. Одна повторная попытка после паузы;
// вторая неудача возвращается ошибкой, вызывающий её логирует и проглатывает.
func (c *Client) Report(ctx context.Context, upd authflow.StatusUpdate) error {
	body, err := json.Marshal(wireUpdate{
		RequestID:  upd.RequestID,
		Status:     string(upd.Status),
		Processed:  true,
		Message:    upd.Message,
		Error:      upd.ErrorMessage,
		Phone:      upd.Phone,
		TelegramID: upd.ExternalUserID,
	})
	if err != nil {
		return errors.Wrap(err, "marshal status update")
	}

	sendErr := c.postUpdate(ctx, body)
	if sendErr == nil {
		return nil
	}

	logger.Warn("status push failed, retrying once",
		zap.String("request", upd.RequestID), zap.Error(sendErr))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(reportRetryDelay):
	}
	return c.postUpdate(ctx, body)
}

// postUpdate выполняет один POST статуса.
func (c *Client) postUpdate(ctx context.Context, body []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+updatePath, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build update request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post update")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
	logger.Debug("status update pushed",
		zap.Int("status", resp.StatusCode),
		zap.String("body", string(respBody)),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("update request rejected: http %d", resp.StatusCode)
	}
	return nil
}
