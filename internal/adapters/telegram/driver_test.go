package telegram

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/require"

	"marketplace-authbot/internal/domain/authflow"
)

// testConn собирает хэндл без живого клиента: done уже закрыт, Close считает
// вызовы через cancel.
func testConn(closed *atomic.Int32) *conn {
	done := make(chan struct{})
	close(done)
	return &conn{
		phone:  "+79991234567",
		cancel: func() { closed.Add(1) },
		done:   done,
	}
}

// newTestDriver подменяет connect и send заготовками.
func newTestDriver(closed *atomic.Int32, send func(calls int32) (string, error)) (*Driver, *atomic.Int32) {
	d := NewDriver(Options{CallTimeout: time.Second})
	d.connect = func(_ context.Context, _ string) (*conn, error) {
		return testConn(closed), nil
	}
	var calls atomic.Int32
	d.send = func(_ context.Context, _ *conn, _ string) (string, error) {
		return send(calls.Add(1))
	}
	return d, &calls
}

func TestRequestCodeFloodWaitRetrySucceeds(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	d, calls := newTestDriver(&closed, func(n int32) (string, error) {
		if n == 1 {
			return "", tgerr.New(420, "FLOOD_WAIT_0")
		}
		return "hash-2", nil
	})

	handle, hash, err := d.RequestCode(context.Background(), "+79991234567")
	require.NoError(t, err)
	require.NotNil(t, handle)
	require.Equal(t, "hash-2", hash)
	require.Equal(t, int32(2), calls.Load())
	// Соединение живо и отдано наружу.
	require.Equal(t, int32(0), closed.Load())
}

func TestRequestCodeSecondFloodWaitFails(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	d, calls := newTestDriver(&closed, func(int32) (string, error) {
		return "", tgerr.New(420, "FLOOD_WAIT_0")
	})

	handle, _, err := d.RequestCode(context.Background(), "+79991234567")
	require.Nil(t, handle)
	require.Equal(t, authflow.KindRateLimited, authflow.KindOf(err))
	// Ровно один повтор, соединение закрыто здесь же.
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, int32(1), closed.Load())
}

func TestRequestCodeLongFloodWaitFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	d, calls := newTestDriver(&closed, func(int32) (string, error) {
		return "", tgerr.New(420, "FLOOD_WAIT_3600")
	})

	handle, _, err := d.RequestCode(context.Background(), "+79991234567")
	require.Nil(t, handle)
	require.Equal(t, authflow.KindRateLimited, authflow.KindOf(err))

	var flow *authflow.FlowError
	require.ErrorAs(t, err, &flow)
	require.Equal(t, 3600*time.Second, flow.RetryAfter)

	// Пауза выше порога: повтора нет, соединение закрыто сразу.
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, int32(1), closed.Load())
}

func TestRequestCodeCanceledDuringFloodWait(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	d, calls := newTestDriver(&closed, func(int32) (string, error) {
		return "", tgerr.New(420, "FLOOD_WAIT_30")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handle, _, err := d.RequestCode(ctx, "+79991234567")
	require.Nil(t, handle)
	require.Error(t, err)
	// Отмена прерывает ожидание до повторного вызова.
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, int32(1), closed.Load())
}

func TestRequestCodeConnectFailure(t *testing.T) {
	t.Parallel()

	d := NewDriver(Options{CallTimeout: time.Second})
	d.connect = func(_ context.Context, _ string) (*conn, error) {
		return nil, context.DeadlineExceeded
	}

	handle, _, err := d.RequestCode(context.Background(), "+79991234567")
	require.Nil(t, handle)
	require.Equal(t, authflow.KindTransient, authflow.KindOf(err))
}
