package authflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"

	"marketplace-authbot/internal/domain/authflow"
)

// fakeSource отдаёт один и тот же список на каждом цикле — как сайт, который
// держит запросы в pending до получения processed=true.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]authflow.Request
	static  []authflow.Request
	err     error
	fetches int
}

func (s *fakeSource) PendingRequests(context.Context) ([]authflow.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		return batch, nil
	}
	return s.static, nil
}

func (s *fakeSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// countingHandler считает обработки по ключу идемпотентности.
type countingHandler struct {
	mu    sync.Mutex
	calls map[string]int
}

func (h *countingHandler) Handle(_ context.Context, req authflow.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calls == nil {
		h.calls = make(map[string]int)
	}
	h.calls[req.Key()]++
}

func (h *countingHandler) count(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[key]
}

// memorySeen — in-memory реализация SeenCache для тестов поллера.
type memorySeen struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemorySeen() *memorySeen { return &memorySeen{seen: make(map[string]bool)} }

func (m *memorySeen) Seen(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[key], nil
}

func (m *memorySeen) MarkSeen(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[key] = true
	return nil
}

func runPoller(t *testing.T, p *authflow.Poller, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

func TestPollerDispatchesEachKeyOnce(t *testing.T) {
	t.Parallel()

	reqs := []authflow.Request{
		{ID: "r1", Action: authflow.ActionSendPhone, Phone: "+79991234567"},
		{ID: "r1", Action: authflow.ActionSendCode, Code: "12345"},
		{ID: "r2", Action: authflow.ActionSendPhone, Phone: "+79991234568"},
	}
	source := &fakeSource{static: reqs}
	handler := &countingHandler{}
	poller := authflow.NewPoller(source, handler, newMemorySeen(), 5*time.Millisecond)

	runPoller(t, poller, 100*time.Millisecond)

	// Список отдавался многократно, но каждая пара (id, action) обработана
	// не более одного раза.
	require.Greater(t, source.fetchCount(), 3)
	for _, r := range reqs {
		require.Equal(t, 1, handler.count(r.Key()), "key %s", r.Key())
	}
}

func TestPollerSkipsMalformedItems(t *testing.T) {
	t.Parallel()

	source := &fakeSource{static: []authflow.Request{
		{ID: "", Action: authflow.ActionSendPhone},
		{ID: "r1", Action: ""},
	}}
	handler := &countingHandler{}
	poller := authflow.NewPoller(source, handler, newMemorySeen(), 5*time.Millisecond)

	runPoller(t, poller, 40*time.Millisecond)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Empty(t, handler.calls)
}

func TestPollerSurvivesFetchFailures(t *testing.T) {
	t.Parallel()

	source := &fakeSource{err: errors.New("site is down")}
	handler := &countingHandler{}
	poller := authflow.NewPoller(source, handler, newMemorySeen(), 5*time.Millisecond)

	runPoller(t, poller, 50*time.Millisecond)

	// Цикл не завершился на ошибках: выборки продолжались до отмены.
	require.Greater(t, source.fetchCount(), 3)
}

func TestPollerSameActionAcrossCycles(t *testing.T) {
	t.Parallel()

	// Одна и та же пара в нескольких последовательных выборках, затем тот же
	// id с новым действием.
	source := &fakeSource{batches: [][]authflow.Request{
		{{ID: "r1", Action: authflow.ActionSendPhone, Phone: "+79991234567"}},
		{{ID: "r1", Action: authflow.ActionSendPhone, Phone: "+79991234567"}},
		{{ID: "r1", Action: authflow.ActionSendCode, Code: "11111"}},
	}}
	handler := &countingHandler{}
	poller := authflow.NewPoller(source, handler, newMemorySeen(), 5*time.Millisecond)

	runPoller(t, poller, 80*time.Millisecond)

	require.Equal(t, 1, handler.count("r1|send_phone"))
	require.Equal(t, 1, handler.count("r1|send_code"))
}
