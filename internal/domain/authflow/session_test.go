package authflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketplace-authbot/internal/domain/authflow"
)

func newSession(phone, user string) *authflow.Session {
	return &authflow.Session{
		Phone:          phone,
		Handle:         &fakeHandle{},
		CodeHash:       "hash",
		ExternalUserID: user,
		State:          authflow.StateCodeRequested,
		CreatedAt:      time.Now(),
	}
}

func TestStorePutReturnsPrior(t *testing.T) {
	t.Parallel()

	store := authflow.NewStore(authflow.StoreOptions{})

	first := newSession("+79991234567", "1")
	require.Nil(t, store.Put(first))

	second := newSession("+79991234567", "1")
	prev := store.Put(second)
	require.Same(t, first, prev)

	got, ok := store.Get("+79991234567")
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestStoreDetach(t *testing.T) {
	t.Parallel()

	store := authflow.NewStore(authflow.StoreOptions{})
	sess := newSession("+79991234567", "1")
	store.Put(sess)

	require.True(t, store.Detach(sess))

	_, ok := store.Get("+79991234567")
	require.False(t, ok)

	// Повторный Detach — false: сессия достаётся ровно одному вызывающему.
	require.False(t, store.Detach(sess))
}

func TestStoreDetachIgnoresReplaced(t *testing.T) {
	t.Parallel()

	store := authflow.NewStore(authflow.StoreOptions{})
	first := newSession("+79991234567", "1")
	store.Put(first)
	second := newSession("+79991234567", "1")
	store.Put(second)

	// Detach вытесненной сессии не трогает её замену.
	require.False(t, store.Detach(first))

	got, ok := store.Get("+79991234567")
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestStoreSetState(t *testing.T) {
	t.Parallel()

	store := authflow.NewStore(authflow.StoreOptions{})
	sess := newSession("+79991234567", "1")
	store.Put(sess)

	require.True(t, store.SetState(sess, authflow.StatePasswordRequired))

	got, _ := store.Get("+79991234567")
	require.Equal(t, authflow.StatePasswordRequired, got.State)

	detached := newSession("+70000000000", "2")
	require.False(t, store.SetState(detached, authflow.StatePasswordRequired))
}

func TestStoreSetStateIgnoresReplaced(t *testing.T) {
	t.Parallel()

	store := authflow.NewStore(authflow.StoreOptions{})
	first := newSession("+79991234567", "1")
	store.Put(first)
	second := newSession("+79991234567", "1")
	store.Put(second)

	// Смена фазы вытесненной сессии не переключает её замену.
	require.False(t, store.SetState(first, authflow.StatePasswordRequired))
	require.Equal(t, authflow.StateCodeRequested, second.State)
}

func TestStoreFindByUser(t *testing.T) {
	t.Parallel()

	store := authflow.NewStore(authflow.StoreOptions{})
	store.Put(newSession("+79991234567", "42"))
	store.Put(newSession("+79991234568", "43"))

	sess, ok := store.FindByUser("43")
	require.True(t, ok)
	require.Equal(t, "+79991234568", sess.Phone)

	_, ok = store.FindByUser("99")
	require.False(t, ok)

	_, ok = store.FindByUser("")
	require.False(t, ok)
}

func TestStoreSweepEvictsExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	var mu sync.Mutex
	var disposed []*authflow.Session

	store := authflow.NewStore(authflow.StoreOptions{
		TTL: 30 * time.Minute,
		Dispose: func(s *authflow.Session) {
			mu.Lock()
			disposed = append(disposed, s)
			mu.Unlock()
		},
		Now: func() time.Time { return now },
	})

	stale := newSession("+79991234567", "1")
	stale.CreatedAt = now.Add(-time.Hour)
	fresh := newSession("+79991234568", "2")
	fresh.CreatedAt = now.Add(-time.Minute)
	store.Put(stale)
	store.Put(fresh)

	store.Sweep()

	require.Equal(t, 1, store.Len())
	_, ok := store.Get("+79991234568")
	require.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, disposed, 1)
	require.Same(t, stale, disposed[0])
	require.Equal(t, int32(0), stale.Handle.(*fakeHandle).closed.Load(),
		"dispose hook owns the close, the store must not close handles itself")
}

func TestStoreDrain(t *testing.T) {
	t.Parallel()

	store := authflow.NewStore(authflow.StoreOptions{})
	store.Put(newSession("+79991234567", "1"))
	store.Put(newSession("+79991234568", "2"))

	drained := store.Drain()
	require.Len(t, drained, 2)
	require.Equal(t, 0, store.Len())
}

func TestStoreStartStopIdempotent(t *testing.T) {
	t.Parallel()

	store := authflow.NewStore(authflow.StoreOptions{TTL: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.Start(ctx)
	store.Start(ctx) // повторный старт игнорируется
	store.Stop()
	store.Stop() // повторная остановка безопасна
}

func TestStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := authflow.NewStore(authflow.StoreOptions{})

	var wg sync.WaitGroup
	phones := []string{"+79991234501", "+79991234502", "+79991234503"}
	for i := 0; i < 50; i++ {
		for _, p := range phones {
			wg.Add(1)
			go func(phone string) {
				defer wg.Done()
				sess := newSession(phone, "u")
				store.Put(sess)
				store.Get(phone)
				store.SetState(sess, authflow.StatePasswordRequired)
			}(p)
		}
	}
	wg.Wait()

	require.Equal(t, len(phones), store.Len())
}
