package authflow_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketplace-authbot/internal/domain/authflow"
)

func openCache(t *testing.T, ttl time.Duration) *authflow.ProcessedCache {
	t.Helper()
	cache, err := authflow.OpenProcessedCache(filepath.Join(t.TempDir(), "processed.bbolt"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestProcessedCacheMarkAndSeen(t *testing.T) {
	t.Parallel()

	cache := openCache(t, time.Hour)

	seen, err := cache.Seen("r1|send_phone")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, cache.MarkSeen("r1|send_phone"))

	seen, err = cache.Seen("r1|send_phone")
	require.NoError(t, err)
	require.True(t, seen)

	// Тот же id с другим действием — отдельный ключ.
	seen, err = cache.Seen("r1|send_code")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestProcessedCacheExpiry(t *testing.T) {
	t.Parallel()

	cache := openCache(t, 20*time.Millisecond)

	require.NoError(t, cache.MarkSeen("r1|send_phone"))
	time.Sleep(40 * time.Millisecond)

	// Просроченная запись считается невиденной даже до очистки.
	seen, err := cache.Seen("r1|send_phone")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, cache.Cleanup())

	seen, err = cache.Seen("r1|send_phone")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestProcessedCacheSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "processed.bbolt")

	cache, err := authflow.OpenProcessedCache(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, cache.MarkSeen("r1|send_phone"))
	require.NoError(t, cache.Close())

	// Рестарт процесса не должен приводить к повторной обработке.
	reopened, err := authflow.OpenProcessedCache(path, time.Hour)
	require.NoError(t, err)
	defer reopened.Close()

	seen, err := reopened.Seen("r1|send_phone")
	require.NoError(t, err)
	require.True(t, seen)
}
