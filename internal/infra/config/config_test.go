package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// setRequired выставляет минимальный набор обязательных переменных.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("API_ID", "12345")
	t.Setenv("API_HASH", "abcdef0123456789")
	t.Setenv("SITE_URL", "https://market.example/")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := loadConfig("")
	require.NoError(t, err)

	require.Equal(t, 12345, cfg.Env.APIID)
	require.Equal(t, "abcdef0123456789", cfg.Env.APIHash)
	// Завершающий / срезается, чтобы конкатенация путей не давала //.
	require.Equal(t, "https://market.example", cfg.Env.SiteURL)

	require.Equal(t, defaultPollIntervalSec, cfg.Env.PollIntervalSec)
	require.Equal(t, defaultHTTPTimeoutSec, cfg.Env.HTTPTimeoutSec)
	require.Equal(t, defaultCallTimeoutSec, cfg.Env.CallTimeoutSec)
	require.Equal(t, defaultSessionsDir, cfg.Env.SessionsDir)
	require.Equal(t, defaultProcessedFile, cfg.Env.ProcessedFile)
	require.Equal(t, defaultSessionTTLMin, cfg.Env.SessionTTLMin)
	require.Equal(t, defaultProcessedTTLMin, cfg.Env.ProcessedTTLMin)
	require.Equal(t, defaultThrottleRPS, cfg.Env.ThrottleRPS)
	require.Equal(t, defaultLogLevel, cfg.Env.LogLevel)
	require.False(t, cfg.Env.TestDC)

	// Каждый подставленный дефолт оставляет след в предупреждениях.
	require.NotEmpty(t, cfg.warnings)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_INTERVAL_SEC", "5")
	t.Setenv("HTTP_TIMEOUT_SEC", "20")
	t.Setenv("SESSIONS_DIR", "/var/lib/authbot/sessions")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TEST_DC", "true")

	cfg, err := loadConfig("")
	require.NoError(t, err)

	require.Equal(t, 5, cfg.Env.PollIntervalSec)
	require.Equal(t, 20, cfg.Env.HTTPTimeoutSec)
	require.Equal(t, "/var/lib/authbot/sessions", cfg.Env.SessionsDir)
	require.Equal(t, "debug", cfg.Env.LogLevel)
	require.True(t, cfg.Env.TestDC)
}

func TestLoadConfigRequiredMissing(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"no api id", "API_ID"},
		{"no api hash", "API_HASH"},
		{"no site url", "SITE_URL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.unset, "")

			_, err := loadConfig("")
			require.Error(t, err)
		})
	}
}

func TestLoadConfigBadValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_INTERVAL_SEC", "often")
	t.Setenv("SESSION_TTL_MIN", "-3")
	t.Setenv("LOG_LEVEL", "loud")

	cfg, err := loadConfig("")
	require.NoError(t, err)

	require.Equal(t, defaultPollIntervalSec, cfg.Env.PollIntervalSec)
	require.Equal(t, defaultSessionTTLMin, cfg.Env.SessionTTLMin)
	require.Equal(t, defaultLogLevel, cfg.Env.LogLevel)
	require.Len(t, cfg.warnings, 3+6) // три кривых значения + шесть незаданных
}

func TestLoadConfigBadAPIID(t *testing.T) {
	setRequired(t)
	t.Setenv("API_ID", "not-a-number")

	_, err := loadConfig("")
	require.Error(t, err)
}
