// Пакет config отвечает за сбор конфигурации сервиса авторизации:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует значения, подставляя дефолты,
//  3. накапливает предупреждения о некорректных/отсутствующих переменных,
//  4. фиксирует результат в неизменяемом снимке EnvConfig.
//
// Бизнес-контекст: сервис опрашивает сайт маркетплейса на предмет запросов
// авторизации и ведёт MTProto-логины по номерам телефонов. Конфиг описывает
// учётные данные Telegram API, адрес сайта, интервалы опроса, таймауты сетевых
// вызовов и сроки жизни сессий/кэша обработанных запросов.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Значения уже
// прошли минимальную валидацию в loadConfig; в рантайме снимок считается
// последовательным и не меняется.
type EnvConfig struct {
	APIID           int    // Telegram API ID (my.telegram.org)
	APIHash         string // Telegram API Hash
	SiteURL         string // базовый URL сайта маркетплейса, без завершающего /
	PollIntervalSec int    // период опроса очереди pending-запросов
	HTTPTimeoutSec  int    // таймаут HTTP-вызовов к сайту
	CallTimeoutSec  int    // таймаут одного вызова MTProto (connect/send_code/sign_in)
	SessionsDir     string // каталог файлов MTProto-сессий, по одному на номер
	ProcessedFile   string // bbolt-файл кэша обработанных (requestId, action)
	SessionTTLMin   int    // срок жизни незавершённой логин-сессии
	ProcessedTTLMin int    // горизонт хранения ключей идемпотентности
	ThrottleRPS     int    // лимит запросов в секунду к внешним API
	LogLevel        string
	TestDC          bool // использовать тестовый DC Telegram
}

// Config хранит снимок окружения и накопленные предупреждения.
// Потокобезопасность: снимок неизменяем после Load, геттеры берут RLock
// только ради warnings.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Значения по умолчанию. Интервал опроса и таймауты повторяют поведение
// исходного бота: 2 секунды между циклами, 10 секунд на HTTP-вызов.
const (
	defaultPollIntervalSec = 2
	defaultHTTPTimeoutSec  = 10
	defaultCallTimeoutSec  = 15
	defaultSessionsDir     = "data/sessions"
	defaultProcessedFile   = "data/processed.bbolt"
	defaultSessionTTLMin   = 30
	defaultProcessedTTLMin = 60
	defaultThrottleRPS     = 1
	defaultLogLevel        = "info"
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации. Повторный
// вызов запрещён, чтобы исключить гонки конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки
// глобального состояния. Удобно для тестов.
func loadConfig(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}

	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env API_HASH must be set")
	}

	siteURL := strings.TrimRight(strings.TrimSpace(os.Getenv("SITE_URL")), "/")
	if siteURL == "" {
		return nil, errors.New("env SITE_URL must be set")
	}

	var warnings []string

	pollInterval := parseIntDefault("POLL_INTERVAL_SEC", defaultPollIntervalSec, greaterThanZero, &warnings)
	httpTimeout := parseIntDefault("HTTP_TIMEOUT_SEC", defaultHTTPTimeoutSec, greaterThanZero, &warnings)
	callTimeout := parseIntDefault("CALL_TIMEOUT_SEC", defaultCallTimeoutSec, greaterThanZero, &warnings)
	sessionTTL := parseIntDefault("SESSION_TTL_MIN", defaultSessionTTLMin, greaterThanZero, &warnings)
	processedTTL := parseIntDefault("PROCESSED_TTL_MIN", defaultProcessedTTLMin, greaterThanZero, &warnings)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	sessionsDir := sanitizePath("SESSIONS_DIR", os.Getenv("SESSIONS_DIR"), defaultSessionsDir, &warnings)
	processedFile := sanitizePath("PROCESSED_CACHE_FILE", os.Getenv("PROCESSED_CACHE_FILE"), defaultProcessedFile, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")

	env := EnvConfig{
		APIID:           apiID,
		APIHash:         apiHash,
		SiteURL:         siteURL,
		PollIntervalSec: pollInterval,
		HTTPTimeoutSec:  httpTimeout,
		CallTimeoutSec:  callTimeout,
		SessionsDir:     sessionsDir,
		ProcessedFile:   processedFile,
		SessionTTLMin:   sessionTTL,
		ProcessedTTLMin: processedTTL,
		ThrottleRPS:     throttleRPS,
		LogLevel:        logLevel,
		TestDC:          testDC,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения загрузки .env. Копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton — неизменяемый снимок на
// момент Load.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseRequiredInt читает обязательную целочисленную переменную окружения.
// Используется для критичных параметров, без которых сервис не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// validator — возвращает defaultVal и пишет предупреждение. Несущественные
// настройки не должны ронять сервис.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf накапливает предупреждения о некорректных переменных
// окружения; список доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero — простой валидатор для parseIntDefault.
func greaterThanZero(v int) bool { return v > 0 }

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizePath возвращает значение пути или fallback с предупреждением.
func sanitizePath(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}
